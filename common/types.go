package common

import (
	"errors"
	"time"
)

type Status string

const (
	Queued    Status = "queued"
	Running   Status = "running"
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
	NotExist  Status = "not-exist"
)

// Terminal reports whether no further transitions can happen from s.
func (s Status) Terminal() bool {
	return s == Succeeded || s == Failed
}

const WorkerAuthHeader = "X-Worker-Authorization"

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobTerminal = errors.New("job already in terminal state")
)

type Job[J, R any] struct {
	ID           string    `json:"id"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Request      J         `json:"request"`
	Result       R         `json:"result,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fullstylist/jobwatch/common"
)

// stylizer stands in for the hosted image model so serve works offline.
type stylizer struct {
	delay time.Duration
}

func newStylizer(delay time.Duration) *stylizer {
	return &stylizer{delay: delay}
}

func (s *stylizer) Generate(ctx context.Context, req common.GenerationRequest) (common.GenerationResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return common.GenerationResult{}, errors.New("prompt is empty")
	}

	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return common.GenerationResult{}, ctx.Err()
		case <-t.C:
		}
	}

	style := req.Style
	if style == "" {
		style = "editorial"
	}

	return common.GenerationResult{
		ImageBase64: base64.StdEncoding.EncodeToString([]byte(req.SubjectID + "|" + style + "|" + req.Prompt)),
		MimeType:    "image/png",
		Title:       fmt.Sprintf("%s look", strings.ToUpper(style[:1])+style[1:]),
		Description: req.Prompt,
	}, nil
}

// Package cache holds generation results between "job succeeded" and "the
// stored asset is visible", so the next screen can show them immediately.
// Entries are read at most once and expire after a TTL. Nothing here is
// persisted; callers must fall back to the authoritative store on a miss.
package cache

import (
	"sync"
	"time"

	"github.com/fullstylist/jobwatch/metrics"
)

const DefaultTTL = 5 * time.Minute

type entry[P any] struct {
	subjectID string
	jobID     string
	traceID   string
	payload   P
	createdAt time.Time
}

// ResultCache is safe for concurrent use. A hit removes the entry, so of any
// number of concurrent readers at most one receives a given payload.
type ResultCache[P any] struct {
	mu      sync.Mutex
	entries map[string]*entry[P]
	ttl     time.Duration
	now     func() time.Time
	name    string
}

type Option func(o *options)

type options struct {
	ttl  time.Duration
	now  func() time.Time
	name string
}

func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithName sets the cache label used in metrics.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

func New[P any](opts ...Option) *ResultCache[P] {
	o := options{ttl: DefaultTTL, now: time.Now, name: "results"}
	for _, opt := range opts {
		opt(&o)
	}

	return &ResultCache[P]{
		entries: make(map[string]*entry[P]),
		ttl:     o.ttl,
		now:     o.now,
		name:    o.name,
	}
}

type PutOption func(p *putOptions)

type putOptions struct {
	traceID   string
	createdAt time.Time
}

// WithTraceID records the client trace id. When jobID is empty the entry is
// keyed by it instead.
func WithTraceID(id string) PutOption {
	return func(p *putOptions) { p.traceID = id }
}

func WithCreatedAt(t time.Time) PutOption {
	return func(p *putOptions) { p.createdAt = t }
}

func key(subjectID, id string) string {
	return subjectID + ":" + id
}

// Put stores payload under subjectID:jobID, or subjectID:traceID when jobID is
// empty, replacing whatever was there. Expired entries are swept first.
func (c *ResultCache[P]) Put(subjectID, jobID string, payload P, opts ...PutOption) {
	po := putOptions{}
	for _, opt := range opts {
		opt(&po)
	}

	id := jobID
	if id == "" {
		id = po.traceID
	}
	if subjectID == "" || id == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if po.createdAt.IsZero() {
		po.createdAt = c.now()
	}

	c.sweepLocked()
	c.entries[key(subjectID, id)] = &entry[P]{
		subjectID: subjectID,
		jobID:     jobID,
		traceID:   po.traceID,
		payload:   payload,
		createdAt: po.createdAt,
	}
}

// Get consumes the entry for subjectID. It tries subjectID:jobID, then
// subjectID:traceID, then the oldest live entry for the subject whose stored
// ids equal every non-empty requested id. An entry whose stored ids conflict
// with the requested ones is a miss and is left in place.
func (c *ResultCache[P]) Get(subjectID, jobID, traceID string) (P, bool) {
	var zero P

	if subjectID == "" {
		c.record(false)
		return zero, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k, e := c.lookupLocked(subjectID, jobID, traceID)
	if e == nil {
		c.record(false)
		return zero, false
	}

	if c.expiredLocked(e) {
		delete(c.entries, k)
		metrics.AddCacheEvictions(c.name, 1)
		c.record(false)
		return zero, false
	}

	if conflicts(e.jobID, jobID) || conflicts(e.traceID, traceID) {
		c.record(false)
		return zero, false
	}

	delete(c.entries, k)
	c.record(true)
	return e.payload, true
}

// Sweep drops expired entries and returns how many were removed.
func (c *ResultCache[P]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked()
}

// Len counts physically present entries, expired ones included.
func (c *ResultCache[P]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResultCache[P]) lookupLocked(subjectID, jobID, traceID string) (string, *entry[P]) {
	if jobID != "" {
		if e, ok := c.entries[key(subjectID, jobID)]; ok {
			return key(subjectID, jobID), e
		}
	}
	if traceID != "" {
		if e, ok := c.entries[key(subjectID, traceID)]; ok {
			return key(subjectID, traceID), e
		}
	}

	var (
		bestKey string
		best    *entry[P]
	)
	for k, e := range c.entries {
		if e.subjectID != subjectID || c.expiredLocked(e) {
			continue
		}
		if !matches(e.jobID, jobID) || !matches(e.traceID, traceID) {
			continue
		}
		if best == nil || e.createdAt.Before(best.createdAt) || (e.createdAt.Equal(best.createdAt) && k < bestKey) {
			bestKey, best = k, e
		}
	}
	return bestKey, best
}

func (c *ResultCache[P]) sweepLocked() int {
	removed := 0
	for k, e := range c.entries {
		if c.expiredLocked(e) {
			delete(c.entries, k)
			removed++
		}
	}
	metrics.AddCacheEvictions(c.name, removed)
	return removed
}

func (c *ResultCache[P]) expiredLocked(e *entry[P]) bool {
	return c.now().Sub(e.createdAt) >= c.ttl
}

func (c *ResultCache[P]) record(hit bool) {
	if hit {
		metrics.IncCacheRequest(c.name, "hit")
		return
	}
	metrics.IncCacheRequest(c.name, "miss")
}

// conflicts reports a mismatch only when both ids are known.
func conflicts(stored, requested string) bool {
	return stored != "" && requested != "" && stored != requested
}

// matches is the stricter fallback test: a requested id must be stored and equal.
func matches(stored, requested string) bool {
	return requested == "" || stored == requested
}

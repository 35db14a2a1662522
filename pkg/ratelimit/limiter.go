// Package ratelimit bounds outbound calls per external source with a sliding
// window log.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/larder-app/larder/pkg/models"
)

// Defaults applied when a Config field is zero.
const (
	DefaultWindow       = 60 * time.Second
	DefaultMaxCalls     = 10
	DefaultSafetyBuffer = time.Second
)

// Config sets the window shape.
type Config struct {
	Window       time.Duration `yaml:"window"`
	MaxCalls     int           `yaml:"max_calls"`
	SafetyBuffer time.Duration `yaml:"safety_buffer"`
}

// Decision is the result of an admission request.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RateLimitedError reports that a source could not be admitted before the
// caller's deadline.
type RateLimitedError struct {
	Source     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("source %s rate limited, retry after %s", e.Source, e.RetryAfter)
}

// Unwrap lets errors.Is match models.ErrRateLimited.
func (e *RateLimitedError) Unwrap() error { return models.ErrRateLimited }

// Limiter admits at most MaxCalls per source in any trailing Window. It is
// safe for concurrent use and meant to be shared process-wide.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// New creates a Limiter, filling zero fields of cfg with defaults.
func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxCalls <= 0 {
		cfg.MaxCalls = DefaultMaxCalls
	}
	if cfg.SafetyBuffer < 0 {
		cfg.SafetyBuffer = 0
	}
	return &Limiter{
		cfg:     cfg,
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Admit records a call for sourceID if the window has room.
func (l *Limiter) Admit(sourceID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	window := l.prune(sourceID, now)
	if len(window) < l.cfg.MaxCalls {
		l.windows[sourceID] = append(window, now)
		return Decision{Allowed: true}
	}

	retry := window[0].Add(l.cfg.Window).Sub(now) + l.cfg.SafetyBuffer
	if retry <= 0 {
		retry = time.Millisecond
	}
	return Decision{RetryAfter: retry}
}

// prune drops timestamps that left the window. Callers hold l.mu.
func (l *Limiter) prune(sourceID string, now time.Time) []time.Time {
	window := l.windows[sourceID]
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		window = append(window[:0], window[i:]...)
		l.windows[sourceID] = window
	}
	return window
}

// Wait blocks until sourceID is admitted. When ctx's deadline falls before
// the next admission point it returns a *RateLimitedError without sleeping.
func (l *Limiter) Wait(ctx context.Context, sourceID string) error {
	for {
		d := l.Admit(sourceID)
		if d.Allowed {
			return nil
		}
		if deadline, ok := ctx.Deadline(); ok && l.now().Add(d.RetryAfter).After(deadline) {
			return &RateLimitedError{Source: sourceID, RetryAfter: d.RetryAfter}
		}

		timer := time.NewTimer(d.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Usage returns the number of calls to sourceID in the current window.
func (l *Limiter) Usage(sourceID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(sourceID, l.now()))
}

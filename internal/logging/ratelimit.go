package logging

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RateLimitedLogger suppresses repeated identical error messages within
// a window, grounded on the teacher's middleware.RateLimiter sliding
// window idiom (repurposed here for per-key log suppression rather than
// HTTP request throttling).
type RateLimitedLogger struct {
	log    zerolog.Logger
	window time.Duration
	maxLog int

	mu      sync.Mutex
	entries map[string]*rlEntry
}

type rlEntry struct {
	count       int
	windowStart time.Time
}

// NewRateLimitedLogger allows at most maxLog occurrences of a given key
// per window before further occurrences are counted but not emitted.
func NewRateLimitedLogger(log zerolog.Logger, window time.Duration, maxLog int) *RateLimitedLogger {
	return &RateLimitedLogger{
		log:     log,
		window:  window,
		maxLog:  maxLog,
		entries: make(map[string]*rlEntry),
	}
}

// Error logs msg under key if the per-key rate limit allows it; once
// the window's quota is exhausted, it logs a single "suppressing
// further occurrences" notice and then stays silent until the window
// rolls over.
func (r *RateLimitedLogger) Error(key, msg string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) > r.window {
		e = &rlEntry{windowStart: now}
		r.entries[key] = e
	}
	e.count++

	switch {
	case e.count <= r.maxLog:
		r.log.Error().Err(err).Str("rate_limit_key", key).Msg(msg)
	case e.count == r.maxLog+1:
		r.log.Warn().Str("rate_limit_key", key).Int("window_count", e.count).Msg("suppressing further occurrences of this error for the remainder of the window")
	}
}

// Cleanup removes entries whose window has fully elapsed. Call
// periodically from a background task to bound memory.
func (r *RateLimitedLogger) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-2 * r.window)
	for k, e := range r.entries {
		if e.windowStart.Before(cutoff) {
			delete(r.entries, k)
		}
	}
}

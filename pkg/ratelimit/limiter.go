package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter spaces requests per source (a host name or an API) and backs off a
// source after repeated errors
type Limiter struct {
	mu              sync.Mutex
	limiters        map[string]*sourceLimiter
	defaultInterval time.Duration
}

type sourceLimiter struct {
	minInterval     time.Duration
	lastRequestTime time.Time
	backoffUntil    time.Time
	requestCount    int64
	errorCount      int64
}

// NewLimiter creates a limiter. Sources that were never registered are
// spaced by defaultInterval.
func NewLimiter(defaultInterval time.Duration) *Limiter {
	return &Limiter{
		limiters:        make(map[string]*sourceLimiter),
		defaultInterval: defaultInterval,
	}
}

// PerMinute converts a request budget into the interval between requests
func PerMinute(requests int) time.Duration {
	if requests <= 0 {
		return 0
	}
	return time.Minute / time.Duration(requests)
}

// Register sets the interval for source
func (r *Limiter) Register(source string, minInterval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source(source).minInterval = minInterval
}

// source must be called with r.mu held
func (r *Limiter) source(name string) *sourceLimiter {
	l, ok := r.limiters[name]
	if !ok {
		l = &sourceLimiter{minInterval: r.defaultInterval}
		r.limiters[name] = l
	}
	return l
}

// Wait blocks until a request to source is allowed. The slot is reserved
// before sleeping so concurrent callers queue up instead of bursting.
func (r *Limiter) Wait(ctx context.Context, source string) error {
	r.mu.Lock()
	l := r.source(source)

	now := time.Now()
	next := l.lastRequestTime.Add(l.minInterval)
	if l.backoffUntil.After(next) {
		next = l.backoffUntil
	}
	if next.Before(now) {
		next = now
	}
	l.lastRequestTime = next
	l.requestCount++
	r.mu.Unlock()

	wait := time.Until(next)
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordError counts a failure; from the fourth consecutive one the source
// backs off 30s per error, capped at five minutes
func (r *Limiter) RecordError(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.source(source)
	l.errorCount++
	if l.errorCount > 3 {
		backoff := time.Duration(l.errorCount) * 30 * time.Second
		if backoff > 5*time.Minute {
			backoff = 5 * time.Minute
		}
		l.backoffUntil = time.Now().Add(backoff)
	}
}

// RecordSuccess resets the error count of source
func (r *Limiter) RecordSuccess(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[source]; ok {
		l.errorCount = 0
	}
}

// SourceStats contains statistics for a source
type SourceStats struct {
	RequestCount    int64     `json:"request_count"`
	ErrorCount      int64     `json:"error_count"`
	LastRequestTime time.Time `json:"last_request_time"`
	InBackoff       bool      `json:"in_backoff"`
	BackoffUntil    time.Time `json:"backoff_until"`
}

// GetStats returns statistics for all sources
func (r *Limiter) GetStats() map[string]SourceStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make(map[string]SourceStats, len(r.limiters))
	for name, l := range r.limiters {
		stats[name] = SourceStats{
			RequestCount:    l.requestCount,
			ErrorCount:      l.errorCount,
			LastRequestTime: l.lastRequestTime,
			InBackoff:       time.Now().Before(l.backoffUntil),
			BackoffUntil:    l.backoffUntil,
		}
	}
	return stats
}

// CollectorConfig identifies the collector to the sites it reads
type CollectorConfig struct {
	UserAgent    string        `json:"user_agent" toml:"user_agent"`
	ContactEmail string        `json:"contact_email" toml:"contact_email"`
	MinInterval  time.Duration `json:"min_interval" toml:"min_interval"`
	MaxRetries   int           `json:"max_retries" toml:"max_retries"`
}

// DefaultCollectorConfig returns a polite default: one request per host every two seconds
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		UserAgent:    "HDRP-Collector/1.0 (https://github.com/Caia-Tech/hdrp; data@caiatech.com) Research-Bot",
		ContactEmail: "data@caiatech.com",
		MinInterval:  2 * time.Second,
		MaxRetries:   3,
	}
}

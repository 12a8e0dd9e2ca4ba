/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package ratelimit counts requests per client key in fixed, non-overlapping
// windows. State lives in one process only; horizontally scaled deployments
// need a shared store in front of it.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of a single Check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type bucket struct {
	count   int
	resetAt time.Time
}

type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func New(opts ...Option) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Check records one request for key and reports whether it fits in the
// current window of length window holding at most max requests.
func (l *Limiter) Check(key string, max int, window time.Duration) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	b, ok := l.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{resetAt: now.Add(window)}
		l.buckets[key] = b
	}

	b.count++

	if b.count > max {
		retry := b.resetAt.Sub(now)
		if retry < 0 {
			retry = 0
		}

		return Decision{Allowed: false, RetryAfter: retry}
	}

	return Decision{Allowed: true}
}

// Sweep drops every bucket whose window has elapsed and returns how many
// were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0

	for key, b := range l.buckets {
		if !now.Before(b.resetAt) {
			delete(l.buckets, key)
			removed++
		}
	}

	return removed
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.buckets)
}

// Run sweeps every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

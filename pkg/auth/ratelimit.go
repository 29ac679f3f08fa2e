package auth

import (
	"context"
	"sync"
	"time"
)

// RateLimiter checks whether a request should be allowed based on
// the identity's service tier.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// TierConfig holds rate limit settings for a service tier.
type TierConfig struct {
	RequestsPerMinute int
}

// InProcessLimiter is a simple fixed-window rate limiter that tracks
// request counts per subject in memory. Expired windows are swept
// opportunistically so the counter map stays bounded.
type InProcessLimiter struct {
	tiers      map[string]TierConfig
	defaultRPM int

	mu       sync.Mutex
	counters map[string]*counter
	sweptAt  time.Time
}

type counter struct {
	count    int
	windowAt time.Time
}

// NewInProcessLimiter creates a rate limiter with per-tier configuration.
// Identities whose tier is not listed fall back to defaultRPM; a
// defaultRPM <= 0 means unlimited for those identities.
func NewInProcessLimiter(tiers map[string]TierConfig, defaultRPM int) *InProcessLimiter {
	return &InProcessLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		counters:   make(map[string]*counter),
		sweptAt:    time.Now(),
	}
}

// Allow checks if the request is within the rate limit.
func (l *InProcessLimiter) Allow(_ context.Context, identity *Identity) error {
	tier := identity.ServiceTier
	if tier == "" {
		tier = "default"
	}

	rpm := l.defaultRPM
	if tc, ok := l.tiers[tier]; ok {
		rpm = tc.RequestsPerMinute
	}

	if rpm <= 0 {
		return nil // no limit
	}

	key := identity.Subject + ":" + tier

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.sweepLocked(now)

	c, ok := l.counters[key]
	if !ok || now.Sub(c.windowAt) >= time.Minute {
		// New window.
		l.counters[key] = &counter{count: 1, windowAt: now}
		return nil
	}

	c.count++
	if c.count > rpm {
		return ErrTooManyRequests
	}

	return nil
}

// sweepLocked drops counters whose window has aged out. Runs at most
// once per minute. Caller holds l.mu.
func (l *InProcessLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.sweptAt) < time.Minute {
		return
	}
	for key, c := range l.counters {
		if now.Sub(c.windowAt) >= time.Minute {
			delete(l.counters, key)
		}
	}
	l.sweptAt = now
}

package webhooks

import (
	"math/rand"
	"time"
)

// RetryPolicy implements a fixed backoff schedule: 1s, 5s, 30s, 2m,
// 10m, with up to 5 attempts total.
type RetryPolicy struct {
	delays []time.Duration
}

// NewRetryPolicy returns the standard webhook retry policy.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		delays: []time.Duration{
			1 * time.Second,
			5 * time.Second,
			30 * time.Second,
			2 * time.Minute,
			10 * time.Minute,
		},
	}
}

// ShouldRetry reports whether another attempt should follow a failed
// attempt number lastAttempt (1-indexed).
func (p *RetryPolicy) ShouldRetry(lastAttempt int) bool {
	return lastAttempt < len(p.delays)
}

// Delay returns the backoff before the attempt following lastAttempt,
// with up to 20% jitter to avoid synchronized retry storms.
func (p *RetryPolicy) Delay(lastAttempt int) time.Duration {
	idx := lastAttempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.delays) {
		idx = len(p.delays) - 1
	}
	base := p.delays[idx]
	jitter := time.Duration(rand.Int63n(int64(base) / 5))
	return base + jitter
}

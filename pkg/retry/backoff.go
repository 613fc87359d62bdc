package retry

import (
	"math/rand"
	"time"
)

// Backoff computes exponential backoff durations with jitter for a Policy.
type Backoff struct {
	policy Policy
}

// NewBackoff builds a Backoff bound to the given policy.
func NewBackoff(policy Policy) *Backoff {
	return &Backoff{policy: policy}
}

// Calculate returns the delay to wait before the given attempt number
// (1-indexed), doubling BaseDelay per attempt and capping at MaxDelay, then
// applying up to JitterFraction of random jitter.
func (b *Backoff) Calculate(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := b.policy.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if b.policy.MaxDelay > 0 && delay > b.policy.MaxDelay {
			delay = b.policy.MaxDelay
			break
		}
	}

	if b.policy.JitterFraction <= 0 {
		return delay
	}

	jitter := float64(delay) * b.policy.JitterFraction
	offset := (rand.Float64()*2 - 1) * jitter
	delay += time.Duration(offset)
	if delay < 0 {
		delay = 0
	}
	return delay
}

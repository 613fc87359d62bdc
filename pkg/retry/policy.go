package retry

import (
	"errors"
	"time"
)

// ErrMaxRetriesExceeded wraps the last error once a Retrier exhausts its
// policy's MaxRetries.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Policy configures a Retrier's retry budget and backoff shape.
type Policy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterFraction float64

	// RetryableFunc overrides the default classifier when set.
	RetryableFunc func(error) bool
}

// Validate rejects policies that would make a Retrier misbehave.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("retry: MaxRetries must be >= 0")
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return errors.New("retry: delays must be >= 0")
	}
	if p.MaxDelay != 0 && p.BaseDelay > p.MaxDelay {
		return errors.New("retry: BaseDelay must not exceed MaxDelay")
	}
	if p.JitterFraction < 0 || p.JitterFraction > 1 {
		return errors.New("retry: JitterFraction must be within [0,1]")
	}
	return nil
}

// DefaultPolicy is the RPC Client's retry budget: up to three retries after
// the first attempt (four attempts in all), 500ms base backoff doubling up
// to 8s, 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       8 * time.Second,
		JitterFraction: 0.1,
	}
}

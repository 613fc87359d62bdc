// Package retry implements the exponential-backoff retry loop the RPC
// Client wraps every JSON-RPC call in. What counts as retryable is decided
// by the reconciliation domain's own error taxonomy, not a generic
// network-error heuristic: transport and protocol failures are transient,
// RPC error objects and decode failures are not.
package retry

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/ONEONUORA/stellar-insights/internal/domain/errors"
	"go.uber.org/zap"
)

// Retrier executes an operation, retrying while the failure is classified
// as transient and the policy's budget allows.
type Retrier struct {
	policy  Policy
	backoff *Backoff
	logger  *zap.Logger
}

// NewRetrier builds a Retrier. Panics on an invalid policy: that's a
// startup-time configuration mistake, not a runtime condition to recover
// from.
func NewRetrier(policy Policy, logger *zap.Logger) *Retrier {
	if err := policy.Validate(); err != nil {
		panic(fmt.Sprintf("invalid retry policy: %v", err))
	}
	return &Retrier{
		policy:  policy,
		backoff: NewBackoff(policy),
		logger:  logger,
	}
}

// Do executes operation, retrying it per Policy until it succeeds, returns
// a non-retryable error, or the retry budget is exhausted.
func (r *Retrier) Do(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("rpc call succeeded after retry",
					zap.Int("attempt", attempt),
					zap.Int("max_retries", r.policy.MaxRetries))
			}
			return nil
		}

		if !r.isRetryable(lastErr) {
			r.logger.Debug("rpc error is not retryable, giving up",
				zap.Error(lastErr),
				zap.Int("attempt", attempt))
			return lastErr
		}

		if attempt >= r.policy.MaxRetries {
			r.logger.Warn("rpc call exhausted its retry budget",
				zap.Error(lastErr),
				zap.Int("attempts", attempt+1),
				zap.Int("max_retries", r.policy.MaxRetries))
			return fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, lastErr)
		}

		backoffDuration := r.backoff.Calculate(attempt + 1)
		r.logger.Debug("retrying rpc call",
			zap.Error(lastErr),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", r.policy.MaxRetries),
			zap.Duration("backoff", backoffDuration))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffDuration):
		}
	}

	return fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, lastErr)
}

// isRetryable classifies lastErr using the policy's override when set,
// otherwise the RPC Client's own transport/protocol-vs-decode/RPC-error
// taxonomy.
func (r *Retrier) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if r.policy.RetryableFunc != nil {
		return r.policy.RetryableFunc(err)
	}
	return apperrors.ShouldRetry(err)
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"notesrag/internal/domain"
	"notesrag/internal/telemetry"
)

// RetryPolicy bounds retries of calls to external services.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration // 0 disables the per-attempt timeout
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		AttemptTimeout: 60 * time.Second,
	}
}

type retrier struct {
	policy  RetryPolicy
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// withRetry runs op until it succeeds, fails permanently or runs out of
// attempts. Only errors marked transient are retried; an attempt that hits
// its own timeout counts as transient. The final error is a StageError.
func withRetry[T any](ctx context.Context, r retrier, stage domain.Stage, op func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := r.policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if r.policy.InitialBackoff > 0 {
		b.InitialInterval = r.policy.InitialBackoff
	}
	if r.policy.MaxBackoff > 0 {
		b.MaxInterval = r.policy.MaxBackoff
	}

	attempt := 0
	result, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		if attempt > 1 {
			r.metrics.Retry(string(stage))
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.policy.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.policy.AttemptTimeout)
		}
		defer cancel()

		v, err := op(attemptCtx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return v, backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) && !domain.IsTransient(err) {
			err = domain.Transient(fmt.Errorf("attempt timed out after %s: %w", r.policy.AttemptTimeout, err))
		}
		if !domain.IsTransient(err) {
			return v, backoff.Permanent(err)
		}

		r.logger.Warn("transient failure",
			zap.String("stage", string(stage)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err))
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(maxAttempts)))

	if err != nil {
		return result, &domain.StageError{Stage: stage, Cause: err}
	}
	return result, nil
}

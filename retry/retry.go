// Package retry wraps gateway calls with bounded exponential-backoff retry.
//
// Only typed gateway errors whose kind appears in the policy's retryable set
// are retried; auth and malformed-response failures surface immediately.
// A provider-supplied retry-after hint overrides the computed backoff delay
// for that attempt.
package retry

import (
	"context"
	"fmt"
	"time"

	"chatcore/gateway"
)

// Policy bounds the retry behavior for one operation.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RetryableKinds []gateway.ErrorKind
}

// DefaultPolicy returns sensible defaults for LLM API calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		RetryableKinds: []gateway.ErrorKind{
			gateway.KindRateLimited,
			gateway.KindUnavailable,
		},
	}
}

// retryable reports whether the policy retries errors of err's kind.
func (p Policy) retryable(err error) bool {
	kind := gateway.KindOf(err)
	if kind == "" {
		return false
	}
	for _, k := range p.RetryableKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// sleepContext waits for d or context cancellation. Swapped out in tests.
var sleepContext = func(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Do runs op with the policy's backoff schedule. The delay before attempt
// n+1 is min(BaseDelay*2^(n-1), MaxDelay), overridden by the provider's
// retry-after hint when the failed attempt carried one. When attempts are
// exhausted the last error is returned wrapped with the attempt count.
func Do[T any](ctx context.Context, policy Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	delay := capDelay(policy.BaseDelay, policy.MaxDelay)

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !policy.retryable(err) {
			return zero, err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		wait := delay
		if hint, ok := gateway.RetryAfterHint(err); ok {
			wait = hint
		}
		if err := sleepContext(ctx, wait); err != nil {
			return zero, err
		}
		delay = capDelay(delay*2, policy.MaxDelay)
	}

	return zero, fmt.Errorf("after %d attempts: %w", policy.MaxAttempts, lastErr)
}

// capDelay clamps d to the policy ceiling. A non-positive ceiling means
// uncapped.
func capDelay(d, ceiling time.Duration) time.Duration {
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}

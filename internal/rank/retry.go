package rank

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryPolicy decides whether a failed point measurement is retried and how
// long to wait before the next attempt.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewRetryPolicy builds the default per-point policy: 3 attempts with
// exponential backoff 2s/4s/8s.
func NewRetryPolicy() *RetryPolicy {
	return NewRetryPolicyWith(3, 2*time.Second, 8*time.Second)
}

// NewRetryPolicyWith builds a policy with an explicit attempt cap and
// backoff bounds.
func NewRetryPolicyWith(maxAttempts int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// MaxAttempts returns the attempt cap.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether the error is retryable at the given attempt
// (1-based).
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Backoff returns the wait duration before the given retry (1-based: the
// wait after the first failure is Backoff(1) = 2s, then 4s, then 8s).
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return time.Duration(delay)
}

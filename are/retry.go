package are

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy configures QuadraticBackoff. Grounded on the teacher's
// RetryPolicy (graph/policy.go), but computeBackoff there is exponential;
// spec.md §5 requires HTTP retries to back off quadratically with attempt
// number, so this package provides its own helper rather than reuse the
// teacher's exponential one.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable reports whether err is worth retrying; nil means "always".
	Retryable func(err error) bool
}

// QuadraticBackoff returns the delay before attempt n (1-based): roughly
// BaseDelay * n^2, capped at MaxDelay, with +/-10% jitter to avoid
// thundering-herd retries across replicas.
func QuadraticBackoff(p RetryPolicy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base * time.Duration(attempt*attempt)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	jitter := time.Duration(float64(d) * (rand.Float64()*0.2 - 0.1))
	return d + jitter
}

// Do runs fn up to p.MaxAttempts times, sleeping QuadraticBackoff(p, n)
// between attempts, stopping early if p.Retryable(err) is false. Returns
// a KindFailedRequest error wrapping the last failure once attempts are
// exhausted, per spec.md §7.
func Do(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			break
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(QuadraticBackoff(p, attempt)):
		}
	}
	return newErr(KindFailedRequest, "Do", lastErr)
}

// Package backoff computes exponential retry delays with jitter and runs
// bounded retry loops.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrMaxAttemptsExhausted is returned when every attempt failed.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

type Policy struct {
	Initial time.Duration
	Max     time.Duration
	// Factor multiplies the delay after each failed attempt.
	Factor float64
	// Jitter adds up to this fraction of the delay at random (0.0 to 1.0).
	Jitter float64
}

// DefaultPolicy is 500ms doubling to 10s with 20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 500 * time.Millisecond,
		Max:     10 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// Compute returns the delay to wait after failed attempt number attempt
// (1-indexed).
func Compute(p Policy, attempt int) time.Duration {
	return ComputeWithRand(p, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand is Compute with the random value in [0.0, 1.0) supplied
// by the caller.
func ComputeWithRand(p Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}

	base := float64(p.Initial) * math.Pow(factor, exp)
	total := base + base*p.Jitter*randomValue
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	return time.Duration(math.Round(total))
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter
// case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry calls fn until it succeeds, maxAttempts is reached or ctx is done,
// sleeping per the policy between attempts. It returns the value, the
// number of attempts made and, on failure, ErrMaxAttemptsExhausted joined
// with the last error, or ctx.Err().
func Retry[T any](ctx context.Context, p Policy, maxAttempts int, fn func(attempt int) (T, error)) (T, int, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, err
		}

		value, err := fn(attempt)
		if err == nil {
			return value, attempt, nil
		}
		lastErr = err

		if attempt < maxAttempts {
			if err := Sleep(ctx, Compute(p, attempt)); err != nil {
				return zero, attempt, err
			}
		}
	}
	return zero, maxAttempts, errors.Join(ErrMaxAttemptsExhausted, lastErr)
}

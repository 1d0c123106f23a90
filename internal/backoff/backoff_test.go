package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeWithRand(t *testing.T) {
	policy := Policy{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.5}

	tests := []struct {
		name        string
		attempt     int
		randomValue float64
		expected    time.Duration
	}{
		{"first attempt", 1, 0, 100 * time.Millisecond},
		{"attempt zero treated as first", 0, 0, 100 * time.Millisecond},
		{"second attempt doubles", 2, 0, 200 * time.Millisecond},
		{"jitter adds a fraction", 2, 0.5, 250 * time.Millisecond},
		{"clamped to max", 6, 0.9, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ComputeWithRand(policy, tt.attempt, tt.randomValue))
		})
	}
}

func TestComputeStaysWithinBounds(t *testing.T) {
	policy := DefaultPolicy()
	for attempt := 1; attempt <= 20; attempt++ {
		d := Compute(policy, attempt)
		assert.GreaterOrEqual(t, d, policy.Initial)
		assert.LessOrEqual(t, d, policy.Max)
	}
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}

func TestRetry(t *testing.T) {
	policy := Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2}
	boom := errors.New("boom")

	t.Run("succeeds after failures", func(t *testing.T) {
		value, attempts, err := Retry(context.Background(), policy, 5, func(attempt int) (string, error) {
			if attempt < 3 {
				return "", boom
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", value)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		_, attempts, err := Retry(context.Background(), policy, 4, func(int) (int, error) {
			calls++
			return 0, boom
		})
		assert.ErrorIs(t, err, ErrMaxAttemptsExhausted)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 4, attempts)
		assert.Equal(t, 4, calls)
	})

	t.Run("stops on cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		_, _, err := Retry(ctx, policy, 10, func(int) (int, error) {
			cancel()
			return 0, boom
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

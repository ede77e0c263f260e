package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig keeps test backoff in the millisecond range.
func fastConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	t.Run("applies all defaults when empty", func(t *testing.T) {
		config := &Config{}
		config.ApplyDefaults()

		assert.Equal(t, 3, config.MaxRetries)
		assert.Equal(t, time.Second, config.InitialDelay)
		assert.Equal(t, 30*time.Second, config.MaxDelay)
		assert.Equal(t, 2.0, config.Multiplier)
	})

	t.Run("preserves non-zero values", func(t *testing.T) {
		config := &Config{
			MaxRetries:   5,
			InitialDelay: 2 * time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   3.0,
		}
		config.ApplyDefaults()

		assert.Equal(t, 5, config.MaxRetries)
		assert.Equal(t, 2*time.Second, config.InitialDelay)
		assert.Equal(t, 60*time.Second, config.MaxDelay)
		assert.Equal(t, 3.0, config.Multiplier)
	})
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil error", nil, false},
		{"server error", &StatusError{StatusCode: 503, Err: errors.New("unavailable")}, true},
		{"internal error", &StatusError{StatusCode: 500, Err: errors.New("boom")}, true},
		{"rate limited", &StatusError{StatusCode: 429, Err: errors.New("slow down")}, true},
		{"not found", &StatusError{StatusCode: 404, Err: errors.New("missing")}, false},
		{"unauthorized", &StatusError{StatusCode: 401, Err: errors.New("nope")}, false},
		{"unprocessable", &StatusError{StatusCode: 422, Err: errors.New("validation")}, false},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "api.example.com"}, true},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"timed out", fmt.Errorf("dial: %w", syscall.ETIMEDOUT), true},
		{"eagain", fmt.Errorf("read: %w", syscall.EAGAIN), true},
		{"plain error", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, Retryable(tt.err))
		})
	}
}

func TestRetryable_TimeoutNetError(t *testing.T) {
	err := &net.OpError{Op: "dial", Err: &timeoutError{}}
	assert.True(t, Retryable(err))
}

// timeoutError is a net.Error whose Timeout reports true.
type timeoutError struct{}

func (*timeoutError) Error() string   { return "i/o timeout" }
func (*timeoutError) Timeout() bool   { return true }
func (*timeoutError) Temporary() bool { return true }

func TestRetryable_TopLevelStatusWins(t *testing.T) {
	// A success-coded wrapper around a retryable inner status must not be
	// retried: the outermost status is authoritative.
	inner := &StatusError{StatusCode: 503, Err: errors.New("backend blew up")}
	outer := &StatusError{StatusCode: 422, Err: inner}

	assert.False(t, Retryable(outer))
	assert.True(t, Retryable(inner))
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &StatusError{StatusCode: 503, Err: errors.New("unavailable")}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_BackoffGrowsByMultiplier(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = 20 * time.Millisecond
	cfg.MaxDelay = time.Second

	var stamps []time.Time
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		stamps = append(stamps, time.Now())
		if len(stamps) < 3 {
			return &StatusError{StatusCode: 503, Err: errors.New("unavailable")}
		}
		return nil
	})

	require.NoError(t, err)
	require.Len(t, stamps, 3)

	first := stamps[1].Sub(stamps[0])
	second := stamps[2].Sub(stamps[1])
	assert.GreaterOrEqual(t, first, cfg.InitialDelay, "first wait is InitialDelay")
	assert.GreaterOrEqual(t, second, 2*cfg.InitialDelay, "second wait is InitialDelay x Multiplier")
	assert.Less(t, second, 8*cfg.InitialDelay, "second wait must not jump further than one multiplier step")
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	wantErr := &StatusError{StatusCode: 404, Err: errors.New("missing")}
	err := Do(context.Background(), fastConfig(), func(ctx context.Context) error {
		calls++
		return wantErr
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, wantErr, err, "non-retryable error must come back unchanged")
}

func TestDo_ReturnsLastErrorAfterExhaustion(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 2

	calls := 0
	var last error
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		last = &StatusError{StatusCode: 500, Err: fmt.Errorf("attempt %d", calls)}
		return last
	})

	assert.Equal(t, 3, calls, "initial attempt plus MaxRetries")
	assert.Same(t, last, err, "the final attempt's error must come back unchanged")
}

func TestDo_RetryAfterHintOverridesBackoff(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = 500 * time.Millisecond
	cfg.MaxDelay = time.Second

	hint := 5 * time.Millisecond
	calls := 0
	start := time.Now()
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &StatusError{StatusCode: 429, RetryAfter: hint, Err: errors.New("rate limited")}
		}
		return nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Less(t, elapsed, cfg.InitialDelay, "hint should replace the computed delay")
}

func TestDo_RetryAfterHintCappedAtMaxDelay(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxDelay = 10 * time.Millisecond

	calls := 0
	start := time.Now()
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &StatusError{StatusCode: 429, RetryAfter: time.Hour, Err: errors.New("rate limited")}
		}
		return nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Less(t, elapsed, time.Second, "an absurd hint must be capped at MaxDelay")
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	calls := 0
	err := Do(ctx, cfg, func(ctx context.Context) error {
		calls++
		return &StatusError{StatusCode: 503, Err: errors.New("unavailable")}
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}

func TestDo_NilConfigUsesDefaults(t *testing.T) {
	err := Do(context.Background(), nil, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestStatusError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	err := &StatusError{StatusCode: 500, Resource: "issues", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "issues")
	assert.Contains(t, err.Error(), "500")
}

// Package retry classifies transient failures and re-runs operations with
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// Config configures retry behavior for external calls.
type Config struct {
	// MaxRetries is the maximum number of retry attempts.
	// Default: 3
	MaxRetries int

	// InitialDelay is the initial backoff duration.
	// Default: 1 second
	InitialDelay time.Duration

	// MaxDelay is the maximum backoff duration.
	// Default: 30 seconds
	MaxDelay time.Duration

	// Multiplier is the multiplier for exponential backoff.
	// Default: 2
	Multiplier float64
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = defaults.InitialDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = defaults.Multiplier
	}
}

// StatusError carries an HTTP status code from a failed external call.
// RetryAfter, when non-zero, is a server-supplied delay hint that overrides
// the computed backoff for the attempt it applies to.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Resource   string
	Err        error
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: status %d: %v", e.Resource, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("status %d: %v", e.StatusCode, e.Err)
}

// Unwrap allows errors.Is and errors.As to inspect the underlying error.
func (e *StatusError) Unwrap() error {
	return e.Err
}

// statusOf extracts the HTTP status code from err. A status carried by err
// itself wins over one nested inside a wrapped error.
func statusOf(err error) (int, bool) {
	var se *StatusError
	if top, ok := err.(*StatusError); ok {
		se = top
	} else if !errors.As(err, &se) {
		return 0, false
	}
	return se.StatusCode, true
}

// Retryable reports whether err is a transient failure worth retrying.
//
// Retryable: 5xx responses, 429, and network-level failures (connection
// reset/refused, timeouts, DNS failures, EAGAIN). Everything else, including
// the remaining 4xx codes, propagates immediately.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	if code, ok := statusOf(err); ok {
		switch {
		case code == http.StatusTooManyRequests:
			return true
		case code >= 500 && code < 600:
			return true
		default:
			return false
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	for _, errno := range []syscall.Errno{
		syscall.ECONNRESET,
		syscall.ECONNREFUSED,
		syscall.ETIMEDOUT,
		syscall.EAGAIN,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}

	return false
}

// retryAfterHint returns the server-supplied delay hint attached to err.
func retryAfterHint(err error) (time.Duration, bool) {
	var se *StatusError
	if !errors.As(err, &se) {
		return 0, false
	}
	if se.RetryAfter <= 0 {
		return 0, false
	}
	return se.RetryAfter, true
}

// Do runs op, retrying transient failures with exponential backoff.
//
// The delay before attempt n is InitialDelay × Multiplier^(n-1), capped at
// MaxDelay, unless the error carries a retry-after hint, which overrides the
// computed delay for that attempt only. After MaxRetries are exhausted the
// last error is returned unchanged. Non-retryable errors return immediately.
func Do(ctx context.Context, cfg *Config, op func(ctx context.Context) error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.ApplyDefaults()

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !Retryable(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		wait := delay
		if hint, ok := retryAfterHint(err); ok {
			wait = hint
			if wait > cfg.MaxDelay {
				wait = cfg.MaxDelay
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(wait):
		}

		next := time.Duration(float64(delay) * cfg.Multiplier)
		if next > cfg.MaxDelay {
			next = cfg.MaxDelay
		}
		delay = next
	}

	return lastErr
}

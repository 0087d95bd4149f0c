// Package retry provides named backoff profiles and a retrying call
// combinator used for all network delivery paths.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Profile bounds a retry loop: attempt count, initial delay, and delay cap.
// Delays grow by 2x per attempt and are jittered into a 0.5x-1.5x window.
type Profile struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Named profiles. Fast is for local/low-latency calls, Patient for upstream
// escalation, Critical for deliveries that must eventually land.
var (
	Default  = Profile{MaxAttempts: 3, InitialDelay: 1 * time.Second, MaxDelay: 30 * time.Second}
	Fast     = Profile{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
	Patient  = Profile{MaxAttempts: 5, InitialDelay: 2 * time.Second, MaxDelay: 60 * time.Second}
	Critical = Profile{MaxAttempts: 10, InitialDelay: 1 * time.Second, MaxDelay: 120 * time.Second}
)

// HTTPStatusError marks a response whose status code signals failure.
// Carrying the code lets the retry loop distinguish transient server-side
// failures (5xx, 429) from permanent client errors.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// Retryable reports whether an error is worth retrying: network-level
// failures, timeouts, truncated responses, and retryable HTTP statuses.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Do runs op with the profile's backoff schedule. Non-retryable errors stop
// the loop immediately; the last error is returned when attempts run out.
func Do(ctx context.Context, p Profile, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0

	wrapped := func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	// MaxAttempts includes the first try, so allow MaxAttempts-1 retries.
	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
	return backoff.Retry(wrapped, bo)
}

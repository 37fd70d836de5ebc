package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Retryable reports whether err is worth another attempt.
	// Nil retries everything except context errors.
	Retryable func(err error) bool
}

// Backoff returns the delay after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	backoff := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}
	return backoff
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// Do calls fn until it succeeds, fails with a non-retryable error, or
// MaxAttempts is used up. The last error is returned wrapped.
func Do(ctx context.Context, p Policy, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}

		if !p.retryable(err) {
			return err
		}

		if attempt == attempts {
			break
		}

		backoff := p.Backoff(attempt)
		logger.Warn("request failed, retrying",
			"op", op,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%s after %d attempts: %w", op, attempts, err)
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status: %d: %s", e.Code, e.Body)
}

// RetryableStatus reports whether a response with this status may succeed
// when repeated: rate limiting, request timeouts and server errors.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// HTTPRetryable retries transport failures and retryable statuses, and gives
// up on any other StatusError.
func HTTPRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return RetryableStatus(se.Code)
	}
	return true
}

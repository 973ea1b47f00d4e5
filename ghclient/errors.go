package ghclient

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	// ErrAuth covers invalid or expired tokens. Never retried.
	ErrAuth = errors.New("authentication failed")
	// ErrNotFound covers a missing run or job. Never retried.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited is retried after the provider's reset window.
	ErrRateLimited = errors.New("rate limited")
	// ErrLogUnavailable covers logs that the provider no longer serves,
	// typically past the retention window. Recoverable per job.
	ErrLogUnavailable = errors.New("logs unavailable")
)

// StatusError is any non-2xx response that has no more specific kind.
// 5xx values are treated as transient and retried.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// RateLimitError carries the reset time advertised by the provider so
// the retry delay can wait it out instead of blind backoff.
type RateLimitError struct {
	Reset time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.Reset.Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// statusError maps a response status to an error kind. resp headers are
// consulted for the rate-limit reset.
func statusError(resp *http.Response, body string) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrAuth, body)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, body)
	case http.StatusForbidden, http.StatusTooManyRequests:
		if reset := rateLimitReset(resp); !reset.IsZero() {
			return &RateLimitError{Reset: reset}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &RateLimitError{}
		}
		// a 403 without rate-limit headers is a permissions problem
		return fmt.Errorf("%w: %s", ErrAuth, body)
	default:
		return &StatusError{Code: resp.StatusCode, Body: body}
	}
}

func rateLimitReset(resp *http.Response) time.Time {
	if resp.Header.Get("X-RateLimit-Remaining") != "0" && resp.Header.Get("Retry-After") == "" {
		return time.Time{}
	}
	if after := resp.Header.Get("Retry-After"); after != "" {
		if secs, err := strconv.Atoi(after); err == nil {
			return time.Now().Add(time.Duration(secs) * time.Second)
		}
	}
	if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
		if unix, err := strconv.ParseInt(reset, 10, 64); err == nil {
			return time.Unix(unix, 0)
		}
	}
	return time.Time{}
}

func retryable(err error) bool {
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrLogUnavailable) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}

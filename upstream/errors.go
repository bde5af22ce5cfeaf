// Package upstream holds the error taxonomy and retry policy shared by the
// third-party API clients. Every client call fails with exactly one of the
// typed errors below so callers can decide between retrying, degrading and
// aborting without string matching.
package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// AuthError is an upstream credential failure. Not retryable.
type AuthError struct {
	Service string
	Status  int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed (status %d)", e.Service, e.Status)
}

// RateLimitedError is a 429 from the upstream. RetryAfter is zero when the
// upstream sent no hint.
type RateLimitedError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Service, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Service)
}

// NotFoundError means the upstream has no data for the request. Callers treat
// this as an empty result for optional stages.
type NotFoundError struct {
	Service  string
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s not found", e.Service, e.Resource)
}

// UnavailableError covers 5xx responses, transport failures and timeouts.
type UnavailableError struct {
	Service string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: upstream unavailable: %v", e.Service, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

func IsRateLimited(err error) bool {
	var target *RateLimitedError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsUnavailable(err error) bool {
	var target *UnavailableError
	return errors.As(err, &target)
}

// IsTransient reports whether the error is worth retrying with backoff.
func IsTransient(err error) bool {
	return IsRateLimited(err) || IsUnavailable(err)
}

// RetryAfterHint extracts the upstream's retry-after hint, if any.
func RetryAfterHint(err error) time.Duration {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// FromResponse maps a non-2xx HTTP response to a typed error. resource names
// what was requested, for NotFound messages.
func FromResponse(service, resource string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Service: service, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{Service: service, RetryAfter: parseRetryAfter(resp)}
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{Service: service, Resource: resource}
	default:
		return &UnavailableError{
			Service: service,
			Err:     fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
}

func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

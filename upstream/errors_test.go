package upstream

import (
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(status int, headers map[string]string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{StatusCode: status, Header: h}
}

func TestFromResponseClassification(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusUnauthorized, IsAuth},
		{http.StatusForbidden, IsAuth},
		{http.StatusTooManyRequests, IsRateLimited},
		{http.StatusNotFound, IsNotFound},
		{http.StatusInternalServerError, IsUnavailable},
		{http.StatusBadGateway, IsUnavailable},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			err := FromResponse("spotify", "artist", response(tt.status, nil))
			assert.True(t, tt.check(err), "status %d mapped to %T", tt.status, err)
		})
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	err := FromResponse("spotify", "artist", response(429, map[string]string{"Retry-After": "7"}))
	assert.Equal(t, 7*time.Second, RetryAfterHint(err))
}

func TestRetryAfterHTTPDate(t *testing.T) {
	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	err := FromResponse("spotify", "artist", response(429, map[string]string{"Retry-After": future}))

	hint := RetryAfterHint(err)
	assert.Greater(t, hint, 20*time.Second)
	assert.LessOrEqual(t, hint, 30*time.Second)
}

func TestRetryAfterMissingOrStale(t *testing.T) {
	err := FromResponse("spotify", "artist", response(429, nil))
	assert.Equal(t, time.Duration(0), RetryAfterHint(err))

	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	err = FromResponse("spotify", "artist", response(429, map[string]string{"Retry-After": past}))
	assert.Equal(t, time.Duration(0), RetryAfterHint(err))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&RateLimitedError{Service: "spotify"}))
	assert.True(t, IsTransient(&UnavailableError{Service: "spotify", Err: fmt.Errorf("boom")}))
	assert.False(t, IsTransient(&AuthError{Service: "spotify", Status: 401}))
	assert.False(t, IsTransient(&NotFoundError{Service: "spotify", Resource: "artist"}))
	assert.False(t, IsTransient(nil))
}

func TestUnavailableWrapsCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := &UnavailableError{Service: "spotify", Err: cause}

	require.ErrorContains(t, err, "connection refused")
	assert.Equal(t, cause, err.Unwrap())
}

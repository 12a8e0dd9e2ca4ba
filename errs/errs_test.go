package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{ErrForbiddenOrigin, http.StatusForbidden},
		{&RateLimitedError{RetryAfter: time.Second}, http.StatusTooManyRequests},
		{fmt.Errorf("channel %q: %w", "x", ErrInvalidChannel), http.StatusBadRequest},
		{ErrInvalidEvent, http.StatusBadRequest},
		{ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("broker: %w", ErrDelivery), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, c := range cases {
		require.Equal(t, c.want, StatusCode(c.err), "%v", c.err)
	}
}

func TestRetryAfter(t *testing.T) {
	wrapped := fmt.Errorf("publish: %w", &RateLimitedError{RetryAfter: 42 * time.Second})

	d, ok := RetryAfter(wrapped)
	require.True(t, ok)
	require.Equal(t, 42*time.Second, d)

	_, ok = RetryAfter(ErrInvalidData)
	require.False(t, ok)
}

func TestPublicHidesInternals(t *testing.T) {
	require.Equal(t, "server error", Public(errors.New("dial tcp 10.0.0.1:6379: refused")))
	require.Equal(t, "message delivery failed", Public(fmt.Errorf("redis down: %w", ErrDelivery)))
	require.Equal(t, "rate limited", Public(&RateLimitedError{}))
}

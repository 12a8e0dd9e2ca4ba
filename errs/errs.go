/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package errs holds the error taxonomy shared by the coordination server
// and its clients, along with the HTTP status each kind maps to.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrValidation      = errors.New("invalid request")
	ErrForbiddenOrigin = errors.New("forbidden origin")
	ErrInvalidChannel  = errors.New("invalid channel")
	ErrInvalidEvent    = errors.New("invalid event")
	ErrInvalidData     = errors.New("invalid data")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrDelivery        = errors.New("message delivery failed")
	ErrNoActiveMatch   = errors.New("no active match")
)

// RateLimitedError is returned when a client exhausted its budget.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter.Round(time.Millisecond))
}

// RetryAfter reports the retry hint carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}

	return 0, false
}

// StatusCode maps err onto the HTTP status served to the caller.
func StatusCode(err error) int {
	var rl *RateLimitedError

	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &rl):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrForbiddenOrigin):
		return http.StatusForbidden
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInvalidChannel),
		errors.Is(err, ErrInvalidEvent),
		errors.Is(err, ErrInvalidData),
		errors.Is(err, ErrNoActiveMatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Public returns the message that may be shown to an untrusted caller.
// Anything not in the taxonomy collapses to a generic server error.
func Public(err error) string {
	var rl *RateLimitedError

	for _, known := range []error{
		ErrValidation, ErrForbiddenOrigin, ErrInvalidChannel, ErrInvalidEvent,
		ErrInvalidData, ErrPayloadTooLarge, ErrDelivery, ErrNoActiveMatch,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}

	if errors.As(err, &rl) {
		return "rate limited"
	}

	return "server error"
}

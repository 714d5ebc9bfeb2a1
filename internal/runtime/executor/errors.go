package executor

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrFallbackExhausted is returned when every candidate model ran out of attempts.
// The last upstream error is wrapped alongside it.
var ErrFallbackExhausted = errors.New("all fallback models exhausted")

// StatusError is a non-2xx response from the completion endpoint.
type StatusError struct {
	Code int
	Msg  string
}

func (e StatusError) Error() string {
	msg := strings.TrimSpace(e.Msg)
	if msg == "" {
		msg = http.StatusText(e.Code)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Code, msg)
}

// StatusCode returns the HTTP status of the failed attempt.
func (e StatusError) StatusCode() int { return e.Code }

// Retryable reports whether the status models transient overload.
func (e StatusError) Retryable() bool {
	switch e.Code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		return true
	default:
		return false
	}
}

// statusOf returns the upstream status carried by err, or 0 for transport failures.
func statusOf(err error) int {
	if se, ok := errors.AsType[StatusError](err); ok {
		return se.Code
	}
	return 0
}

package restapi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/schooladmin/recordsync/internal/domain/shared"
)

// APIError is a non-2xx response from the remote store.
//
// When the body carried a JSON "message" the error is a server validation
// error and Message is shown to the user verbatim. Otherwise it is a network
// error whose message is the status line, e.g. "502 Bad Gateway".
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Status     string // status line as received, e.g. "404 Not Found"
	Message    string // server-supplied message, may be empty
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.StatusLine()
}

// StatusLine returns "<code> <text>".
func (e *APIError) StatusLine() string {
	if strings.TrimSpace(e.Status) != "" {
		return e.Status
	}
	return fmt.Sprintf("%d", e.StatusCode)
}

// Is maps the error onto the shared taxonomy.
func (e *APIError) Is(target error) bool {
	switch target {
	case shared.ErrServerValidation:
		return e.Message != ""
	case shared.ErrNetwork:
		return e.Message == ""
	}
	return false
}

// ServerFault reports whether the remote store itself is failing. Only these
// responses count against the circuit breaker.
func (e *APIError) ServerFault() bool {
	return e.StatusCode >= 500 && e.Message == ""
}

// CountsAsOutage classifies errors for the circuit breaker: transport failures
// and message-less 5xx responses. Client cancellation does not count.
func CountsAsOutage(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ServerFault()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return shared.IsNetwork(err)
}

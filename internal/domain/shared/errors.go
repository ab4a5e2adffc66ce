// Package shared contains the error kinds used across the domain and
// application packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base error kinds that can be used for error checking with errors.Is().
var (
	// ErrNetwork is a transport or status failure without an interpretable body.
	ErrNetwork = errors.New("network error")

	// ErrServerValidation is a status failure carrying a server-supplied message.
	// The message is authoritative and is shown to the user verbatim.
	ErrServerValidation = errors.New("server validation error")

	// ErrClientValidation is raised before any network call: missing required
	// field, out-of-range value or unresolved reference.
	ErrClientValidation = errors.New("validation error")

	// ErrNotFoundLocally means an edit or delete targeted a record that is no
	// longer present in the local cache.
	ErrNotFoundLocally = errors.New("record not found locally")

	// ErrCancelled is returned when the user declines a confirmation step.
	ErrCancelled = errors.New("operation cancelled")

	// ErrSuperseded marks a load response that lost the generation race.
	ErrSuperseded = errors.New("response superseded by a newer request")

	// ErrUnknownKind is returned for an entity kind outside the closed set.
	ErrUnknownKind = errors.New("unknown entity kind")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "records", "crud", "cache"
	Op      string // Operation that failed, e.g., "Create", "Delete"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Invalid builds a client validation error with a user-facing message.
func Invalid(domain, op, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, ErrClientValidation, fmt.Sprintf(format, args...))
}

// UserMessage extracts the human-readable message of the outermost
// DomainError, falling back to err.Error().
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}

// IsNetwork checks if the error is a transport or bare status failure.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsServerValidation checks if the server rejected the request with a message.
func IsServerValidation(err error) bool {
	return errors.Is(err, ErrServerValidation)
}

// IsClientValidation checks if the error was raised before any network call.
func IsClientValidation(err error) bool {
	return errors.Is(err, ErrClientValidation)
}

// IsSuperseded checks if a failed load lost the generation race, so a newer
// load decided the cached state.
func IsSuperseded(err error) bool {
	return errors.Is(err, ErrSuperseded)
}

// IsNotFoundLocally checks if the targeted record is missing from the cache.
func IsNotFoundLocally(err error) bool {
	return errors.Is(err, ErrNotFoundLocally)
}

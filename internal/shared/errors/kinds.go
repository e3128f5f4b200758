// Package errors defines the closed set of error kinds codeforge's
// pipelines surface and a circuit breaker used to protect
// external-collaborator calls.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a closed enum of the error categories a pipeline can surface.
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindAuthFailure         Kind = "auth_failure"
	KindResourceNotFound    Kind = "resource_not_found"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindValidationFailure   Kind = "validation_failure"
	KindIntegrityError      Kind = "integrity_error"
)

// HTTPStatus maps a Kind to the status code the HTTP edge should return.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindAuthFailure:
		return http.StatusUnauthorized
	case KindResourceNotFound:
		return http.StatusNotFound
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindValidationFailure:
		return http.StatusUnprocessableEntity
	case KindIntegrityError:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error wraps an underlying cause with a Kind so HTTP handlers and the
// queue's retry policy can branch on category without string matching.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a Kind-tagged error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap tags an existing error with a Kind, preserving it for errors.Is/As.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to empty when err does
// not carry one (treated as an unclassified internal error).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err (or any error it wraps) is tagged with kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the queue should retry a job that failed
// with err. Only UpstreamUnavailable (transient provider failure) and
// unclassified errors are retried; the rest are permanent.
func Retryable(err error) bool {
	kind := KindOf(err)
	if kind == "" {
		return true
	}
	return kind == KindUpstreamUnavailable
}

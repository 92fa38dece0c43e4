// Package errs defines coded application errors for the connection subsystem.
// Every public operation that talks to a third party translates transport and
// parse failures into one of these codes with a human-readable message, so the
// web layer can render something actionable instead of a raw error string.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is an application error code.
type Code string

const (
	InvalidArgument    Code = "invalid_argument"
	NotFound           Code = "not_found"
	FailedPrecondition Code = "failed_precondition" // missing configuration, unusable token
	PermissionDenied   Code = "permission_denied"
	Unauthenticated    Code = "unauthenticated" // remote requires OAuth sign-in
	NotAcceptable      Code = "not_acceptable"  // remote rejected our Accept header
	Unavailable        Code = "unavailable"     // remote unreachable or non-2xx
	Protocol           Code = "protocol"        // remote answered with something we cannot interpret
	Internal           Code = "internal"
)

// Error is a coded application error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a coded error with message.
func New(code Code, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a coded error with message and cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// maxUpstreamBodyLen bounds how much of a provider response body is kept in
// error messages. Provider errors are short JSON; anything longer is noise.
const maxUpstreamBodyLen = 256

// Upstream creates a coded error describing a non-success response from a
// third-party endpoint, keeping the HTTP status and a truncated body.
func Upstream(code Code, operation string, status int, body []byte) error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf("%s failed: status %d: %s", operation, status, TruncateBody(body)),
	}
}

// TruncateBody returns a bounded rendering of a provider response body.
func TruncateBody(body []byte) string {
	if len(body) > maxUpstreamBodyLen {
		return string(body[:maxUpstreamBodyLen]) + "..."
	}
	return string(body)
}

// CodeOf returns the error code, defaulting to internal.
func CodeOf(err error) Code {
	if err == nil {
		return Internal
	}
	var coded *Error
	if errors.As(err, &coded) {
		if coded.Code == "" {
			return Internal
		}
		return coded.Code
	}
	return Internal
}

// MessageOf returns a user-facing error message.
// If the error has no typed wrapper, returns "internal error" to prevent
// leaking raw DB errors, file paths, or connection strings to API responses.
func MessageOf(err error) string {
	if err == nil {
		return string(Internal)
	}
	var coded *Error
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}
	return "internal error"
}

// HTTPStatus maps error code to HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case InvalidArgument:
		return http.StatusBadRequest
	case PermissionDenied:
		return http.StatusForbidden
	case Unauthenticated:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case NotAcceptable:
		return http.StatusNotAcceptable
	case FailedPrecondition:
		return http.StatusConflict
	case Unavailable, Protocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

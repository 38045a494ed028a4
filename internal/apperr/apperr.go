// ABOUTME: Error taxonomy for the messaging core (bad request, unauthorized, ...)
// ABOUTME: CoreError wraps a cause with a Code; check kinds with errors.Is against the sentinels

package apperr

import (
	"errors"
	"fmt"
)

// Code names one of the taxonomy kinds from the error handling design.
type Code string

const (
	CodeBadRequest  Code = "bad_request"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden   Code = "forbidden"
	CodeNotFound    Code = "not_found"
	CodeConflict    Code = "conflict"
	CodeUnavailable Code = "unavailable"
	CodeInternal    Code = "internal"
)

// sentinels let callers write errors.Is(err, apperr.NotFound) without
// caring about the wrapped cause or message.
var (
	BadRequest  = &CoreError{Code: CodeBadRequest, Message: "bad request"}
	Unauthorized = &CoreError{Code: CodeUnauthorized, Message: "unauthorized"}
	Forbidden   = &CoreError{Code: CodeForbidden, Message: "forbidden"}
	NotFound    = &CoreError{Code: CodeNotFound, Message: "not found"}
	Conflict    = &CoreError{Code: CodeConflict, Message: "conflict"}
	Unavailable = &CoreError{Code: CodeUnavailable, Message: "unavailable"}
	Internal    = &CoreError{Code: CodeInternal, Message: "internal error"}
)

// CoreError is a taxonomy-coded error suitable for both logging and for
// encoding into the wire `error` frame / REST JSON body as {code, message}.
type CoreError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, apperr.NotFound) match any CoreError with the
// same Code, regardless of Message/Cause.
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Wrap builds a new CoreError of the given kind around cause, with an
// explicit message. Use the package-level sentinels for plain errors.Is
// checks and Wrap when you also want a descriptive message.
func Wrap(code Code, message string, cause error) *CoreError {
	return &CoreError{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the taxonomy Code from err, defaulting to CodeInternal
// if err is not (or does not wrap) a *CoreError.
func CodeOf(err error) Code {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}

package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrorInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrorConfiguration ErrorCode = "CONFIGURATION_ERROR"
	ErrorAuth          ErrorCode = "AUTH_ERROR"
	ErrorUpstream      ErrorCode = "UPSTREAM_ERROR"
	ErrorProtocol      ErrorCode = "PROTOCOL_ERROR"
	ErrorInternal      ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// HTTPStatus maps an error code to the status transports reply with.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrorInvalidInput:
		return http.StatusBadRequest
	case ErrorAuth, ErrorUpstream, ErrorProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AsError returns the *Error in err's chain, classifying anything else as
// an internal error.
func AsError(err error) *Error {
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr
	}
	return newError(ErrorInternal, "unexpected", err)
}

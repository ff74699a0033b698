// Package apperr defines the error taxonomy shared by the chat, call, callback
// and notification services. Transports map Code to HTTP statuses or ws error events.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeUnauthorized             = "UNAUTHORIZED"
	CodeNotFound                 = "NOT_FOUND"
	CodeInvalidTransition        = "INVALID_TRANSITION"
	CodeCallsDisabled            = "CALLS_DISABLED"
	CodeCallNotActive            = "CALL_NOT_ACTIVE"
	CodeInvalidSchedule          = "INVALID_SCHEDULE"
	CodeCredentialIssuanceFailed = "CREDENTIAL_ISSUANCE_FAILED"
	CodeConflict                 = "CONFLICT"
	CodeBadRequest               = "BAD_REQUEST"
	CodeUnavailable              = "UNAVAILABLE"
	CodeInternal                 = "INTERNAL_ERROR"
)

type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any *AppError with the same code, so errors.Is(err, ErrNotFound)
// holds for every NotFound regardless of message.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	ErrUnauthorized             = &AppError{Code: CodeUnauthorized, Status: http.StatusForbidden}
	ErrNotFound                 = &AppError{Code: CodeNotFound, Status: http.StatusNotFound}
	ErrInvalidTransition        = &AppError{Code: CodeInvalidTransition, Status: http.StatusConflict}
	ErrCallsDisabled            = &AppError{Code: CodeCallsDisabled, Status: http.StatusForbidden}
	ErrCallNotActive            = &AppError{Code: CodeCallNotActive, Status: http.StatusConflict}
	ErrInvalidSchedule          = &AppError{Code: CodeInvalidSchedule, Status: http.StatusBadRequest}
	ErrCredentialIssuanceFailed = &AppError{Code: CodeCredentialIssuanceFailed, Status: http.StatusBadGateway}
	ErrConflict                 = &AppError{Code: CodeConflict, Status: http.StatusConflict}
	ErrBadRequest               = &AppError{Code: CodeBadRequest, Status: http.StatusBadRequest}
)

func New(code string, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

// Unauthorized is returned to callers that are not participants. 401 stays with the auth middleware.
func Unauthorized(message string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: message, Status: http.StatusForbidden}
}

func InvalidTransition(from, to string) *AppError {
	return &AppError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("call is %s, cannot move to %s", from, to),
		Status:  http.StatusConflict,
	}
}

func CallsDisabled(callType string) *AppError {
	return &AppError{
		Code:    CodeCallsDisabled,
		Message: fmt.Sprintf("shop does not accept %s calls", callType),
		Status:  http.StatusForbidden,
	}
}

func CallNotActive(status string) *AppError {
	return &AppError{
		Code:    CodeCallNotActive,
		Message: fmt.Sprintf("call is %s", status),
		Status:  http.StatusConflict,
	}
}

func InvalidSchedule(message string) *AppError {
	return &AppError{Code: CodeInvalidSchedule, Message: message, Status: http.StatusBadRequest}
}

func CredentialIssuanceFailed(err error) *AppError {
	return &AppError{
		Code:    CodeCredentialIssuanceFailed,
		Message: "media credential issuance failed",
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

func Conflict(message string) *AppError {
	return &AppError{Code: CodeConflict, Message: message, Status: http.StatusConflict}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{Code: CodeBadRequest, Message: message, Status: http.StatusBadRequest, Err: err}
}

func Unavailable(message string) *AppError {
	return &AppError{Code: CodeUnavailable, Message: message, Status: http.StatusServiceUnavailable}
}

func Internal(message string, err error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Status: http.StatusInternalServerError, Err: err}
}

// From returns err as an *AppError, wrapping unknown errors as internal.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("internal error", err)
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

package apperr

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

type Code string

const (
	CodeInvalidFormat     Code = "INVALID_FORMAT"
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeNotFound          Code = "NOT_FOUND"
	CodeAlreadyDispatched Code = "ALREADY_DISPATCHED"
	CodeAlreadyReceived   Code = "ALREADY_RECEIVED"
	CodeAlreadyBooked     Code = "ALREADY_BOOKED"
	CodeInternal          Code = "INTERNAL_ERROR"
)

// Error is the structured error returned by single-order paths.
type Error struct {
	Kind       Kind
	Code       Code
	Message    string
	Suggestion string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(code Code, msg, suggestion string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg, Suggestion: suggestion}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: msg}
}

func Conflict(code Code, msg string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal error", Err: err}
}

// As extracts *Error from a chain; anything else is reported as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

func HTTPStatus(err error) int {
	e := As(err)
	if e == nil {
		return http.StatusOK
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

package courier

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

type Class string

const (
	ClassRetryable  Class = "retryable"
	ClassPermanent  Class = "permanent"
	ClassValidation Class = "validation"
)

// Error is a classified courier failure.
type Error struct {
	Courier    string
	Class      Class
	Code       string
	Message    string
	HTTPStatus int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("courier %s: %s (%s)", e.Courier, e.Message, e.Class)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func ClassFromHTTP(status int) Class {
	switch {
	case status == http.StatusTooManyRequests, status >= 500:
		return ClassRetryable
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return ClassValidation
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusNotFound:
		return ClassPermanent
	case status >= 400:
		return ClassPermanent
	default:
		return ClassRetryable
	}
}

func HTTPError(courierCode string, status int, body string) *Error {
	code := fmt.Sprintf("HTTP_%d", status)
	if status == http.StatusTooManyRequests {
		code = "RATE_LIMITED"
	}
	return &Error{
		Courier:    courierCode,
		Class:      ClassFromHTTP(status),
		Code:       code,
		Message:    truncate(body, 256),
		HTTPStatus: status,
	}
}

func Transport(courierCode string, err error) *Error {
	code := "NETWORK_ERROR"
	if errors.Is(err, context.DeadlineExceeded) {
		code = "TIMEOUT"
	}
	return &Error{Courier: courierCode, Class: ClassRetryable, Code: code, Message: "request failed", Err: err}
}

func Rejected(courierCode, code, msg string) *Error {
	if code == "" {
		code = "REJECTED"
	}
	return &Error{Courier: courierCode, Class: ClassValidation, Code: code, Message: msg}
}

// Classify returns the class of any error. Unclassified errors (transport, timeouts) are retryable.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassRetryable
}

// CodeOf returns a short machine code for err.
func CodeOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) && ce.Code != "" {
		return ce.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "TIMEOUT"
	}
	return "COURIER_ERROR"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

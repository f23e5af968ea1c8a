package session

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeInvalidTurn     Code = "INVALID_TURN"
	CodeDuplicateShot   Code = "DUPLICATE_SHOT"
	CodeTimeoutExceeded Code = "TIMEOUT_EXCEEDED"
	CodeSettlement      Code = "SETTLEMENT_ERROR"
	CodeNotFound        Code = "NOT_FOUND"
	CodeInternal        Code = "INTERNAL"
)

// Error is returned by every command. It never leaves the session with
// state half applied.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"error"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

var ErrStopped = errors.New("session stopped")

// CodeOf extracts the code of a command error, or INTERNAL for anything else.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

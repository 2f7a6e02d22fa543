// Package apperr defines the typed error taxonomy the room runtime surfaces
// to callers (spec §7). Every sentinel carries a stable Code so the hub can
// map it onto a wire ActionError without a growing switch statement.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a class of error independent of its message text.
type Code string

const (
	CodeNotInRoom                  Code = "NotInRoom"
	CodeNotYourTurn                Code = "NotYourTurn"
	CodeRoomFull                   Code = "RoomFull"
	CodeRoomNotFound                Code = "RoomNotFound"
	CodeUnknownAction               Code = "UnknownAction"
	CodeIllegalMove                  Code = "IllegalMove"
	CodeInsufficientFunds            Code = "InsufficientFunds"
	CodeDuplicateTransaction         Code = "DuplicateTransaction"
	CodeConcurrencyConflict          Code = "ConcurrencyConflict"
	CodeSystemOverloaded             Code = "SystemOverloaded"
	CodeStateCorruptedOrIncompatible Code = "StateCorruptedOrIncompatible"
	CodeLockContention               Code = "LockContention"
	CodeInvalidInput                 Code = "InvalidInput"
)

// Error is a typed application error carrying a stable Code plus a
// human-readable message.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying cause, preserving it for
// errors.Is/As.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the Code from err, defaulting to "" when err is not (or
// does not wrap) an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Retryable reports whether the error taxonomy considers code worth a
// caller-side retry (spec §7: LockContention is transient, the scheduler
// just skips and retries next tick).
func Retryable(code Code) bool {
	switch code {
	case CodeLockContention, CodeSystemOverloaded:
		return true
	default:
		return false
	}
}

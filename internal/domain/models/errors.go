package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a command failure. The kind is part of the response
// text clients see.
type ErrorKind string

const (
	KindNotLoaded      ErrorKind = "NotLoaded"
	KindBadPayload     ErrorKind = "BadPayload"
	KindUnknownCommand ErrorKind = "UnknownCommand"
	KindRuntime        ErrorKind = "RuntimeError"
)

// ErrShapeMismatch marks a BadPayload caused by a tensor shape that does not
// match the model signature.
var ErrShapeMismatch = errors.New("shape mismatch")

// CommandError is a recoverable command failure rendered back to the client.
type CommandError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns underlying error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// WithError wraps an underlying error.
func (e *CommandError) WithError(err error) *CommandError {
	e.Err = err
	return e
}

// NewCommandError creates a command error of the given kind.
func NewCommandError(kind ErrorKind, format string, a ...interface{}) *CommandError {
	return &CommandError{Kind: kind, Message: fmt.Sprintf(format, a...)}
}

// NotLoadedError reports an operation on an empty slot or missing session.
func NotLoadedError(format string, a ...interface{}) *CommandError {
	return NewCommandError(KindNotLoaded, format, a...)
}

// BadPayloadError reports a malformed payload.
func BadPayloadError(format string, a ...interface{}) *CommandError {
	return NewCommandError(KindBadPayload, format, a...)
}

// ShapeMismatchError reports a payload whose shape does not fit the model.
func ShapeMismatchError(format string, a ...interface{}) *CommandError {
	return BadPayloadError(format, a...).WithError(ErrShapeMismatch)
}

// UnknownCommandError reports a command outside the supported set.
func UnknownCommandError(command string) *CommandError {
	return NewCommandError(KindUnknownCommand, "unknown command %q", command)
}

// RuntimeError reports a failure inside the model runtime or its I/O.
func RuntimeError(err error, format string, a ...interface{}) *CommandError {
	return NewCommandError(KindRuntime, format, a...).WithError(err)
}

// KindOf returns the kind of err, or KindRuntime for foreign errors.
func KindOf(err error) ErrorKind {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindRuntime
}

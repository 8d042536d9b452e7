package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError is the expected failure raised when request input breaks
// one or more rules. Its messages are safe to show to end users.
type ValidationError struct {
	Messages []string
}

// ValidationFailed builds a ValidationError from rule messages.
func ValidationFailed(messages ...string) error {
	return &ValidationError{Messages: messages}
}

func (e *ValidationError) Error() string {
	if len(e.Messages) == 0 {
		return "validation failed"
	}
	return "validation failed: " + strings.Join(e.Messages, "; ")
}

// UnhandledError wraps any unexpected failure raised by an inner stage.
type UnhandledError struct {
	Cause error
	Stack string

	// Audited is set once an Error event has been emitted for this failure,
	// so outer boundaries do not emit a second one.
	Audited bool
}

// Unhandled wraps cause with the stack captured where it was raised.
func Unhandled(cause error, stack string) error {
	return &UnhandledError{Cause: cause, Stack: stack}
}

func (e *UnhandledError) Error() string {
	if e.Cause == nil {
		return "unhandled error"
	}
	return e.Cause.Error()
}

func (e *UnhandledError) Unwrap() error {
	return e.Cause
}

// SinkError reports the failure of a single sink.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Sink, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// SinkErrors aggregates the failures of one fan-out. Sinks absent from the
// list completed successfully.
type SinkErrors struct {
	Errors []*SinkError
}

func (e *SinkErrors) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d sinks failed:", len(e.Errors))
	for _, err := range e.Errors {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap exposes every sink failure to errors.Is and errors.As.
func (e *SinkErrors) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, err := range e.Errors {
		errs[i] = err
	}
	return errs
}

// Failed returns the names of the sinks that failed.
func (e *SinkErrors) Failed() []string {
	names := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		names[i] = err.Sink
	}
	return names
}

// RootCause follows the Unwrap chain down to the innermost error.
func RootCause(err error) error {
	for err != nil {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
	return nil
}

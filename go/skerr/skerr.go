// Package skerr provides error wrapping which retains the call stack of the
// point at which the error was first wrapped. Use Wrap/Wrapf at every point
// an error crosses a package boundary and Fmt to create new errors.
package skerr

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// StackTrace identifies a filename (base filename only) and line number.
type StackTrace struct {
	File string
	Line int
}

func (st StackTrace) String() string {
	return fmt.Sprintf("%s:%d", st.File, st.Line)
}

// ErrorWithContext is an error plus the call stack at the point it was
// created or first wrapped, and any context messages added by Wrapf.
type ErrorWithContext struct {
	// Wrapped is the underlying error; never nil.
	Wrapped error
	// CallStack captures the frames at the point Wrapped was wrapped,
	// innermost first.
	CallStack []StackTrace
	// Context contains messages added by Wrapf, outermost first.
	Context []string
}

// Error implements error.
func (e *ErrorWithContext) Error() string {
	var sb strings.Builder
	for _, c := range e.Context {
		sb.WriteString(c)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Wrapped.Error())
	if len(e.CallStack) > 0 {
		frames := make([]string, 0, len(e.CallStack))
		for _, st := range e.CallStack {
			frames = append(frames, st.String())
		}
		sb.WriteString(" At ")
		sb.WriteString(strings.Join(frames, " "))
	}
	return sb.String()
}

// Unwrap supports errors.Is and errors.As.
func (e *ErrorWithContext) Unwrap() error {
	return e.Wrapped
}

// callStack returns the call stack of the caller, skipping the given number
// of frames.
func callStack(skip int) []StackTrace {
	rv := []StackTrace{}
	for i := skip; ; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		split := strings.Split(file, "/")
		rv = append(rv, StackTrace{
			File: split[len(split)-1],
			Line: line,
		})
	}
	return rv
}

// Wrap adds stack trace information to the error. Returns nil when err is
// nil. If err is already wrapped, it is returned unchanged so that the
// original stack is preserved.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var existing *ErrorWithContext
	if errors.As(err, &existing) {
		return err
	}
	return &ErrorWithContext{
		Wrapped:   err,
		CallStack: callStack(2),
	}
}

// Wrapf adds context and stack trace information to the error. Returns nil
// when err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	var existing *ErrorWithContext
	if errors.As(err, &existing) {
		return &ErrorWithContext{
			Wrapped:   existing.Wrapped,
			CallStack: existing.CallStack,
			Context:   append([]string{msg}, existing.Context...),
		}
	}
	return &ErrorWithContext{
		Wrapped:   err,
		CallStack: callStack(2),
		Context:   []string{msg},
	}
}

// Fmt creates a new error with stack trace information, analogous to
// fmt.Errorf.
func Fmt(format string, args ...interface{}) error {
	return &ErrorWithContext{
		Wrapped:   fmt.Errorf(format, args...),
		CallStack: callStack(2),
	}
}

// Unwrap returns the innermost error, removing any context added by this
// package. Returns err itself when it is not wrapped.
func Unwrap(err error) error {
	var wrapped *ErrorWithContext
	if errors.As(err, &wrapped) {
		return wrapped.Wrapped
	}
	return err
}

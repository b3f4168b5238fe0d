package xstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyInput is returned by Parse when the input is empty or whitespace only.
var ErrEmptyInput = errors.New("input string is empty")

// ParseError describes a grammar violation in token-stream text.
// Fragment holds the offending token slice, or is empty when the
// failure concerns the input as a whole.
type ParseError struct {
	Reason   string
	Fragment string
}

func (e *ParseError) Error() string {
	if e.Fragment == "" {
		return "parse error: " + e.Reason
	}
	return fmt.Sprintf("malformed token '%s': %s", e.Fragment, e.Reason)
}

// InvalidNamespaceError is returned by ParseNamespace for paths that break
// the namespace invariants.
type InvalidNamespaceError struct {
	Namespace string
	Reason    string
}

func (e *InvalidNamespaceError) Error() string {
	return fmt.Sprintf("invalid namespace '%s': %s", e.Namespace, e.Reason)
}

// InvalidPatternError is returned when a Pattern selector does not compile.
type InvalidPatternError struct {
	Pattern string
	Err     error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid pattern '%s': %v", e.Pattern, e.Err)
}

func (e *InvalidPatternError) Unwrap() error {
	return e.Err
}

// Error provides rich context about a processing failure inside a composed
// pipeline. Path lists connector and processor names from the outermost
// connector down to the processor that failed.
//
// Example:
//
//	out, err := seq.Process(ctx, input)
//	var streamErr *xstream.Error
//	if errors.As(err, &streamErr) {
//	    log.Printf("failed at %s", strings.Join(streamErr.Path, " -> "))
//	}
type Error struct {
	Timestamp time.Time
	Err       error
	Input     string
	Path      []Name
	Duration  time.Duration
	Timeout   bool
	Canceled  bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	location := strings.Join(e.Path, " -> ")
	if location == "" {
		location = "<unnamed>"
	}

	if e.Timeout {
		return fmt.Sprintf("%s timed out after %v: %v", location, e.Duration, e.Err)
	}
	if e.Canceled {
		return fmt.Sprintf("%s canceled after %v: %v", location, e.Duration, e.Err)
	}
	return fmt.Sprintf("%s failed after %v: %v", location, e.Duration, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether the failure was caused by a deadline.
func (e *Error) IsTimeout() bool {
	return e.Timeout || errors.Is(e.Err, context.DeadlineExceeded)
}

// IsCanceled reports whether the failure was caused by cancellation.
func (e *Error) IsCanceled() bool {
	return e.Canceled || errors.Is(e.Err, context.Canceled)
}

// wrapError prepends name to the path of an existing *Error, or wraps a
// plain error into a new one.
func wrapError(name Name, input string, err error, started, now time.Time) *Error {
	var streamErr *Error
	if errors.As(err, &streamErr) {
		streamErr.Path = append([]Name{name}, streamErr.Path...)
		return streamErr
	}
	return &Error{
		Timestamp: now,
		Input:     input,
		Err:       err,
		Path:      []Name{name},
		Duration:  now.Sub(started),
		Timeout:   errors.Is(err, context.DeadlineExceeded),
		Canceled:  errors.Is(err, context.Canceled),
	}
}

// panicError is the error stored in Error.Err when a processor panics.
type panicError struct {
	name  Name
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic in processor %q: %v", p.name, p.value)
}

// recoverFromPanic converts a panic raised by a processor into an *Error.
// It must be deferred directly by Process implementations.
func recoverFromPanic(result *string, err *error, name Name, input string) {
	if r := recover(); r != nil {
		*result = ""
		*err = &Error{
			Timestamp: time.Now(),
			Input:     input,
			Err:       &panicError{name: name, value: r},
			Path:      []Name{name},
		}
	}
}

// Package errs defines the error taxonomy shared by the split/execute/resume
// protocol. Every fatal error carries one of the sentinel kinds below so
// callers can branch with errors.Is without string matching.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrLoad marks a required snapshot that is missing, unreadable or corrupt.
	ErrLoad = errors.New("load error")
	// ErrValidation marks a structural invariant violation in an assembled value.
	ErrValidation = errors.New("validation error")
	// ErrSchema marks an output envelope missing or mis-shaping a required field.
	ErrSchema = errors.New("schema error")
	// ErrConfig marks invalid configuration, including empty partitioning.
	ErrConfig = errors.New("config error")
)

// Error wraps a sentinel kind with the failing operation and an optional cause.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newf(kind error, op string, cause error, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// Load builds an ErrLoad error for op.
func Load(op string, cause error, format string, args ...any) error {
	return newf(ErrLoad, op, cause, format, args...)
}

// Validation builds an ErrValidation error for op.
func Validation(op string, format string, args ...any) error {
	return newf(ErrValidation, op, nil, format, args...)
}

// Schema builds an ErrSchema error for op.
func Schema(op string, format string, args ...any) error {
	return newf(ErrSchema, op, nil, format, args...)
}

// Config builds an ErrConfig error for op.
func Config(op string, format string, args ...any) error {
	return newf(ErrConfig, op, nil, format, args...)
}

// Kind reports which sentinel kind err carries, or nil.
func Kind(err error) error {
	for _, kind := range []error{ErrLoad, ErrValidation, ErrSchema, ErrConfig} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

package stream

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures.
type Kind int

const (
	// NetworkError: the source failed, disconnected, stalled, or ended early.
	NetworkError Kind = iota + 1
	// ParseError: a line is not valid JSON or lacks required fields.
	ParseError
	// StateError: the message sequence is inconsistent. Reported as a warning.
	StateError
)

func (k Kind) String() string {
	switch k {
	case NetworkError:
		return "network"
	case ParseError:
		return "parse"
	case StateError:
		return "state"
	default:
		return "unknown"
	}
}

// ErrLineTooLong is wrapped by the ParseError returned when a line exceeds
// the decoder's size limit.
var ErrLineTooLong = errors.New("line exceeds maximum size")

// Error is the error type produced by the decoder and the reducer.
type Error struct {
	Kind   Kind
	Detail string
	Line   string // offending line, ParseError only
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String() + " error: " + e.Detail
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the Kind of err, or NetworkError when err carries none.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return NetworkError
}

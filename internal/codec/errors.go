package codec

import (
	"errors"
	"fmt"
)

// Kind classifies codec failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindSourceUnavailable
	KindMalformedStream
	KindInvalidParameter
	KindEngineFailure
	KindCanceled
	KindTruncated
)

// Sentinel errors, one per Kind. Every *Error matches its kind's sentinel with
// errors.Is.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrMalformedStream   = errors.New("malformed stream")
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrEngineFailure     = errors.New("engine failure")
	ErrCanceled          = errors.New("canceled")
	ErrTruncated         = errors.New("truncated result")
)

// ErrIncompleteScan is the engine's complaint when a stream is closed before
// every scanline was transferred.
var ErrIncompleteScan = errors.New("application transferred too few scanlines")

// ErrClosed is returned by session methods called after Close.
var ErrClosed = errors.New("session closed")

func (k Kind) String() string {
	switch k {
	case KindSourceUnavailable:
		return "SourceUnavailable"
	case KindMalformedStream:
		return "MalformedStream"
	case KindInvalidParameter:
		return "InvalidParameter"
	case KindEngineFailure:
		return "EngineFailure"
	case KindCanceled:
		return "Canceled"
	case KindTruncated:
		return "TruncatedResult"
	default:
		return "Unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindSourceUnavailable:
		return ErrSourceUnavailable
	case KindMalformedStream:
		return ErrMalformedStream
	case KindInvalidParameter:
		return ErrInvalidParameter
	case KindEngineFailure:
		return ErrEngineFailure
	case KindCanceled:
		return ErrCanceled
	case KindTruncated:
		return ErrTruncated
	default:
		return nil
	}
}

// Error is a categorized codec error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("codec: %s: %s", e.Op, e.Kind.sentinel())
	}
	return fmt.Sprintf("codec: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Wrap builds an *Error. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error from a format string.
func Errorf(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

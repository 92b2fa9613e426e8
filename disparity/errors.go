package disparity

import (
	"fmt"

	"github.com/pkg/errors"
)

// Class is the broad category of a pipeline failure. Callers branch on it to decide whether a
// session can continue.
type Class int

const (
	// ClassConfig is an invalid invocation: bad backend name, missing model path, bad params,
	// mismatched dimensions. Fatal to the session, detected at setup.
	ClassConfig Class = iota + 1
	// ClassResource is a failure to acquire a file, native session or accelerator.
	ClassResource
	// ClassFrame is a single recoverable per-frame failure.
	ClassFrame
)

func (c Class) String() string {
	switch c {
	case ClassConfig:
		return "config"
	case ClassResource:
		return "resource"
	case ClassFrame:
		return "frame"
	default:
		return "unknown"
	}
}

var (
	// ErrUnknownBackend is returned for an unrecognized backend selection string.
	ErrUnknownBackend = errors.New("unknown disparity backend")
	// ErrMissingModelPath is returned when a neural backend is requested without a model.
	ErrMissingModelPath = errors.New("neural backend requires a model path")
	// ErrInvalidParams is returned for out-of-range backend parameters.
	ErrInvalidParams = errors.New("invalid backend parameters")
	// ErrDimensionMismatch is returned when buffers or tables do not match the frame size.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrNotSupported is returned for an operation the backend kind does not offer.
	ErrNotSupported = errors.New("operation not supported by backend")
	// ErrClosed is returned for any call on a backend after Close.
	ErrClosed = errors.New("backend is closed")
)

// Error is a classified pipeline error.
type Error struct {
	Class Class
	Op    string
	Err   error
}

// NewError wraps err with a class and the operation that failed.
func NewError(class Class, op string, err error) *Error {
	return &Error{Class: class, Op: op, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ClassOf returns the class of the outermost classified error in err's chain, or 0.
func ClassOf(err error) Class {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Class
	}
	return 0
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool { return ClassOf(err) == ClassConfig }

// IsResource reports whether err is a resource error.
func IsResource(err error) bool { return ClassOf(err) == ClassResource }

// IsFrame reports whether err is a recoverable per-frame error.
func IsFrame(err error) bool { return ClassOf(err) == ClassFrame }

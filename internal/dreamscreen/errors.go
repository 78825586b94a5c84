package dreamscreen

import (
	"errors"
	"fmt"
)

// Frame-level decode errors. A *FrameError matches exactly one of these via errors.Is.
var (
	ErrTooShort       = errors.New("dreamscreen: frame too short")
	ErrNotAFrame      = errors.New("dreamscreen: bad start marker")
	ErrLengthMismatch = errors.New("dreamscreen: length mismatch")
	ErrBadChecksum    = errors.New("dreamscreen: bad checksum")
)

var (
	// ErrPayloadTooLarge is returned by Encode when the payload cannot be
	// described by the one-byte length field.
	ErrPayloadTooLarge = errors.New("dreamscreen: payload too large")

	// ErrUnrecognizedMessage is returned by Classify for a valid frame whose
	// command pair (and product id) no known variant claims.
	ErrUnrecognizedMessage = errors.New("dreamscreen: unrecognized message")
)

// FrameError describes why a byte buffer was rejected by Decode.
type FrameError struct {
	Kind   error // one of ErrTooShort, ErrNotAFrame, ErrLengthMismatch, ErrBadChecksum
	Detail string
}

func (e *FrameError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Detail
}

func (e *FrameError) Unwrap() error { return e.Kind }

func frameErr(kind error, format string, args ...any) *FrameError {
	return &FrameError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

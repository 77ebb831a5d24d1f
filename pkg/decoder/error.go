package decoder

import (
	"errors"
	"fmt"
)

var (
	ErrChecksum = errors.New("checksum mismatch")
	ErrLength   = errors.New("invalid data length")
	ErrType     = errors.New("invalid type byte")

	ErrInvalidLayout = errors.New("invalid frame layout")
)

// FramingError describes a rejected candidate frame. The decoder recovers
// from it locally; it only reaches callers through the OnFramingError hook.
type FramingError struct {
	Err   error
	Value byte
	Want  byte
	// Offset is the stream position of the rejected marker
	Offset uint64
}

func (e *FramingError) Error() string {
	if errors.Is(e.Err, ErrChecksum) {
		return fmt.Sprintf("framing error at %d: %v (got 0x%02X want 0x%02X)", e.Offset, e.Err, e.Value, e.Want)
	}
	return fmt.Sprintf("framing error at %d: %v (0x%02X)", e.Offset, e.Err, e.Value)
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

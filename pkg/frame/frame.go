package frame

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
)

const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
	MaxDataLength = 8
)

var (
	ErrInvalidID     = errors.New("identifier out of range")
	ErrInvalidLength = errors.New("data length exceeds 8 bytes")
	ErrRemoteData    = errors.New("remote frame carries data")
)

type CANFrame struct {
	Identifier uint32
	Extended   bool
	RTR        bool
	Data       []byte
	// Timestamp is assigned by the decoder when the frame completes
	Timestamp time.Time
}

// NewFrame creates a new standard CANFrame and copies the data slice
func NewFrame(identifier uint32, data []byte) *CANFrame {
	d := make([]byte, len(data))
	copy(d, data)
	return &CANFrame{
		Identifier: identifier,
		Data:       d,
	}
}

// NewExtendedFrame creates a new 29-bit CANFrame and copies the data slice
func NewExtendedFrame(identifier uint32, data []byte) *CANFrame {
	f := NewFrame(identifier, data)
	f.Extended = true
	return f
}

func NewRemoteFrame(identifier uint32, extended bool) *CANFrame {
	return &CANFrame{
		Identifier: identifier,
		Extended:   extended,
		RTR:        true,
	}
}

// Returns the length of the data (DLC)
func (f *CANFrame) DLC() int {
	return len(f.Data)
}

func (f *CANFrame) Validate() error {
	limit := uint32(MaxStandardID)
	if f.Extended {
		limit = MaxExtendedID
	}
	if f.Identifier > limit {
		return fmt.Errorf("%w: 0x%X", ErrInvalidID, f.Identifier)
	}
	if len(f.Data) > MaxDataLength {
		return fmt.Errorf("%w: %d", ErrInvalidLength, len(f.Data))
	}
	if f.RTR && len(f.Data) > 0 {
		return ErrRemoteData
	}
	return nil
}

// IDString formats the identifier the way the monitor tables show it
func (f *CANFrame) IDString() string {
	if f.Extended {
		return fmt.Sprintf("0x%08X", f.Identifier)
	}
	return fmt.Sprintf("0x%03X", f.Identifier)
}

func (f *CANFrame) HexString() string {
	var out strings.Builder
	for i, b := range f.Data {
		out.WriteString(fmt.Sprintf("%02X", b))
		if i != len(f.Data)-1 {
			out.WriteString(" ")
		}
	}
	return out.String()
}

func (f *CANFrame) DecString() string {
	var out strings.Builder
	for i, b := range f.Data {
		out.WriteString(fmt.Sprintf("%3d", b))
		if i != len(f.Data)-1 {
			out.WriteString(" ")
		}
	}
	return out.String()
}

func (f *CANFrame) binString() string {
	var out strings.Builder
	for i, b := range f.Data {
		out.WriteString(fmt.Sprintf("%08b", b))
		if i != len(f.Data)-1 {
			out.WriteString(" ")
		}
	}
	return out.String()
}

func (f *CANFrame) flags() string {
	switch {
	case f.RTR && f.Extended:
		return "<xr>"
	case f.RTR:
		return "<r> "
	case f.Extended:
		return "<x> "
	}
	return "    "
}

var (
	yellow = color.New(color.FgHiBlue).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
)

func (f *CANFrame) String() string {
	var out strings.Builder
	out.WriteString(f.flags() + " || ")
	out.WriteString(fmt.Sprintf("%-10s", f.IDString()) + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")
	out.WriteString(fmt.Sprintf("%-23s", f.HexString()))
	out.WriteString(" || ")
	out.WriteString(fmt.Sprintf("%-71s", f.binString()))
	out.WriteString(" || ")
	out.WriteString(onlyPrintable(f.Data))
	return out.String()
}

func (f *CANFrame) ColorString() string {
	var out strings.Builder
	out.WriteString(f.flags() + " || ")
	out.WriteString(green("%-10s", f.IDString()) + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")
	out.WriteString(fmt.Sprintf("%-23s", f.HexString()))
	out.WriteString(" || ")
	out.WriteString(red("%-71s", f.binString()))
	out.WriteString(" || ")
	out.WriteString(yellow(onlyPrintable(f.Data)))
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 126 {
			out.WriteString(".")
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}

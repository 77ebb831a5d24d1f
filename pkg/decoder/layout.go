package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/roffe/canmon/pkg/frame"
)

// Offsets within a wire frame
const (
	offMarker = 0
	offType   = 1
	offID     = 2
	offDLC    = 6
	offData   = 7
	dataWidth = frame.MaxDataLength
)

// Layout describes the fixed-length framing spoken by the adapter.
//
//	marker | type | id (4 bytes LE) | dlc | data (8 bytes, zero padded) | checksum
//
// The checksum is the sum modulo 256 of every frame byte from ChecksumFrom up
// to, but not including, the checksum itself.
type Layout struct {
	Marker       byte
	TypeMask     byte
	TypeTag      byte
	ExtendedBit  byte
	RemoteBit    byte
	ChecksumFrom int
	// MaxCarry bounds the memory kept between Feed calls. Scanning is eager
	// so at most FrameLen()-1 bytes are ever carried, noise included.
	MaxCarry int
}

// DefaultLayout follows the usual canusb.c framing
func DefaultLayout() Layout {
	return Layout{
		Marker:       0xAA,
		TypeMask:     0xC0,
		TypeTag:      0xC0,
		ExtendedBit:  0x20,
		RemoteBit:    0x10,
		ChecksumFrom: 0,
		MaxCarry:     4096,
	}
}

func (l Layout) FrameLen() int {
	return offData + dataWidth + 1
}

func (l Layout) carryCap() int {
	return min(l.FrameLen()*4, l.MaxCarry)
}

func (l Layout) Validate() error {
	if err := l.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	return nil
}

func (l Layout) validate() error {
	if l.ExtendedBit == 0 || l.RemoteBit == 0 {
		return errors.New("extended and remote bits must be set")
	}
	if l.ExtendedBit&l.RemoteBit != 0 {
		return fmt.Errorf("extended bit 0x%02X overlaps remote bit 0x%02X", l.ExtendedBit, l.RemoteBit)
	}
	if l.TypeTag&^l.TypeMask != 0 {
		return fmt.Errorf("type tag 0x%02X outside type mask 0x%02X", l.TypeTag, l.TypeMask)
	}
	if (l.ExtendedBit|l.RemoteBit)&l.TypeMask != 0 {
		return fmt.Errorf("flag bits overlap type mask 0x%02X", l.TypeMask)
	}
	if l.ChecksumFrom < 0 || l.ChecksumFrom >= l.FrameLen()-1 {
		return fmt.Errorf("checksum start %d outside frame", l.ChecksumFrom)
	}
	if l.MaxCarry < l.FrameLen() {
		return fmt.Errorf("max carry %d smaller than frame length %d", l.MaxCarry, l.FrameLen())
	}
	return nil
}

func (l Layout) checksum(b []byte) byte {
	var sum byte
	for _, v := range b[l.ChecksumFrom : l.FrameLen()-1] {
		sum += v
	}
	return sum
}

// Encode renders f as wire bytes
func (l Layout) Encode(f *frame.CANFrame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	b := make([]byte, l.FrameLen())
	b[offMarker] = l.Marker
	b[offType] = l.TypeTag
	if f.Extended {
		b[offType] |= l.ExtendedBit
	}
	if f.RTR {
		b[offType] |= l.RemoteBit
	}
	binary.LittleEndian.PutUint32(b[offID:], f.Identifier)
	b[offDLC] = byte(len(f.Data))
	copy(b[offData:], f.Data)
	b[len(b)-1] = l.checksum(b)
	return b, nil
}

// parse validates one candidate frame, b must be exactly FrameLen bytes
func (l Layout) parse(b []byte) (*frame.CANFrame, error) {
	typ := b[offType]
	if typ&l.TypeMask != l.TypeTag {
		return nil, &FramingError{Err: ErrType, Value: typ}
	}
	dlc := b[offDLC]
	if dlc > dataWidth {
		return nil, &FramingError{Err: ErrLength, Value: dlc}
	}
	if sum := l.checksum(b); sum != b[len(b)-1] {
		return nil, &FramingError{Err: ErrChecksum, Value: b[len(b)-1], Want: sum}
	}

	f := &frame.CANFrame{
		Extended: typ&l.ExtendedBit != 0,
		RTR:      typ&l.RemoteBit != 0,
	}
	id := binary.LittleEndian.Uint32(b[offID:])
	if f.Extended {
		f.Identifier = id & frame.MaxExtendedID
	} else {
		f.Identifier = id & frame.MaxStandardID
	}
	if !f.RTR {
		f.Data = make([]byte, dlc)
		copy(f.Data, b[offData:offData+int(dlc)])
	}
	return f, nil
}

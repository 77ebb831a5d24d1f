package filter

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/roffe/canmon/pkg/frame"
)

type Kind int

const (
	KindID Kind = iota
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindID:
		return "id"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "id":
		return KindID, nil
	case "data":
		return KindData, nil
	}
	return 0, fmt.Errorf("unknown target kind %q", s)
}

// Target is implemented by IDMatch and DataPattern only.
type Target interface {
	Kind() Kind
	Match(f *frame.CANFrame) bool
	String() string
	isTarget()
}

const AllOnes = ^uint32(0)

type IDMatch struct {
	Value uint32
	Mask  uint32
}

// NewIDMatch builds an exact identifier match
func NewIDMatch(value uint32) (IDMatch, error) {
	return NewIDMatchMask(value, AllOnes)
}

// NewIDMatchMask compares only the identifier bits set in mask
func NewIDMatchMask(value, mask uint32) (IDMatch, error) {
	if value > frame.MaxExtendedID {
		return IDMatch{}, fmt.Errorf("identifier 0x%X exceeds 29 bits", value)
	}
	return IDMatch{Value: value, Mask: mask}, nil
}

func (IDMatch) Kind() Kind { return KindID }

func (m IDMatch) Match(f *frame.CANFrame) bool {
	return f.Identifier&m.Mask == m.Value&m.Mask
}

func (m IDMatch) String() string {
	if m.Mask == AllOnes {
		return fmt.Sprintf("id 0x%03X", m.Value)
	}
	return fmt.Sprintf("id 0x%03X/0x%X", m.Value, m.Mask)
}

func (IDMatch) isTarget() {}

type DataPattern struct {
	Bytes []byte
	Mask  []byte
}

var errEmptyPattern = errors.New("empty data pattern")

// NewDataPattern copies pattern and mask. A nil mask compares every bit.
func NewDataPattern(pattern, mask []byte) (DataPattern, error) {
	if len(pattern) == 0 {
		return DataPattern{}, errEmptyPattern
	}
	if len(pattern) > frame.MaxDataLength {
		return DataPattern{}, fmt.Errorf("data pattern of %d bytes exceeds 8", len(pattern))
	}
	if mask == nil {
		mask = bytes.Repeat([]byte{0xFF}, len(pattern))
	}
	if len(mask) != len(pattern) {
		return DataPattern{}, fmt.Errorf("mask length %d does not match pattern length %d", len(mask), len(pattern))
	}
	p := DataPattern{
		Bytes: make([]byte, len(pattern)),
		Mask:  make([]byte, len(mask)),
	}
	copy(p.Bytes, pattern)
	copy(p.Mask, mask)
	return p, nil
}

func (DataPattern) Kind() Kind { return KindData }

// Match requires the frame to carry at least len(Bytes) data bytes, wildcard
// positions included.
func (p DataPattern) Match(f *frame.CANFrame) bool {
	if len(f.Data) < len(p.Bytes) {
		return false
	}
	for i, b := range p.Bytes {
		if f.Data[i]&p.Mask[i] != b&p.Mask[i] {
			return false
		}
	}
	return true
}

func (p DataPattern) String() string {
	var out strings.Builder
	out.WriteString("data")
	for i, b := range p.Bytes {
		out.WriteByte(' ')
		out.WriteString(patternByte(b, p.Mask[i]))
	}
	return out.String()
}

func (DataPattern) isTarget() {}

// patternByte renders one byte with ? for wildcard nibbles, or a full
// value/mask pair when the mask is not nibble aligned.
func patternByte(b, mask byte) string {
	const digits = "0123456789ABCDEF"
	nibble := func(v, m byte) (byte, bool) {
		switch m {
		case 0x0F:
			return digits[v&0x0F], true
		case 0x00:
			return '?', true
		}
		return 0, false
	}
	hi, okHi := nibble(b>>4, mask>>4)
	lo, okLo := nibble(b, mask&0x0F)
	if okHi && okLo {
		return string([]byte{hi, lo})
	}
	return fmt.Sprintf("%02X&%02X", b&mask, mask)
}

func parsePatternByte(s string) (byte, byte, error) {
	if v, m, ok := strings.Cut(s, "&"); ok {
		vb, err := hex.DecodeString(v)
		if err != nil || len(vb) != 1 {
			return 0, 0, fmt.Errorf("invalid pattern byte %q", s)
		}
		mb, err := hex.DecodeString(m)
		if err != nil || len(mb) != 1 {
			return 0, 0, fmt.Errorf("invalid pattern mask %q", s)
		}
		return vb[0], mb[0], nil
	}
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	if s == "*" {
		return 0, 0, nil
	}
	if len(s) == 1 {
		s = "0" + s
	}
	if len(s) != 2 {
		return 0, 0, fmt.Errorf("invalid pattern byte %q", s)
	}
	var value, mask byte
	for _, c := range []byte(s) {
		value <<= 4
		mask <<= 4
		switch {
		case c == '?':
		case c >= '0' && c <= '9':
			value |= c - '0'
			mask |= 0x0F
		case c >= 'a' && c <= 'f':
			value |= c - 'a' + 10
			mask |= 0x0F
		default:
			return 0, 0, fmt.Errorf("invalid pattern byte %q", s)
		}
	}
	return value, mask, nil
}

// ParseDataPattern accepts space or comma separated bytes such as
// "FF ?? 1? 0x02 *" or "10&F0".
func ParseDataPattern(s string) (DataPattern, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' || r == '\t' })
	if len(fields) == 1 && len(fields[0]) > 2 && !strings.ContainsAny(fields[0], "&*") && !strings.HasPrefix(strings.ToLower(fields[0]), "0x") {
		// compact form "FF??00"
		compact := fields[0]
		if len(compact)%2 != 0 {
			return DataPattern{}, fmt.Errorf("odd length data pattern %q", s)
		}
		fields = fields[:0]
		for i := 0; i < len(compact); i += 2 {
			fields = append(fields, compact[i:i+2])
		}
	}
	if len(fields) == 0 {
		return DataPattern{}, errEmptyPattern
	}
	pattern := make([]byte, 0, len(fields))
	mask := make([]byte, 0, len(fields))
	for _, f := range fields {
		v, m, err := parsePatternByte(f)
		if err != nil {
			return DataPattern{}, err
		}
		pattern = append(pattern, v)
		mask = append(mask, m)
	}
	return NewDataPattern(pattern, mask)
}

func equalTargets(a, b Target) bool {
	switch at := a.(type) {
	case IDMatch:
		bt, ok := b.(IDMatch)
		return ok && at.Mask == bt.Mask && at.Value&at.Mask == bt.Value&bt.Mask
	case DataPattern:
		bt, ok := b.(DataPattern)
		if !ok || len(at.Bytes) != len(bt.Bytes) || !bytes.Equal(at.Mask, bt.Mask) {
			return false
		}
		for i := range at.Bytes {
			if at.Bytes[i]&at.Mask[i] != bt.Bytes[i]&bt.Mask[i] {
				return false
			}
		}
		return true
	}
	return false
}

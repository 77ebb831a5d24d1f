// Package decoder reassembles CAN frames from the adapter byte stream.
package decoder

import (
	"bytes"
	"errors"
	"time"

	"github.com/roffe/canmon/pkg/frame"
)

type Opt func(d *Decoder)

// OptClock replaces the capture clock, mostly for tests
func OptClock(now func() time.Time) Opt {
	return func(d *Decoder) {
		d.now = now
	}
}

// OptOnFramingError is called for every rejected candidate frame
func OptOnFramingError(fn func(*FramingError)) Opt {
	return func(d *Decoder) {
		d.onError = fn
	}
}

// Decoder is not safe for concurrent Feed calls, Stats may be read from any goroutine.
type Decoder struct {
	layout  Layout
	buf     []byte
	pos     uint64 // stream offset of buf[0]
	now     func() time.Time
	onError func(*FramingError)
	stats   counters
}

func New(layout Layout, opts ...Opt) (*Decoder, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	d := &Decoder{
		layout: layout,
		buf:    make([]byte, 0, layout.carryCap()),
		now:    time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

func (d *Decoder) Layout() Layout {
	return d.layout
}

// Feed appends p to the carry-over buffer and returns every complete frame
// it can extract. Trailing bytes of an incomplete frame stay buffered.
func (d *Decoder) Feed(p []byte) []*frame.CANFrame {
	d.buf = append(d.buf, p...)

	var out []*frame.CANFrame
	frameLen := d.layout.FrameLen()
	i := 0
	for i < len(d.buf) {
		j := bytes.IndexByte(d.buf[i:], d.layout.Marker)
		if j < 0 {
			d.stats.discarded.Add(uint64(len(d.buf) - i))
			i = len(d.buf)
			break
		}
		if j > 0 {
			d.stats.discarded.Add(uint64(j))
			i += j
		}
		if len(d.buf)-i < frameLen {
			break
		}
		f, err := d.layout.parse(d.buf[i : i+frameLen])
		if err != nil {
			d.reject(err, d.pos+uint64(i))
			// drop the marker only, a valid frame may start inside the candidate
			i++
			continue
		}
		f.Timestamp = d.now()
		d.stats.frames.Add(1)
		out = append(out, f)
		i += frameLen
	}
	d.consume(i)

	// less than a frame is left, but a large chunk may have grown the
	// backing array past the bound
	if cap(d.buf) > d.layout.MaxCarry {
		d.buf = append(make([]byte, 0, d.layout.carryCap()), d.buf...)
	}
	return out
}

func (d *Decoder) consume(n int) {
	if n == 0 {
		return
	}
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
	d.pos += uint64(n)
}

func (d *Decoder) reject(err error, offset uint64) {
	var fe *FramingError
	if !errors.As(err, &fe) {
		return
	}
	fe.Offset = offset
	switch {
	case errors.Is(fe, ErrChecksum):
		d.stats.checksum.Add(1)
	case errors.Is(fe, ErrLength):
		d.stats.length.Add(1)
	case errors.Is(fe, ErrType):
		d.stats.typ.Add(1)
	}
	if d.onError != nil {
		d.onError(fe)
	}
}

// Buffered returns the number of carried over bytes
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset drops the carry-over buffer, counters are kept. Used when the
// adapter is reconfigured mid stream.
func (d *Decoder) Reset() {
	d.pos += uint64(len(d.buf))
	d.buf = d.buf[:0]
}

func (d *Decoder) Stats() Stats {
	return d.stats.snapshot()
}

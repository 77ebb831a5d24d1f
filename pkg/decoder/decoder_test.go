package decoder

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/roffe/canmon/pkg/frame"
)

var epoch = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func fixedClock() time.Time { return epoch }

func newTestDecoder(t *testing.T, opts ...Opt) *Decoder {
	t.Helper()
	d, err := New(DefaultLayout(), append([]Opt{OptClock(fixedClock)}, opts...)...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return d
}

func mustEncode(t *testing.T, frames ...*frame.CANFrame) []byte {
	t.Helper()
	var out []byte
	for _, f := range frames {
		b, err := DefaultLayout().Encode(f)
		if err != nil {
			t.Fatalf("Encode(%v) error: %v", f, err)
		}
		out = append(out, b...)
	}
	return out
}

func sampleFrames() []*frame.CANFrame {
	return []*frame.CANFrame{
		frame.NewFrame(0x123, []byte{1, 2, 3, 4, 5, 6, 7, 8}),
		frame.NewFrame(0x7FF, nil),
		frame.NewExtendedFrame(0x18DAF110, []byte{0x02, 0x10, 0x03}),
		frame.NewRemoteFrame(0x321, false),
		frame.NewFrame(0x000, []byte{0xAA, 0xAA, 0xAA}),
		frame.NewRemoteFrame(0x1FFFFFFF, true),
		frame.NewFrame(0x5C0, []byte{0xAA, 0xC0, 0x55}),
	}
}

func assertFrames(t *testing.T, got, want []*frame.CANFrame) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.Identifier != w.Identifier || g.Extended != w.Extended || g.RTR != w.RTR || !bytes.Equal(g.Data, w.Data) {
			t.Errorf("frame %d = %+v, want %+v", i, g, w)
		}
		if !g.Timestamp.Equal(epoch) {
			t.Errorf("frame %d timestamp = %v, want %v", i, g.Timestamp, epoch)
		}
	}
}

func feedChunks(d *Decoder, stream []byte, sizes func() int) []*frame.CANFrame {
	var out []*frame.CANFrame
	for len(stream) > 0 {
		n := sizes()
		if n > len(stream) {
			n = len(stream)
		}
		out = append(out, d.Feed(stream[:n])...)
		stream = stream[n:]
	}
	return out
}

func TestDecoder_Chunking(t *testing.T) {
	want := sampleFrames()
	stream := mustEncode(t, want...)
	rnd := rand.New(rand.NewSource(42))

	tests := []struct {
		name  string
		sizes func() int
	}{
		{"whole", func() int { return len(stream) }},
		{"one byte", func() int { return 1 }},
		{"frame sized", func() int { return 16 }},
		{"odd", func() int { return 7 }},
		{"random", func() int { return 1 + rnd.Intn(40) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDecoder(t)
			got := feedChunks(d, stream, tt.sizes)
			assertFrames(t, got, want)
			st := d.Stats()
			if st.Frames != uint64(len(want)) || st.Dropped() != 0 || st.DiscardedBytes != 0 {
				t.Errorf("unexpected stats: %s", st)
			}
			if d.Buffered() != 0 {
				t.Errorf("Buffered() = %d, want 0", d.Buffered())
			}
		})
	}
}

func TestDecoder_PartialFrameWaits(t *testing.T) {
	d := newTestDecoder(t)
	b := mustEncode(t, frame.NewFrame(0x100, []byte{1}))
	if got := d.Feed(b[:10]); len(got) != 0 {
		t.Fatalf("partial feed produced %d frames", len(got))
	}
	if d.Buffered() != 10 {
		t.Fatalf("Buffered() = %d, want 10", d.Buffered())
	}
	got := d.Feed(b[10:])
	assertFrames(t, got, []*frame.CANFrame{frame.NewFrame(0x100, []byte{1})})
}

func TestDecoder_CorruptedFrameDoesNotHideNext(t *testing.T) {
	a := frame.NewFrame(0x100, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	b := frame.NewFrame(0x200, []byte{9, 10})
	stream := mustEncode(t, a, b)
	stream[8] ^= 0xFF

	var hooked []*FramingError
	d := newTestDecoder(t, OptOnFramingError(func(fe *FramingError) { hooked = append(hooked, fe) }))
	got := d.Feed(stream)
	assertFrames(t, got, []*frame.CANFrame{b})

	st := d.Stats()
	if st.ChecksumErrors != 1 || st.Dropped() != 1 {
		t.Errorf("unexpected stats: %s", st)
	}
	if st.DiscardedBytes != 15 {
		t.Errorf("DiscardedBytes = %d, want 15", st.DiscardedBytes)
	}
	if len(hooked) != 1 || !errors.Is(hooked[0], ErrChecksum) || hooked[0].Offset != 0 {
		t.Errorf("unexpected framing errors: %v", hooked)
	}
}

func TestDecoder_FrameStartingInsideRejectedCandidate(t *testing.T) {
	// a lone marker followed directly by a valid frame
	valid := frame.NewFrame(0x42, []byte{0xDE, 0xAD})
	stream := append([]byte{0xAA}, mustEncode(t, valid)...)

	d := newTestDecoder(t)
	got := d.Feed(stream)
	assertFrames(t, got, []*frame.CANFrame{valid})
	if st := d.Stats(); st.TypeErrors != 1 {
		t.Errorf("TypeErrors = %d, want 1 (%s)", st.TypeErrors, st)
	}
}

func TestDecoder_Resync(t *testing.T) {
	want := sampleFrames()[:3]
	noise := []byte{0x00, 0x13, 0x37, 0xFF, 0x55}
	stream := append(append([]byte{}, noise...), mustEncode(t, want...)...)

	d := newTestDecoder(t)
	got := d.Feed(stream)
	assertFrames(t, got, want)
	if st := d.Stats(); st.DiscardedBytes != uint64(len(noise)) {
		t.Errorf("DiscardedBytes = %d, want %d", st.DiscardedBytes, len(noise))
	}
}

func TestDecoder_InvalidLength(t *testing.T) {
	b := mustEncode(t, frame.NewFrame(0x100, []byte{1}))
	b[offDLC] = 9
	b[len(b)-1] = DefaultLayout().checksum(b)

	d := newTestDecoder(t)
	if got := d.Feed(b); len(got) != 0 {
		t.Fatalf("got %d frames from invalid dlc", len(got))
	}
	if st := d.Stats(); st.LengthErrors != 1 {
		t.Errorf("LengthErrors = %d, want 1", st.LengthErrors)
	}
}

func TestDecoder_MasksIdentifier(t *testing.T) {
	l := DefaultLayout()
	b := mustEncode(t, frame.NewFrame(0x123, nil))
	// garbage in the unused identifier bits
	b[offID+1] |= 0xF8
	b[offID+3] = 0xFF
	b[len(b)-1] = l.checksum(b)

	d := newTestDecoder(t)
	got := d.Feed(b)
	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
	if got[0].Identifier != 0x123 {
		t.Errorf("Identifier = 0x%X, want 0x123", got[0].Identifier)
	}
}

func TestDecoder_NoiseOnly(t *testing.T) {
	d := newTestDecoder(t)
	noise := bytes.Repeat([]byte{0x01, 0x02, 0x03}, 1000)
	if got := d.Feed(noise); len(got) != 0 {
		t.Fatalf("got %d frames from noise", len(got))
	}
	if d.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", d.Buffered())
	}
	if st := d.Stats(); st.DiscardedBytes != uint64(len(noise)) {
		t.Errorf("DiscardedBytes = %d", st.DiscardedBytes)
	}
}

func TestDecoder_CarryBound(t *testing.T) {
	layout := DefaultLayout()
	layout.MaxCarry = layout.FrameLen()
	d, err := New(layout)
	if err != nil {
		t.Fatal(err)
	}
	var in []byte
	for i := 0; i < 64; i++ {
		in = append(in, mustEncode(t, frame.NewFrame(uint32(i), []byte{byte(i)}))...)
	}
	in = append(in, 0x00, 0xAA, 0xC0)
	in = append(in, bytes.Repeat([]byte{0x01}, 4096)...)

	if got := d.Feed(in); len(got) != 64 {
		t.Fatalf("got %d frames, want 64", len(got))
	}
	if d.Buffered() >= layout.FrameLen() {
		t.Errorf("Buffered() = %d, want < %d", d.Buffered(), layout.FrameLen())
	}
	if cap(d.buf) > layout.MaxCarry {
		t.Errorf("carry capacity = %d, want <= %d", cap(d.buf), layout.MaxCarry)
	}

	tail := mustEncode(t, frame.NewFrame(0x7FF, []byte{1, 2}))
	d.Feed(tail[:7])
	got := d.Feed(tail[7:])
	if len(got) != 1 || got[0].Identifier != 0x7FF {
		t.Fatalf("frame after trim = %v", got)
	}
	if cap(d.buf) > layout.MaxCarry {
		t.Errorf("carry capacity = %d after tail", cap(d.buf))
	}
}

func TestDecoder_Reset(t *testing.T) {
	d := newTestDecoder(t)
	b := mustEncode(t, frame.NewFrame(0x100, []byte{1}))
	d.Feed(b[:5])
	d.Reset()
	if got := d.Feed(b[5:]); len(got) != 0 {
		t.Fatalf("frame decoded across Reset")
	}
}

func TestLayout_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(l *Layout)
		wantErr bool
	}{
		{"default", func(l *Layout) {}, false},
		{"small carry", func(l *Layout) { l.MaxCarry = 10 }, true},
		{"overlapping flags", func(l *Layout) { l.RemoteBit = l.ExtendedBit }, true},
		{"tag outside mask", func(l *Layout) { l.TypeTag = 0x01 }, true},
		{"flag inside mask", func(l *Layout) { l.ExtendedBit = 0x40 }, true},
		{"checksum start", func(l *Layout) { l.ChecksumFrom = 15 }, true},
		{"checksum after marker", func(l *Layout) { l.ChecksumFrom = 1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := DefaultLayout()
			tt.modify(&l)
			err := l.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidLayout) {
				t.Errorf("Validate() error = %v, want ErrInvalidLayout", err)
			}
		})
	}
}

func TestDecoder_CustomLayout(t *testing.T) {
	l := DefaultLayout()
	l.Marker = 0x7E
	l.ChecksumFrom = 1
	d, err := New(l, OptClock(fixedClock))
	if err != nil {
		t.Fatal(err)
	}
	want := frame.NewFrame(0x10, []byte{0xAA})
	b, err := l.Encode(want)
	if err != nil {
		t.Fatal(err)
	}
	assertFrames(t, d.Feed(b), []*frame.CANFrame{want})
}

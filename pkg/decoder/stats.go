package decoder

import (
	"fmt"
	"sync/atomic"
)

type Stats struct {
	Frames         uint64
	ChecksumErrors uint64
	LengthErrors   uint64
	TypeErrors     uint64
	DiscardedBytes uint64
}

// Dropped returns the number of rejected candidate frames
func (st Stats) Dropped() uint64 {
	return st.ChecksumErrors + st.LengthErrors + st.TypeErrors
}

func (st Stats) String() string {
	return fmt.Sprintf("frames: %d dropped: %d (checksum: %d length: %d type: %d) discarded bytes: %d",
		st.Frames, st.Dropped(), st.ChecksumErrors, st.LengthErrors, st.TypeErrors, st.DiscardedBytes)
}

type counters struct {
	frames, checksum, length, typ, discarded atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Frames:         c.frames.Load(),
		ChecksumErrors: c.checksum.Load(),
		LengthErrors:   c.length.Load(),
		TypeErrors:     c.typ.Load(),
		DiscardedBytes: c.discarded.Load(),
	}
}

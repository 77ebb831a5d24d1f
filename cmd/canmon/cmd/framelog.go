package cmd

import (
	"github.com/roffe/canmon/pkg/filter"
	"github.com/roffe/canmon/pkg/frame"
)

// frameLog keeps the most recent frames received by the monitor so the
// frame view can be rebuilt when the rules change
type frameLog struct {
	max     int
	frames  []*frame.CANFrame
	total   uint64
	visible uint64
}

func newFrameLog(limit int) *frameLog {
	return &frameLog{max: limit}
}

// add appends f and reports whether old frames were dropped to stay under
// the cap. Frames are dropped in blocks of a tenth of the cap.
func (l *frameLog) add(f *frame.CANFrame, visible bool) bool {
	l.total++
	if visible {
		l.visible++
	}
	l.frames = append(l.frames, f)
	if l.max <= 0 || len(l.frames) <= l.max {
		return false
	}
	drop := len(l.frames) - l.max + l.max/10
	if drop > len(l.frames) {
		drop = len(l.frames)
	}
	n := copy(l.frames, l.frames[drop:])
	for i := n; i < len(l.frames); i++ {
		l.frames[i] = nil
	}
	l.frames = l.frames[:n]
	return true
}

// visibleFrames evaluates every kept frame against the current rules
func (l *frameLog) visibleFrames(eng *filter.Engine) []*frame.CANFrame {
	out := make([]*frame.CANFrame, 0, len(l.frames))
	for _, f := range l.frames {
		if eng.Evaluate(f) {
			out = append(out, f)
		}
	}
	return out
}

func (l *frameLog) len() int {
	return len(l.frames)
}

func (l *frameLog) clear() {
	l.frames = nil
}

// Package canmon wires a byte source, the frame decoder and the filter
// engine into one pipeline that emits (frame, visible) pairs.
package canmon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/roffe/canmon/pkg/decoder"
	"github.com/roffe/canmon/pkg/filter"
	"github.com/roffe/canmon/pkg/frame"
	"golang.org/x/sync/errgroup"
)

// ByteSource is the read side of the adapter link. Close must unblock a
// pending Read.
type ByteSource interface {
	io.Reader
	io.Closer
}

type Result struct {
	Frame   *frame.CANFrame
	Visible bool
}

type Opt func(s *Stream)

// OptChunkSize sets the size of a single read from the source
func OptChunkSize(n int) Opt {
	return func(s *Stream) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// OptQueueSize sets the capacity of the chunk and result channels
func OptQueueSize(n int) Opt {
	return func(s *Stream) {
		if n >= 0 {
			s.queueSize = n
		}
	}
}

type Stream struct {
	src ByteSource
	dec *decoder.Decoder
	eng *filter.Engine

	chunkSize int
	queueSize int

	results chan Result
	evtChan chan Event

	started   atomic.Bool
	stopping  atomic.Bool
	resync    atomic.Bool
	closeOnce sync.Once
	srcOnce   sync.Once
	srcErr    error

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func New(src ByteSource, dec *decoder.Decoder, eng *filter.Engine, opts ...Opt) *Stream {
	s := &Stream{
		src:       src,
		dec:       dec,
		eng:       eng,
		chunkSize: 64,
		queueSize: 1024,
		evtChan:   make(chan Event, 100),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.results = make(chan Result, s.queueSize)
	return s
}

// Results is closed once the stream has stopped. Consumers must drain it.
func (s *Stream) Results() <-chan Result {
	return s.results
}

func (s *Stream) Events() <-chan Event {
	return s.evtChan
}

func (s *Stream) Engine() *filter.Engine {
	return s.eng
}

func (s *Stream) Stats() decoder.Stats {
	return s.dec.Stats()
}

// Start launches the read and decode loops. Cancelling ctx aborts the
// stream without waiting for the consumer.
func (s *Stream) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	ctx, s.cancel = context.WithCancel(ctx)

	chunks := make(chan []byte, s.queueSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(chunks)
		return s.readLoop(gctx, chunks)
	})
	g.Go(func() error {
		defer close(s.results)
		return s.decodeLoop(ctx, chunks)
	})

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	go func() {
		err := g.Wait()
		s.closeSource()
		s.err = err
		if err != nil {
			s.Error(err)
		} else {
			s.Info("stream stopped: " + s.dec.Stats().String())
		}
		close(s.done)
		s.cancel()
	}()

	s.Info("stream started")
	return nil
}

func (s *Stream) readLoop(ctx context.Context, chunks chan<- []byte) error {
	buf := make([]byte, s.chunkSize)
	for {
		if s.stopping.Load() {
			return nil
		}
		n, err := s.src.Read(buf)
		if n > 0 && !s.stopping.Load() {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return nil
			}
		}
		if err != nil {
			if s.stopping.Load() || errors.Is(err, io.EOF) {
				return nil
			}
			return LinkLost(err)
		}
	}
}

func (s *Stream) decodeLoop(ctx context.Context, chunks <-chan []byte) error {
	for chunk := range chunks {
		if s.stopping.Load() {
			// keep draining so the reader never blocks on a full queue
			continue
		}
		if s.resync.CompareAndSwap(true, false) {
			if n := s.dec.Buffered(); n > 0 {
				s.Warn(fmt.Sprintf("resync dropped %d buffered bytes", n))
			}
			s.dec.Reset()
		}
		for _, f := range s.dec.Feed(chunk) {
			r := Result{Frame: f, Visible: s.eng.Evaluate(f)}
			select {
			case s.results <- r:
			case <-ctx.Done():
				return nil
			}
		}
	}
	return nil
}

// Resync drops the partial frame carried by the decoder before the next
// chunk is decoded. Call it after reconfiguring the adapter.
func (s *Stream) Resync() {
	s.resync.Store(true)
}

// Close requests shutdown and releases the source. Frames already decoded
// are still delivered on Results before it closes.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.stopping.Store(true)
		s.closeSource()
	})
	return s.srcErr
}

func (s *Stream) closeSource() {
	s.srcOnce.Do(func() {
		s.srcErr = s.src.Close()
	})
}

// Done is closed when both loops have exited
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the stream has stopped. It returns nil after Close or
// end of input and an error matching ErrLinkLost when the source failed.
func (s *Stream) Wait() error {
	if !s.started.Load() {
		return nil
	}
	<-s.done
	return s.err
}

// Run starts the stream and calls fn for every result until it stops
func (s *Stream) Run(ctx context.Context, fn func(Result)) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	for r := range s.results {
		fn(r)
	}
	return s.Wait()
}

func (s *Stream) sendEvent(eventType EventType, details string) {
	select {
	case s.evtChan <- Event{Type: eventType, Details: details}:
	default:
		_, file, no, ok := runtime.Caller(2)
		if ok {
			log.Printf("%s#%d event channel full: %s\n", filepath.Base(file), no, details)
		} else {
			log.Printf("event channel full: %s", details)
		}
	}
}

// Send an error event
func (s *Stream) Error(err error) {
	s.sendEvent(EventTypeError, err.Error())
}

// Send a warning event
func (s *Stream) Warn(warn string) {
	s.sendEvent(EventTypeWarning, warn)
}

// Send an info event
func (s *Stream) Info(info string) {
	s.sendEvent(EventTypeInfo, info)
}

// Send a debug event
func (s *Stream) Debug(debug string) {
	s.sendEvent(EventTypeDebug, debug)
}

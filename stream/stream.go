// Package stream keeps the execution buffer fed with instruction batches
// pulled from the host.
//
// There is at most one outstanding pull request.  A request is only sent when
// the buffer has room for a full batch; otherwise the stream waits for space
// and tries again on the next tick.  An unanswered request is repeated, for
// the same line, once its deadline passes.
package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rusq/printcore/sacp"
)

const (
	DefaultBatchSize = 450
	DefaultTimeout   = 2 * time.Second
)

var ErrRetriesExhausted = errors.New("stream: batch request retries exhausted")

// Buffer is the execution buffer being fed.
type Buffer interface {
	// FreeSpace returns the free space in bytes.
	FreeSpace() int
	// Empty reports whether every pushed instruction has been consumed.
	Empty() bool
	// NextRequestedLine returns the line that should be requested next.
	NextRequestedLine() uint32
	// Push appends the instructions of lines start to end inclusive.
	Push(start, end uint32, data []byte) error
}

// RequestFunc sends a pull request to the host.
type RequestFunc func(req sacp.BatchRequest) error

// State of the stream.
type State int

const (
	Idle State = iota
	WaitingForBatch
	WaitingForBufferSpace
	Complete
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case WaitingForBatch:
		return "waiting_for_batch"
	case WaitingForBufferSpace:
		return "waiting_for_buffer_space"
	case Complete:
		return "complete"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Observer is notified about stream activity.
type Observer interface {
	BatchRequested(retry bool)
	BatchReceived(bytes int)
	BatchTimeout()
}

type nopObserver struct{}

func (nopObserver) BatchRequested(bool) {}
func (nopObserver) BatchReceived(int)   {}
func (nopObserver) BatchTimeout()       {}

// Stream is the instruction streaming protocol.  It is not safe for
// concurrent use.
type Stream struct {
	buf     Buffer
	request RequestFunc

	batchSize  int
	timeout    time.Duration
	maxRetries int
	obs        Observer
	lg         *slog.Logger

	state    State
	deadline time.Time
	retries  int
	lastReq  sacp.BatchRequest
}

// Option configures a [Stream].
type Option func(*Stream)

// WithBatchSize sets the maximum size of a requested batch in bytes, at most
// [sacp.MaxBatchData].
func WithBatchSize(n int) Option {
	return func(s *Stream) {
		if n > 0 && n <= sacp.MaxBatchData {
			s.batchSize = n
		}
	}
}

// WithTimeout sets the time to wait for a batch before repeating the request.
func WithTimeout(d time.Duration) Option {
	return func(s *Stream) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxRetries limits the number of consecutive timeouts.  Zero means
// unlimited.
func WithMaxRetries(n int) Option {
	return func(s *Stream) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Stream) {
		if o != nil {
			s.obs = o
		}
	}
}

func WithLogger(lg *slog.Logger) Option {
	return func(s *Stream) {
		if lg != nil {
			s.lg = lg
		}
	}
}

// New returns an idle stream feeding buf and sending pull requests through
// request.
func New(buf Buffer, request RequestFunc, opt ...Option) *Stream {
	s := &Stream{
		buf:       buf,
		request:   request,
		batchSize: DefaultBatchSize,
		timeout:   DefaultTimeout,
		obs:       nopObserver{},
		lg:        slog.Default(),
	}
	for _, o := range opt {
		o(s)
	}
	return s
}

func (s *Stream) State() State { return s.state }

// Deadline returns the time at which an outstanding request is repeated.
// It is only meaningful while the state is [WaitingForBatch].
func (s *Stream) Deadline() time.Time { return s.deadline }

func (s *Stream) BatchSize() int { return s.batchSize }

// Retries returns the number of consecutive timeouts.
func (s *Stream) Retries() int { return s.retries }

// Reset abandons any outstanding request.
func (s *Stream) Reset() {
	s.state = Idle
	s.deadline = time.Time{}
	s.retries = 0
}

// RequestNext requests the next batch if the buffer can hold one.  If the
// request could not be sent, the stream still waits for the batch and the
// request is repeated once the deadline passes.
func (s *Stream) RequestNext(now time.Time) error {
	if s.buf.FreeSpace() < s.batchSize {
		s.state = WaitingForBufferSpace
		s.deadline = time.Time{}
		s.lg.Debug("waiting for buffer space", "free", s.buf.FreeSpace(), "batch_size", s.batchSize)
		return nil
	}
	s.lastReq = sacp.BatchRequest{Line: s.buf.NextRequestedLine(), MaxSize: uint16(s.batchSize)}
	return s.send(now, false)
}

func (s *Stream) send(now time.Time, retry bool) error {
	s.state = WaitingForBatch
	s.deadline = now.Add(s.timeout)
	s.obs.BatchRequested(retry)
	s.lg.Debug("requesting batch", "line", s.lastReq.Line, "max_size", s.lastReq.MaxSize, "retry", retry)
	if err := s.request(s.lastReq); err != nil {
		return fmt.Errorf("stream: request line %d: %w", s.lastReq.Line, err)
	}
	return nil
}

// Receive pushes a batch into the buffer.  The last batch completes the
// stream, any other batch triggers the next request immediately.
func (s *Stream) Receive(now time.Time, b sacp.Batch) error {
	s.retries = 0
	if err := s.buf.Push(b.StartLine, b.EndLine, b.Data); err != nil {
		return fmt.Errorf("stream: push lines %d-%d: %w", b.StartLine, b.EndLine, err)
	}
	s.obs.BatchReceived(len(b.Data))
	s.lg.Debug("batch received", "start", b.StartLine, "end", b.EndLine, "bytes", len(b.Data), "last", b.Last())
	if b.Last() {
		s.state = Complete
		s.deadline = time.Time{}
		return nil
	}
	return s.RequestNext(now)
}

// Tick advances timers.  It reports drained once the stream is complete and
// the buffer is empty.
func (s *Stream) Tick(now time.Time) (drained bool, err error) {
	switch s.state {
	case WaitingForBatch:
		if now.Before(s.deadline) {
			return false, nil
		}
		s.retries++
		s.obs.BatchTimeout()
		s.lg.Warn("batch request timed out", "line", s.lastReq.Line, "retries", s.retries)
		if s.maxRetries > 0 && s.retries > s.maxRetries {
			line := s.lastReq.Line
			s.Reset()
			return false, fmt.Errorf("%w: line %d", ErrRetriesExhausted, line)
		}
		return false, s.send(now, true)
	case WaitingForBufferSpace:
		return false, s.RequestNext(now)
	case Complete:
		return s.buf.Empty(), nil
	}
	return false, nil
}

package sim

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/rusq/printcore/sacp"
)

var ErrCongested = errors.New("sim: link congested")

// Host answers batch requests with lines of a G-code program.
type Host struct {
	lines [][]byte

	mu        sync.Mutex
	dropEvery int
	requests  int
	dropped   int
}

// NewHost reads the program from r.  Every line keeps its newline.
func NewHost(r io.Reader) (*Host, error) {
	var lines [][]byte
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := append(append([]byte(nil), sc.Bytes()...), '\n')
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("sim: reading program: %w", err)
	}
	return &Host{lines: lines}, nil
}

// DropEvery makes the host ignore every nth request.  Zero disables
// dropping.
func (h *Host) DropEvery(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropEvery = n
}

// Lines returns the number of lines in the program.
func (h *Host) Lines() int { return len(h.lines) }

// Stats returns the number of requests seen and dropped.
func (h *Host) Stats() (requests, dropped int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.requests, h.dropped
}

// Batch returns the batch answering req.  It returns false if the request is
// dropped.  Lines are packed while they fit in req.MaxSize; a line longer
// than MaxSize is sent alone.
func (h *Host) Batch(req sacp.BatchRequest) (sacp.Batch, bool) {
	h.mu.Lock()
	h.requests++
	if h.dropEvery > 0 && h.requests%h.dropEvery == 0 {
		h.dropped++
		h.mu.Unlock()
		return sacp.Batch{}, false
	}
	h.mu.Unlock()

	total := uint32(len(h.lines))
	if req.Line >= total {
		return sacp.Batch{Flag: sacp.BatchDone, StartLine: req.Line, EndLine: req.Line}, true
	}
	b := sacp.Batch{StartLine: req.Line, EndLine: req.Line}
	for l := req.Line; l < total; l++ {
		if len(b.Data) > 0 && len(b.Data)+len(h.lines[l]) > int(req.MaxSize) {
			break
		}
		b.Data = append(b.Data, h.lines[l]...)
		b.EndLine = l
	}
	if b.EndLine == total-1 {
		b.Flag = sacp.BatchDone
	}
	return b, true
}

// Link connects the firmware to a simulated host.  Batch requests sent by
// the firmware are answered by the host on C; every other outbound event is
// handed to OnEvent.
type Link struct {
	host    *Host
	C       chan sacp.Event
	OnEvent func(sacp.Event)
	lg      *slog.Logger
}

// NewLink returns a link to h.  Answers are queued on a channel holding
// backlog events.
func NewLink(h *Host, backlog int, onEvent func(sacp.Event)) *Link {
	if backlog <= 0 {
		backlog = 1
	}
	return &Link{host: h, C: make(chan sacp.Event, backlog), OnEvent: onEvent, lg: slog.Default()}
}

var _ sacp.Sender = (*Link)(nil)

func (l *Link) Send(ev sacp.Event) error {
	if ev.Command == sacp.CmdBatch && ev.Attr == sacp.AttrRequest {
		req, err := sacp.DecodeBatchRequest(ev.Payload)
		if err != nil {
			return err
		}
		b, ok := l.host.Batch(req)
		if !ok {
			l.lg.Debug("host dropped request", "line", req.Line)
			return nil
		}
		answer := sacp.NewAck(ev.Origin, sacp.CmdBatch, b.Encode())
		select {
		case l.C <- answer:
			return nil
		default:
			return ErrCongested
		}
	}
	if l.OnEvent != nil {
		l.OnEvent(ev)
	}
	return nil
}

// Request is a convenience for building an inbound request from the host.
func Request(cmd sacp.Command, seq uint16, payload []byte) sacp.Event {
	return sacp.Event{
		Origin:  sacp.Origin{Source: sacp.SourceHost, Sequence: seq},
		Attr:    sacp.AttrRequest,
		Command: cmd,
		Payload: payload,
	}
}

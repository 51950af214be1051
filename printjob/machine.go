// Package printjob drives a print job through its lifecycle: printing,
// pausing for a cause, resuming and stopping, while keeping the execution
// engine fed through the instruction stream.
package printjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/rusq/printcore/powerloss"
	"github.com/rusq/printcore/sacp"
	"github.com/rusq/printcore/stream"
)

const (
	DefaultIdleTimeout = 5 * time.Minute
	DefaultExtruders   = 2
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotPrinting       = errors.New("job is not printing")
	ErrNotDuplicating    = errors.New("machine is not in duplication mode")
	ErrInvalidExtruder   = errors.New("invalid extruder")
	ErrInvalidMode       = errors.New("invalid mode")
)

// Cause is the reason a pause was entered.
type Cause int

const (
	CauseExternal    Cause = iota // pause request from the host or the screen
	CauseFilament                 // filament runout
	CauseInstruction              // pause instruction in the job
	CauseToolChange               // tool change in progress
	CauseStopExtrude              // single extruder stop or enable
	CauseStreamError              // host stopped answering batch requests
)

func (c Cause) String() string {
	switch c {
	case CauseExternal:
		return "external"
	case CauseFilament:
		return "filament"
	case CauseInstruction:
		return "instruction"
	case CauseToolChange:
		return "tool_change"
	case CauseStopExtrude:
		return "stop_extrude"
	case CauseStreamError:
		return "stream_error"
	}
	return fmt.Sprintf("cause(%d)", int(c))
}

// StopSource tells whether a stop was requested or the job ran out of
// instructions.
type StopSource int

const (
	StopRequested StopSource = iota
	StopDone
)

// namespace for job identities.
var jobNamespace = uuid.MustParse("6f1c1a57-2b9e-4f53-9c1e-5a3f70c1d0a4")

// JobID returns the identity of a job printing the file fi.
func JobID(fi sacp.FileInfo) uuid.UUID {
	return uuid.NewSHA1(jobNamespace, []byte(fi.Hash+"\x00"+fi.Name))
}

// Machine is the print job state machine.  It is not safe for concurrent
// use; all methods must be called from the goroutine that owns it.
type Machine struct {
	eng  Engine
	send sacp.Sender
	rec  Recorder
	sm   *fsm.FSM
	st   *stream.Stream

	session     Session
	cause       Cause
	stopSrc     StopSource
	stopLatched bool
	overrides   []bool // per extruder duplication override
	pausedAt    time.Time
	asleep      bool

	file  sacp.FileInfo
	jobID uuid.UUID

	idleTimeout time.Duration
	streamOpts  []stream.Option
	obs         Observer
	baseLg      *slog.Logger
	lg          *slog.Logger
}

// Option configures a [Machine].
type Option func(*Machine)

// WithIdleTimeout sets the time a paused machine waits before putting the
// engine to sleep.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.idleTimeout = d
		}
	}
}

// WithExtruders sets the number of extruders.
func WithExtruders(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.overrides = make([]bool, n)
		}
	}
}

// WithStreamOptions passes options to the instruction stream.
func WithStreamOptions(opt ...stream.Option) Option {
	return func(m *Machine) {
		m.streamOpts = append(m.streamOpts, opt...)
	}
}

func WithObserver(o Observer) Option {
	return func(m *Machine) {
		if o != nil {
			m.obs = o
		}
	}
}

func WithLogger(lg *slog.Logger) Option {
	return func(m *Machine) {
		if lg != nil {
			m.baseLg = lg
		}
	}
}

// New returns an idle machine driving eng.  Replies and batch requests are
// sent through send, the job identity is persisted in rec.
func New(eng Engine, send sacp.Sender, rec Recorder, opt ...Option) *Machine {
	m := &Machine{
		eng:         eng,
		send:        send,
		rec:         rec,
		idleTimeout: DefaultIdleTimeout,
		overrides:   make([]bool, DefaultExtruders),
		obs:         nopObserver{},
		baseLg:      slog.Default(),
	}
	for _, o := range opt {
		o(m)
	}
	m.lg = m.baseLg
	m.resetOverrides()
	m.st = stream.New(eng, m.requestBatch, append([]stream.Option{stream.WithLogger(m.baseLg)}, m.streamOpts...)...)
	m.sm = m.makeFSM()
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	return parseState(m.sm.Current())
}

// Cause returns the cause of the last pause.
func (m *Machine) Cause() Cause { return m.cause }

// Session returns the origin of the pending operation.
func (m *Machine) Session() (sacp.Origin, bool) { return m.session.Origin() }

// File returns the file being printed.
func (m *Machine) File() sacp.FileInfo { return m.file }

// JobID returns the identity of the current job, or [uuid.Nil] when idle.
func (m *Machine) JobID() uuid.UUID { return m.jobID }

// Stream returns the state of the instruction stream.
func (m *Machine) Stream() stream.State { return m.st.State() }

// BatchSize returns the maximum batch size requested from the host.
func (m *Machine) BatchSize() int { return m.st.BatchSize() }

// Extruders returns the number of extruders.
func (m *Machine) Extruders() int { return len(m.overrides) }

// Override returns the stored duplication override of extruder e.
func (m *Machine) Override(e int) bool {
	if e < 0 || e >= len(m.overrides) {
		return false
	}
	return m.overrides[e]
}

func (m *Machine) resetOverrides() {
	for i := range m.overrides {
		m.overrides[i] = true
	}
}

func (m *Machine) requestBatch(req sacp.BatchRequest) error {
	o, _ := m.session.Origin()
	return m.send.Send(sacp.NewRequest(o, sacp.CmdBatch, req.Encode()))
}

func (m *Machine) reply(cmd sacp.Command, payload []byte) {
	o, ok := m.session.Origin()
	if !ok {
		m.lg.Warn("no session to reply to", "command", cmd)
		return
	}
	if err := m.send.Send(sacp.NewAck(o, cmd, payload)); err != nil {
		m.lg.Warn("reply failed", "command", cmd, "error", err)
	}
}

func (m *Machine) notify(r sacp.Report) {
	o, _ := m.session.Origin()
	m.lg.Info("reporting status", "report", r)
	if err := m.send.Send(sacp.NewRequest(o, sacp.CmdReportStatus, []byte{byte(r)})); err != nil {
		m.lg.Warn("status report failed", "report", r, "error", err)
	}
}

func (m *Machine) invalid(op string) error {
	return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, op, m.State())
}

// Start starts printing the file fi from the first line.  The identity of
// the file is persisted before the engine starts.  The stream is armed by a
// following call to [Machine.Arm], once the start request is acknowledged.
func (m *Machine) Start(ctx context.Context, o sacp.Origin, fi sacp.FileInfo) error {
	if !m.sm.Can(evStart) {
		return m.invalid(evStart)
	}
	if err := m.rec.Set(fi.Hash, fi.Name); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if err := m.eng.Start(0); err != nil {
		return fmt.Errorf("start: engine: %w", err)
	}
	m.begin(o, fi)
	return m.fire(ctx, evStart)
}

// Recover restarts the job recorded in the crash-recovery record from the
// line saved at the last pause.
func (m *Machine) Recover(ctx context.Context, o sacp.Origin) error {
	if !m.sm.Can(evRecover) {
		return m.invalid(evRecover)
	}
	id, ok := m.rec.Get()
	if !ok {
		return fmt.Errorf("recover: %w", powerloss.ErrMissingIdentity)
	}
	if err := m.eng.Start(id.Line); err != nil {
		return fmt.Errorf("recover: engine: %w", err)
	}
	m.begin(o, sacp.FileInfo{Hash: id.Hash, Name: id.Name})
	m.lg.Info("recovering job", "line", id.Line)
	return m.fire(ctx, evRecover)
}

func (m *Machine) begin(o sacp.Origin, fi sacp.FileInfo) {
	m.session.Save(o)
	m.file = fi
	m.jobID = JobID(fi)
	m.stopLatched = false
	m.cause = CauseExternal
	m.lg = m.baseLg.With("job_id", m.jobID, "file", fi.Name)
	for e, enabled := range m.overrides {
		m.eng.SetDuplication(e, enabled)
	}
	m.st.Reset()
}

// Arm requests the first batch of a printing job.
func (m *Machine) Arm(now time.Time) error {
	if m.State() != Printing {
		return ErrNotPrinting
	}
	return m.st.RequestNext(now)
}

// Pause handles a pause request.  The pause is acknowledged once the engine
// has paused.
func (m *Machine) Pause(ctx context.Context, o sacp.Origin) error {
	if !m.sm.Can(evPause) {
		return m.invalid(evPause)
	}
	m.session.Save(o)
	return m.pause(ctx, CauseExternal)
}

// Interrupt pauses the job for an internal cause.
func (m *Machine) Interrupt(ctx context.Context, c Cause) error {
	if !m.sm.Can(evPause) {
		return m.invalid(evPause)
	}
	return m.pause(ctx, c)
}

func (m *Machine) pause(ctx context.Context, c Cause) error {
	m.cause = c
	m.st.Reset()
	return m.fire(ctx, evPause)
}

// Resume handles a resume request.
func (m *Machine) Resume(ctx context.Context, o sacp.Origin) error {
	if !m.sm.Can(evResume) {
		return m.invalid(evResume)
	}
	m.session.Save(o)
	return m.fire(ctx, evResume)
}

// Stop handles a stop request.  A stop arriving while the machine is pausing
// or resuming is applied once that transition completes.
func (m *Machine) Stop(ctx context.Context, o sacp.Origin) error {
	switch m.State() {
	case Idle:
		return m.invalid(evStop)
	case Stopping:
		m.session.Save(o)
		m.stopSrc = StopRequested
		return nil
	case Pausing, Resuming:
		m.session.Save(o)
		m.stopSrc = StopRequested
		m.stopLatched = true
		m.lg.Info("stop latched", "state", m.State())
		return nil
	}
	m.session.Save(o)
	m.stopSrc = StopRequested
	m.st.Reset()
	return m.fire(ctx, evStop)
}

// SetExtruder enables or disables extruder e.  While printing the change is
// made through a pause, and pending is true: the request is acknowledged
// once printing continues.
func (m *Machine) SetExtruder(ctx context.Context, o sacp.Origin, e int, enabled bool) (pending bool, err error) {
	if e < 0 || e >= len(m.overrides) {
		return false, fmt.Errorf("%w: %d", ErrInvalidExtruder, e)
	}
	state := m.State()
	if state == Idle && !m.eng.Duplicating() {
		return false, ErrNotDuplicating
	}
	if state != Printing {
		m.overrides[e] = enabled
		if state != Idle {
			m.eng.SetDuplication(e, enabled)
		}
		return false, nil
	}
	m.overrides[e] = enabled
	m.eng.SetDuplication(e, enabled)
	m.session.Save(o)
	if err := m.pause(ctx, CauseStopExtrude); err != nil {
		return false, err
	}
	return true, nil
}

// SetMode changes the printing mode.  It is only allowed between jobs.
func (m *Machine) SetMode(mode Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMode, mode)
	}
	if m.State() != Idle {
		return m.invalid("set_mode")
	}
	return m.eng.SetMode(mode)
}

// Receive feeds a batch into the engine.  Batches arriving while the job is
// not printing are refused with [ErrNotPrinting].
func (m *Machine) Receive(now time.Time, b sacp.Batch) error {
	if m.State() != Printing {
		return fmt.Errorf("%w: batch %d-%d in state %s", ErrNotPrinting, b.StartLine, b.EndLine, m.State())
	}
	return m.st.Receive(now, b)
}

// Tick runs the periodic behaviour of the current state.
func (m *Machine) Tick(ctx context.Context, now time.Time) error {
	if m.stopLatched {
		if s := m.State(); s == Printing || s == Paused {
			m.stopLatched = false
			m.st.Reset()
			if err := m.fire(ctx, evStop); err != nil {
				return err
			}
		}
	}

	switch m.State() {
	case Printing:
		return m.tickPrinting(ctx, now)
	case Pausing:
		return m.tickPausing(ctx, now)
	case Paused:
		if !m.asleep && now.Sub(m.pausedAt) >= m.idleTimeout {
			m.lg.Info("paused machine idle, sleeping", "idle", now.Sub(m.pausedAt))
			m.eng.Sleep()
			m.asleep = true
		}
	case Resuming:
		return m.tickResuming(ctx, now)
	case Stopping:
		return m.tickStopping(ctx)
	}
	return nil
}

func (m *Machine) tickPrinting(ctx context.Context, now time.Time) error {
	drained, err := m.st.Tick(now)
	if err != nil {
		if errors.Is(err, stream.ErrRetriesExhausted) {
			m.lg.Error("host is not answering, pausing", "error", err)
			return m.pause(ctx, CauseStreamError)
		}
		m.lg.Warn("batch request failed", "error", err)
		return nil
	}
	if drained {
		m.lg.Info("all instructions executed")
		m.stopSrc = StopDone
		return m.fire(ctx, evStop)
	}
	return nil
}

func (m *Machine) tickPausing(ctx context.Context, now time.Time) error {
	result := sacp.ResultSuccess
	if err := m.eng.Pause(); err != nil {
		m.lg.Error("engine pause failed", "error", err)
		result = sacp.ResultPauseFailed
	}
	line := m.eng.CurrentLine()
	if err := m.rec.SaveLine(line); err != nil {
		m.lg.Error("saving progress failed", "line", line, "error", err)
	}

	switch m.cause {
	case CauseFilament:
		m.notify(sacp.ReportPausedByFilament)
	case CauseInstruction:
		m.notify(sacp.ReportPausedByInstruction)
	case CauseStreamError:
		m.notify(sacp.ReportLinesError)
	case CauseToolChange:
		return m.carryOn(ctx, now)
	case CauseStopExtrude:
		if err := m.carryOn(ctx, now); err != nil {
			return err
		}
		m.reply(sacp.CmdStopSingleExtrude, sacp.ResultPayload(result))
		return nil
	default:
		m.reply(sacp.CmdPause, sacp.ResultPayload(result))
	}
	m.pausedAt = now
	m.asleep = false
	return m.fire(ctx, evSettle)
}

// carryOn returns a pausing job to printing.
func (m *Machine) carryOn(ctx context.Context, now time.Time) error {
	if err := m.eng.Resume(); err != nil {
		m.lg.Error("engine resume failed", "error", err)
	}
	if err := m.fire(ctx, evContinue); err != nil {
		return err
	}
	if err := m.st.RequestNext(now); err != nil {
		m.lg.Warn("batch request failed", "error", err)
	}
	return nil
}

func (m *Machine) tickResuming(ctx context.Context, now time.Time) error {
	if err := m.eng.Resume(); err != nil {
		m.lg.Error("engine resume failed", "error", err)
		m.reply(sacp.CmdResume, sacp.ResumeReply{Result: sacp.ResultResumeFailed}.Encode())
		m.pausedAt = now
		m.asleep = false
		return m.fire(ctx, evSettle)
	}
	m.reply(sacp.CmdResume, sacp.ResumeReply{
		Result:  sacp.ResultSuccess,
		Line:    m.eng.NextRequestedLine(),
		MaxSize: uint16(m.st.BatchSize()),
	}.Encode())
	if err := m.fire(ctx, evResumed); err != nil {
		return err
	}
	if err := m.st.RequestNext(now); err != nil {
		m.lg.Warn("batch request failed", "error", err)
	}
	return nil
}

func (m *Machine) tickStopping(ctx context.Context) error {
	result := sacp.ResultSuccess
	if err := m.eng.Stop(); err != nil {
		m.lg.Error("engine stop failed", "error", err)
		result = sacp.ResultStopFailed
	}
	for e := range m.overrides {
		m.eng.SetDuplication(e, true)
		m.eng.LockTemperature(e, false)
	}
	m.resetOverrides()
	m.eng.SetFeedrate(100)
	m.st.Reset()

	if m.stopSrc == StopRequested {
		m.reply(sacp.CmdStop, sacp.ResultPayload(result))
	} else {
		m.notify(sacp.ReportPrintDone)
		if err := m.rec.Clear(); err != nil {
			m.lg.Error("clearing crash-recovery record failed", "error", err)
		}
	}
	if err := m.fire(ctx, evFinish); err != nil {
		return err
	}
	m.jobID = uuid.Nil
	m.lg = m.baseLg
	return nil
}

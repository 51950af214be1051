// Package printcore is the control plane of a 3D printer: it dispatches
// commands received from the host, drives the print job and the instruction
// stream, and manages the crash-recovery record and the firmware update
// descriptor.
package printcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rusq/printcore/flash"
	"github.com/rusq/printcore/metrics"
	"github.com/rusq/printcore/powerloss"
	"github.com/rusq/printcore/printjob"
	"github.com/rusq/printcore/sacp"
	"github.com/rusq/printcore/stream"
	"github.com/rusq/printcore/update"
)

// DefaultTickInterval is the interval of the periodic driver in [Controller.Run].
const DefaultTickInterval = 10 * time.Millisecond

// Controller owns the job machine, the persistent records and the deferred
// command queue.  Handle and Tick must be called from a single goroutine,
// [Controller.Run] does that.  Zero value is unusable, initialise with [New].
type Controller struct {
	eng  printjob.Engine
	send sacp.Sender
	job  *printjob.Machine
	rec  *powerloss.Record
	upd  *update.Store

	deferred   []sacp.Event
	interruptC chan printjob.Cause

	statusMu sync.Mutex
	status   Status

	options options
	lg      *slog.Logger
}

type options struct {
	batchSize      int
	requestTimeout time.Duration
	maxRetries     int
	idleTimeout    time.Duration
	extruders      int
	tick           time.Duration
	metrics        *metrics.Collector
	logger         *slog.Logger
	rebooter       update.Rebooter
}

type Option func(*options)

// WithBatchSize sets the maximum batch size requested from the host, at most
// [sacp.MaxBatchData].
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 && n <= sacp.MaxBatchData {
			o.batchSize = n
		}
	}
}

// WithRequestTimeout sets the time to wait for a batch before repeating the
// request.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

// WithMaxRetries limits consecutive batch request timeouts, after which the
// job is paused.  Zero retries forever.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithIdleTimeout sets the time after which a paused machine sleeps.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.idleTimeout = d
		}
	}
}

func WithExtruders(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.extruders = n
		}
	}
}

// WithTickInterval sets the period of the driver in [Controller.Run].
func WithTickInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.tick = d
		}
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = c
	}
}

func WithLogger(lg *slog.Logger) Option {
	return func(o *options) {
		if lg != nil {
			o.logger = lg
		}
	}
}

// WithRebooter sets the hook that resets the board into the bootloader once
// an update request is committed.
func WithRebooter(r update.Rebooter) Option {
	return func(o *options) {
		o.rebooter = r
	}
}

// New returns a controller driving eng, replying through send and keeping its
// records on dev.
func New(eng printjob.Engine, send sacp.Sender, dev flash.Device, opt ...Option) *Controller {
	var opts = options{
		batchSize:      stream.DefaultBatchSize,
		requestTimeout: stream.DefaultTimeout,
		idleTimeout:    printjob.DefaultIdleTimeout,
		extruders:      printjob.DefaultExtruders,
		tick:           DefaultTickInterval,
		logger:         slog.Default(),
	}
	for _, o := range opt {
		o(&opts)
	}
	c := &Controller{
		eng:        eng,
		send:       send,
		rec:        powerloss.New(dev),
		interruptC: make(chan printjob.Cause, 8),
		options:    opts,
		lg:         opts.logger,
	}
	c.upd = update.NewStore(dev, update.WithLogger(opts.logger), update.WithObserver(opts.metrics))

	sopts := []stream.Option{
		stream.WithBatchSize(opts.batchSize),
		stream.WithTimeout(opts.requestTimeout),
		stream.WithMaxRetries(opts.maxRetries),
	}
	jopts := []printjob.Option{
		printjob.WithIdleTimeout(opts.idleTimeout),
		printjob.WithExtruders(opts.extruders),
		printjob.WithLogger(opts.logger),
	}
	// a nil collector records nothing.
	sopts = append(sopts, stream.WithObserver(opts.metrics))
	jopts = append(jopts, printjob.WithObserver(opts.metrics), printjob.WithStreamOptions(sopts...))
	c.job = printjob.New(eng, send, c.rec, jopts...)
	c.snapshot()
	return c
}

// Boot loads the persisted records and settles the update descriptor.  The
// returned errors are informational: the controller is usable regardless.
func (c *Controller) Boot() error {
	var errs error
	if err := c.rec.Load(); err != nil {
		c.lg.Warn("crash-recovery record unusable", "error", err)
		errs = errors.Join(errs, err)
	}
	if err := c.upd.InitializeAtBoot(); err != nil {
		c.lg.Warn("update descriptor not settled", "error", err)
		errs = errors.Join(errs, err)
	}
	if id, ok := c.rec.Get(); ok {
		c.lg.Info("interrupted job found", "file", id.Name, "line", id.Line)
	}
	c.snapshot()
	return errs
}

// Notify reports an internal event that pauses the job, such as a filament
// runout.  It is safe to call from any goroutine; the pause happens on the
// next pass of [Controller.Run] or the next [Controller.Tick].
func (c *Controller) Notify(cause printjob.Cause) bool {
	select {
	case c.interruptC <- cause:
		return true
	default:
		c.lg.Warn("interrupt dropped, queue full", "cause", cause)
		return false
	}
}

// Run processes events and drives the periodic tick until ctx is cancelled
// or events is closed.
func (c *Controller) Run(ctx context.Context, events <-chan sacp.Event) error {
	ticker := time.NewTicker(c.options.tick)
	defer ticker.Stop()

	c.lg.Info("controller started", "tick", c.options.tick)
	for {
		select {
		case <-ctx.Done():
			c.lg.Info("controller stopping", "reason", context.Cause(ctx))
			return ctx.Err()
		case ev, more := <-events:
			if !more {
				c.lg.Info("controller stopping, event channel closed")
				return nil
			}
			if err := c.Handle(ctx, ev); err != nil {
				c.lg.Warn("event rejected", "event", ev, "error", err)
			}
		case cause := <-c.interruptC:
			c.interrupt(ctx, cause)
			c.snapshot()
		case now := <-ticker.C:
			if err := c.Tick(ctx, now); err != nil {
				c.lg.Error("tick failed", "error", err)
			}
		}
	}
}

func (c *Controller) interrupt(ctx context.Context, cause printjob.Cause) {
	if err := c.job.Interrupt(ctx, cause); err != nil {
		c.lg.Warn("interrupt ignored", "cause", cause, "error", err)
	}
}

// Tick applies pending interrupts, runs the deferred handlers queued since
// the last tick, then the periodic behaviour of the job.
func (c *Controller) Tick(ctx context.Context, now time.Time) error {
	for pending := len(c.interruptC); pending > 0; pending-- {
		c.interrupt(ctx, <-c.interruptC)
	}
	queue := c.deferred
	c.deferred = nil
	for _, ev := range queue {
		c.runDeferred(ctx, now, ev)
	}
	err := c.job.Tick(ctx, now)
	c.snapshot()
	if err != nil {
		return fmt.Errorf("job tick: %w", err)
	}
	return nil
}

// Status is a snapshot of the controller state.
type Status struct {
	State    printjob.State
	Cause    printjob.Cause
	Stream   stream.State
	File     sacp.FileInfo
	JobID    uuid.UUID
	Line     uint32
	Feedrate float32
	Mode     printjob.Mode
	Queued   int
}

func (c *Controller) snapshot() {
	s := Status{
		State:    c.job.State(),
		Cause:    c.job.Cause(),
		Stream:   c.job.Stream(),
		File:     c.job.File(),
		JobID:    c.job.JobID(),
		Line:     c.eng.CurrentLine(),
		Feedrate: c.eng.Feedrate(),
		Mode:     c.eng.Mode(),
		Queued:   len(c.deferred),
	}
	c.statusMu.Lock()
	c.status = s
	c.statusMu.Unlock()
}

// Status returns the state as of the last processed event or tick.  It is
// safe to call from any goroutine.
func (c *Controller) Status() Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

// Job returns the job machine.
func (c *Controller) Job() *printjob.Machine { return c.job }

// Record returns the crash-recovery record.
func (c *Controller) Record() *powerloss.Record { return c.rec }

// Updates returns the update descriptor store.
func (c *Controller) Updates() *update.Store { return c.upd }

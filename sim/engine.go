// Package sim provides a simulated execution engine and a simulated host
// streaming a G-code file, for exercising the control plane without a
// machine.
package sim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rusq/printcore/printjob"
)

// DefaultCapacity is the execution buffer size of a simulated engine.
const DefaultCapacity = 4096

var (
	ErrOverflow   = errors.New("sim: execution buffer overflow")
	ErrNotStarted = errors.New("sim: engine not started")
)

// Op names an engine operation that can be made to fail.
type Op string

const (
	OpStart  Op = "start"
	OpPause  Op = "pause"
	OpResume Op = "resume"
	OpStop   Op = "stop"
)

type chunk struct {
	start, end uint32
	size       int
}

// Engine is a simulated execution engine.  Instructions pushed into its
// buffer are executed one batch at a time by [Engine.Step].  It is safe for
// concurrent use.
type Engine struct {
	mu       sync.Mutex
	capacity int
	queue    []chunk
	used     int
	next     uint32 // next line to request
	current  uint32 // first line not yet executed

	started  bool
	paused   bool
	asleep   bool
	feedrate float32
	mode     printjob.Mode
	dup      []bool
	locked   []bool
	faults   map[Op]error
	pushed   [][2]uint32
}

var _ printjob.Engine = (*Engine)(nil)

// NewEngine returns an engine with a buffer of capacity bytes driving the
// given number of extruders.
func NewEngine(capacity, extruders int) *Engine {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if extruders <= 0 {
		extruders = printjob.DefaultExtruders
	}
	e := &Engine{
		capacity: capacity,
		feedrate: 100,
		dup:      make([]bool, extruders),
		locked:   make([]bool, extruders),
		faults:   make(map[Op]error),
	}
	for i := range e.dup {
		e.dup[i] = true
	}
	return e
}

// InjectFault makes every following op fail with err.  A nil err clears the
// fault.
func (e *Engine) InjectFault(op Op, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.faults, op)
		return
	}
	e.faults[op] = err
}

func (e *Engine) FreeSpace() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capacity - e.used
}

func (e *Engine) Empty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue) == 0
}

func (e *Engine) NextRequestedLine() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next
}

func (e *Engine) Push(start, end uint32, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(data) > e.capacity-e.used {
		return fmt.Errorf("%w: %d bytes, %d free", ErrOverflow, len(data), e.capacity-e.used)
	}
	e.queue = append(e.queue, chunk{start: start, end: end, size: len(data)})
	e.used += len(data)
	e.next = end + 1
	e.pushed = append(e.pushed, [2]uint32{start, end})
	return nil
}

func (e *Engine) Start(line uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.faults[OpStart]; err != nil {
		return err
	}
	e.queue = e.queue[:0]
	e.used = 0
	e.next = line
	e.current = line
	e.started = true
	e.paused = false
	e.asleep = false
	return nil
}

func (e *Engine) CurrentLine() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.faults[OpPause]; err != nil {
		return err
	}
	if !e.started {
		return ErrNotStarted
	}
	e.paused = true
	return nil
}

func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.faults[OpResume]; err != nil {
		return err
	}
	if !e.started {
		return ErrNotStarted
	}
	e.paused = false
	e.asleep = false
	return nil
}

func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.faults[OpStop]; err != nil {
		return err
	}
	e.queue = e.queue[:0]
	e.used = 0
	e.started = false
	e.paused = false
	return nil
}

func (e *Engine) Sleep() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.asleep = true
}

// Asleep reports whether the motors were put to sleep.
func (e *Engine) Asleep() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.asleep
}

// Paused reports whether the engine is paused.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *Engine) SetFeedrate(pct float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.feedrate = pct
}

func (e *Engine) Feedrate() float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feedrate
}

func (e *Engine) LockTemperature(extruder int, lock bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if extruder >= 0 && extruder < len(e.locked) {
		e.locked[extruder] = lock
	}
}

// TemperatureLocked reports whether the temperature of extruder is locked.
func (e *Engine) TemperatureLocked(extruder int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return extruder >= 0 && extruder < len(e.locked) && e.locked[extruder]
}

func (e *Engine) SetDuplication(extruder int, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if extruder >= 0 && extruder < len(e.dup) {
		e.dup[extruder] = enabled
	}
}

// DuplicationEnabled reports whether extruder takes part in duplication.
func (e *Engine) DuplicationEnabled(extruder int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return extruder >= 0 && extruder < len(e.dup) && e.dup[extruder]
}

func (e *Engine) Duplicating() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode == printjob.ModeDuplication || e.mode == printjob.ModeMirror
}

func (e *Engine) SetMode(m printjob.Mode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = m
	return nil
}

func (e *Engine) Mode() printjob.Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Step executes up to n buffered batches and returns the number executed.
// A paused or stopped engine executes nothing.
func (e *Engine) Step(n int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.paused {
		return 0
	}
	done := 0
	for ; done < n && len(e.queue) > 0; done++ {
		c := e.queue[0]
		e.queue = e.queue[1:]
		e.used -= c.size
		e.current = c.end + 1
	}
	return done
}

// Pushed returns the line ranges pushed since the engine was created.
func (e *Engine) Pushed() [][2]uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][2]uint32, len(e.pushed))
	copy(out, e.pushed)
	return out
}

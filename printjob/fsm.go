package printjob

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
)

// State of a print job.
type State int

const (
	Idle State = iota
	Printing
	Pausing
	Paused
	Resuming
	Stopping
)

var stateNames = [...]string{
	Idle:     "idle",
	Printing: "printing",
	Pausing:  "pausing",
	Paused:   "paused",
	Resuming: "resuming",
	Stopping: "stopping",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func parseState(name string) State {
	for i, n := range stateNames {
		if n == name {
			return State(i)
		}
	}
	return -1
}

// fsm events for job state transitions.
const (
	evStart    = "start"
	evRecover  = "recover"  // resume after power loss
	evPause    = "pause"    // pause requested or raised internally
	evSettle   = "settle"   // pause action done, wait for the operator
	evContinue = "continue" // pause action done, carry on printing
	evResume   = "resume"
	evResumed  = "resumed"
	evStop     = "stop"
	evFinish   = "finish"
)

/*
	        start, recover          pause               settle
	idle ------------------> printing ----> pausing ----------> paused
	 ^                       ^  ^  |           |                 |  ^
	 |                       |  +--|-----------+ continue        |  | settle
	 |                       |     |                      resume |  |
	 |                       +-----|------------------ resuming <+--+
	 |           finish            | stop      resumed           |
	 +-------------------- stopping <--------------------------- + stop
*/

var jobFsmEvts = []fsm.EventDesc{
	{Name: evStart, Src: []string{Idle.String()}, Dst: Printing.String()},
	{Name: evRecover, Src: []string{Idle.String()}, Dst: Printing.String()},
	{Name: evPause, Src: []string{Printing.String()}, Dst: Pausing.String()},
	{Name: evSettle, Src: []string{Pausing.String(), Resuming.String()}, Dst: Paused.String()},
	{Name: evContinue, Src: []string{Pausing.String()}, Dst: Printing.String()},
	{Name: evResume, Src: []string{Paused.String()}, Dst: Resuming.String()},
	{Name: evResumed, Src: []string{Resuming.String()}, Dst: Printing.String()},
	{Name: evStop, Src: []string{Printing.String(), Paused.String()}, Dst: Stopping.String()},
	{Name: evFinish, Src: []string{Stopping.String()}, Dst: Idle.String()},
}

func (m *Machine) makeFSM() *fsm.FSM {
	return fsm.NewFSM(
		Idle.String(),
		jobFsmEvts,
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				from, to := parseState(e.Src), parseState(e.Dst)
				m.lg.InfoContext(ctx, "job state changed", "from", e.Src, "to", e.Dst, "event", e.Event, "cause", m.cause)
				m.obs.StateChanged(from, to)
			},
		},
	)
}

// fire triggers an fsm event, converting a refusal into
// [ErrInvalidTransition].
func (m *Machine) fire(ctx context.Context, event string) error {
	if !m.sm.Can(event) {
		return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, event, m.sm.Current())
	}
	if err := m.sm.Event(ctx, event); err != nil {
		return fmt.Errorf("%s: %w", event, err)
	}
	return nil
}

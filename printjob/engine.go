package printjob

import (
	"fmt"

	"github.com/rusq/printcore/powerloss"
	"github.com/rusq/printcore/stream"
)

// Mode is the machine printing mode.
type Mode uint8

const (
	ModeDefault Mode = iota
	ModeBackup
	ModeAutoPark
	ModeDuplication
	ModeMirror
)

func (m Mode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeBackup:
		return "backup"
	case ModeAutoPark:
		return "auto_park"
	case ModeDuplication:
		return "duplication"
	case ModeMirror:
		return "mirror"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m <= ModeMirror
}

// Engine is the motion and thermal subsystem executing the instructions.
type Engine interface {
	stream.Buffer

	// Start prepares the engine for a job beginning at line.
	Start(line uint32) error
	// CurrentLine returns the first line not yet executed.
	CurrentLine() uint32
	Pause() error
	Resume() error
	Stop() error
	// Sleep powers down motors of an idle paused machine.
	Sleep()

	SetFeedrate(pct float32)
	Feedrate() float32
	LockTemperature(extruder int, lock bool)
	SetDuplication(extruder int, enabled bool)
	// Duplicating reports whether the machine prints with more than one
	// extruder at a time.
	Duplicating() bool
	SetMode(m Mode) error
	Mode() Mode
}

// Recorder persists the identity of the job in progress.  It is implemented
// by [powerloss.Record].
type Recorder interface {
	Set(hash, name string) error
	SaveLine(line uint32) error
	Get() (powerloss.FileIdentity, bool)
	Clear() error
}

// Observer is notified about job state changes.
type Observer interface {
	StateChanged(from, to State)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State, State) {}

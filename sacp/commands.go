package sacp

import (
	"errors"
	"fmt"
)

// CommandSet groups related commands.
type CommandSet uint8

const (
	SetPrinter CommandSet = 0xAC
	SetUpdate  CommandSet = 0xAD
)

// Command is the tag of an event: command set in the high byte, command id in
// the low byte.
type Command uint16

// MakeCommand combines a command set and id.
func MakeCommand(set CommandSet, id uint8) Command {
	return Command(set)<<8 | Command(id)
}

// Set returns the command set.
func (c Command) Set() CommandSet { return CommandSet(c >> 8) }

// ID returns the command id within its set.
func (c Command) ID() uint8 { return uint8(c) }

// Printer commands.
const (
	CmdFileInfo          = Command(SetPrinter)<<8 | 0x00
	CmdBatch             = Command(SetPrinter)<<8 | 0x01 // pull request out, batch in
	CmdStart             = Command(SetPrinter)<<8 | 0x02
	CmdPause             = Command(SetPrinter)<<8 | 0x03
	CmdResume            = Command(SetPrinter)<<8 | 0x04
	CmdStop              = Command(SetPrinter)<<8 | 0x05
	CmdPowerLossStatus   = Command(SetPrinter)<<8 | 0x06
	CmdPowerLossResume   = Command(SetPrinter)<<8 | 0x07
	CmdPowerLossClear    = Command(SetPrinter)<<8 | 0x08
	CmdSetMode           = Command(SetPrinter)<<8 | 0x09
	CmdAutoParkStatus    = Command(SetPrinter)<<8 | 0x0A
	CmdSetAutoPark       = Command(SetPrinter)<<8 | 0x0B
	CmdStopSingleExtrude = Command(SetPrinter)<<8 | 0x0C
	CmdSetFeedrate       = Command(SetPrinter)<<8 | 0x0D
	CmdCurrentLine       = Command(SetPrinter)<<8 | 0x0E
	CmdTemperatureLock   = Command(SetPrinter)<<8 | 0x0F
	CmdReportStatus      = Command(SetPrinter)<<8 | 0xA0 // notification, firmware to host
)

// Update commands.
const (
	CmdUpdateRequest = Command(SetUpdate)<<8 | 0x01
	CmdUpdateStatus  = Command(SetUpdate)<<8 | 0x02
)

// Mode is the execution policy of a command handler.
type Mode int

const (
	// Direct handlers run synchronously inside the inbound event call.  They
	// must not block.
	Direct Mode = iota
	// Deferred handlers run on the next cooperative worker pass.
	Deferred
)

func (m Mode) String() string {
	if m == Direct {
		return "direct"
	}
	return "deferred"
}

var ErrUnknownCommand = errors.New("unknown command")

// Mode returns the execution policy of c, or [ErrUnknownCommand] for commands
// that have no handler (including outbound-only notifications).
func (c Command) Mode() (Mode, error) {
	switch c {
	case CmdFileInfo,
		CmdPause,
		CmdResume,
		CmdPowerLossStatus,
		CmdAutoParkStatus,
		CmdStopSingleExtrude,
		CmdSetFeedrate,
		CmdCurrentLine,
		CmdTemperatureLock,
		CmdUpdateStatus:
		return Direct, nil
	case CmdBatch,
		CmdStart,
		CmdStop,
		CmdPowerLossResume,
		CmdPowerLossClear,
		CmdSetMode,
		CmdSetAutoPark,
		CmdUpdateRequest:
		return Deferred, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownCommand, c)
}

func (c Command) String() string {
	switch c {
	case CmdFileInfo:
		return "file_info"
	case CmdBatch:
		return "batch"
	case CmdStart:
		return "start"
	case CmdPause:
		return "pause"
	case CmdResume:
		return "resume"
	case CmdStop:
		return "stop"
	case CmdPowerLossStatus:
		return "power_loss_status"
	case CmdPowerLossResume:
		return "power_loss_resume"
	case CmdPowerLossClear:
		return "power_loss_clear"
	case CmdSetMode:
		return "set_mode"
	case CmdAutoParkStatus:
		return "auto_park_status"
	case CmdSetAutoPark:
		return "set_auto_park"
	case CmdStopSingleExtrude:
		return "stop_single_extrude"
	case CmdSetFeedrate:
		return "set_feedrate"
	case CmdCurrentLine:
		return "current_line"
	case CmdTemperatureLock:
		return "temperature_lock"
	case CmdReportStatus:
		return "report_status"
	case CmdUpdateRequest:
		return "update_request"
	case CmdUpdateStatus:
		return "update_status"
	}
	return fmt.Sprintf("cmd(%02x:%02x)", uint8(c.Set()), c.ID())
}

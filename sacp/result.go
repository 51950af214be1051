package sacp

// Result is the first byte of every reply payload.
type Result uint8

const (
	ResultSuccess        Result = 0x00
	ResultFailure        Result = 0x01
	ResultParam          Result = 0x03 // invalid parameter
	ResultUnknownCommand Result = 0x05

	ResultStartFailed   Result = 0x10
	ResultPauseFailed   Result = 0x11
	ResultResumeFailed  Result = 0x12
	ResultStopFailed    Result = 0x13
	ResultNoFileInfo    Result = 0x14
	ResultStreamDone    Result = 0x15 // batch flag: last batch of the job
	ResultStorageFault  Result = 0x16
	ResultUpdateRefused Result = 0x17
)

// Report is the payload of a [CmdReportStatus] notification.
type Report uint8

const (
	ReportPrintDone Report = iota
	ReportPausedByInstruction
	ReportPausedByInstructionFilament
	ReportPausedByFilament
	ReportStallGuard
	ReportTemperatureError
	ReportLinesError
)

func (r Report) String() string {
	switch r {
	case ReportPrintDone:
		return "print_done"
	case ReportPausedByInstruction:
		return "paused_by_instruction"
	case ReportPausedByInstructionFilament:
		return "paused_by_instruction_filament"
	case ReportPausedByFilament:
		return "paused_by_filament"
	case ReportStallGuard:
		return "stall_guard"
	case ReportTemperatureError:
		return "temperature_error"
	case ReportLinesError:
		return "lines_error"
	}
	return "unknown"
}

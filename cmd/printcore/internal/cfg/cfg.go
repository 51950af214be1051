// Package cfg contains common configuration variables.
package cfg

import (
	"log/slog"
	"sync"

	"github.com/rusq/osenv/v2"
	"github.com/spf13/pflag"
)

const DefaultFlashFile = "printcore-flash.bin"

var (
	TraceFile   string = osenv.Value("TRACE_FILE", "")
	LogFile     string = osenv.Value("LOG_FILE", "")
	JSONHandler bool   = osenv.Value("JSON_LOG", false)
	Verbose     bool   = osenv.Value("DEBUG", false)
	FlashFile   string = osenv.Value("PRINTCORE_FLASH", DefaultFlashFile)
	ConfigFile  string = osenv.Value("PRINTCORE_CONFIG", "")

	// Settings holds the tunables, from the config file if one is given.
	Settings = Default()

	Log *slog.Logger = slog.Default()
)

type FlagMask uint16

const (
	DefaultFlags   FlagMask = 0
	OmitFlashFlags FlagMask = 1 << (iota - 1)
	OmitConfigFlags

	OmitAll = OmitFlashFlags | OmitConfigFlags
)

// SetBaseFlags sets base flags.
func SetBaseFlags(fs *pflag.FlagSet, mask FlagMask) {
	fs.StringVar(&TraceFile, "trace", TraceFile, "trace `filename`")
	fs.StringVar(&LogFile, "log", LogFile, "log `file`, if not specified, messages are printed to STDERR")
	fs.BoolVar(&JSONHandler, "log-json", JSONHandler, "log in JSON format")
	fs.BoolVarP(&Verbose, "verbose", "v", Verbose, "verbose messages")

	if mask&OmitFlashFlags == 0 {
		fs.StringVar(&FlashFile, "flash", FlashFile, "flash image `file`, created erased if missing")
	}
	if mask&OmitConfigFlags == 0 {
		fs.StringVarP(&ConfigFile, "config", "c", ConfigFile, "YAML config `file`")
	}
}

// SetDebugLevel switches the default logger to debug level.
func SetDebugLevel() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

var (
	exitMu sync.Mutex
	atExit []func()
)

// AtExit registers fn to run when the command finishes.  Functions run in
// reverse order of registration.
func AtExit(fn func()) {
	exitMu.Lock()
	defer exitMu.Unlock()
	atExit = append(atExit, fn)
}

// RunAtExit runs the functions registered with [AtExit].
func RunAtExit() {
	exitMu.Lock()
	fns := atExit
	atExit = nil
	exitMu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

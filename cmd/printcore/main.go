package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime/trace"

	"github.com/spf13/cobra"

	"github.com/rusq/printcore/cmd/printcore/internal/cfg"
	"github.com/rusq/printcore/cmd/printcore/internal/cmdpowerloss"
	"github.com/rusq/printcore/cmd/printcore/internal/cmdsim"
	"github.com/rusq/printcore/cmd/printcore/internal/cmdupdate"
)

var rootCmd = &cobra.Command{
	Use:   "printcore",
	Short: "printer control plane tools",
	Long: `Printcore runs the 3D printer control plane against a simulated engine and
host, and inspects the records it keeps in flash.

Environment:
  DEBUG             verbose messages
  LOG_FILE          log file
  JSON_LOG          log in JSON format
  TRACE_FILE        runtime trace file
  PRINTCORE_FLASH   flash image file
  PRINTCORE_CONFIG  YAML config file
`,
	SilenceUsage:      true,
	PersistentPreRunE: initialise,
}

func init() {
	cfg.SetBaseFlags(rootCmd.PersistentFlags(), cfg.DefaultFlags)
	rootCmd.AddCommand(
		cmdsim.CmdSimulate,
		cmdupdate.CmdUpdate,
		cmdpowerloss.CmdPowerLoss,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	trapSigInfo()

	err := rootCmd.ExecuteContext(ctx)
	stop()
	cfg.RunAtExit()
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func initialise(cmd *cobra.Command, args []string) error {
	lg, err := initLog(cfg.LogFile, cfg.JSONHandler, cfg.Verbose)
	if err != nil {
		return err
	}
	cfg.Log = lg.With("command", cmd.Name())

	if cfg.ConfigFile != "" {
		c, err := cfg.Load(cfg.ConfigFile)
		if err != nil {
			return err
		}
		cfg.Settings = c
		cfg.Log.Debug("config loaded", "file", cfg.ConfigFile)
	}
	if img := cfg.Settings.Flash.Image; img != "" && !cmd.Flags().Changed("flash") {
		cfg.FlashFile = img
	}

	ctx, err := initTrace(cmd.Context(), cfg.TraceFile, cmd.Name())
	if err != nil {
		return fmt.Errorf("failed to start trace: %w", err)
	}
	cmd.SetContext(ctx)
	return nil
}

// initTrace starts the runtime trace into filename and wraps the command in
// a trace task.  Both end in [cfg.RunAtExit].  An empty filename disables
// tracing and returns ctx unchanged.
func initTrace(ctx context.Context, filename string, command string) (context.Context, error) {
	if filename == "" {
		return ctx, nil
	}
	f, err := os.Create(filename)
	if err != nil {
		return ctx, err
	}
	if err := trace.Start(f); err != nil {
		f.Close()
		return ctx, err
	}
	// registered first, so that it runs after the task has ended.
	cfg.AtExit(func() {
		trace.Stop()
		if err := f.Close(); err != nil {
			slog.Warn("failed to close trace file", "filename", filename, "error", err)
		}
	})
	cfg.Log.Debug("tracing", "filename", filename)

	ctx, task := trace.NewTask(ctx, command)
	cfg.AtExit(task.End)
	return ctx, nil
}

// initLog sets up the default logger.  Messages go to filename if it is set,
// and to stderr otherwise.
func initLog(filename string, jsonHandler bool, verbose bool) (*slog.Logger, error) {
	if verbose {
		cfg.SetDebugLevel()
	}
	var w io.Writer = os.Stderr
	if filename != "" {
		lf, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o666)
		if err != nil {
			return slog.Default(), fmt.Errorf("failed to create the log file: %w", err)
		}
		log.SetOutput(lf) // panics and stray log.Print calls land there too.
		cfg.AtExit(func() {
			if err := lf.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "failed to close the log file: %s\n", err)
			}
		})
		w = lf
	}
	if !jsonHandler && filename == "" {
		// keep the default handler, it already writes to stderr.
		return slog.Default(), nil
	}
	opts := &slog.HandlerOptions{
		Level: iftrue(verbose, slog.LevelDebug, slog.LevelInfo),
	}
	h := iftrue[slog.Handler](jsonHandler, slog.NewJSONHandler(w, opts), slog.NewTextHandler(w, opts))
	slog.SetDefault(slog.New(h))
	return slog.Default(), nil
}

func iftrue[T any](cond bool, t T, f T) T {
	if cond {
		return t
	}
	return f
}

package cmdsim

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/rusq/printcore"
	"github.com/rusq/printcore/cmd/printcore/internal/bootstrap"
	"github.com/rusq/printcore/cmd/printcore/internal/cfg"
	"github.com/rusq/printcore/metrics"
)

var CmdSimulate = &cobra.Command{
	Use:   "simulate [flags] <program.gcode>",
	Short: "print a G-code program on the simulated engine",
	Long: `Simulate streams a G-code program from a simulated host to a simulated
execution engine through the printer control plane.

The crash-recovery record and the update descriptor live in the flash image,
so an interrupted print (Ctrl+C) can be continued later with --resume.
`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

var (
	pauseAt     uint32
	runoutAt    uint32
	pauseFor    time.Duration
	dropEvery   int
	metricsAddr string
	resume      bool
	noProgress  bool
)

func init() {
	fs := CmdSimulate.Flags()
	fs.Uint32Var(&pauseAt, "pause-at", 0, "request a pause at `line`, 0 disables")
	fs.Uint32Var(&runoutAt, "runout-at", 0, "simulate a filament runout at `line`, 0 disables")
	fs.DurationVar(&pauseFor, "pause-for", time.Second, "time to stay paused before resuming")
	fs.IntVar(&dropEvery, "drop", -1, "host ignores every `n`th batch request, overrides sim.drop_every")
	fs.StringVar(&metricsAddr, "metrics", "", "serve prometheus metrics on `addr`, i.e. localhost:9090")
	fs.BoolVar(&resume, "resume", false, "continue an interrupted print of the same program")
	fs.BoolVar(&noProgress, "no-progress", false, "do not display the progress bar")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	program, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read program: %w", err)
	}
	dev, err := bootstrap.Flash()
	if err != nil {
		return err
	}

	var mc *metrics.Collector
	if metricsAddr != "" {
		mc = metrics.NewCollector(nil)
		go func() {
			if err := mc.Serve(ctx, metricsAddr); err != nil {
				cfg.Log.Warn("metrics server failed", "error", err)
			}
		}()
	}

	r := run{
		Program:   program,
		Name:      filepath.Base(args[0]),
		Dev:       dev,
		DropEvery: cfg.Settings.Sim.DropEvery,
		PauseAt:   pauseAt,
		RunoutAt:  runoutAt,
		PauseFor:  pauseFor,
		Resume:    resume,
		Metrics:   mc,
		OnStart: func(c *printcore.Controller) {
			cfg.RegisterSigInfoReporter(statusReporter(c))
		},
	}
	if dropEvery >= 0 {
		r.DropEvery = dropEvery
	}

	if !noProgress {
		pb, err := pterm.DefaultProgressbar.
			WithTotal(lineCount(program)).
			WithTitle(r.Name).
			WithRemoveWhenDone(true).
			Start()
		if err != nil {
			return fmt.Errorf("failed to start progress bar: %w", err)
		}
		var last int
		r.Progress = func(st printcore.Status) {
			if n := int(st.Line); n > last {
				pb.Add(n - last)
				last = n
			}
		}
		defer pb.Stop()
	}

	sum, err := simulate(ctx, r)
	if err != nil {
		return err
	}
	return printSummary(os.Stdout, sum)
}

// lineCount returns the number of lines in b, a trailing line without a
// newline included.
func lineCount(b []byte) int {
	n := bytes.Count(b, []byte{'\n'})
	if len(b) > 0 && b[len(b)-1] != '\n' {
		n++
	}
	return n
}

func printSummary(w io.Writer, sum Summary) error {
	outcome := pterm.Green("completed")
	if sum.Interrupted {
		outcome = pterm.Yellow("interrupted, resume with --resume")
	}
	data := pterm.TableData{
		{"File", sum.File.Name},
		{"Hash", sum.File.Hash},
		{"Outcome", outcome},
		{"Lines", fmt.Sprintf("%d..%d of %d", sum.FirstLine, sum.LastLine, sum.Lines)},
		{"Batch requests", strconv.Itoa(sum.Requests)},
		{"Dropped by host", strconv.Itoa(sum.Dropped)},
		{"Pauses", strconv.Itoa(sum.Pauses)},
		{"Elapsed", sum.Elapsed.Round(time.Millisecond).String()},
	}
	return pterm.DefaultTable.WithWriter(w).WithData(data).Render()
}

func statusReporter(c *printcore.Controller) cfg.InfoReportFunc {
	return func(w io.Writer) {
		st := c.Status()
		fmt.Fprintf(w, "job:\t%s (cause %s)\n", st.State, st.Cause)
		fmt.Fprintf(w, "file:\t%s [%s] id %s\n", st.File.Name, st.File.Hash, st.JobID)
		fmt.Fprintf(w, "stream:\t%s\n", st.Stream)
		fmt.Fprintf(w, "line:\t%d\n", st.Line)
		fmt.Fprintf(w, "feed:\t%.1f%%\n", st.Feedrate)
		fmt.Fprintf(w, "mode:\t%s\n", st.Mode)
		fmt.Fprintf(w, "queued:\t%d\n", st.Queued)
	}
}

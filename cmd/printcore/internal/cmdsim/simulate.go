package cmdsim

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rusq/printcore"
	"github.com/rusq/printcore/cmd/printcore/internal/bootstrap"
	"github.com/rusq/printcore/cmd/printcore/internal/cfg"
	"github.com/rusq/printcore/flash"
	"github.com/rusq/printcore/metrics"
	"github.com/rusq/printcore/printjob"
	"github.com/rusq/printcore/sacp"
	"github.com/rusq/printcore/sim"
)

var (
	ErrEmptyProgram = errors.New("program is empty")
	ErrHostSilent   = errors.New("host stopped answering batch requests")
)

// parkTimeout is how long an interrupted print is given to pause and save
// its line.
const parkTimeout = 2 * time.Second

// run describes one simulated print.
type run struct {
	Program   []byte
	Name      string
	Dev       flash.Device
	DropEvery int
	// PauseAt requests a pause once the engine reaches the line, RunoutAt
	// raises a filament runout.  Zero disables either.
	PauseAt  uint32
	RunoutAt uint32
	PauseFor time.Duration
	// Resume continues an interrupted print of the same program.
	Resume bool

	Metrics  *metrics.Collector
	OnStart  func(*printcore.Controller)
	Progress func(printcore.Status)
}

// Summary is the outcome of a simulated print.
type Summary struct {
	File        sacp.FileInfo
	Lines       int
	FirstLine   uint32
	LastLine    uint32
	Requests    int
	Dropped     int
	Pauses      int
	Elapsed     time.Duration
	Interrupted bool
}

func fileHash(program []byte) string {
	sum := md5.Sum(program)
	return hex.EncodeToString(sum[:])
}

// simulate prints r.Program on a simulated engine fed by a simulated host,
// all of it driven by a [printcore.Controller].  Cancelling ctx parks the
// job, so that a later run with Resume continues from the saved line.
func simulate(ctx context.Context, r run) (Summary, error) {
	host, err := sim.NewHost(bytes.NewReader(r.Program))
	if err != nil {
		return Summary{}, err
	}
	host.DropEvery(r.DropEvery)
	sum := Summary{
		File:  sacp.FileInfo{Hash: fileHash(r.Program), Name: r.Name},
		Lines: host.Lines(),
	}
	if sum.Lines == 0 {
		return sum, ErrEmptyProgram
	}
	lg := cfg.Log.With("file", sum.File.Name)

	reports := make(chan sacp.Report, 8)
	failed := make(chan error, 1)
	link := sim.NewLink(host, 64, func(ev sacp.Event) {
		switch {
		case ev.Command == sacp.CmdReportStatus && len(ev.Payload) > 0:
			select {
			case reports <- sacp.Report(ev.Payload[0]):
			default:
			}
		case ev.Attr == sacp.AttrAck && (ev.Command == sacp.CmdStart || ev.Command == sacp.CmdPowerLossResume):
			if res, err := sacp.DecodeResult(ev.Payload); err != nil || res != sacp.ResultSuccess {
				select {
				case failed <- fmt.Errorf("%s refused: result 0x%02x", ev.Command, res):
				default:
				}
			}
		default:
			lg.Debug("event from firmware", "event", ev)
		}
	})
	eng := sim.NewEngine(cfg.Settings.Sim.Capacity, cfg.Settings.Job.Extruders)
	ctrl := bootstrap.Controller(eng, link, r.Dev, printcore.WithMetrics(r.Metrics))
	if err := ctrl.Boot(); err != nil {
		lg.Warn("boot completed with errors", "error", err)
	}
	if r.OnStart != nil {
		r.OnStart(ctrl)
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	var runErr error
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		runErr = ctrl.Run(runCtx, link.C)
	}()
	defer func() {
		cancelRun()
		<-runDone
	}()
	go step(runCtx, eng, cfg.Settings.Sim.StepInterval)

	var seq uint16
	send := func(cmd sacp.Command, payload []byte) {
		seq++
		select {
		case link.C <- sim.Request(cmd, seq, payload):
		case <-runCtx.Done():
		}
	}

	started := time.Now()
	finish := func() {
		sum.Elapsed = time.Since(started)
		sum.Requests, sum.Dropped = host.Stats()
		sum.LastLine = eng.CurrentLine()
	}

	if id, ok := ctrl.Record().Get(); r.Resume && ok && id.Hash == sum.File.Hash {
		lg.Info("resuming interrupted print", "line", id.Line)
		sum.FirstLine = id.Line
		send(sacp.CmdPowerLossResume, nil)
	} else {
		if r.Resume {
			lg.Warn("no interrupted print of this program, starting from the beginning")
		}
		send(sacp.CmdStart, sacp.AppendFileInfo(nil, sum.File))
	}

	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	var (
		pauseDone  = r.PauseAt == 0
		runoutDone = r.RunoutAt == 0
		pausedAt   time.Time
		resuming   bool
	)
	for {
		select {
		case <-ctx.Done():
			lg.Info("interrupted, parking the job")
			sum.Interrupted = true
			park(ctrl, send)
			finish()
			return sum, nil
		case err := <-failed:
			finish()
			return sum, err
		case <-runDone:
			finish()
			return sum, fmt.Errorf("controller stopped: %w", runErr)
		case rep := <-reports:
			switch rep {
			case sacp.ReportPrintDone:
				finish()
				return sum, nil
			case sacp.ReportLinesError:
				finish()
				return sum, ErrHostSilent
			default:
				lg.Info("job paused", "reason", rep)
			}
		case <-tick.C:
			st := ctrl.Status()
			if r.Progress != nil {
				r.Progress(st)
			}
			switch st.State {
			case printjob.Printing:
				resuming = false
				if !pauseDone && st.Line >= r.PauseAt {
					lg.Info("requesting pause", "line", st.Line)
					send(sacp.CmdPause, nil)
					pauseDone = true
				} else if !runoutDone && st.Line >= r.RunoutAt {
					lg.Info("filament runout", "line", st.Line)
					ctrl.Notify(printjob.CauseFilament)
					runoutDone = true
				}
			case printjob.Paused:
				if resuming {
					break
				}
				if pausedAt.IsZero() {
					pausedAt = time.Now()
					sum.Pauses++
				}
				if time.Since(pausedAt) >= r.PauseFor {
					lg.Info("resuming", "paused_for", time.Since(pausedAt).Round(time.Millisecond))
					send(sacp.CmdResume, nil)
					pausedAt, resuming = time.Time{}, true
				}
			}
		}
	}
}

// park pauses a printing job and waits until the executed line is saved.
func park(ctrl *printcore.Controller, send func(sacp.Command, []byte)) {
	if ctrl.Status().State != printjob.Printing {
		return
	}
	send(sacp.CmdPause, nil)
	deadline := time.Now().Add(parkTimeout)
	for time.Now().Before(deadline) {
		if ctrl.Status().State == printjob.Paused {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	cfg.Log.Warn("job did not pause in time", "state", ctrl.Status().State)
}

// step executes one buffered batch per interval.
func step(ctx context.Context, eng *sim.Engine, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			eng.Step(1)
		}
	}
}

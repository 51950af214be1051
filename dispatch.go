package printcore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rusq/printcore/powerloss"
	"github.com/rusq/printcore/printjob"
	"github.com/rusq/printcore/sacp"
	"github.com/rusq/printcore/update"
)

// maxFeedrate is the largest feed rate override accepted, in percent.
const maxFeedrate = 500

// Handle dispatches an inbound event.  Direct commands are handled before
// Handle returns, deferred commands are queued for the next [Controller.Tick].
// An unknown command is answered with [sacp.ResultUnknownCommand] and its
// error returned.
func (c *Controller) Handle(ctx context.Context, ev sacp.Event) error {
	if err := ev.Validate(); err != nil {
		c.reply(ev, sacp.ResultPayload(sacp.ResultParam))
		return err
	}
	if ev.Attr == sacp.AttrAck && ev.Command != sacp.CmdBatch {
		// the host acknowledging a notification.
		c.lg.Debug("ack received", "event", ev)
		return nil
	}
	mode, err := ev.Command.Mode()
	if err != nil {
		c.reply(ev, sacp.ResultPayload(sacp.ResultUnknownCommand))
		return err
	}
	c.options.metrics.CommandDispatched(ev.Command, mode)
	if mode == sacp.Deferred {
		c.deferred = append(c.deferred, ev)
		c.lg.Debug("command deferred", "event", ev, "queued", len(c.deferred))
		c.snapshot()
		return nil
	}
	c.runDirect(ctx, ev)
	c.snapshot()
	return nil
}

func (c *Controller) reply(ev sacp.Event, payload []byte) {
	if err := c.send.Send(ev.Reply(payload)); err != nil {
		c.lg.Warn("reply failed", "command", ev.Command, "error", err)
	}
}

func (c *Controller) replyResult(ev sacp.Event, r sacp.Result) {
	c.reply(ev, sacp.ResultPayload(r))
}

// runDirect answers queries and flips flags.  It must not block.
func (c *Controller) runDirect(ctx context.Context, ev sacp.Event) {
	lg := c.lg.With("command", ev.Command, "src", ev.Source, "seq", ev.Sequence)
	switch ev.Command {
	case sacp.CmdFileInfo, sacp.CmdPowerLossStatus:
		id, ok := c.rec.Get()
		if !ok {
			c.replyResult(ev, sacp.ResultNoFileInfo)
			return
		}
		c.reply(ev, sacp.EncodeFileInfoReply(sacp.ResultSuccess, sacp.FileInfo{Hash: id.Hash, Name: id.Name}))

	case sacp.CmdPause:
		if err := c.job.Pause(ctx, ev.Origin); err != nil {
			lg.Warn("pause refused", "error", err)
			c.replyResult(ev, sacp.ResultPauseFailed)
		}

	case sacp.CmdResume:
		if err := c.job.Resume(ctx, ev.Origin); err != nil {
			lg.Warn("resume refused", "error", err)
			c.reply(ev, sacp.ResumeReply{Result: sacp.ResultResumeFailed}.Encode())
		}

	case sacp.CmdAutoParkStatus:
		c.reply(ev, sacp.EncodeFlagReply(sacp.ResultSuccess, c.eng.Mode() == printjob.ModeAutoPark))

	case sacp.CmdStopSingleExtrude:
		req, err := sacp.DecodeExtruderRequest(ev.Payload)
		if err != nil {
			lg.Warn("bad request", "error", err)
			c.replyResult(ev, sacp.ResultParam)
			return
		}
		pending, err := c.job.SetExtruder(ctx, ev.Origin, int(req.Extruder), req.Enable)
		if err != nil {
			lg.Warn("extruder change refused", "extruder", req.Extruder, "error", err)
			if errors.Is(err, printjob.ErrInvalidExtruder) {
				c.replyResult(ev, sacp.ResultParam)
			} else {
				c.replyResult(ev, sacp.ResultFailure)
			}
			return
		}
		if !pending {
			c.replyResult(ev, sacp.ResultSuccess)
		}

	case sacp.CmdSetFeedrate:
		req, err := sacp.DecodeFeedrateRequest(ev.Payload)
		if err != nil || req.Percent <= 0 || req.Percent > maxFeedrate {
			lg.Warn("bad feed rate", "percent", req.Percent, "error", err)
			c.replyResult(ev, sacp.ResultParam)
			return
		}
		c.eng.SetFeedrate(req.Percent)
		lg.Info("feed rate set", "percent", req.Percent)
		c.replyResult(ev, sacp.ResultSuccess)

	case sacp.CmdCurrentLine:
		c.reply(ev, sacp.EncodeLineReply(sacp.ResultSuccess, c.eng.CurrentLine()))

	case sacp.CmdTemperatureLock:
		// heaters may only be locked between jobs.
		c.reply(ev, sacp.EncodeFlagReply(sacp.ResultSuccess, c.job.State() == printjob.Idle))

	case sacp.CmdUpdateStatus:
		d, err := c.upd.Load()
		if err != nil {
			lg.Warn("update descriptor unreadable", "error", err)
			c.replyResult(ev, sacp.ResultFailure)
			return
		}
		c.reply(ev, sacp.EncodeUpdateStatusReply(sacp.ResultSuccess, uint16(d.Status), d.AppStartAddr))

	default:
		lg.Error("direct command without handler")
		c.replyResult(ev, sacp.ResultUnknownCommand)
	}
}

// runDeferred runs handlers that change the machine state.
func (c *Controller) runDeferred(ctx context.Context, now time.Time, ev sacp.Event) {
	lg := c.lg.With("command", ev.Command, "src", ev.Source, "seq", ev.Sequence)
	switch ev.Command {
	case sacp.CmdBatch:
		b, err := sacp.DecodeBatch(ev.Payload)
		if err != nil {
			lg.Warn("bad batch", "error", err)
			return
		}
		if err := c.job.Receive(now, b); err != nil {
			if errors.Is(err, printjob.ErrNotPrinting) {
				lg.Debug("batch dropped", "error", err)
				return
			}
			lg.Warn("batch not accepted", "error", err)
		}

	case sacp.CmdStart:
		fi, err := sacp.DecodeFileInfo(ev.Payload)
		if err != nil {
			lg.Warn("bad start request", "error", err)
			c.replyResult(ev, sacp.ResultParam)
			return
		}
		if err := c.job.Start(ctx, ev.Origin, fi); err != nil {
			lg.Warn("start refused", "error", err)
			c.replyResult(ev, sacp.ResultStartFailed)
			return
		}
		c.replyResult(ev, sacp.ResultSuccess)
		c.arm(now)

	case sacp.CmdStop:
		if err := c.job.Stop(ctx, ev.Origin); err != nil {
			lg.Warn("stop refused", "error", err)
			c.replyResult(ev, sacp.ResultStopFailed)
		}

	case sacp.CmdPowerLossResume:
		if err := c.job.Recover(ctx, ev.Origin); err != nil {
			lg.Warn("power-loss resume refused", "error", err)
			if errors.Is(err, powerloss.ErrMissingIdentity) {
				c.replyResult(ev, sacp.ResultNoFileInfo)
			} else {
				c.replyResult(ev, sacp.ResultStartFailed)
			}
			return
		}
		c.replyResult(ev, sacp.ResultSuccess)
		c.arm(now)

	case sacp.CmdPowerLossClear:
		if c.job.State() != printjob.Idle {
			lg.Warn("power-loss record in use", "state", c.job.State())
			c.replyResult(ev, sacp.ResultFailure)
			return
		}
		if err := c.rec.Clear(); err != nil {
			lg.Error("clearing crash-recovery record failed", "error", err)
			c.replyResult(ev, sacp.ResultStorageFault)
			return
		}
		c.replyResult(ev, sacp.ResultSuccess)

	case sacp.CmdSetMode:
		v, err := sacp.DecodeFlag(ev.Payload)
		if err != nil {
			c.replyResult(ev, sacp.ResultParam)
			return
		}
		c.setMode(lg, ev, printjob.Mode(v))

	case sacp.CmdSetAutoPark:
		v, err := sacp.DecodeFlag(ev.Payload)
		if err != nil {
			c.replyResult(ev, sacp.ResultParam)
			return
		}
		mode := printjob.ModeDefault
		if v != 0 {
			mode = printjob.ModeAutoPark
		}
		c.setMode(lg, ev, mode)

	case sacp.CmdUpdateRequest:
		c.requestUpdate(lg, ev)

	default:
		lg.Error("deferred command without handler")
		c.replyResult(ev, sacp.ResultUnknownCommand)
	}
}

func (c *Controller) arm(now time.Time) {
	if err := c.job.Arm(now); err != nil {
		c.lg.Warn("first batch request failed", "error", err)
	}
}

func (c *Controller) setMode(lg *slog.Logger, ev sacp.Event, mode printjob.Mode) {
	if err := c.job.SetMode(mode); err != nil {
		lg.Warn("mode change refused", "mode", mode, "error", err)
		if errors.Is(err, printjob.ErrInvalidMode) {
			c.replyResult(ev, sacp.ResultParam)
		} else {
			c.replyResult(ev, sacp.ResultFailure)
		}
		return
	}
	lg.Info("mode set", "mode", mode)
	c.replyResult(ev, sacp.ResultSuccess)
}

func (c *Controller) requestUpdate(lg *slog.Logger, ev sacp.Event) {
	d, err := update.Decode(ev.Payload)
	if err != nil {
		lg.Warn("bad update request", "error", err)
		c.replyResult(ev, sacp.ResultParam)
		return
	}
	if s := c.job.State(); s != printjob.Idle {
		lg.Warn("update refused while a job is active", "state", s)
		c.replyResult(ev, sacp.ResultUpdateRefused)
		return
	}
	if err := c.upd.Request(d, uint8(ev.Source), ev.ReceiverID); err != nil {
		switch {
		case errors.Is(err, update.ErrChecksumMismatch),
			errors.Is(err, update.ErrAddressMisaligned),
			errors.Is(err, update.ErrAddressTooLow):
			c.replyResult(ev, sacp.ResultUpdateRefused)
		default:
			lg.Error("update descriptor commit failed", "error", err)
			c.replyResult(ev, sacp.ResultStorageFault)
		}
		return
	}
	c.replyResult(ev, sacp.ResultSuccess)
	if c.options.rebooter == nil {
		lg.Warn("no bootloader hand-over configured")
		return
	}
	lg.Info("rebooting into the bootloader")
	if err := c.options.rebooter.RebootToBootloader(); err != nil {
		lg.Error("reboot failed", "error", err)
	}
}

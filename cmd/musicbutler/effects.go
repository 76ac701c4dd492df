package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EffectDeps are the collaborators runEffect talks to.
// Printer is nil when printing is disabled for this process.
type EffectDeps struct {
	Service ContentService
	Printer StickerPrinter
	Mixer   VolumeSetter

	// Quit cancels the root context.
	Quit func()

	// Timeout bounds one play/print/toggle action. Zero means apiTimeout.
	Timeout time.Duration
}

// runEffect executes a single reducer-emitted Command and emits observation Events via onEvent.
//
// Design rules:
// - This function is allowed to perform I/O.
// - It must never call Reduce() directly; it only emits Events to be reduced by the daemon loop.
func runEffect(
	ctx context.Context,
	deps *EffectDeps,
	cmd Command,
	logger *slog.Logger,
	onEvent func(Event),
) {
	if onEvent == nil {
		return
	}
	if deps == nil {
		onEvent(ActionFailed{Command: cmd, Err: errNoDeps{}, At: time.Now()})
		return
	}

	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = apiTimeout
	}

	switch c := cmd.(type) {
	case CmdReport:
		logger.Log(ctx, c.Level, c.Msg, c.Attrs...)

	case CmdPlay:
		log := logger.With("action", "play", "action_id", uuid.NewString(), "uri", c.ID.String())
		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if info, err := deps.Service.ContentInfo(actx, c.ID); err == nil {
			log.Info("now playing", "content", info.Display())
		} else {
			log.Debug("content info lookup failed", "error", err)
		}

		dev, err := playContent(actx, deps.Service, c.ID)
		if err != nil {
			failAction(log, cmd, err, onEvent)
			return
		}
		actionsTotal.WithLabelValues("play", "ok").Inc()
		log.Info("playback started", "device", dev.Name)
		onEvent(PlaybackStarted{ID: c.ID, At: time.Now()})

	case CmdTogglePlayback:
		log := logger.With("action", "toggle", "action_id", uuid.NewString())
		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		playing, err := togglePlayback(actx, deps.Service, c.Remembered)
		if err != nil {
			failAction(log, cmd, err, onEvent)
			return
		}
		actionsTotal.WithLabelValues("toggle", "ok").Inc()
		if playing {
			log.Info("resumed")
		} else {
			log.Info("paused")
		}
		onEvent(PlaybackToggled{Playing: playing, At: time.Now()})

	case CmdPrintSticker:
		log := logger.With("action", "print", "action_id", uuid.NewString(), "uri", c.ID.String())
		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		title, err := printSticker(actx, deps.Service, deps.Printer, c.ID)
		if err != nil {
			failAction(log, cmd, err, onEvent)
			return
		}
		actionsTotal.WithLabelValues("print", "ok").Inc()
		log.Info("sticker printed", "title", title)
		onEvent(StickerPrinted{URI: c.ID.String(), Title: title, At: time.Now()})

	case CmdPrintCurrent:
		log := logger.With("action", "print_current", "action_id", uuid.NewString())
		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		target, title, err := printCurrent(actx, deps.Service, deps.Printer, c.Remembered)
		if err != nil {
			failAction(log, cmd, err, onEvent)
			return
		}
		actionsTotal.WithLabelValues("print_current", "ok").Inc()
		log.Info("sticker printed", "source", target.Label, "uri", target.ID.String(), "title", title)
		onEvent(StickerPrinted{URI: target.ID.String(), Title: title, At: time.Now()})

	case CmdSetVolume:
		if deps.Mixer != nil {
			if err := deps.Mixer.SetVolume(ctx, c.Percent); err != nil {
				// Mixer failures stay at debug level.
				logger.Debug("set volume failed", "percent", c.Percent, "error", err)
			}
		}
		volumeGauge.Set(float64(c.Percent))
		onEvent(VolumeApplied{Percent: c.Percent, At: time.Now()})

	case CmdPublishStateSnapshot:
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}
		// Never block the daemon loop on a slow requester.
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	case CmdQuit:
		logger.Info("quit requested")
		if deps.Quit != nil {
			deps.Quit()
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
		onEvent(ActionFailed{Command: cmd, Err: errUnknownCommand{cmd: cmd}, At: time.Now()})
	}
}

// failAction logs a recoverable per-action failure with a remediation hint and reports it.
func failAction(log *slog.Logger, cmd Command, err error, onEvent func(Event)) {
	actionsTotal.WithLabelValues(actionName(cmd), "error").Inc()

	attrs := []any{"error", err}
	if hint := remediationHint(err); hint != "" {
		attrs = append(attrs, "hint", hint)
	}
	log.Error("action failed", attrs...)
	onEvent(ActionFailed{Command: cmd, Err: err, At: time.Now()})
}

func actionName(cmd Command) string {
	switch cmd.(type) {
	case CmdPlay:
		return "play"
	case CmdTogglePlayback:
		return "toggle"
	case CmdPrintSticker:
		return "print"
	case CmdPrintCurrent:
		return "print_current"
	default:
		return "other"
	}
}

// remediationHint maps known failures to console advice.
func remediationHint(err error) string {
	var perr *PrinterError
	switch {
	case errors.Is(err, ErrNoActiveDevice):
		return "open Spotify on a device or check the Connect receiver (sudo systemctl status raspotify)"
	case errors.Is(err, ErrNothingToPlay):
		return "scan a code first"
	case errors.Is(err, ErrUnsupportedContext):
		return "only playlists and albums can be printed; start one from a playlist or album"
	case errors.Is(err, ErrNoAlbumForTrack):
		return "the current track has no album to print"
	case errors.Is(err, ErrNothingToPrint):
		return "play a playlist or album first"
	case errors.Is(err, ErrPrinterDisabled):
		return "printer was not detected at start-up; check printer.vendor_id/product_id and restart"
	case errors.As(err, &perr):
		return perr.Hint()
	case errors.Is(err, context.DeadlineExceeded):
		return "the music service did not answer in time; check network connectivity"
	default:
		return ""
	}
}

// errNoDeps indicates the daemon was asked to execute a command without collaborators.
type errNoDeps struct{}

func (errNoDeps) Error() string { return "no effect dependencies configured" }

type errUnknownCommand struct {
	cmd Command
}

func (e errUnknownCommand) Error() string { return "unknown command: " + e.cmd.String() }

package main

import (
	"log/slog"
	"time"
)

// This file implements the reducer:
//
//   - Events: inputs (scans, keys, encoder, IPC), ticks and effect observations
//   - Commands: side effects requested by the reducer (play, print, mixer, console reports)
//   - Reduce(): computes next state + commands, without performing I/O
//
// The daemon loop is responsible for executing Commands and feeding observations back as Events.

// ReducerConfig is the policy the reducer applies to raw inputs.
type ReducerConfig struct {
	// EncoderVolumeStep is the percent change per encoder detent.
	EncoderVolumeStep int

	// InvertRotation negates encoder deltas. The stock seesaw knob needs this to turn
	// clockwise = louder; recalibrate for other hardware.
	InvertRotation bool

	MinVolume int
	MaxVolume int
}

// StateBroadcast is a reducer-emitted notification for external observers.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastStateChanged carries the snapshot after a state change.
type BroadcastStateChanged struct {
	Snapshot StateSnapshot
	At       time.Time
}

func (BroadcastStateChanged) broadcastMarker() {}

// ReduceResult is the output of Reduce(): next state, Commands to execute and
// broadcasts for observers.
type ReduceResult struct {
	State      *ButlerState
	Commands   []Command
	Broadcasts []StateBroadcast
}

// Reduce is the pure reducer.
//
// Rules:
// - Must not perform I/O
// - Must not block
// - Must not mutate anything outside the returned state
func Reduce(s *ButlerState, e Event, cfg ReducerConfig) ReduceResult {
	if s == nil {
		s = &ButlerState{}
	}

	before := s.Snapshot()
	at := time.Time{}

	if te, ok := e.(TimedEvent); ok {
		e = te.Event
		at = te.At
	}

	var cmds []Command

	switch ev := e.(type) {
	case Tick:
		at = ev.Now
		// Flush the volume intent (coalesced latest-wins).
		if s.Volume.Desired != nil {
			v := *s.Volume.Desired
			s.Volume.Desired = nil
			s.Volume.Percent = v
			cmds = append(cmds, CmdSetVolume{Percent: v})
		}

	case ScanDecoded:
		cmds = append(cmds, reduceScan(s, ev.Payload, at)...)

	case ToggleMode:
		if !s.PrinterEnabled && s.Mode == ModePlay {
			cmds = append(cmds, report(slog.LevelWarn, "cannot switch to print mode: printer not available"))
			break
		}
		if s.Mode == ModePlay {
			s.Mode = ModePrint
		} else {
			s.Mode = ModePlay
		}
		cmds = append(cmds, report(slog.LevelInfo, "mode switched", "mode", s.Mode.String()))

	case PrintCurrent:
		cmds = append(cmds, printCurrentCommand(s)...)

	case PlayPause:
		cmds = append(cmds, CmdTogglePlayback{Remembered: s.rememberedContext()})

	case ButtonPressed:
		if ev.Double {
			cmds = append(cmds, printCurrentCommand(s)...)
		} else {
			cmds = append(cmds, CmdTogglePlayback{Remembered: s.rememberedContext()})
		}

	case VolumeAdjust:
		s.SetDesiredVolume(clampVolume(s.baselineVolume()+ev.Delta, cfg))

	case EncoderRotated:
		change := ev.Delta * cfg.EncoderVolumeStep
		if cfg.InvertRotation {
			change = -change
		}
		s.SetDesiredVolume(clampVolume(s.baselineVolume()+change, cfg))

	case Quit:
		if !s.Quitting {
			s.Quitting = true
			cmds = append(cmds, CmdQuit{})
		}

	case RequestStateSnapshot:
		cmds = append(cmds, CmdPublishStateSnapshot{Snapshot: s.Snapshot(), Reply: ev.Reply})

	case PlaybackStarted:
		id := ev.ID
		s.Playback.Context = &id
		s.Playback.Playing = true
		s.Playback.At = ev.At
		s.LastError = ""

	case PlaybackToggled:
		s.Playback.Playing = ev.Playing
		s.Playback.At = ev.At
		s.LastError = ""

	case StickerPrinted:
		s.Stats.Printed++
		s.LastPrinted = ev.URI
		s.LastError = ""

	case VolumeApplied:
		s.Volume.Percent = ev.Percent

	case ActionFailed:
		if ev.Err != nil {
			s.LastError = ev.Err.Error()
		}
		s.LastErrorAt = ev.At

	default:
		// Unknown event type: no-op.
	}

	rr := ReduceResult{State: s, Commands: cmds}
	if after := s.Snapshot(); after != before {
		rr.Broadcasts = append(rr.Broadcasts, BroadcastStateChanged{Snapshot: after, At: at})
	}
	return rr
}

// reduceScan applies the cooldown debouncer to a decoded payload and routes
// valid identifiers according to the current mode.
func reduceScan(s *ButlerState, payload string, at time.Time) []Command {
	d := s.Scanner.Observe(payload, at)
	if !d.Act {
		if d.Remaining > 0 {
			return []Command{report(slog.LevelDebug, "same code detected during cooldown",
				"remaining", d.Remaining.Round(100*time.Millisecond).String())}
		}
		return nil
	}

	if !d.Valid {
		s.Stats.Invalid++
		return []Command{invalidCodeReport(payload)}
	}

	s.Stats.Dispatched++

	switch s.Mode {
	case ModePrint:
		if !s.PrinterEnabled {
			return []Command{report(slog.LevelWarn, "print mode active but printer not available", "uri", d.ID.String())}
		}
		return []Command{
			report(slog.LevelInfo, "code detected, printing sticker", "uri", d.ID.String()),
			CmdPrintSticker{ID: d.ID},
		}
	default:
		return []Command{
			report(slog.LevelInfo, "code detected, starting playback", "uri", d.ID.String()),
			CmdPlay{ID: d.ID},
		}
	}
}

func printCurrentCommand(s *ButlerState) []Command {
	if !s.PrinterEnabled {
		return []Command{report(slog.LevelWarn, "printer not available, cannot print current content")}
	}
	return []Command{CmdPrintCurrent{Remembered: s.rememberedContext()}}
}

// invalidCodeReport builds the diagnostic for a decoded payload that is not a content identifier.
func invalidCodeReport(payload string) CmdReport {
	attrs := []any{
		"payload", payload,
		"length", len(payload),
		"expected", "spotify:playlist:ID | spotify:album:ID | spotify:track:ID",
	}
	if looksLikeURL(payload) {
		if id, err := IdentifierFromURL(payload); err == nil {
			attrs = append(attrs, "hint", "web link detected; encode "+id.String()+" instead")
		} else {
			attrs = append(attrs, "hint", "web link detected; encode the spotify: URI instead")
		}
	} else {
		attrs = append(attrs, "hint", "code may belong to another service or be damaged")
	}
	if len(payload) > 60 {
		attrs = append(attrs, "first", payload[:30], "last", payload[len(payload)-30:])
	}
	return report(slog.LevelWarn, "not a supported content identifier", attrs...)
}

func report(level slog.Level, msg string, attrs ...any) CmdReport {
	return CmdReport{Level: level, Msg: msg, Attrs: attrs}
}

func clampVolume(v int, cfg ReducerConfig) int {
	lo, hi := cfg.MinVolume, cfg.MaxVolume
	if hi == 0 && lo == 0 {
		hi = 100
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

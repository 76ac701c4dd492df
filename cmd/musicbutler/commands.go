package main

import (
	"fmt"
	"log/slog"
)

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon loop.
type Command interface {
	commandMarker()
	String() string
}

// CmdPlay starts playback of ID on the active device.
type CmdPlay struct {
	ID Identifier
}

func (CmdPlay) commandMarker()   {}
func (c CmdPlay) String() string { return fmt.Sprintf("CmdPlay(%s)", c.ID) }

// CmdPrintSticker prints a sticker for ID.
type CmdPrintSticker struct {
	ID Identifier
}

func (CmdPrintSticker) commandMarker()   {}
func (c CmdPrintSticker) String() string { return fmt.Sprintf("CmdPrintSticker(%s)", c.ID) }

// CmdPrintCurrent prints a sticker for the live playback context.
// Remembered is the last successfully played content, used when nothing is live.
type CmdPrintCurrent struct {
	Remembered *Identifier
}

func (CmdPrintCurrent) commandMarker() {}
func (c CmdPrintCurrent) String() string {
	if c.Remembered == nil {
		return "CmdPrintCurrent(remembered=none)"
	}
	return fmt.Sprintf("CmdPrintCurrent(remembered=%s)", *c.Remembered)
}

// CmdTogglePlayback pauses or resumes playback. Remembered is started when
// the service has nothing to resume.
type CmdTogglePlayback struct {
	Remembered *Identifier
}

func (CmdTogglePlayback) commandMarker() {}
func (c CmdTogglePlayback) String() string {
	if c.Remembered == nil {
		return "CmdTogglePlayback(remembered=none)"
	}
	return fmt.Sprintf("CmdTogglePlayback(remembered=%s)", *c.Remembered)
}

// CmdSetVolume sets the system mixer volume in percent.
type CmdSetVolume struct {
	Percent int
}

func (CmdSetVolume) commandMarker()   {}
func (c CmdSetVolume) String() string { return fmt.Sprintf("CmdSetVolume(percent=%d)", c.Percent) }

// CmdReport is a user-facing console diagnostic. The reducer cannot log, so it emits these.
type CmdReport struct {
	Level slog.Level
	Msg   string
	Attrs []any
}

func (CmdReport) commandMarker()   {}
func (c CmdReport) String() string { return fmt.Sprintf("CmdReport(%s %q)", c.Level, c.Msg) }

// CmdPublishStateSnapshot delivers a snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Snapshot StateSnapshot
	Reply    chan<- StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }

// CmdQuit stops the process.
type CmdQuit struct{}

func (CmdQuit) commandMarker() {}
func (CmdQuit) String() string { return "CmdQuit()" }

package main

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const overlayLineHeight = 15

var (
	overlayBackdrop = image.NewUniform(color.RGBA{0, 0, 0, 160})
	overlayText     = image.NewUniform(color.RGBA{255, 255, 255, 255})
	overlayError    = image.NewUniform(color.RGBA{255, 60, 60, 255})
)

// overlayInfo is everything drawn on top of a preview frame.
type overlayInfo struct {
	Snapshot   StateSnapshot
	Now        time.Time
	Detections uint64
	Debug      bool
}

func (o overlayInfo) lines() []string {
	s := o.Snapshot
	mode := strings.ToUpper(s.Mode)
	if !s.PrinterEnabled {
		mode += " (no printer)"
	}
	status := "paused"
	if s.Playing {
		status = "playing"
	}

	lines := []string{
		"Mode: " + mode,
		fmt.Sprintf("Volume: %d%%  %s", s.Volume, status),
		fmt.Sprintf("Scans: %d  invalid: %d  printed: %d  seen: %d", s.Dispatched, s.Invalid, s.Printed, o.Detections),
	}
	if rem := s.CooldownRemaining(o.Now); rem > 0 {
		lines = append(lines, fmt.Sprintf("Cooldown: %.1fs", rem.Seconds()))
	}
	lines = append(lines, "[m] mode  [p] print  [space] play/pause  [+/-] volume  [q] quit")
	if o.Debug {
		lines = append(lines, "DEBUG")
		if s.Context != "" {
			lines = append(lines, "ctx "+truncateLabel(s.Context, 40))
		}
	}
	return lines
}

// DrawOverlay renders the status panel in the top-left corner and the last
// error, if any, along the bottom edge.
func DrawOverlay(dst draw.Image, info overlayInfo) {
	lines := info.lines()
	b := dst.Bounds()

	width := 0
	face := basicfont.Face7x13
	for _, l := range lines {
		if w := font.MeasureString(face, l).Ceil(); w > width {
			width = w
		}
	}
	panel := image.Rect(b.Min.X, b.Min.Y, b.Min.X+width+12, b.Min.Y+len(lines)*overlayLineHeight+8)
	draw.Draw(dst, panel, overlayBackdrop, image.Point{}, draw.Over)

	d := &font.Drawer{Dst: dst, Src: overlayText, Face: face}
	for i, l := range lines {
		d.Dot = fixed.P(b.Min.X+6, b.Min.Y+(i+1)*overlayLineHeight)
		d.DrawString(l)
	}

	if msg := info.Snapshot.LastError; msg != "" {
		msg = "Error: " + truncateLabel(msg, 80)
		bar := image.Rect(b.Min.X, b.Max.Y-overlayLineHeight-6, b.Max.X, b.Max.Y)
		draw.Draw(dst, bar, overlayBackdrop, image.Point{}, draw.Over)
		d.Src = overlayError
		d.Dot = fixed.P(b.Min.X+6, b.Max.Y-6)
		d.DrawString(msg)
	}
}

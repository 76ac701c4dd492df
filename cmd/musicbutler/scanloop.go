package main

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"
)

// maxConsecutiveFrameErrors ends the scan loop when the camera stops delivering.
const maxConsecutiveFrameErrors = 50

// detectionLogInterval throttles the debug "QR detected" line per payload.
const detectionLogInterval = time.Second

// scanLoop reads frames, decodes QR codes and hands payloads to the daemon.
// It never blocks on the daemon: payloads are dropped when the queue is full.
type scanLoop struct {
	src       FrameSource
	decoder   *Decoder
	events    chan<- Event
	preview   *Preview // nil when the preview is disabled
	snapshots *SnapshotStore
	fps       int
	debug     bool
	logger    *slog.Logger

	lastLogged   string
	lastLoggedAt time.Time
	lastPreview  time.Time
}

func (l *scanLoop) Run(ctx context.Context) error {
	failures := 0
	for {
		frame, err := l.src.Next(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if isFrameTimeout(err) {
				continue
			}
			failures++
			l.logger.Warn("camera read failed", "error", err, "consecutive", failures)
			if failures >= maxConsecutiveFrameErrors {
				return fmt.Errorf("camera stopped delivering frames: %w", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		failures = 0

		det, found := l.decoder.Decode(frame)
		if found {
			l.logDetection(det)
			if !sendEvent(l.events, ScanDecoded{Payload: det.Text}, "camera") {
				l.logger.Debug("event queue full, dropping scan", "payload", truncateLabel(det.Text, 30))
			}
		}

		if l.preview != nil {
			l.publishPreview(frame, det, found)
		}
	}
}

func (l *scanLoop) logDetection(det Detection) {
	if !l.debug {
		return
	}
	now := time.Now()
	if det.Text == l.lastLogged && now.Sub(l.lastLoggedAt) < detectionLogInterval {
		return
	}
	l.lastLogged, l.lastLoggedAt = det.Text, now
	l.logger.Debug("QR detected", "payload", truncateLabel(det.Text, 60), "valid", IsValid(det.Text))
}

func (l *scanLoop) publishPreview(frame image.Image, det Detection, found bool) {
	now := time.Now()
	if l.fps > 0 && now.Sub(l.lastPreview) < time.Second/time.Duration(l.fps) {
		return
	}
	l.lastPreview = now

	snap := l.snapshots.Load()
	canvas := imaging.Clone(frame)
	if found {
		Annotate(canvas, det, modeFromSnapshot(snap), l.debug)
	}
	DrawOverlay(canvas, overlayInfo{
		Snapshot:   snap,
		Now:        now,
		Detections: l.decoder.Detections(),
		Debug:      l.debug,
	})
	if err := l.preview.Publish(canvas); err != nil {
		l.logger.Debug("preview publish failed", "error", err)
	}
}

func modeFromSnapshot(s StateSnapshot) Mode {
	if s.Mode == ModePrint.String() {
		return ModePrint
	}
	return ModePlay
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// keyEvent maps a key press to a daemon event. step is the volume step for +/-.
func keyEvent(code uint16, step int) (Event, bool) {
	switch code {
	case KEY_Q:
		return Quit{}, true
	case KEY_M:
		return ToggleMode{}, true
	case KEY_P:
		return PrintCurrent{}, true
	case KEY_SPACE, KEY_PLAYPAUSE:
		return PlayPause{}, true
	case KEY_EQUAL, KEY_KPPLUS, KEY_VOLUMEUP:
		return VolumeAdjust{Delta: step}, true
	case KEY_MINUS, KEY_KPMINUS, KEY_VOLUMEDOWN:
		return VolumeAdjust{Delta: -step}, true
	default:
		return nil, false
	}
}

// repeatable reports whether holding the key should keep firing.
func repeatable(ev Event) bool {
	_, ok := ev.(VolumeAdjust)
	return ok
}

// runKeyboard reads the configured evdev devices until ctx is canceled.
func runKeyboard(ctx context.Context, devices []string, step int, events chan<- Event, logger *slog.Logger) error {
	files := make([]*os.File, 0, len(devices))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, path := range devices {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open keyboard %s: %w (run as root or add the user to the 'input' group)", path, err)
		}
		files = append(files, f)
	}

	logger.Info("keyboard controls active", "devices", devices)
	return readInputEventsEpoll(ctx, files, func(ie inputEvent) {
		if ie.Type != EV_KEY || ie.Value == evValueRelease {
			return
		}
		ev, ok := keyEvent(ie.Code, step)
		if !ok {
			return
		}
		if ie.Value == evValueRepeat && !repeatable(ev) {
			return
		}
		if !sendEvent(events, ev, "keyboard") {
			logger.Warn("event queue full, dropping key", "code", ie.Code)
		}
	})
}

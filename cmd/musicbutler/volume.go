package main

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// VolumeSetter applies a system volume in percent.
type VolumeSetter interface {
	SetVolume(ctx context.Context, percent int) error
}

// AmixerVolume drives the ALSA mixer through the amixer command.
type AmixerVolume struct {
	// Control is the simple mixer control name, e.g. "Master" or "PCM".
	Control string

	// Card is passed as -c when non-empty.
	Card string
}

// amixerTimeout keeps a wedged mixer from stalling the daemon loop.
const amixerTimeout = 2 * time.Second

// SetVolume runs `amixer [-c card] -q set <control> N%`.
func (a AmixerVolume) SetVolume(ctx context.Context, percent int) error {
	ctx, cancel := context.WithTimeout(ctx, amixerTimeout)
	defer cancel()

	args := []string{"-q"}
	if a.Card != "" {
		args = append(args, "-c", a.Card)
	}
	args = append(args, "set", a.Control, fmt.Sprintf("%d%%", percent))

	out, err := exec.CommandContext(ctx, "amixer", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("amixer %s: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

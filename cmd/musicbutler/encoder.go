package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ============================================================================
// Rotary encoder + push button
// ============================================================================

// ButtonDetector turns raw press/release edges into single and double presses.
//
// A press inside the double-press window of the previous press is a double press
// and consumes both. A press outside the window becomes a single press once the
// window has elapsed and the button is up (on release or via Flush).
type ButtonDetector struct {
	Window time.Duration

	lastPress time.Time
}

// Press handles a press edge. It reports a double press when one completes.
func (b *ButtonDetector) Press(now time.Time) (ButtonPressed, bool) {
	if !b.lastPress.IsZero() && now.Sub(b.lastPress) < b.Window {
		b.lastPress = time.Time{}
		return ButtonPressed{Double: true}, true
	}
	b.lastPress = now
	return ButtonPressed{}, false
}

// Release handles a release edge.
func (b *ButtonDetector) Release(now time.Time) (ButtonPressed, bool) {
	return b.Flush(now)
}

// Flush emits a pending single press whose window has elapsed. Call it only
// while the button is released.
func (b *ButtonDetector) Flush(now time.Time) (ButtonPressed, bool) {
	if b.lastPress.IsZero() || now.Sub(b.lastPress) < b.Window {
		return ButtonPressed{}, false
	}
	b.lastPress = time.Time{}
	return ButtonPressed{Double: false}, true
}

// Pending reports whether a press is waiting for its window to close.
func (b *ButtonDetector) Pending() bool { return !b.lastPress.IsZero() }

// encoderDevice is the hardware the poller reads.
type encoderDevice interface {
	Position() (int32, error)
	ButtonDown() (bool, error)
	Close() error
}

// Encoder polls an encoderDevice and forwards rotation and button events.
type Encoder struct {
	dev          encoderDevice
	events       chan<- Event
	logger       *slog.Logger
	poll         time.Duration
	errorBackoff time.Duration
	detector     ButtonDetector

	// now is replaceable in tests.
	now func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEncoder builds a poller; it does not start it.
func NewEncoder(dev encoderDevice, events chan<- Event, cfg EncoderConfig, logger *slog.Logger) *Encoder {
	poll := time.Duration(cfg.PollMS) * time.Millisecond
	if poll <= 0 {
		poll = defaultEncoderPollMS * time.Millisecond
	}
	window := time.Duration(cfg.DoublePressMS) * time.Millisecond
	if window <= 0 {
		window = defaultDoublePressMS * time.Millisecond
	}
	return &Encoder{
		dev:          dev,
		events:       events,
		logger:       logger,
		poll:         poll,
		errorBackoff: defaultEncoderErrorMS * time.Millisecond,
		detector:     ButtonDetector{Window: window},
		now:          time.Now,
		done:         make(chan struct{}),
	}
}

// Run polls until ctx is canceled or Stop is called. It always returns nil on
// cancellation; I2C errors are logged and retried.
func (e *Encoder) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer close(e.done)
	defer cancel()

	var (
		prev     int32
		havePrev bool
		down     bool
	)

	for {
		wait := e.poll
		if err := e.pollOnce(&prev, &havePrev, &down); err != nil {
			e.logger.Debug("encoder read failed", "error", err)
			wait = e.errorBackoff
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (e *Encoder) pollOnce(prev *int32, havePrev, down *bool) error {
	pos, err := e.dev.Position()
	if err != nil {
		return err
	}
	if *havePrev {
		if delta := int(pos - *prev); delta != 0 {
			e.send(EncoderRotated{Delta: delta}, "encoder")
		}
	}
	*prev, *havePrev = pos, true

	isDown, err := e.dev.ButtonDown()
	if err != nil {
		return err
	}
	now := e.now()
	switch {
	case isDown && !*down:
		if bp, ok := e.detector.Press(now); ok {
			e.send(bp, "button")
		}
	case !isDown && *down:
		if bp, ok := e.detector.Release(now); ok {
			e.send(bp, "button")
		}
	case !isDown:
		if bp, ok := e.detector.Flush(now); ok {
			e.send(bp, "button")
		}
	}
	*down = isDown
	return nil
}

func (e *Encoder) send(ev Event, source string) {
	if !sendEvent(e.events, ev, source) {
		e.logger.Warn("event queue full, dropping input", "source", source)
	}
}

var errEncoderStopTimeout = errors.New("encoder did not stop within 1s")

// Stop cancels Run and waits up to one second for it to return.
func (e *Encoder) Stop() error {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-e.done:
		return nil
	case <-time.After(time.Second):
		return errEncoderStopTimeout
	}
}

// Close releases the device. Call after Stop.
func (e *Encoder) Close() error {
	return e.dev.Close()
}

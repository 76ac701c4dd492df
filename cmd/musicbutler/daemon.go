package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// Design rules enforced here:
//   - The reducer performs no I/O and computes: next state + commands.
//   - The daemon loop is the only place that executes side effects (play, print, mixer).
//   - Effect results are turned into Events and fed back into the reducer.
//   - Input goroutines (camera, encoder, keyboard, IPC) only send Events; they never
//     touch ButlerState.
//
// ============================================================================

// daemonOptions groups the daemon loop's outputs.
type daemonOptions struct {
	UpdateHz int

	// Broadcasts receives reducer-emitted broadcasts (may be nil).
	Broadcasts chan<- StateBroadcast

	// Snapshots is updated after every state change (may be nil).
	Snapshots *SnapshotStore
}

// runDaemon is the main daemon loop that:
//   - Receives Events from multiple sources
//   - Emits Tick events on a fixed cadence
//   - Reduces events into (state, commands)
//   - Executes commands and feeds observations back into the reducer
//
// Shutdown semantics:
//   - Exits when ctx is canceled
//   - Exits cleanly when the events channel is closed
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	deps *EffectDeps,
	cfg ReducerConfig,
	state *ButlerState,
	opts daemonOptions,
	logger *slog.Logger,
) {
	if state == nil {
		logger.Error("daemon state is nil")
		return
	}

	updateHz := opts.UpdateHz
	if updateHz <= 0 {
		updateHz = defaultUpdateHz
	}
	ticker := time.NewTicker(time.Second / time.Duration(updateHz))
	defer ticker.Stop()

	if opts.Snapshots != nil {
		opts.Snapshots.Store(state.Snapshot())
	}

	// Explicit queues:
	// - eventQueue holds events awaiting reduction
	// - cmdQueue holds commands awaiting execution
	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}

	publish := func(bcs []StateBroadcast) {
		for _, b := range bcs {
			if bc, ok := b.(BroadcastStateChanged); ok && opts.Snapshots != nil {
				opts.Snapshots.Store(bc.Snapshot)
			}
			if opts.Broadcasts == nil {
				continue
			}
			select {
			case opts.Broadcasts <- b:
			default:
				logger.Debug("broadcast queue full, dropping state broadcast")
			}
		}
	}

	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			statsBefore := state.Stats
			rr := Reduce(state, ev, cfg)
			if rr.State != nil {
				state = rr.State
			}
			if te, ok := ev.(TimedEvent); ok {
				if _, isScan := te.Event.(ScanDecoded); isScan {
					recordScanMetrics(statsBefore, state.Stats)
				}
			}
			cmdQueue = append(cmdQueue, rr.Commands...)
			publish(rr.Broadcasts)
		}
	}

	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			runEffect(ctx, deps, cmd, logger, enqueueEvent)

			// Reduce observations promptly so follow-up commands see coherent state.
			flushEvents()
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return
			}
			enqueueEvent(TimedEvent{Event: ev, At: time.Now()})
			flushEvents()
			flushCommands()

		case now := <-ticker.C:
			enqueueEvent(Tick{Now: now})
			flushEvents()
			flushCommands()
		}
	}
}

func recordScanMetrics(before, after ButlerStats) {
	switch {
	case after.Dispatched > before.Dispatched:
		scansTotal.WithLabelValues("dispatched").Inc()
	case after.Invalid > before.Invalid:
		scansTotal.WithLabelValues("invalid").Inc()
	default:
		scansTotal.WithLabelValues("suppressed").Inc()
	}
}

// sendEvent delivers ev without blocking; it reports false (and counts the drop) when the queue is full.
func sendEvent(events chan<- Event, ev Event, source string) bool {
	select {
	case events <- ev:
		return true
	default:
		droppedEventsTotal.WithLabelValues(source).Inc()
		return false
	}
}

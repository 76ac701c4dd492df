package main

import "time"

// ScanDebouncer suppresses repeated actions for the same decoded payload.
//
// Rules:
//   - A payload different from the last one is acted upon immediately, even while cooling down.
//   - The same payload is acted upon again only once Cooldown has elapsed since it was last acted on.
//   - Invalid payloads are recorded like valid ones (so a bad code does not spam diagnostics)
//     but never dispatch.
//
// Suppressed observations do not move LastAt.
type ScanDebouncer struct {
	Cooldown time.Duration

	Last   string
	LastAt time.Time
}

// ScanDecision describes what the debouncer decided for one observation.
type ScanDecision struct {
	// Act is true when the payload should be handled (validated, dispatched or diagnosed).
	Act bool

	// Valid is only meaningful when Act is true.
	Valid bool
	ID    Identifier

	// Remaining is the cooldown left when an observation is suppressed.
	Remaining time.Duration
}

// Observe records a decoded payload at time now and returns the decision.
// Empty payloads are ignored.
func (d *ScanDebouncer) Observe(payload string, now time.Time) ScanDecision {
	if payload == "" {
		return ScanDecision{}
	}

	if payload == d.Last && !d.LastAt.IsZero() {
		elapsed := now.Sub(d.LastAt)
		if elapsed <= d.Cooldown {
			return ScanDecision{Remaining: d.Cooldown - elapsed}
		}
	}

	d.Last = payload
	d.LastAt = now

	id, err := ParseIdentifier(payload)
	if err != nil {
		return ScanDecision{Act: true}
	}
	return ScanDecision{Act: true, Valid: true, ID: id}
}

// CooldownRemaining reports how long the last payload stays suppressed, for the overlay.
func (d *ScanDebouncer) CooldownRemaining(now time.Time) time.Duration {
	if d.LastAt.IsZero() {
		return 0
	}
	rem := d.Cooldown - now.Sub(d.LastAt)
	if rem < 0 {
		return 0
	}
	return rem
}

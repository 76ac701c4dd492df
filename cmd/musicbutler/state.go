package main

import (
	"sync/atomic"
	"time"
)

// Mode selects what a scanned identifier does.
type Mode int

const (
	ModePlay Mode = iota
	ModePrint
)

func (m Mode) String() string {
	if m == ModePrint {
		return "print"
	}
	return "play"
}

// ButlerState is the daemon-owned state container.
//
// Only the daemon goroutine touches it. Everything other goroutines need
// (preview overlay, websocket clients) is published as a StateSnapshot.
type ButlerState struct {
	Mode Mode

	// PrinterEnabled is decided once at start-up; a failed connect disables printing for the process.
	PrinterEnabled bool

	Scanner  ScanDebouncer
	Playback PlaybackContext
	Volume   VolumeState

	Stats ButlerStats

	LastError   string
	LastErrorAt time.Time
	LastPrinted string

	Quitting bool
}

// PlaybackContext is the last content this process successfully started.
// It only changes on playback observations from the effects layer.
type PlaybackContext struct {
	Context *Identifier
	Playing bool
	At      time.Time
}

// VolumeState holds the last applied volume and a pending latest-wins intent.
type VolumeState struct {
	Percent int
	Desired *int
}

// ButlerStats are counters shown in the overlay.
type ButlerStats struct {
	Dispatched int
	Invalid    int
	Printed    int
}

// NewButlerState returns the initial state. The default volume is queued as an
// intent so the first tick applies it.
func NewButlerState(cfg *Config, printerEnabled bool) *ButlerState {
	s := &ButlerState{
		Mode:           ModePlay,
		PrinterEnabled: printerEnabled,
		Scanner: ScanDebouncer{
			Cooldown: cfg.Scanner.Cooldown(),
		},
		Volume: VolumeState{Percent: cfg.Volume.Default},
	}
	s.SetDesiredVolume(cfg.Volume.Default)
	return s
}

// SetDesiredVolume records a latest-wins volume intent.
func (s *ButlerState) SetDesiredVolume(percent int) {
	v := percent
	s.Volume.Desired = &v
}

// baselineVolume is the value relative adjustments start from.
func (s *ButlerState) baselineVolume() int {
	if s.Volume.Desired != nil {
		return *s.Volume.Desired
	}
	return s.Volume.Percent
}

func (s *ButlerState) rememberedContext() *Identifier {
	if s.Playback.Context == nil {
		return nil
	}
	id := *s.Playback.Context
	return &id
}

// ============================================================================
// Snapshots
// ============================================================================

// StateSnapshot is the externally visible view of ButlerState.
// It is comparable so the reducer can detect changes with ==.
type StateSnapshot struct {
	Mode           string    `json:"mode"`
	PrinterEnabled bool      `json:"printer_enabled"`
	Volume         int       `json:"volume"`
	Playing        bool      `json:"playing"`
	Context        string    `json:"context,omitempty"`
	LastScan       string    `json:"last_scan,omitempty"`
	LastScanAt     time.Time `json:"last_scan_at"`
	Cooldown       float64   `json:"cooldown_sec"`
	Dispatched     int       `json:"dispatched"`
	Invalid        int       `json:"invalid"`
	Printed        int       `json:"printed"`
	LastPrinted    string    `json:"last_printed,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

// Snapshot returns the current externally visible state.
func (s *ButlerState) Snapshot() StateSnapshot {
	snap := StateSnapshot{
		Mode:           s.Mode.String(),
		PrinterEnabled: s.PrinterEnabled,
		Volume:         s.baselineVolume(),
		Playing:        s.Playback.Playing,
		LastScan:       s.Scanner.Last,
		LastScanAt:     s.Scanner.LastAt,
		Cooldown:       s.Scanner.Cooldown.Seconds(),
		Dispatched:     s.Stats.Dispatched,
		Invalid:        s.Stats.Invalid,
		Printed:        s.Stats.Printed,
		LastPrinted:    s.LastPrinted,
		LastError:      s.LastError,
	}
	if s.Playback.Context != nil {
		snap.Context = s.Playback.Context.String()
	}
	return snap
}

// CooldownRemaining mirrors ScanDebouncer.CooldownRemaining for snapshot consumers.
func (snap StateSnapshot) CooldownRemaining(now time.Time) time.Duration {
	if snap.LastScanAt.IsZero() {
		return 0
	}
	rem := time.Duration(snap.Cooldown*float64(time.Second)) - now.Sub(snap.LastScanAt)
	if rem < 0 {
		return 0
	}
	return rem
}

// SnapshotStore holds the latest published snapshot for readers outside the daemon goroutine.
type SnapshotStore struct {
	p atomic.Pointer[StateSnapshot]
}

func (st *SnapshotStore) Store(snap StateSnapshot) {
	st.p.Store(&snap)
}

// Load returns the latest snapshot, or the zero value before the first publish.
func (st *SnapshotStore) Load() StateSnapshot {
	if p := st.p.Load(); p != nil {
		return *p
	}
	return StateSnapshot{}
}

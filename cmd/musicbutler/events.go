package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Events - inputs to the reducer
// ============================================================================
// Events come from four places:
//   - input sources (camera scan loop, encoder poller, keyboard, IPC)
//   - the daemon loop itself (Tick)
//   - the effects layer (observations: playback started, print done, failures)
//   - internal requests (state snapshots for websocket clients)
//
// Input events are plain payload types; the daemon stamps them with the
// receive time via TimedEvent before reducing.
// ============================================================================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// TimedEvent carries an input event together with the time the daemon received it.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// Tick is emitted by the daemon loop at a fixed cadence.
type Tick struct {
	Now time.Time
}

func (Tick) eventMarker() {}

// ----------------------------------------------------------------------------
// Input events (also accepted over IPC)
// ----------------------------------------------------------------------------

// ScanDecoded is a QR payload decoded from a camera frame.
type ScanDecoded struct {
	Payload string `json:"payload"`
}

func (ScanDecoded) eventMarker() {}

// ToggleMode switches between Play and Print mode.
type ToggleMode struct{}

func (ToggleMode) eventMarker() {}

// PrintCurrent prints a sticker for whatever is playing right now.
type PrintCurrent struct{}

func (PrintCurrent) eventMarker() {}

// PlayPause toggles playback on the active device.
type PlayPause struct{}

func (PlayPause) eventMarker() {}

// VolumeAdjust changes the system volume by Delta percent.
type VolumeAdjust struct {
	Delta int `json:"delta"`
}

func (VolumeAdjust) eventMarker() {}

// EncoderRotated is a raw encoder position change (current minus previous position).
// The reducer owns the step size and sign policy.
type EncoderRotated struct {
	Delta int `json:"delta"`
}

func (EncoderRotated) eventMarker() {}

// ButtonPressed is a debounced encoder button gesture.
type ButtonPressed struct {
	Double bool `json:"double"`
}

func (ButtonPressed) eventMarker() {}

// Quit asks the daemon to shut down.
type Quit struct{}

func (Quit) eventMarker() {}

// RequestStateSnapshot asks the daemon to publish a snapshot on Reply.
// Used by the websocket server for the initial state_init message.
type RequestStateSnapshot struct {
	Reply chan<- StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ----------------------------------------------------------------------------
// Observations (emitted by the effects layer)
// ----------------------------------------------------------------------------

// PlaybackStarted is emitted after the service accepted a play request.
type PlaybackStarted struct {
	ID Identifier
	At time.Time
}

func (PlaybackStarted) eventMarker() {}

// PlaybackToggled is emitted after a successful pause/resume.
type PlaybackToggled struct {
	Playing bool
	At      time.Time
}

func (PlaybackToggled) eventMarker() {}

// StickerPrinted is emitted after a sticker was sent to the printer.
type StickerPrinted struct {
	URI   string
	Title string
	At    time.Time
}

func (StickerPrinted) eventMarker() {}

// VolumeApplied is emitted after the mixer command ran (successfully or not).
type VolumeApplied struct {
	Percent int
	At      time.Time
}

func (VolumeApplied) eventMarker() {}

// ActionFailed is emitted when executing a Command fails.
type ActionFailed struct {
	Command Command
	Err     error
	At      time.Time
}

func (ActionFailed) eventMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support (IPC wire format)
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling.
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete input Event.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "scan":
		var a ScanDecoded
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal ScanDecoded: %w", err)
		}
		return a, nil

	case "toggle_mode":
		return ToggleMode{}, nil

	case "print_current":
		return PrintCurrent{}, nil

	case "play_pause":
		return PlayPause{}, nil

	case "volume_adjust":
		var a VolumeAdjust
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal VolumeAdjust: %w", err)
		}
		return a, nil

	case "encoder_rotated":
		var a EncoderRotated
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal EncoderRotated: %w", err)
		}
		return a, nil

	case "button_pressed":
		var a ButtonPressed
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &a); err != nil {
				return nil, fmt.Errorf("unmarshal ButtonPressed: %w", err)
			}
		}
		return a, nil

	case "quit":
		return Quit{}, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an input Event into a JSON envelope with type discriminator.
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	withData := func(name string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", name, err)
		}
		env.Data = data
		return nil
	}

	switch e := e.(type) {
	case ScanDecoded:
		env.Type = "scan"
		if err := withData("ScanDecoded", e); err != nil {
			return nil, err
		}
	case ToggleMode:
		env.Type = "toggle_mode"
	case PrintCurrent:
		env.Type = "print_current"
	case PlayPause:
		env.Type = "play_pause"
	case VolumeAdjust:
		env.Type = "volume_adjust"
		if err := withData("VolumeAdjust", e); err != nil {
			return nil, err
		}
	case EncoderRotated:
		env.Type = "encoder_rotated"
		if err := withData("EncoderRotated", e); err != nil {
			return nil, err
		}
	case ButtonPressed:
		env.Type = "button_pressed"
		if err := withData("ButtonPressed", e); err != nil {
			return nil, err
		}
	case Quit:
		env.Type = "quit"
	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	return json.Marshal(env)
}

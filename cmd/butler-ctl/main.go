package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// ============================================================================
// butler-ctl - Command-line IPC Client
// ============================================================================
// This tool sends events to the musicbutler daemon via its unix socket and
// can follow the daemon's state over the websocket endpoint.
//
// Usage:
//   butler-ctl mode
//   butler-ctl print-current
//   butler-ctl volume-down 10
//   butler-ctl scan spotify:album:1weenld61qoidwYuZ1GESA
//   butler-ctl watch
// ============================================================================

const (
	defaultSocket  = "/tmp/musicbutler.sock"
	defaultWSURL   = "ws://127.0.0.1:8080/ws/state"
	defaultTimeout = 3 * time.Second
	volumeStep     = 5
)

// eventEnvelope is the daemon's line-delimited JSON wire format.
type eventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ipcResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var socketPath string
	var timeout time.Duration

	root := &cobra.Command{
		Use:           "butler-ctl",
		Short:         "Control a running musicbutler daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&socketPath, "socket", "s", defaultSocket, "daemon unix socket path")
	root.PersistentFlags().DurationVar(&timeout, "timeout", defaultTimeout, "connect and response timeout")

	simple := func(use, short, typ string, aliases ...string) *cobra.Command {
		return &cobra.Command{
			Use:     use,
			Aliases: aliases,
			Short:   short,
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return send(cmd, socketPath, timeout, eventEnvelope{Type: typ})
			},
		}
	}

	// volume-up/volume-down take an optional step in percent.
	volume := func(use, short string, sign int, aliases ...string) *cobra.Command {
		return &cobra.Command{
			Use:     use + " [PERCENT]",
			Aliases: aliases,
			Short:   short,
			Args:    cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				step := volumeStep
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n <= 0 || n > 100 {
						return fmt.Errorf("invalid volume step %q: want 1-100", args[0])
					}
					step = n
				}
				env, err := volumeEnvelope(sign * step)
				if err != nil {
					return err
				}
				return send(cmd, socketPath, timeout, env)
			},
		}
	}

	root.AddCommand(
		simple("mode", "Toggle between play and print mode", "toggle_mode", "toggle-mode"),
		simple("print-current", "Print a sticker for what is playing now", "print_current", "print"),
		simple("play-pause", "Toggle playback on the active device", "play_pause", "pause"),
		simple("quit", "Stop the daemon", "quit"),
		volume("volume-up", fmt.Sprintf("Raise the volume (default %d%%)", volumeStep), 1, "up"),
		volume("volume-down", fmt.Sprintf("Lower the volume (default %d%%)", volumeStep), -1, "down"),
		&cobra.Command{
			Use:   "scan PAYLOAD",
			Short: "Inject a QR payload as if the camera had decoded it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				env, err := scanEnvelope(args[0])
				if err != nil {
					return err
				}
				return send(cmd, socketPath, timeout, env)
			},
		},
		newWatchCmd(),
	)
	return root
}

func volumeEnvelope(delta int) (eventEnvelope, error) {
	if delta == 0 {
		return eventEnvelope{}, errors.New("volume delta must not be zero")
	}
	data, err := json.Marshal(struct {
		Delta int `json:"delta"`
	}{delta})
	if err != nil {
		return eventEnvelope{}, fmt.Errorf("marshal volume delta: %w", err)
	}
	return eventEnvelope{Type: "volume_adjust", Data: data}, nil
}

func scanEnvelope(payload string) (eventEnvelope, error) {
	if payload == "" {
		return eventEnvelope{}, errors.New("scan payload must not be empty")
	}
	data, err := json.Marshal(struct {
		Payload string `json:"payload"`
	}{payload})
	if err != nil {
		return eventEnvelope{}, fmt.Errorf("marshal scan payload: %w", err)
	}
	return eventEnvelope{Type: "scan", Data: data}, nil
}

func send(cmd *cobra.Command, socketPath string, timeout time.Duration, env eventEnvelope) error {
	if err := sendEnvelope(socketPath, env, timeout); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}

// sendEnvelope writes one line-delimited JSON event and waits for the daemon's reply.
func sendEnvelope(socketPath string, env eventEnvelope, timeout time.Duration) error {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return fmt.Errorf("connect to %s: %w (is musicbutler running?)", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return fmt.Errorf("send event: %w", err)
	}

	var response ipcResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if response.Status != "ok" {
		return fmt.Errorf("daemon error: %s", response.Error)
	}
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// stateMessage mirrors the daemon's websocket envelope.
type stateMessage struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data *struct {
		Mode           string  `json:"mode"`
		PrinterEnabled bool    `json:"printer_enabled"`
		Volume         int     `json:"volume"`
		Playing        bool    `json:"playing"`
		Context        string  `json:"context"`
		LastScan       string  `json:"last_scan"`
		Cooldown       float64 `json:"cooldown_sec"`
		Dispatched     int     `json:"dispatched"`
		Invalid        int     `json:"invalid"`
		Printed        int     `json:"printed"`
		LastError      string  `json:"last_error"`
	} `json:"data,omitempty"`
}

func newWatchCmd() *cobra.Command {
	var wsURL string
	var raw bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow daemon state changes over the websocket endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch(wsURL, raw, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&wsURL, "ws", defaultWSURL, "daemon websocket URL")
	cmd.Flags().BoolVar(&raw, "raw", false, "print raw JSON messages")
	return cmd
}

func watch(wsURL string, raw bool, out io.Writer) error {
	u, err := url.Parse(wsURL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", u, err)
	}
	defer conn.Close()

	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	done := make(chan error, 1)
	go func() {
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					done <- nil
				} else {
					done <- err
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if raw {
				fmt.Fprintln(out, string(message))
				continue
			}
			fmt.Fprintln(out, formatState(message))
		}
	}()

	select {
	case <-sigc:
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("close connection: %w", err)
		}
		return nil
	case err := <-done:
		if err != nil {
			return fmt.Errorf("websocket: %w", err)
		}
		return nil
	}
}

// formatState renders one state message as a single log-style line.
func formatState(message []byte) string {
	var msg stateMessage
	if err := json.Unmarshal(message, &msg); err != nil || msg.Data == nil {
		return "[TEXT] " + string(message)
	}
	s := msg.Data

	ts := ""
	if msg.Ts != nil {
		ts = msg.Ts.Local().Format("15:04:05") + " "
	}
	playing := "paused"
	if s.Playing {
		playing = "playing"
	}
	line := fmt.Sprintf("%s[%s] mode=%s volume=%d%% %s", ts, msg.Type, s.Mode, s.Volume, playing)
	if !s.PrinterEnabled {
		line += " (no printer)"
	}
	if s.Context != "" {
		line += " context=" + s.Context
	}
	if s.Cooldown > 0 {
		line += fmt.Sprintf(" cooldown=%.1fs", s.Cooldown)
	}
	line += fmt.Sprintf(" scans=%d invalid=%d printed=%d", s.Dispatched, s.Invalid, s.Printed)
	if s.LastError != "" {
		line += " error=" + fmt.Sprintf("%q", s.LastError)
	}
	return line
}

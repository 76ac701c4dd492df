package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// butler-ctl and scripts drive the daemon through a Unix socket.
//
// Protocol: line-delimited JSON
//   - Client sends: {"type": "toggle_mode"} or {"type": "volume_adjust", "data": {"delta": 5}}
//   - Server responds: {"status": "ok"} or {"status": "error", "error": "msg"}
//
// Accepted types: scan, toggle_mode, print_current, play_pause, volume_adjust,
// encoder_rotated, button_pressed, quit.
// ============================================================================

// ipcMaxLine bounds a single request line.
const ipcMaxLine = 64 * 1024

// IPCResponse is sent back for every request line.
type IPCResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// runIPCServer listens on socketPath until ctx is canceled.
func runIPCServer(ctx context.Context, socketPath string, events chan<- Event, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer os.Remove(socketPath)
	defer listener.Close()

	// Owner and group only: the socket can start playback and print.
	if err := os.Chmod(socketPath, 0660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}
		go handleIPCConnection(conn, events, logger)
	}
}

func handleIPCConnection(conn net.Conn, events chan<- Event, logger *slog.Logger) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), ipcMaxLine)
	encoder := json.NewEncoder(conn)

	reply := func(resp IPCResponse) bool {
		if err := encoder.Encode(resp); err != nil {
			logger.Debug("IPC failed to send response", "error", err)
			return false
		}
		return true
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logger.Debug("IPC received", "line", line)

		ev, err := UnmarshalEvent([]byte(line))
		if err != nil {
			if !reply(IPCResponse{Status: "error", Error: fmt.Sprintf("parse event: %v", err)}) {
				return
			}
			continue
		}

		resp := IPCResponse{Status: "ok"}
		if !sendEvent(events, ev, "ipc") {
			resp = IPCResponse{Status: "error", Error: "event queue full"}
		}
		if !reply(resp) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Debug("IPC connection ended", "error", err)
	}
}

// SendIPCEvent sends one event to the daemon and waits for its response.
func SendIPCEvent(socketPath string, ev Event, timeout time.Duration) error {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	data, err := MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("send event: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("ipc error: %s", resp.Error)
	}
	return nil
}

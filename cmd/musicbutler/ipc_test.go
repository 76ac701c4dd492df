package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

// startIPC runs the IPC server on a short socket path (sun_path is limited to 108 bytes).
func startIPC(t *testing.T, events chan Event) (string, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "mb")
	if err != nil {
		t.Fatal(err)
	}
	sock := filepath.Join(dir, "ipc.sock")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- runIPCServer(ctx, sock, events, discardLogger()) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("IPC socket did not appear")
		}
		time.Sleep(5 * time.Millisecond)
	}

	return sock, func() {
		cancel()
		if err := <-errc; err != nil {
			t.Errorf("runIPCServer: %v", err)
		}
		os.RemoveAll(dir)
	}
}

func TestIPC_EventsReachQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	events := make(chan Event, 8)
	sock, stop := startIPC(t, events)
	defer stop()

	sent := []Event{
		ToggleMode{},
		VolumeAdjust{Delta: -5},
		ScanDecoded{Payload: "spotify:album:abc"},
		ButtonPressed{Double: true},
	}
	for _, ev := range sent {
		if err := SendIPCEvent(sock, ev, time.Second); err != nil {
			t.Fatalf("SendIPCEvent(%T): %v", ev, err)
		}
	}

	var got []Event
	for range sent {
		got = append(got, waitEvent(t, events, time.Second))
	}
	if diff := cmp.Diff(sent, got); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}

	fi, err := os.Stat(sock)
	if err != nil {
		t.Fatal(err)
	}
	if perm := fi.Mode().Perm(); perm != 0o660 {
		t.Errorf("socket mode = %o, want 660", perm)
	}
}

func TestIPC_ErrorsAreReportedPerLine(t *testing.T) {
	defer goleak.VerifyNone(t)

	events := make(chan Event, 1)
	sock, stop := startIPC(t, events)
	defer stop()

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	r := bufio.NewReader(conn)
	roundTrip := func(line string) IPCResponse {
		t.Helper()
		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			t.Fatal(err)
		}
		b, err := r.ReadBytes('\n')
		if err != nil {
			t.Fatal(err)
		}
		var resp IPCResponse
		if err := json.Unmarshal(b, &resp); err != nil {
			t.Fatal(err)
		}
		return resp
	}

	if resp := roundTrip(`{"type":"dance"}`); resp.Status != "error" || !strings.Contains(resp.Error, "unknown event type") {
		t.Errorf("unknown type: got %+v", resp)
	}
	if resp := roundTrip(`not json`); resp.Status != "error" {
		t.Errorf("garbage: got %+v", resp)
	}
	if resp := roundTrip(`{"type":"play_pause"}`); resp.Status != "ok" {
		t.Errorf("first play_pause: got %+v", resp)
	}
	// The queue holds one event; the next is rejected, not blocked.
	if resp := roundTrip(`{"type":"play_pause"}`); resp.Status != "error" || resp.Error != "event queue full" {
		t.Errorf("full queue: got %+v", resp)
	}
}

func TestEventEnvelope(t *testing.T) {
	ev, err := UnmarshalEvent([]byte(`{"type":"volume_adjust","data":{"delta":5}}`))
	if err != nil {
		t.Fatalf("UnmarshalEvent: %v", err)
	}
	if diff := cmp.Diff(Event(VolumeAdjust{Delta: 5}), ev); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}

	// button_pressed without data is a single press.
	ev, err = UnmarshalEvent([]byte(`{"type":"button_pressed"}`))
	if err != nil || ev != (ButtonPressed{}) {
		t.Errorf("button_pressed: got (%#v, %v)", ev, err)
	}

	if _, err := UnmarshalEvent([]byte(`{"type":"scan","data":"oops"}`)); err == nil {
		t.Error("expected an error for malformed scan data")
	}
	if _, err := MarshalEvent(Tick{}); err == nil {
		t.Error("internal events must not be marshalable")
	}
}

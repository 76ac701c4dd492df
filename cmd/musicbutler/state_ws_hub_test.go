package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// These tests drive the hub without network I/O: Clients get a nil websocket.Conn,
// which the hub tolerates when evicting.

func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(discardLogger(), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func testClient(hub *Hub, name string, buf int) *Client {
	return &Client{
		hub:        hub,
		send:       make(chan []byte, buf),
		remoteAddr: name,
		logger:     discardLogger(),
	}
}

func registerClient(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, c.remoteAddr+" not registered in time")
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	c1 := testClient(hub, "c1", 4)
	c2 := testClient(hub, "c2", 4)
	registerClient(t, hub, c1)
	registerClient(t, hub, c2)

	msg, err := marshalState(wsTypeStateChanged, StateSnapshot{Mode: "print", Volume: 40}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, got, msg)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s to receive broadcast", c.remoteAddr)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for hub to stop")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("clients after stop = %d, want 0", hub.ClientCount())
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 1, 8)
	go hub.Run(ctx)

	slow := testClient(hub, "slow", 1)
	fast := testClient(hub, "fast", 8)
	registerClient(t, hub, slow)
	registerClient(t, hub, fast)

	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"state_changed","data":{"mode":"play"}}`)
	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", got, msg)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for fast client to receive broadcast")
	}

	select {
	case <-slow.send:
	default:
	}
	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")
}

func TestRunBroadcaster_CoalescesLatestWins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 8, 8)
	go hub.Run(ctx)
	c := testClient(hub, "c", 8)
	registerClient(t, hub, c)

	src := make(chan StateBroadcast, 8)
	go RunBroadcaster(ctx, hub, src, discardLogger())

	for v := 10; v <= 30; v += 10 {
		src <- BroadcastStateChanged{Snapshot: StateSnapshot{Mode: "play", Volume: v}, At: time.Now()}
	}

	var frames []wsEnvelope
	deadline := time.After(3 * wsStateCoalesceWindow)
collect:
	for {
		select {
		case raw := <-c.send:
			var env wsEnvelope
			if err := json.Unmarshal(raw, &env); err != nil {
				t.Fatal(err)
			}
			frames = append(frames, env)
		case <-deadline:
			break collect
		}
	}

	if len(frames) == 0 || len(frames) > 2 {
		t.Fatalf("got %d frames for a burst of 3, want 1 or 2", len(frames))
	}
	last := frames[len(frames)-1]
	if last.Type != wsTypeStateChanged || last.Data == nil || last.Data.Volume != 30 {
		t.Fatalf("last frame = %+v, want state_changed with volume 30", last)
	}
}

func TestStateServer_SendsStateInit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 4)
	server := NewStateServer(discardLogger(), events, HubConfig{})
	go server.Hub().Run(ctx)

	// Stand-in for the daemon loop: answer snapshot requests.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				if req, ok := ev.(RequestStateSnapshot); ok {
					req.Reply <- StateSnapshot{Mode: "print", PrinterEnabled: true, Volume: 55}
				}
			}
		}
	}()

	snapshots := &SnapshotStore{}
	srv := httptest.NewServer(newRouter(httpDeps{Snapshots: snapshots, State: server}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/state"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env wsEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Type != wsTypeStateInit || env.Data == nil || env.Data.Mode != "print" || env.Data.Volume != 55 {
		t.Fatalf("unexpected first frame %+v", env)
	}
}

func TestRouter_HealthAndPreview(t *testing.T) {
	snapshots := &SnapshotStore{}
	snapshots.Store(StateSnapshot{Mode: "play", Volume: 70})
	preview := NewPreview()
	h := newRouter(httpDeps{Snapshots: snapshots, Preview: preview})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz code = %d", rec.Code)
	}
	var body struct {
		Status string        `json:"status"`
		State  StateSnapshot `json:"state"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.State.Volume != 70 {
		t.Errorf("healthz body = %+v", body)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/preview.jpg", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("preview before first frame: code = %d, want 503", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "musicbutler_") {
		t.Errorf("metrics: code = %d, musicbutler series present = %v", rec.Code, strings.Contains(rec.Body.String(), "musicbutler_"))
	}
}

func TestRouter_PreviewRateLimited(t *testing.T) {
	h := newRouter(httpDeps{Snapshots: &SnapshotStore{}, Preview: NewPreview()})

	var last int
	for i := 0; i <= previewRequestLimit; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/preview.jpg", nil))
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("request %d: code = %d, want 429", previewRequestLimit+1, last)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz is not limited: code = %d", rec.Code)
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

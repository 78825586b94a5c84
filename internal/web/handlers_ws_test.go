package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"homewire/internal/hub"
)

func stateEvent(device, state string) hub.Event {
	return hub.Event{Type: hub.EventDeviceState, Data: hub.StateEvent{Device: device, State: state}}
}

func clientCount(h *WSHub) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func newTestHub() *WSHub {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewWSHub(logger)
}

func TestWSHubRegisterUnregister(t *testing.T) {
	wh := newTestHub()
	go wh.Run()
	defer wh.Stop()

	client := &wsClient{send: make(chan []byte, 16)}
	wh.register <- client

	// Give hub time to process
	time.Sleep(10 * time.Millisecond)

	wh.mu.RLock()
	count := len(wh.clients)
	wh.mu.RUnlock()
	if count != 1 {
		t.Errorf("after register: count = %d, want 1", count)
	}

	wh.unregister <- client

	time.Sleep(10 * time.Millisecond)

	wh.mu.RLock()
	count = len(wh.clients)
	wh.mu.RUnlock()
	if count != 0 {
		t.Errorf("after unregister: count = %d, want 0", count)
	}
}

func TestWSHubBroadcast(t *testing.T) {
	wh := newTestHub()
	go wh.Run()
	defer wh.Stop()

	c1 := &wsClient{send: make(chan []byte, 16)}
	c2 := &wsClient{send: make(chan []byte, 16)}

	wh.register <- c1
	wh.register <- c2
	time.Sleep(10 * time.Millisecond)

	wh.Broadcast(stateEvent("tv", "online"))
	time.Sleep(10 * time.Millisecond)

	select {
	case msg := <-c1.send:
		if len(msg) == 0 {
			t.Error("c1 received empty message")
		}
	default:
		t.Error("c1 did not receive broadcast")
	}

	select {
	case msg := <-c2.send:
		if len(msg) == 0 {
			t.Error("c2 received empty message")
		}
	default:
		t.Error("c2 did not receive broadcast")
	}
}

func TestWSHubSlowClientEviction(t *testing.T) {
	wh := newTestHub()
	go wh.Run()
	defer wh.Stop()

	// Create a client with a tiny buffer that will fill up
	slow := &wsClient{send: make(chan []byte, 1)}
	fast := &wsClient{send: make(chan []byte, 64)}

	wh.register <- slow
	wh.register <- fast
	time.Sleep(10 * time.Millisecond)

	// Fill slow client's buffer
	wh.Broadcast(stateEvent("tv", "online"))
	time.Sleep(10 * time.Millisecond)

	// Second message should evict the slow client (buffer full, can't receive)
	wh.Broadcast(stateEvent("tv", "offline"))
	time.Sleep(10 * time.Millisecond)

	wh.mu.RLock()
	_, slowPresent := wh.clients[slow]
	_, fastPresent := wh.clients[fast]
	wh.mu.RUnlock()

	if slowPresent {
		t.Error("slow client should have been evicted")
	}
	if !fastPresent {
		t.Error("fast client should still be present")
	}
}

func TestWSHubBroadcastDropsWhenFull(t *testing.T) {
	wh := newTestHub()
	go wh.Run()
	defer wh.Stop()

	wh.Stop()
	// Fill the broadcast channel
	for i := 0; i < 256; i++ {
		wh.Broadcast(stateEvent("tv", "online"))
	}

	// This should not block; it should drop
	done := make(chan struct{})
	go func() {
		wh.Broadcast(stateEvent("tv", "offline"))
		close(done)
	}()

	select {
	case <-done:
		// Good, didn't block
	case <-time.After(1 * time.Second):
		t.Error("Broadcast blocked when channel is full")
	}
}

func TestWSHubStopIdempotent(t *testing.T) {
	wh := newTestHub()
	go wh.Run()

	// First stop
	wh.Stop()

	// Second stop should not panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("second Stop() panicked: %v", r)
		}
	}()
	wh.Stop()
}

func TestWSHubStopClosesClients(t *testing.T) {
	wh := newTestHub()
	go wh.Run()

	client := &wsClient{send: make(chan []byte, 16)}
	wh.register <- client
	time.Sleep(10 * time.Millisecond)

	wh.Stop()
	time.Sleep(10 * time.Millisecond)

	// send channel should be closed
	_, ok := <-client.send
	if ok {
		t.Error("client.send should be closed after hub stop")
	}
}

func TestWSHubUnregisterNonExistentClient(t *testing.T) {
	wh := newTestHub()
	go wh.Run()
	defer wh.Stop()

	// Unregistering a client that was never registered should not panic
	unknown := &wsClient{send: make(chan []byte, 16)}
	wh.unregister <- unknown
	time.Sleep(10 * time.Millisecond)

	// Channel should NOT be closed since client was never registered
	select {
	case unknown.send <- []byte("test"):
		// Good, channel still open
	default:
		t.Error("channel should still be open for non-registered client")
	}
}

func TestWSHubDeviceFilter(t *testing.T) {
	wh := newTestHub()
	go wh.Run()
	defer wh.Stop()

	tv := &wsClient{send: make(chan []byte, 16), filter: wsFilter{devices: map[string]bool{"tv": true}}}
	all := &wsClient{send: make(chan []byte, 16)}
	wh.register <- tv
	wh.register <- all
	time.Sleep(10 * time.Millisecond)

	wh.Broadcast(stateEvent("rfx", "online"))
	wh.Broadcast(stateEvent("tv", "online"))
	time.Sleep(10 * time.Millisecond)

	if got := len(all.send); got != 2 {
		t.Errorf("unfiltered client got %d events, want 2", got)
	}
	if got := len(tv.send); got != 1 {
		t.Fatalf("filtered client got %d events, want 1", got)
	}
	var ev struct {
		Type string         `json:"type"`
		Data hub.StateEvent `json:"data"`
	}
	if err := json.Unmarshal(<-tv.send, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "device_state" || ev.Data.Device != "tv" {
		t.Errorf("event = %+v", ev)
	}
}

func TestParseWSFilter(t *testing.T) {
	tests := []struct {
		query   string
		match   []hub.Event
		reject  []hub.Event
		wantErr bool
	}{
		{query: "", match: []hub.Event{stateEvent("tv", "online"), {Type: hub.EventCommand, Data: hub.CommandEvent{Device: "rfx"}}}},
		{query: "device=tv,rfx", match: []hub.Event{stateEvent("tv", "online"), stateEvent("rfx", "offline")}, reject: []hub.Event{stateEvent("lamp", "online")}},
		{query: "device=tv&type=device_state", match: []hub.Event{stateEvent("tv", "online")}, reject: []hub.Event{{Type: hub.EventMessage, Data: hub.MessageEvent{Device: "tv"}}}},
		{query: "type=message&type=command", match: []hub.Event{{Type: hub.EventCommand, Data: hub.CommandEvent{Device: "tv"}}}, reject: []hub.Event{stateEvent("tv", "online")}},
		{query: "type=bogus", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q, _ := url.ParseQuery(tt.query)
			f, err := parseWSFilter(q)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			for _, ev := range tt.match {
				if !f.match(ev) {
					t.Errorf("filter rejected %+v", ev)
				}
			}
			for _, ev := range tt.reject {
				if f.match(ev) {
					t.Errorf("filter accepted %+v", ev)
				}
			}
		})
	}
}

func dialWS(t *testing.T, srv *Server, query string) (*websocket.Conn, context.Context) {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws"+query, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	deadline := time.Now().Add(2 * time.Second)
	for clientCount(srv.wsHub) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn, ctx
}

type wsFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) wsFrame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var f wsFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("frame %s: %v", data, err)
	}
	return f
}

func TestWSStreamsHubEvents(t *testing.T) {
	srv, fh := setupTestServer(t)
	conn, ctx := dialWS(t, srv, "?device=tv")

	snap := readFrame(t, ctx, conn)
	var devices []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(snap.Data, &devices); err != nil {
		t.Fatal(err)
	}
	if snap.Type != "snapshot" || len(devices) != 1 || devices[0].Name != "tv" {
		t.Fatalf("snapshot = %s %s", snap.Type, snap.Data)
	}

	fh.events.Emit(stateEvent("rfx", "offline"))
	fh.events.Emit(stateEvent("tv", "online"))

	ev := readFrame(t, ctx, conn)
	var st hub.StateEvent
	if err := json.Unmarshal(ev.Data, &st); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "device_state" || st.Device != "tv" || st.State != "online" {
		t.Errorf("event = %s %s", ev.Type, ev.Data)
	}
}

func TestWSRejectsBadFilter(t *testing.T) {
	srv, _ := setupTestServer(t)
	if w := do(srv, "GET", "/ws?device=lamp", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d", w.Code)
	}
	if w := do(srv, "GET", "/ws?type=bogus", ""); w.Code != http.StatusBadRequest {
		t.Errorf("unknown type status = %d", w.Code)
	}
}

func sendWSCommand(t *testing.T, ctx context.Context, conn *websocket.Conn, msg string) wsResult {
	t.Helper()
	if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatal(err)
	}
	for {
		f := readFrame(t, ctx, conn)
		if f.Type != "command_result" {
			continue
		}
		var res wsResult
		if err := json.Unmarshal(f.Data, &res); err != nil {
			t.Fatal(err)
		}
		return res
	}
}

func TestWSCommands(t *testing.T) {
	srv, fh := setupTestServer(t)
	conn, ctx := dialWS(t, srv, "")

	tests := []struct {
		msg    string
		status int
	}{
		{`{"id":"1","device":"tv","command":{"brightness":20}}`, http.StatusOK},
		{`{"id":"2","device":"lamp","command":{"brightness":20}}`, http.StatusNotFound},
		{`{"id":"3","device":"tv"}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		res := sendWSCommand(t, ctx, conn, tt.msg)
		if res.Status != tt.status {
			t.Errorf("%s: status = %d (%s), want %d", tt.msg, res.Status, res.Error, tt.status)
		}
	}
	if sent := fh.commands(); len(sent) != 1 || sent[0]["brightness"] != 20.0 {
		t.Errorf("sent = %v", sent)
	}
}

func TestWSCommandsNeedKey(t *testing.T) {
	srv, fh := setupTestServer(t, WithAPIKey("secret"))

	conn, ctx := dialWS(t, srv, "")
	res := sendWSCommand(t, ctx, conn, `{"device":"tv","command":{"brightness":20}}`)
	if res.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", res.Status)
	}
	if len(fh.commands()) != 0 {
		t.Error("command ran without a key")
	}
}

func TestWSCommandsWithKey(t *testing.T) {
	srv, fh := setupTestServer(t, WithAPIKey("secret"))

	conn, ctx := dialWS(t, srv, "?api_key=secret")
	res := sendWSCommand(t, ctx, conn, `{"device":"tv","command":{"brightness":20}}`)
	if res.Status != http.StatusOK {
		t.Errorf("status = %d (%s), want 200", res.Status, res.Error)
	}
	if len(fh.commands()) != 1 {
		t.Error("command not sent")
	}
}

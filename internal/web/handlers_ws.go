package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"homewire/internal/hub"
)

// Frames only the websocket carries; the rest are hub.Event types.
const (
	wsSnapshot      = "snapshot"
	wsCommandResult = "command_result"
)

// WSHub fans hub events out to websocket clients.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan hub.Event

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	filter wsFilter
	// control allows device commands; without an API key match the
	// stream is read-only.
	control bool
}

// wsFilter narrows a client's stream. An empty set matches everything.
type wsFilter struct {
	devices map[string]bool
	types   map[string]bool
}

func (f wsFilter) match(ev hub.Event) bool {
	if len(f.types) > 0 && !f.types[ev.Type] {
		return false
	}
	return len(f.devices) == 0 || f.devices[eventDevice(ev)]
}

// parseWSFilter reads repeated or comma-separated "device" and "type"
// query parameters.
func parseWSFilter(q url.Values) (wsFilter, error) {
	var f wsFilter
	for _, d := range splitValues(q["device"]) {
		if f.devices == nil {
			f.devices = make(map[string]bool)
		}
		f.devices[d] = true
	}
	for _, t := range splitValues(q["type"]) {
		switch t {
		case hub.EventMessage, hub.EventDeviceState, hub.EventCommand:
		default:
			return wsFilter{}, fmt.Errorf("unknown event type %q", t)
		}
		if f.types == nil {
			f.types = make(map[string]bool)
		}
		f.types[t] = true
	}
	return f, nil
}

func splitValues(vs []string) []string {
	var out []string
	for _, v := range vs {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan hub.Event, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "total", total)

		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

func (h *WSHub) deliver(ev hub.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("ws marshal", "type", ev.Type, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	var slow []*wsClient
	for client := range h.clients {
		if !client.filter.match(ev) {
			continue
		}
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		delete(h.clients, client)
		close(client.send)
		h.logger.Warn("ws client evicted (too slow)")
	}
}

func eventDevice(ev hub.Event) string {
	switch d := ev.Data.(type) {
	case hub.MessageEvent:
		return d.Device
	case hub.StateEvent:
		return d.Device
	case hub.CommandEvent:
		return d.Device
	}
	return ""
}

// Stop signals the hub to shut down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast queues ev for all interested clients. It never blocks; events
// are dropped when the queue is full.
func (h *WSHub) Broadcast(ev hub.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("ws broadcast channel full, dropping event", "type", ev.Type)
	}
}

// wsCommand is a client frame asking for a device command.
type wsCommand struct {
	ID      string         `json:"id,omitempty"`
	Device  string         `json:"device"`
	Command map[string]any `json:"command"`
}

type wsResult struct {
	ID     string `json:"id,omitempty"`
	Device string `json:"device"`
	Status int    `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleWS upgrades the connection and streams hub events, starting with
// a snapshot of the matching devices. "device" and "type" query
// parameters filter the stream; clients may send wsCommand frames.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	filter, err := parseWSFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for d := range filter.devices {
		if _, err := s.hub.Device(d); err != nil {
			s.writeError(w, http.StatusNotFound, "device not found")
			return
		}
	}

	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(4096)

	client := &wsClient{
		conn:    conn,
		send:    make(chan []byte, 64),
		filter:  filter,
		control: s.apiKey == "" || s.validKey(r.Header.Get("X-API-Key")) || s.validKey(r.URL.Query().Get("api_key")),
	}
	client.send <- s.snapshot(filter)

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) snapshot(f wsFilter) []byte {
	devices := []hub.DeviceInfo{}
	for _, d := range s.hub.Devices() {
		if len(f.devices) == 0 || f.devices[d.Name] {
			devices = append(devices, d)
		}
	}
	data, err := json.Marshal(hub.Event{Type: wsSnapshot, Data: devices})
	if err != nil {
		s.logger.Error("ws snapshot", "err", err)
		return []byte(`{"type":"snapshot","data":[]}`)
	}
	return data
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	client.conn.Close(websocket.StatusNormalClosure, "")
}

// wsReadPump runs client commands and unregisters on disconnect.
func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		typ, data, err := client.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var res wsResult
		if client.control {
			res = s.runWSCommand(ctx, data)
		} else {
			res = wsResult{Status: http.StatusUnauthorized, Error: "api key required for commands"}
		}
		out, _ := json.Marshal(hub.Event{Type: wsCommandResult, Data: res})
		// Conn.Write is safe alongside the write pump.
		wctx, wcancel := context.WithTimeout(ctx, 10*time.Second)
		err = client.conn.Write(wctx, websocket.MessageText, out)
		wcancel()
		if err != nil {
			return
		}
	}
}

func (s *Server) runWSCommand(ctx context.Context, data []byte) wsResult {
	var c wsCommand
	if err := json.Unmarshal(data, &c); err != nil || c.Device == "" || c.Command == nil {
		return wsResult{ID: c.ID, Device: c.Device, Status: http.StatusBadRequest, Error: "want {\"device\": ..., \"command\": {...}}"}
	}
	err := s.hub.Command(ctx, c.Device, c.Command)
	res := wsResult{ID: c.ID, Device: c.Device, Status: commandStatus(err)}
	if err != nil {
		res.Error = err.Error()
		s.logger.Warn("ws command failed", "device", c.Device, "err", err)
	}
	return res
}

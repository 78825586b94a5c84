package hub

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"homewire/internal/dreamscreen"
	"homewire/internal/rfxcom"
	"homewire/internal/session"
	"homewire/internal/transport"
	"homewire/internal/units"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// peer is the device end of a net.Pipe. Frames written by the hub are
// delivered on frames; respond, when set, may answer them.
type peer struct {
	conn    net.Conn
	frames  chan []byte
	respond func(frame []byte) []byte
}

func pipeDial(t *testing.T, p *peer, split bufio.SplitFunc) transport.Dialer {
	t.Helper()
	server, client := net.Pipe()
	p.conn = client
	go func() {
		sc := bufio.NewScanner(client)
		sc.Split(split)
		for sc.Scan() {
			frame := append([]byte(nil), sc.Bytes()...)
			if p.respond != nil {
				if reply := p.respond(frame); reply != nil {
					go client.Write(reply)
				}
			}
			p.frames <- frame
		}
	}()
	return func(context.Context) (transport.Conn, error) {
		return transport.NewStreamConn(server, split), nil
	}
}

func (p *peer) next(t *testing.T) []byte {
	t.Helper()
	select {
	case f := <-p.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame written")
		return nil
	}
}

func startHub(t *testing.T, cfg Config, peers map[string]*peer) (*Hub, *EventBus) {
	t.Helper()
	bus := NewEventBus(discardLogger())
	h := New(cfg, bus, discardLogger())
	h.SetDialFunc(func(dc DeviceConfig, split bufio.SplitFunc) (transport.Dialer, error) {
		p, ok := peers[dc.Name]
		if !ok {
			t.Fatalf("no peer for %s", dc.Name)
		}
		return pipeDial(t, p, split), nil
	})
	return h, bus
}

func mustMarshal(t *testing.T, m dreamscreen.Message) []byte {
	t.Helper()
	b, err := dreamscreen.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return b
}

func TestDreamScreenDevice(t *testing.T) {
	p := &peer{frames: make(chan []byte, 16)}
	cfg := Config{Devices: []DeviceConfig{{Name: "tv", Protocol: ProtocolDreamScreen, Address: "udp://tv:8888", Group: 2}}}
	h, bus := startHub(t, cfg, map[string]*peer{"tv": p})

	var mu sync.Mutex
	var states []StateEvent
	bus.On(EventDeviceState, func(e Event) {
		mu.Lock()
		states = append(states, e.Data.(StateEvent))
		mu.Unlock()
	})
	messages := make(chan MessageEvent, 4)
	bus.On(EventMessage, func(e Event) { messages <- e.Data.(MessageEvent) })
	commands := make(chan CommandEvent, 4)
	bus.On(EventCommand, func(e Event) { commands <- e.Data.(CommandEvent) })

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Stop()

	if got, want := p.next(t), mustMarshal(t, dreamscreen.NewRefreshRequest()); !bytes.Equal(got, want) {
		t.Fatalf("poll on connect = % X, want % X", got, want)
	}

	mu.Lock()
	if len(states) == 0 || states[len(states)-1].State != "online" {
		t.Errorf("state events = %+v, want online last", states)
	}
	mu.Unlock()

	t.Run("color", func(t *testing.T) {
		err := h.Command(context.Background(), "tv", map[string]any{"color": []any{255.0, 0.0, 16.0}})
		if err != nil {
			t.Fatalf("Command: %v", err)
		}
		if got, want := p.next(t), mustMarshal(t, dreamscreen.NewColor(2, 255, 0, 16)); !bytes.Equal(got, want) {
			t.Errorf("frame = % X, want % X", got, want)
		}
		ev := <-commands
		if ev.Device != "tv" || ev.Error != "" {
			t.Errorf("command event = %+v", ev)
		}
	})

	t.Run("mode before scene", func(t *testing.T) {
		err := h.Command(context.Background(), "tv", map[string]any{"scene": "ocean", "mode": "ambient", "group": 0.0})
		if err != nil {
			t.Fatalf("Command: %v", err)
		}
		if got, want := p.next(t), mustMarshal(t, dreamscreen.NewMode(0, dreamscreen.ModeAmbient)); !bytes.Equal(got, want) {
			t.Errorf("first frame = % X, want % X", got, want)
		}
		if got, want := p.next(t), mustMarshal(t, dreamscreen.NewScene(0, 3)); !bytes.Equal(got, want) {
			t.Errorf("second frame = % X, want % X", got, want)
		}
		<-commands
	})

	t.Run("unsolicited message", func(t *testing.T) {
		go p.conn.Write(mustMarshal(t, dreamscreen.NewBrightness(2, 40)))
		select {
		case ev := <-messages:
			if ev.Device != "tv" || ev.Kind != "brightness" || ev.Fields["brightness"] != byte(40) {
				t.Errorf("message event = %+v", ev)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no message event")
		}
		info, err := h.Device("tv")
		if err != nil {
			t.Fatalf("Device: %v", err)
		}
		if info.State[""]["brightness"] != byte(40) {
			t.Errorf("remembered state = %v", info.State)
		}
		if info.Stats.State != session.Online || info.Stats.FramesReceived == 0 {
			t.Errorf("stats = %+v", info.Stats)
		}
	})
}

func TestDreamScreenInvalidCommands(t *testing.T) {
	tests := []struct {
		name string
		cmd  map[string]any
	}{
		{"unknown key", map[string]any{"colour": []any{1.0, 2.0, 3.0}}},
		{"unknown mode name", map[string]any{"mode": "disco"}},
		{"mode out of range", map[string]any{"mode": 7.0}},
		{"brightness overflow", map[string]any{"brightness": 300.0}},
		{"fractional brightness", map[string]any{"brightness": 12.5}},
		{"short color", map[string]any{"color": []any{1.0, 2.0}}},
		{"input out of range", map[string]any{"input": 3.0}},
		{"empty", map[string]any{}},
		{"refresh false", map[string]any{"refresh": false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dreamScreenCommand(0, tt.cmd)
			if !errors.Is(err, ErrInvalidCommand) {
				t.Errorf("err = %v, want ErrInvalidCommand", err)
			}
		})
	}
}

func TestDreamScreenCommandMessages(t *testing.T) {
	msgs, err := dreamScreenCommand(1, map[string]any{
		"brightness":        80,
		"ambient_mode_type": "scene",
		"input":             int64(2),
		"refresh":           true,
	})
	if err != nil {
		t.Fatalf("dreamScreenCommand: %v", err)
	}
	kinds := make([]string, len(msgs))
	for i, m := range msgs {
		kinds[i] = m.Kind()
	}
	want := []string{"ambient_mode_type", "brightness", "input", "refresh_request"}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds = %v, want %v", kinds, want)
			break
		}
	}
	if at := msgs[0].(*dreamscreen.AmbientModeType); at.Type != dreamscreen.AmbientScene || at.Group != 1 {
		t.Errorf("ambient mode type = %+v", at)
	}
}

// transceiverReplies answers an RFXtrx433 start-up and acknowledges RF
// commands.
func transceiverReplies(frame []byte) []byte {
	m, err := rfxcom.Decode(frame)
	if err != nil {
		return nil
	}
	seq := frame[3]
	var reply rfxcom.Message
	switch v := m.(type) {
	case *rfxcom.InterfaceControl:
		switch v.Command {
		case rfxcom.CmdGetStatus:
			reply = &rfxcom.InterfaceResponse{
				Header:          rfxcom.Header{Subtype: rfxcom.SubtypeModeResponse},
				Command:         rfxcom.CmdGetStatus,
				TransceiverType: 0x53,
			}
		case rfxcom.CmdStartReceiver:
			reply = &rfxcom.InterfaceResponse{
				Header:  rfxcom.Header{Subtype: rfxcom.SubtypeReceiverStarted},
				Command: rfxcom.CmdStartReceiver,
				Banner:  "Copyright RFXCOM",
			}
		}
	case *rfxcom.Lighting2:
		reply = rfxcom.NewTransmitterResponse(rfxcom.ResponseACK)
	}
	if reply == nil {
		return nil
	}
	b, _ := reply.Marshal(seq)
	return b
}

func TestRFXCOMDevice(t *testing.T) {
	p := &peer{frames: make(chan []byte, 16), respond: transceiverReplies}
	cfg := Config{Devices: []DeviceConfig{{
		Name:         "rfx",
		Protocol:     ProtocolRFXCOM,
		Address:      "serial:///dev/ttyUSB0",
		ReplyTimeout: 2 * time.Second,
	}}}
	h, _ := startHub(t, cfg, map[string]*peer{"rfx": p})
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Stop()

	info, err := h.Device("rfx")
	if err != nil {
		t.Fatalf("Device: %v", err)
	}
	if info.Stats.State != session.Online {
		t.Fatalf("state = %s, want online", info.Stats.State)
	}

	cmd := map[string]any{"lighting2": map[string]any{"id": "0123ABCD", "unit": 1.0, "command": "on"}}
	if err := h.Command(context.Background(), "rfx", cmd); err != nil {
		t.Fatalf("Command: %v", err)
	}

	bad := map[string]any{"lighting2": map[string]any{"id": "nothex", "unit": 1.0, "command": "on"}}
	if err := h.Command(context.Background(), "rfx", bad); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("bad id err = %v, want ErrInvalidCommand", err)
	}
	if err := h.Command(context.Background(), "rfx", map[string]any{"color": 1}); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("wrong shape err = %v, want ErrInvalidCommand", err)
	}
}

func TestUnknownDevice(t *testing.T) {
	h := New(Config{}, NewEventBus(discardLogger()), discardLogger())
	if err := h.Command(context.Background(), "nope", map[string]any{"mode": 1.0}); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Command err = %v, want ErrUnknownDevice", err)
	}
	if _, err := h.Device("nope"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Device err = %v, want ErrUnknownDevice", err)
	}
	if len(h.Devices()) != 0 {
		t.Error("Devices should be empty")
	}
}

func TestStartUnknownProtocol(t *testing.T) {
	cfg := Config{Devices: []DeviceConfig{{Name: "x", Protocol: "zwave", Address: "tcp://x:1"}}}
	h := New(cfg, NewEventBus(discardLogger()), discardLogger())
	if err := h.Start(context.Background()); !errors.Is(err, ErrUnknownProtocol) {
		t.Errorf("Start err = %v, want ErrUnknownProtocol", err)
	}
}

type reading struct{ celsius float64 }

func (r reading) String() string   { return "reading" }
func (r reading) Kind() string     { return "temperature" }
func (r reading) SourceID() string { return "temp1_0001" }
func (r reading) Fields() map[string]any {
	return map[string]any{"temperature": units.Q(r.celsius, units.Celsius), "battery_low": false}
}

func TestTemperatureConversion(t *testing.T) {
	bus := NewEventBus(discardLogger())
	h := New(Config{TemperatureUnit: units.Fahrenheit}, bus, discardLogger())
	var got MessageEvent
	bus.On(EventMessage, func(e Event) { got = e.Data.(MessageEvent) })

	d := &Device{cfg: DeviceConfig{Name: "rfx"}, state: make(map[string]map[string]any)}
	h.handleMessage(d, reading{celsius: 100})

	q, ok := got.Fields["temperature"].(units.Quantity)
	if !ok || q.Unit != units.Fahrenheit || q.Value != 212 {
		t.Errorf("temperature = %v, want 212 °F", got.Fields["temperature"])
	}
	if got.Source != "temp1_0001" || got.Kind != "temperature" {
		t.Errorf("event = %+v", got)
	}
	if d.state["temp1_0001"]["battery_low"] != false {
		t.Errorf("state = %v", d.state)
	}
}

func TestFrameTap(t *testing.T) {
	p := &peer{frames: make(chan []byte, 16)}
	cfg := Config{Devices: []DeviceConfig{{Name: "tv", Protocol: ProtocolDreamScreen, Address: "udp://tv:8888"}}}
	h, _ := startHub(t, cfg, map[string]*peer{"tv": p})

	taps := make(chan session.Direction, 4)
	h.OnFrame(func(device string, dir session.Direction, raw []byte) {
		if device == "tv" {
			taps <- dir
		}
	})
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Stop()
	p.next(t)

	select {
	case dir := <-taps:
		if dir != session.Outbound {
			t.Errorf("first tap = %s, want tx", dir)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tap not called")
	}
}

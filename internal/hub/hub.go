// Package hub owns one transport session per configured device and
// publishes what they receive on an event bus. It plays the host role for
// the protocol packages: scheduling, configuration and command routing.
package hub

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"homewire/internal/dreamscreen"
	"homewire/internal/rfxcom"
	"homewire/internal/session"
	"homewire/internal/transport"
	"homewire/internal/units"
)

var (
	ErrUnknownDevice   = errors.New("hub: unknown device")
	ErrUnknownProtocol = errors.New("hub: unknown protocol")
	ErrInvalidCommand  = errors.New("hub: invalid command")
)

// Supported protocol names.
const (
	ProtocolDreamScreen = "dreamscreen"
	ProtocolRFXCOM      = "rfxcom"
)

// DeviceConfig describes one device connection.
type DeviceConfig struct {
	Name           string
	Protocol       string
	Address        string
	Group          byte
	Transceiver    *rfxcom.TransceiverMode
	ReplyTimeout   time.Duration
	HealthInterval time.Duration
}

// Config holds hub configuration.
type Config struct {
	Devices []DeviceConfig
	// TemperatureUnit, when set, is the unit published temperatures are
	// converted to.
	TemperatureUnit units.Unit
}

// DialFunc builds the dialer for a device. Tests replace it.
type DialFunc func(dc DeviceConfig, split bufio.SplitFunc) (transport.Dialer, error)

// DefaultDial parses the device address URL.
func DefaultDial(dc DeviceConfig, split bufio.SplitFunc) (transport.Dialer, error) {
	addr, err := transport.ParseAddress(dc.Address)
	if err != nil {
		return nil, err
	}
	return transport.NewDialer(addr, split), nil
}

// NewProtocol returns the session protocol registered under name.
func NewProtocol(name string, transceiver *rfxcom.TransceiverMode) (session.Protocol, error) {
	switch name {
	case ProtocolDreamScreen:
		return dreamscreen.Protocol{PollOnConnect: true}, nil
	case ProtocolRFXCOM:
		return rfxcom.Protocol{Mode: transceiver}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
	}
}

// Device is one configured device and its session.
type Device struct {
	cfg     DeviceConfig
	session *session.Session

	mu    sync.Mutex
	state map[string]map[string]any // source -> last fields
}

// DeviceInfo is a snapshot of a device for the API and bridges.
type DeviceInfo struct {
	Name     string                    `json:"name"`
	Protocol string                    `json:"protocol"`
	Address  string                    `json:"address"`
	Stats    session.Stats             `json:"stats"`
	State    map[string]map[string]any `json:"state,omitempty"`
}

// FrameTap receives every raw frame of every device.
type FrameTap func(device string, dir session.Direction, raw []byte)

// Hub manages device sessions.
type Hub struct {
	cfg    Config
	events *EventBus
	logger *slog.Logger
	dial   DialFunc

	mu      sync.RWMutex
	devices map[string]*Device
	taps    []FrameTap

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a hub. Sessions are opened by Start.
func New(cfg Config, events *EventBus, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:     cfg,
		events:  events,
		logger:  logger.With("component", "hub"),
		dial:    DefaultDial,
		devices: make(map[string]*Device),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetDialFunc replaces how device dialers are built. Call before Start.
func (h *Hub) SetDialFunc(fn DialFunc) { h.dial = fn }

// OnFrame registers a tap for raw frames. Call before Start.
func (h *Hub) OnFrame(tap FrameTap) {
	h.mu.Lock()
	h.taps = append(h.taps, tap)
	h.mu.Unlock()
}

// Events returns the event bus.
func (h *Hub) Events() *EventBus { return h.events }

// Context returns the hub's context, cancelled on Stop.
func (h *Hub) Context() context.Context { return h.ctx }

// Start opens a session for every configured device. A device that cannot
// be reached yet is not an error; its session keeps retrying.
func (h *Hub) Start(ctx context.Context) error {
	for _, dc := range h.cfg.Devices {
		if err := h.startDevice(ctx, dc); err != nil {
			h.Stop()
			return fmt.Errorf("device %s: %w", dc.Name, err)
		}
	}
	h.logger.Info("hub started", "devices", len(h.cfg.Devices))
	return nil
}

func (h *Hub) startDevice(ctx context.Context, dc DeviceConfig) error {
	proto, err := NewProtocol(dc.Protocol, dc.Transceiver)
	if err != nil {
		return err
	}
	dialer, err := h.dial(dc, proto.Split)
	if err != nil {
		return err
	}

	d := &Device{cfg: dc, state: make(map[string]map[string]any)}
	name := dc.Name
	// Listeners go in as options so replies to the connect handshake, such
	// as a DreamScreen refresh, are seen.
	opts := []session.Option{
		session.WithReplyTimeout(dc.ReplyTimeout),
		session.WithHealthInterval(dc.HealthInterval),
		session.WithTap(func(dir session.Direction, raw []byte) { h.tap(name, dir, raw) }),
		session.WithMessageHandler(func(m session.Message) { h.handleMessage(d, m) }),
		session.WithStateHandler(func(st session.State, err error) { h.handleState(name, st, err) }),
	}

	// Register the device first so state events emitted while opening
	// can be resolved by subscribers.
	h.mu.Lock()
	h.devices[name] = d
	h.mu.Unlock()

	s, err := session.Open(ctx, proto, dialer, h.logger.With("device", name, "protocol", dc.Protocol), opts...)
	if err != nil {
		h.mu.Lock()
		delete(h.devices, name)
		h.mu.Unlock()
		return err
	}
	d.mu.Lock()
	d.session = s
	d.mu.Unlock()
	return nil
}

// Stop closes every session.
func (h *Hub) Stop() {
	h.cancel()
	h.mu.RLock()
	devices := make([]*Device, 0, len(h.devices))
	for _, d := range h.devices {
		devices = append(devices, d)
	}
	h.mu.RUnlock()

	for _, d := range devices {
		if s := d.getSession(); s != nil {
			if err := s.Close(); err != nil {
				h.logger.Warn("close session", "device", d.cfg.Name, "err", err)
			}
		}
	}
	h.logger.Info("hub stopped")
}

func (d *Device) getSession() *session.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

func (h *Hub) tap(device string, dir session.Direction, raw []byte) {
	h.mu.RLock()
	taps := h.taps
	h.mu.RUnlock()
	for _, t := range taps {
		t(device, dir, raw)
	}
}

// Device returns a snapshot of the named device.
func (h *Hub) Device(name string) (DeviceInfo, error) {
	h.mu.RLock()
	d, ok := h.devices[name]
	h.mu.RUnlock()
	if !ok {
		return DeviceInfo{}, fmt.Errorf("%w: %q", ErrUnknownDevice, name)
	}
	return d.info(), nil
}

// Devices returns snapshots of all devices sorted by name.
func (h *Hub) Devices() []DeviceInfo {
	h.mu.RLock()
	out := make([]DeviceInfo, 0, len(h.devices))
	for _, d := range h.devices {
		out = append(out, d.info())
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (d *Device) info() DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	info := DeviceInfo{
		Name:     d.cfg.Name,
		Protocol: d.cfg.Protocol,
		Address:  d.cfg.Address,
		State:    make(map[string]map[string]any, len(d.state)),
	}
	if d.session != nil {
		info.Stats = d.session.Stats()
	}
	for src, fields := range d.state {
		cp := make(map[string]any, len(fields))
		for k, v := range fields {
			cp[k] = v
		}
		info.State[src] = cp
	}
	return info
}

type kinded interface{ Kind() string }
type fielded interface{ Fields() map[string]any }
type sourced interface{ SourceID() string }

func (h *Hub) handleMessage(d *Device, m session.Message) {
	ev := MessageEvent{Device: d.cfg.Name, Time: time.Now()}
	if k, ok := m.(kinded); ok {
		ev.Kind = k.Kind()
	}
	if f, ok := m.(fielded); ok {
		ev.Fields = f.Fields()
	} else {
		ev.Fields = map[string]any{"message": m.String()}
	}
	if s, ok := m.(sourced); ok {
		ev.Source = s.SourceID()
	}
	h.convertUnits(ev.Fields)

	d.mu.Lock()
	st, ok := d.state[ev.Source]
	if !ok {
		st = make(map[string]any)
		d.state[ev.Source] = st
	}
	for k, v := range ev.Fields {
		st[k] = v
	}
	d.mu.Unlock()

	h.events.Emit(Event{Type: EventMessage, Data: ev})
}

func (h *Hub) convertUnits(fields map[string]any) {
	if h.cfg.TemperatureUnit == units.None {
		return
	}
	for k, v := range fields {
		q, ok := v.(units.Quantity)
		if !ok || q.Unit.Dimension() != units.Temperature {
			continue
		}
		c, err := q.In(h.cfg.TemperatureUnit)
		if err != nil {
			h.logger.Warn("unit conversion", "field", k, "err", err)
			continue
		}
		fields[k] = c
	}
}

func (h *Hub) handleState(device string, st session.State, err error) {
	ev := StateEvent{Device: device, State: st.String()}
	if err != nil {
		ev.Error = err.Error()
	}
	h.logger.Info("device state", "device", device, "state", ev.State, "err", ev.Error)
	h.events.Emit(Event{Type: EventDeviceState, Data: ev})
}

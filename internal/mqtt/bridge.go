//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"homewire/internal/hub"
	"homewire/internal/units"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string
	Discovery   bool
}

// Hub is the part of the device hub the bridge drives.
type Hub interface {
	Events() *hub.EventBus
	Devices() []hub.DeviceInfo
	Command(ctx context.Context, device string, cmd map[string]any) error
	Context() context.Context
}

// Bridge publishes device state to MQTT and forwards commands from
// <prefix>/<device>/set to the hub.
type Bridge struct {
	client    pahomqtt.Client
	hub       Hub
	prefix    string
	discovery bool
	logger    *slog.Logger
	unsub     func()

	// publish is replaced in tests.
	publish func(topic string, payload []byte, retained bool)

	mu        sync.Mutex
	states    map[string]map[string]any // state topic -> accumulated fields
	announced map[string]bool           // discovery topics already published
}

func newBridge(h Hub, cfg Config, logger *slog.Logger) *Bridge {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "homewire"
	}
	return &Bridge{
		hub:       h,
		prefix:    prefix,
		discovery: cfg.Discovery,
		logger:    logger.With("component", "mqtt"),
		states:    make(map[string]map[string]any),
		announced: make(map[string]bool),
	}
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(h Hub, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(h, cfg, logger)
	b.publish = b.publishMQTT

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "homewire"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(bridgeStateTopic(b.prefix), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publish(bridgeStateTopic(b.prefix), []byte("online"), true)
			b.publishAvailability()
			b.subscribeCommands()
			// Discovery is re-sent after a broker restart.
			b.mu.Lock()
			b.announced = make(map[string]bool)
			b.mu.Unlock()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to hub events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.hub.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publish(bridgeStateTopic(b.prefix), []byte("offline"), true)
	if b.client != nil {
		b.client.Disconnect(1000)
	}
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event hub.Event) {
	switch ev := event.Data.(type) {
	case hub.StateEvent:
		b.publish(availabilityTopic(b.prefix, ev.Device), []byte(availability(ev.State)), true)
	case hub.MessageEvent:
		b.handleMessage(ev)
	}
}

func (b *Bridge) handleMessage(ev hub.MessageEvent) {
	if len(ev.Fields) == 0 {
		return
	}
	topic := stateTopic(b.prefix, ev.Device, ev.Source)

	b.mu.Lock()
	state, ok := b.states[topic]
	if !ok {
		state = make(map[string]any)
		b.states[topic] = state
	}
	for k, v := range ev.Fields {
		state[k] = stateValue(v)
	}
	state["last_seen"] = ev.Time.Format(time.RFC3339)
	payload := mustJSON(state)

	var disc []discoveryMsg
	if b.discovery {
		for _, m := range buildDiscovery(b.prefix, ev.Device, ev.Source, ev.Fields) {
			if !b.announced[m.Topic] {
				b.announced[m.Topic] = true
				disc = append(disc, m)
			}
		}
	}
	b.mu.Unlock()

	for _, m := range disc {
		b.publish(m.Topic, m.Payload, true)
	}
	b.publish(topic, payload, true)
}

func (b *Bridge) publishAvailability() {
	for _, d := range b.hub.Devices() {
		b.publish(availabilityTopic(b.prefix, d.Name), []byte(availability(d.Stats.State.String())), true)
	}
}

func (b *Bridge) subscribeCommands() {
	for _, d := range b.hub.Devices() {
		name := d.Name
		topic := commandTopic(b.prefix, name)
		b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			b.handleCommand(name, msg.Payload())
		})
	}
}

func (b *Bridge) handleCommand(device string, payload []byte) {
	var cmd map[string]any
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("invalid command JSON", "device", device, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(b.hub.Context(), 10*time.Second)
	defer cancel()
	if err := b.hub.Command(ctx, device, cmd); err != nil {
		b.logger.Warn("command failed", "device", device, "err", err)
	}
}

func (b *Bridge) publishMQTT(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func availability(state string) string {
	if state == "online" {
		return "online"
	}
	return "offline"
}

// stateValue flattens quantities to their number; the unit is carried by
// discovery.
func stateValue(v any) any {
	if q, ok := v.(units.Quantity); ok {
		return q.Value
	}
	return v
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

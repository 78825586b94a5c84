//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"sort"

	"homewire/internal/units"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/homewire_rfx_temp1_6a01/temperature/config"
	Payload []byte
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers []string `json:"identifiers"`
	Name        string   `json:"name"`
	ViaDevice   string   `json:"via_device,omitempty"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	Device            haDevice `json:"device"`
}

// nodeID returns the unique identifier for the HA device registry.
func nodeID(device, source string) string {
	id := "homewire_" + topicName(device)
	if source != "" {
		id += "_" + topicName(source)
	}
	return id
}

var dimensionClasses = map[units.Dimension]string{
	units.Temperature:    "temperature",
	units.Power:          "power",
	units.Energy:         "energy",
	units.Voltage:        "voltage",
	units.Current:        "current",
	units.Illuminance:    "illuminance",
	units.Pressure:       "pressure",
	units.SignalStrength: "signal_strength",
	units.Length:         "precipitation",
	units.Speed:          "wind_speed",
}

// percentClasses names the fields whose percentages HA has a class for.
var percentClasses = map[string]string{
	"humidity": "humidity",
	"battery":  "battery",
}

// buildDiscovery generates HA discovery messages for the telemetry fields
// of one message. Quantities and plain numbers become sensors, booleans
// binary sensors. Strings and composite values are not announced.
func buildDiscovery(prefix, device, source string, fields map[string]any) []discoveryMsg {
	id := nodeID(device, source)
	name := device
	haDev := haDevice{Identifiers: []string{id}, Name: name}
	if source != "" {
		haDev.Name = device + " " + source
		haDev.ViaDevice = nodeID(device, "")
	}
	st := stateTopic(prefix, device, source)
	avail := availabilityTopic(prefix, device)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var msgs []discoveryMsg
	for _, field := range keys {
		p := haDiscovery{
			Name:              haDev.Name + " " + field,
			UniqueID:          id + "_" + field,
			StateTopic:        st,
			AvailabilityTopic: avail,
			Device:            haDev,
		}
		component := "sensor"
		switch v := fields[field].(type) {
		case units.Quantity:
			p.UnitOfMeasurement = v.Unit.String()
			p.StateClass = "measurement"
			if v.Unit == units.Percent {
				p.DeviceClass = percentClasses[field]
			} else {
				p.DeviceClass = dimensionClasses[v.Unit.Dimension()]
			}
			p.ValueTemplate = fmt.Sprintf("{{ value_json.%s }}", field)
		case bool:
			component = "binary_sensor"
			p.PayloadOn = "ON"
			p.PayloadOff = "OFF"
			p.ValueTemplate = fmt.Sprintf("{{ 'ON' if value_json.%s else 'OFF' }}", field)
			if field == "battery_low" {
				p.DeviceClass = "battery"
			}
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			p.StateClass = "measurement"
			p.ValueTemplate = fmt.Sprintf("{{ value_json.%s }}", field)
		default:
			continue
		}
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("homeassistant/%s/%s/%s/config", component, id, field),
			Payload: mustJSON(p),
		})
	}
	return msgs
}

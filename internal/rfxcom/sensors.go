package rfxcom

import (
	"fmt"
	"math"

	"homewire/internal/units"
)

// Humidity status values of TemperatureHumidity.
const (
	HumidityNormal  byte = 0x00
	HumidityComfort byte = 0x01
	HumidityDry     byte = 0x02
	HumidityWet     byte = 0x03
)

func humidityStatusName(s byte) string {
	switch s {
	case HumidityNormal:
		return "normal"
	case HumidityComfort:
		return "comfort"
	case HumidityDry:
		return "dry"
	case HumidityWet:
		return "wet"
	default:
		return fmt.Sprintf("0x%02X", s)
	}
}

// decodeTemp reads the signed tenths-of-a-degree encoding: bit 7 of
// the high byte is the sign.
func decodeTemp(hi, lo byte) float64 {
	v := float64(uint16(hi&0x7F)<<8|uint16(lo)) / 10
	if hi&0x80 != 0 {
		v = -v
	}
	return v
}

func encodeTemp(t float64) (hi, lo byte, err error) {
	v := math.Round(math.Abs(t) * 10)
	if v > 0x7FFF {
		return 0, 0, fmt.Errorf("%w: temperature %g", ErrInvalidValue, t)
	}
	n := uint16(v)
	hi, lo = byte(n>>8), byte(n)
	if t < 0 && n != 0 {
		hi |= 0x80
	}
	return hi, lo, nil
}

// Temperature is a temperature-only sensor reading.
type Temperature struct {
	Header
	SensorID    uint16
	Celsius     float64
	Battery     byte // 0-9
	SignalLevel byte
}

func decodeTemperature(b []byte) (Message, error) {
	return &Temperature{
		Header:      Header{Subtype: b[2], Seq: b[3]},
		SensorID:    uint16(b[4])<<8 | uint16(b[5]),
		Celsius:     decodeTemp(b[6], b[7]),
		Battery:     batteryLevel(b[8]),
		SignalLevel: signalLevel(b[8]),
	}, nil
}

func (m *Temperature) Marshal(seq uint8) ([]byte, error) {
	hi, lo, err := encodeTemp(m.Celsius)
	if err != nil {
		return nil, err
	}
	b := packet(0x08, TypeTemperature, m.Subtype, seq)
	b[4], b[5] = byte(m.SensorID>>8), byte(m.SensorID)
	b[6], b[7] = hi, lo
	b[8] = m.SignalLevel<<4 | m.Battery&0x0F
	return b, nil
}

func (m *Temperature) Kind() string     { return "temperature" }
func (m *Temperature) SourceID() string { return fmt.Sprintf("temp%d_%04X", m.Subtype, m.SensorID) }

func (m *Temperature) Fields() map[string]any {
	return map[string]any{
		"temperature":  units.Q(m.Celsius, units.Celsius),
		"battery":      m.Battery,
		"battery_low":  m.Battery <= 1,
		"signal_level": m.SignalLevel,
	}
}

func (m *Temperature) String() string {
	return fmt.Sprintf("Temperature{TEMP%d id=%04X %.1f°C battery=%d}", m.Subtype, m.SensorID, m.Celsius, m.Battery)
}

// TemperatureHumidity is a combined temperature and humidity reading.
type TemperatureHumidity struct {
	Header
	SensorID       uint16
	Celsius        float64
	Humidity       byte // percent
	HumidityStatus byte
	Battery        byte
	SignalLevel    byte
}

func decodeTemperatureHumidity(b []byte) (Message, error) {
	return &TemperatureHumidity{
		Header:         Header{Subtype: b[2], Seq: b[3]},
		SensorID:       uint16(b[4])<<8 | uint16(b[5]),
		Celsius:        decodeTemp(b[6], b[7]),
		Humidity:       b[8],
		HumidityStatus: b[9],
		Battery:        batteryLevel(b[10]),
		SignalLevel:    signalLevel(b[10]),
	}, nil
}

func (m *TemperatureHumidity) Marshal(seq uint8) ([]byte, error) {
	hi, lo, err := encodeTemp(m.Celsius)
	if err != nil {
		return nil, err
	}
	b := packet(0x0A, TypeTemperatureHumidity, m.Subtype, seq)
	b[4], b[5] = byte(m.SensorID>>8), byte(m.SensorID)
	b[6], b[7] = hi, lo
	b[8] = m.Humidity
	b[9] = m.HumidityStatus
	b[10] = m.SignalLevel<<4 | m.Battery&0x0F
	return b, nil
}

func (m *TemperatureHumidity) Kind() string { return "temperature_humidity" }
func (m *TemperatureHumidity) SourceID() string {
	return fmt.Sprintf("th%d_%04X", m.Subtype, m.SensorID)
}

func (m *TemperatureHumidity) Fields() map[string]any {
	return map[string]any{
		"temperature":     units.Q(m.Celsius, units.Celsius),
		"humidity":        units.Q(float64(m.Humidity), units.Percent),
		"humidity_status": humidityStatusName(m.HumidityStatus),
		"battery":         m.Battery,
		"battery_low":     m.Battery <= 1,
		"signal_level":    m.SignalLevel,
	}
}

func (m *TemperatureHumidity) String() string {
	return fmt.Sprintf("TemperatureHumidity{TH%d id=%04X %.1f°C %d%% battery=%d}",
		m.Subtype, m.SensorID, m.Celsius, m.Humidity, m.Battery)
}

// Undecoded carries raw RF data the transceiver received but could not
// interpret, when undecoded reporting is enabled.
type Undecoded struct {
	Header
	Data []byte
}

func decodeUndecoded(b []byte) (Message, error) {
	d := make([]byte, len(b)-4)
	copy(d, b[4:])
	return &Undecoded{Header: Header{Subtype: b[2], Seq: b[3]}, Data: d}, nil
}

func (m *Undecoded) Marshal(seq uint8) ([]byte, error) {
	if len(m.Data) > 0xFF-3 {
		return nil, fmt.Errorf("%w: undecoded payload of %d bytes", ErrInvalidValue, len(m.Data))
	}
	b := packet(byte(len(m.Data)+3), TypeUndecoded, m.Subtype, seq)
	copy(b[4:], m.Data)
	return b, nil
}

func (m *Undecoded) Kind() string { return "undecoded" }

func (m *Undecoded) Fields() map[string]any {
	return map[string]any{"protocol": m.Subtype, "data": fmt.Sprintf("%X", m.Data)}
}

func (m *Undecoded) String() string {
	return fmt.Sprintf("Undecoded{protocol=0x%02X data=%X}", m.Subtype, m.Data)
}

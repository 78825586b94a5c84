// Package rfxcom implements the RFXCOM transceiver serial protocol: the
// length-prefixed packet codec, the message variants, the transceiver mode
// table and the session adapter that correlates commands with the
// transceiver's acknowledgements.
//
// Packet layout:
//
//	byte 0   length (bytes that follow)
//	byte 1   packet type
//	byte 2   subtype
//	byte 3   sequence number
//	byte 4.. data
package rfxcom

import (
	"fmt"
)

const minPacketLen = 4

// Packet types.
const (
	TypeInterfaceControl    byte = 0x00
	TypeInterfaceResponse   byte = 0x01
	TypeTransmitterResponse byte = 0x02
	TypeUndecoded           byte = 0x03
	TypeLighting2           byte = 0x11
	TypeTemperature         byte = 0x50
	TypeTemperatureHumidity byte = 0x52
)

// Message is one decoded packet. The set of implementations is closed.
type Message interface {
	fmt.Stringer
	Kind() string
	// Marshal renders the packet with the given sequence number.
	Marshal(seq uint8) ([]byte, error)
	// Fields returns the decoded values keyed by property name.
	Fields() map[string]any

	isMessage()
}

// Header holds the bytes every packet carries after its length.
type Header struct {
	Subtype byte
	Seq     byte
}

func (Header) isMessage() {}

// packet starts a buffer of the given total data length (excluding the
// length byte itself).
func packet(length, typ, subtype, seq byte) []byte {
	b := make([]byte, length+1)
	b[0], b[1], b[2], b[3] = length, typ, subtype, seq
	return b
}

type variant struct {
	name   string
	typ    byte
	minLen int // minimum value of the length byte
	build  func(b []byte) (Message, error)
}

// variants is searched by packet type; minLen guards every offset read in
// build.
var variants = []variant{
	{"interface_control", TypeInterfaceControl, 0x0D, decodeInterfaceControl},
	{"interface_response", TypeInterfaceResponse, 0x04, decodeInterfaceResponse},
	{"transmitter_response", TypeTransmitterResponse, 0x04, decodeTransmitterResponse},
	{"undecoded", TypeUndecoded, 0x03, decodeUndecoded},
	{"lighting2", TypeLighting2, 0x0B, decodeLighting2},
	{"temperature", TypeTemperature, 0x08, decodeTemperature},
	{"temperature_humidity", TypeTemperatureHumidity, 0x0A, decodeTemperatureHumidity},
}

// Decode parses one packet. Bytes past the declared length are ignored.
func Decode(b []byte) (Message, error) {
	if len(b) < minPacketLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooShort, len(b))
	}
	n := int(b[0])
	if n < minPacketLen-1 || n+1 > len(b) {
		return nil, fmt.Errorf("%w: declared %d, have %d", ErrLengthMismatch, n, len(b)-1)
	}
	b = b[:n+1]

	for _, v := range variants {
		if v.typ != b[1] {
			continue
		}
		if n < v.minLen {
			return nil, fmt.Errorf("%w: %s needs length 0x%02X, got 0x%02X", ErrLengthMismatch, v.name, v.minLen, n)
		}
		return v.build(b)
	}
	return nil, fmt.Errorf("%w: type 0x%02X subtype 0x%02X", ErrUnrecognizedMessage, b[1], b[2])
}

// Split is a bufio.SplitFunc for the serial byte stream. Bytes that cannot
// be a length byte are skipped within the same call.
func Split(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for off := 0; off < len(data); off++ {
		n := int(data[off])
		if n < minPacketLen-1 {
			continue
		}
		if len(data)-off < n+1 {
			if atEOF {
				return len(data), nil, nil
			}
			return off, nil, nil
		}
		return off + n + 1, data[off : off+n+1], nil
	}
	return len(data), nil, nil
}

func signalLevel(b byte) byte  { return b >> 4 }
func batteryLevel(b byte) byte { return b & 0x0F }

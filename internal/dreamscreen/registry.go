package dreamscreen

import (
	"encoding/binary"
	"fmt"
)

// variant pairs a frame predicate with the constructor for its message type.
type variant struct {
	name  string
	match func(Frame) bool
	build func(Frame) Message
}

func command(upper, lower byte) func(Frame) bool {
	return func(f Frame) bool { return f.CommandUpper == upper && f.CommandLower == lower }
}

func control(lower byte, size int) func(Frame) bool {
	is := command(cmdUpperControl, lower)
	return func(f Frame) bool { return is(f) && len(f.Payload) >= size }
}

// variants is evaluated in order; the first match wins. Predicates sharing a
// command pair must stay mutually exclusive.
var variants = []variant{
	{
		name:  "serial_number_request",
		match: func(f Frame) bool { return command(cmdUpperInfo, cmdLowerSerialNumber)(f) && len(f.Payload) == 0 },
		build: func(f Frame) Message { return &SerialNumberRequest{Header{f.Group, f.Flags}} },
	},
	{
		name:  "serial_number",
		match: func(f Frame) bool { return command(cmdUpperInfo, cmdLowerSerialNumber)(f) && len(f.Payload) >= 4 },
		build: func(f Frame) Message {
			return &SerialNumber{Header: Header{f.Group, f.Flags}, Serial: binary.BigEndian.Uint32(f.Payload)}
		},
	},
	{
		name:  "refresh_request",
		match: func(f Frame) bool { return command(cmdUpperInfo, cmdLowerRefresh)(f) && len(f.Payload) == 0 },
		build: func(f Frame) Message { return &RefreshRequest{Header{f.Group, f.Flags}} },
	},
	{
		name: "refresh",
		match: func(f Frame) bool {
			if !command(cmdUpperInfo, cmdLowerRefresh)(f) || len(f.Payload) == 0 {
				return false
			}
			l := layoutFor(Product(f.Payload[len(f.Payload)-1]))
			return l != nil && len(f.Payload) >= l.size
		},
		build: func(f Frame) Message { return newRefreshFromFrame(f) },
	},
	{
		name:  "mode",
		match: control(cmdLowerMode, 1),
		build: func(f Frame) Message { return &Mode{Header: Header{f.Group, f.Flags}, Mode: f.Payload[0]} },
	},
	{
		name:  "brightness",
		match: control(cmdLowerBrightness, 1),
		build: func(f Frame) Message { return &Brightness{Header: Header{f.Group, f.Flags}, Percent: f.Payload[0]} },
	},
	{
		name:  "color",
		match: control(cmdLowerColor, 3),
		build: func(f Frame) Message {
			return &Color{Header: Header{f.Group, f.Flags}, R: f.Payload[0], G: f.Payload[1], B: f.Payload[2]}
		},
	},
	{
		name:  "ambient_mode_type",
		match: control(cmdLowerAmbientModeType, 1),
		build: func(f Frame) Message { return &AmbientModeType{Header: Header{f.Group, f.Flags}, Type: f.Payload[0]} },
	},
	{
		name:  "scene",
		match: control(cmdLowerScene, 1),
		build: func(f Frame) Message { return &Scene{Header: Header{f.Group, f.Flags}, Scene: f.Payload[0]} },
	},
	{
		name:  "input",
		match: control(cmdLowerInput, 1),
		build: func(f Frame) Message { return &Input{Header: Header{f.Group, f.Flags}, Input: f.Payload[0]} },
	},
}

// Classify returns the message variant that claims f.
func Classify(f Frame) (Message, error) {
	for _, v := range variants {
		if v.match(f) {
			return v.build(f), nil
		}
	}
	return nil, fmt.Errorf("%w: cmd=0x%04X payload=%d bytes", ErrUnrecognizedMessage, f.Command(), len(f.Payload))
}

// Parse decodes and classifies one frame.
func Parse(b []byte) (Message, error) {
	f, err := Decode(b)
	if err != nil {
		return nil, err
	}
	return Classify(f)
}

// Marshal encodes a message to wire bytes.
func Marshal(m Message) ([]byte, error) {
	return Encode(m.Frame())
}

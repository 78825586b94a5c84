package dreamscreen

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Command pairs claimed by the message variants.
const (
	cmdUpperInfo    byte = 0x01
	cmdUpperControl byte = 0x03

	cmdLowerSerialNumber    byte = 0x03
	cmdLowerRefresh         byte = 0x0A
	cmdLowerMode            byte = 0x01
	cmdLowerBrightness      byte = 0x02
	cmdLowerColor           byte = 0x05
	cmdLowerAmbientModeType byte = 0x08
	cmdLowerScene           byte = 0x0D
	cmdLowerInput           byte = 0x20
)

// Message is a typed interpretation of a Frame. The set of implementations
// is closed; Classify returns one of the pointer types in this file.
type Message interface {
	fmt.Stringer
	// Frame renders the message for transmission.
	Frame() Frame
	// Kind is a short stable name for the variant, e.g. "color".
	Kind() string
	// Fields returns the decoded values keyed by property name.
	Fields() map[string]any

	isMessage()
}

// Header carries the addressing bytes shared by every variant.
type Header struct {
	Group byte
	Flags byte
}

func (Header) isMessage() {}

func (h Header) frame(upper, lower byte, payload ...byte) Frame {
	return Frame{Group: h.Group, Flags: h.Flags, CommandUpper: upper, CommandLower: lower, Payload: payload}
}

// Mode values.
const (
	ModeSleep   byte = 0
	ModeVideo   byte = 1
	ModeMusic   byte = 2
	ModeAmbient byte = 3
)

// ModeName returns the display name of a mode value.
func ModeName(m byte) string {
	switch m {
	case ModeSleep:
		return "sleep"
	case ModeVideo:
		return "video"
	case ModeMusic:
		return "music"
	case ModeAmbient:
		return "ambient"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}

// Ambient mode types.
const (
	AmbientColor byte = 0
	AmbientScene byte = 1
)

var sceneNames = []string{
	"random_color", "fireside", "twinkle", "ocean", "rainbow",
	"july_4th", "holiday", "pop", "enchanted_forest",
}

// SceneName returns the display name of an ambient scene.
func SceneName(s byte) string {
	if int(s) < len(sceneNames) {
		return sceneNames[s]
	}
	return fmt.Sprintf("scene_%d", s)
}

// SerialNumberRequest asks a device for its serial number.
type SerialNumberRequest struct{ Header }

// NewSerialNumberRequest builds a read of the serial number register.
func NewSerialNumberRequest(group byte) *SerialNumberRequest {
	return &SerialNumberRequest{Header{Group: group, Flags: FlagRead}}
}

func (m *SerialNumberRequest) Frame() Frame {
	return m.frame(cmdUpperInfo, cmdLowerSerialNumber)
}
func (m *SerialNumberRequest) Kind() string           { return "serial_number_request" }
func (m *SerialNumberRequest) Fields() map[string]any { return map[string]any{"group": m.Group} }
func (m *SerialNumberRequest) String() string {
	return fmt.Sprintf("SerialNumberRequest{group=%d}", m.Group)
}

// SerialNumber is a device's reply to SerialNumberRequest.
type SerialNumber struct {
	Header
	Serial uint32
}

func (m *SerialNumber) Frame() Frame {
	var p [4]byte
	binary.BigEndian.PutUint32(p[:], m.Serial)
	return m.frame(cmdUpperInfo, cmdLowerSerialNumber, p[:]...)
}
func (m *SerialNumber) Kind() string { return "serial_number" }
func (m *SerialNumber) Fields() map[string]any {
	return map[string]any{"group": m.Group, "serial": m.Serial}
}
func (m *SerialNumber) String() string {
	return fmt.Sprintf("SerialNumber{group=%d serial=%d}", m.Group, m.Serial)
}

// RefreshRequest is the broadcast poll every device answers with a Refresh.
type RefreshRequest struct{ Header }

// NewRefreshRequest builds the broadcast status poll.
func NewRefreshRequest() *RefreshRequest {
	return &RefreshRequest{Header{Group: GroupAll, Flags: FlagBroadcastRead}}
}

func (m *RefreshRequest) Frame() Frame           { return m.frame(cmdUpperInfo, cmdLowerRefresh) }
func (m *RefreshRequest) Kind() string           { return "refresh_request" }
func (m *RefreshRequest) Fields() map[string]any { return map[string]any{"group": m.Group} }
func (m *RefreshRequest) String() string         { return fmt.Sprintf("RefreshRequest{group=%d}", m.Group) }

// Mode switches between sleep, video, music and ambient.
type Mode struct {
	Header
	Mode byte
}

// NewMode builds a mode write.
func NewMode(group, mode byte) *Mode {
	return &Mode{Header: Header{Group: group, Flags: FlagWrite}, Mode: mode}
}

func (m *Mode) Frame() Frame { return m.frame(cmdUpperControl, cmdLowerMode, m.Mode) }
func (m *Mode) Kind() string { return "mode" }
func (m *Mode) Fields() map[string]any {
	return map[string]any{"group": m.Group, "mode": ModeName(m.Mode)}
}
func (m *Mode) String() string {
	return fmt.Sprintf("Mode{group=%d mode=%s}", m.Group, ModeName(m.Mode))
}

// Brightness sets the output brightness in percent.
type Brightness struct {
	Header
	Percent byte
}

// NewBrightness builds a brightness write; values above 100 are clamped.
func NewBrightness(group, percent byte) *Brightness {
	if percent > 100 {
		percent = 100
	}
	return &Brightness{Header: Header{Group: group, Flags: FlagWrite}, Percent: percent}
}

func (m *Brightness) Frame() Frame { return m.frame(cmdUpperControl, cmdLowerBrightness, m.Percent) }
func (m *Brightness) Kind() string { return "brightness" }
func (m *Brightness) Fields() map[string]any {
	return map[string]any{"group": m.Group, "brightness": m.Percent}
}
func (m *Brightness) String() string {
	return fmt.Sprintf("Brightness{group=%d percent=%d}", m.Group, m.Percent)
}

// Color sets the ambient colour.
type Color struct {
	Header
	R, G, B byte
}

// NewColor builds an ambient colour write.
func NewColor(group, r, g, b byte) *Color {
	return &Color{Header: Header{Group: group, Flags: FlagWrite}, R: r, G: g, B: b}
}

func (m *Color) Frame() Frame { return m.frame(cmdUpperControl, cmdLowerColor, m.R, m.G, m.B) }
func (m *Color) Kind() string { return "color" }
func (m *Color) Fields() map[string]any {
	return map[string]any{"group": m.Group, "color": []int{int(m.R), int(m.G), int(m.B)}}
}
func (m *Color) String() string {
	return fmt.Sprintf("Color{group=%d rgb=#%02X%02X%02X}", m.Group, m.R, m.G, m.B)
}

// AmbientModeType chooses between a solid colour and a scene in ambient mode.
type AmbientModeType struct {
	Header
	Type byte
}

// NewAmbientModeType builds an ambient mode type write.
func NewAmbientModeType(group, t byte) *AmbientModeType {
	return &AmbientModeType{Header: Header{Group: group, Flags: FlagWrite}, Type: t}
}

func (m *AmbientModeType) Frame() Frame {
	return m.frame(cmdUpperControl, cmdLowerAmbientModeType, m.Type)
}
func (m *AmbientModeType) Kind() string { return "ambient_mode_type" }
func (m *AmbientModeType) Fields() map[string]any {
	return map[string]any{"group": m.Group, "ambient_mode_type": AmbientTypeName(m.Type)}
}
func (m *AmbientModeType) String() string {
	return fmt.Sprintf("AmbientModeType{group=%d type=%s}", m.Group, AmbientTypeName(m.Type))
}

// AmbientTypeName returns "scene" or "color".
func AmbientTypeName(t byte) string {
	if t == AmbientScene {
		return "scene"
	}
	return "color"
}

// Scene selects an ambient scene.
type Scene struct {
	Header
	Scene byte
}

// NewScene builds an ambient scene write.
func NewScene(group, scene byte) *Scene {
	return &Scene{Header: Header{Group: group, Flags: FlagWrite}, Scene: scene}
}

// GetScene returns the selected scene number.
func (m *Scene) GetScene() byte { return m.Scene }

func (m *Scene) Frame() Frame { return m.frame(cmdUpperControl, cmdLowerScene, m.Scene) }
func (m *Scene) Kind() string { return "scene" }
func (m *Scene) Fields() map[string]any {
	return map[string]any{"group": m.Group, "scene": SceneName(m.Scene)}
}
func (m *Scene) String() string {
	return fmt.Sprintf("Scene{group=%d scene=%s}", m.Group, SceneName(m.Scene))
}

// Input selects the HDMI input (0-2).
type Input struct {
	Header
	Input byte
}

// NewInput builds an HDMI input write.
func NewInput(group, input byte) *Input {
	return &Input{Header: Header{Group: group, Flags: FlagWrite}, Input: input}
}

func (m *Input) Frame() Frame { return m.frame(cmdUpperControl, cmdLowerInput, m.Input) }
func (m *Input) Kind() string { return "input" }
func (m *Input) Fields() map[string]any {
	return map[string]any{"group": m.Group, "input": m.Input}
}
func (m *Input) String() string { return fmt.Sprintf("Input{group=%d input=%d}", m.Group, m.Input) }

// trimName decodes a fixed-width, NUL padded name field.
func trimName(b []byte) string {
	return strings.TrimSpace(strings.TrimRight(string(b), "\x00"))
}

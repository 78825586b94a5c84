package rfxcom

import (
	"fmt"
	"strings"
)

// Interface control commands.
const (
	CmdReset         byte = 0x00
	CmdGetStatus     byte = 0x02
	CmdSetMode       byte = 0x03
	CmdSaveSettings  byte = 0x06
	CmdStartReceiver byte = 0x07
)

// Interface response subtypes.
const (
	SubtypeModeResponse    byte = 0x00
	SubtypeReceiverStarted byte = 0x07
	SubtypeWrongCommand    byte = 0xFF
)

const receiverStartedBanner = "Copyright RFXCOM"

func interfaceCommandName(c byte) string {
	switch c {
	case CmdReset:
		return "reset"
	case CmdGetStatus:
		return "get_status"
	case CmdSetMode:
		return "set_mode"
	case CmdSaveSettings:
		return "save_settings"
	case CmdStartReceiver:
		return "start_receiver"
	default:
		return fmt.Sprintf("0x%02X", c)
	}
}

// InterfaceControl is a command to the transceiver itself.
type InterfaceControl struct {
	Header
	Command         byte
	TransceiverType byte
	// Protocols holds the receive enable bits (msg3..msg6).
	Protocols [4]byte
}

// NewReset builds the reset command. The transceiver does not answer it.
func NewReset() *InterfaceControl { return &InterfaceControl{Command: CmdReset} }

// NewGetStatus builds the status query.
func NewGetStatus() *InterfaceControl { return &InterfaceControl{Command: CmdGetStatus} }

// NewSetMode selects the transceiver frequency and enabled protocols.
func NewSetMode(transceiverType byte, protocols [4]byte) *InterfaceControl {
	return &InterfaceControl{Command: CmdSetMode, TransceiverType: transceiverType, Protocols: protocols}
}

// NewStartReceiver builds the command that ends the start-up sequence.
func NewStartReceiver() *InterfaceControl { return &InterfaceControl{Command: CmdStartReceiver} }

func decodeInterfaceControl(b []byte) (Message, error) {
	m := &InterfaceControl{
		Header:          Header{Subtype: b[2], Seq: b[3]},
		Command:         b[4],
		TransceiverType: b[5],
	}
	copy(m.Protocols[:], b[7:11])
	return m, nil
}

func (m *InterfaceControl) Marshal(seq uint8) ([]byte, error) {
	b := packet(0x0D, TypeInterfaceControl, 0x00, seq)
	b[4] = m.Command
	b[5] = m.TransceiverType
	copy(b[7:11], m.Protocols[:])
	return b, nil
}

func (m *InterfaceControl) Kind() string { return "interface_control" }

func (m *InterfaceControl) Fields() map[string]any {
	return map[string]any{"command": interfaceCommandName(m.Command)}
}

func (m *InterfaceControl) String() string {
	return fmt.Sprintf("InterfaceControl{seq=%d cmd=%s}", m.Seq, interfaceCommandName(m.Command))
}

// InterfaceResponse is the transceiver's answer to an InterfaceControl.
type InterfaceResponse struct {
	Header
	Command         byte
	TransceiverType byte
	FirmwareVersion byte
	Protocols       [4]byte
	HardwareVersion [2]byte
	// Banner is the text of a receiver-started response.
	Banner string
}

// Sequence returns the sequence number of the command being answered.
func (m *InterfaceResponse) Sequence() uint8 { return m.Seq }

func decodeInterfaceResponse(b []byte) (Message, error) {
	m := &InterfaceResponse{Header: Header{Subtype: b[2], Seq: b[3]}, Command: b[4]}
	switch m.Subtype {
	case SubtypeModeResponse:
		if len(b) < 13 {
			return nil, fmt.Errorf("%w: mode response needs 13 bytes, got %d", ErrLengthMismatch, len(b))
		}
		m.TransceiverType = b[5]
		m.FirmwareVersion = b[6]
		copy(m.Protocols[:], b[7:11])
		m.HardwareVersion = [2]byte{b[11], b[12]}
	case SubtypeReceiverStarted:
		m.Banner = strings.TrimRight(string(b[5:]), "\x00")
	}
	return m, nil
}

func (m *InterfaceResponse) Marshal(seq uint8) ([]byte, error) {
	switch m.Subtype {
	case SubtypeModeResponse:
		b := packet(0x14, TypeInterfaceResponse, m.Subtype, seq)
		b[4] = m.Command
		b[5] = m.TransceiverType
		b[6] = m.FirmwareVersion
		copy(b[7:11], m.Protocols[:])
		b[11], b[12] = m.HardwareVersion[0], m.HardwareVersion[1]
		return b, nil
	case SubtypeReceiverStarted:
		b := packet(0x14, TypeInterfaceResponse, m.Subtype, seq)
		b[4] = m.Command
		copy(b[5:], m.Banner)
		return b, nil
	default:
		b := packet(0x04, TypeInterfaceResponse, m.Subtype, seq)
		b[4] = m.Command
		return b, nil
	}
}

func (m *InterfaceResponse) Kind() string { return "interface_response" }

func (m *InterfaceResponse) Fields() map[string]any {
	f := map[string]any{"command": interfaceCommandName(m.Command)}
	switch m.Subtype {
	case SubtypeModeResponse:
		f["transceiver"] = TransceiverName(m.TransceiverType)
		f["firmware_version"] = m.FirmwareVersion
		f["hardware_version"] = fmt.Sprintf("%d.%d", m.HardwareVersion[0], m.HardwareVersion[1])
	case SubtypeReceiverStarted:
		f["banner"] = m.Banner
	case SubtypeWrongCommand:
		f["error"] = "wrong command"
	}
	return f
}

func (m *InterfaceResponse) String() string {
	switch m.Subtype {
	case SubtypeModeResponse:
		return fmt.Sprintf("InterfaceResponse{seq=%d cmd=%s transceiver=%s fw=%d}",
			m.Seq, interfaceCommandName(m.Command), TransceiverName(m.TransceiverType), m.FirmwareVersion)
	case SubtypeReceiverStarted:
		return fmt.Sprintf("InterfaceResponse{seq=%d receiver started %q}", m.Seq, m.Banner)
	case SubtypeWrongCommand:
		return fmt.Sprintf("InterfaceResponse{seq=%d wrong command %s}", m.Seq, interfaceCommandName(m.Command))
	default:
		return fmt.Sprintf("InterfaceResponse{seq=%d subtype=0x%02X}", m.Seq, m.Subtype)
	}
}

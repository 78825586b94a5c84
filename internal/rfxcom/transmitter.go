package rfxcom

import "fmt"

// Response is the transceiver's verdict on a transmitted command.
type Response int

const (
	ResponseACK Response = iota
	ResponseACKDelayed
	ResponseNAK
	ResponseNAKInvalidAddress
	ResponseUnknown
)

func (r Response) String() string {
	switch r {
	case ResponseACK:
		return "ACK"
	case ResponseACKDelayed:
		return "ACK_DELAYED"
	case ResponseNAK:
		return "NAK"
	case ResponseNAKInvalidAddress:
		return "NAK_INVALID_ADDRESS"
	default:
		return "UNKNOWN"
	}
}

// Transmitter response subtypes.
const (
	SubtypeReceiverLockError byte = 0x00
	SubtypeTransmitterResult byte = 0x01
)

// TransmitterResponse acknowledges a transmitted RF command.
type TransmitterResponse struct {
	Header
	Message byte
}

// NewTransmitterResponse builds the acknowledgement for r, as the
// transceiver would send it.
func NewTransmitterResponse(r Response) *TransmitterResponse {
	return &TransmitterResponse{Header: Header{Subtype: SubtypeTransmitterResult}, Message: byte(r)}
}

// Sequence returns the sequence number of the acknowledged command.
func (m *TransmitterResponse) Sequence() uint8 { return m.Seq }

// Response classifies the acknowledgement.
func (m *TransmitterResponse) Response() Response {
	switch m.Subtype {
	case SubtypeReceiverLockError:
		return ResponseNAK
	case SubtypeTransmitterResult:
		if m.Message <= byte(ResponseNAKInvalidAddress) {
			return Response(m.Message)
		}
	}
	return ResponseUnknown
}

func decodeTransmitterResponse(b []byte) (Message, error) {
	return &TransmitterResponse{Header: Header{Subtype: b[2], Seq: b[3]}, Message: b[4]}, nil
}

func (m *TransmitterResponse) Marshal(seq uint8) ([]byte, error) {
	b := packet(0x04, TypeTransmitterResponse, m.Subtype, seq)
	b[4] = m.Message
	return b, nil
}

func (m *TransmitterResponse) Kind() string { return "transmitter_response" }

func (m *TransmitterResponse) Fields() map[string]any {
	return map[string]any{"response": m.Response().String()}
}

func (m *TransmitterResponse) String() string {
	return fmt.Sprintf("TransmitterResponse{seq=%d %s}", m.Seq, m.Response())
}

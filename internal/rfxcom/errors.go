package rfxcom

import "errors"

var (
	ErrTooShort            = errors.New("rfxcom: packet too short")
	ErrLengthMismatch      = errors.New("rfxcom: length mismatch")
	ErrUnrecognizedMessage = errors.New("rfxcom: unrecognized message")
	ErrUnsupportedMode     = errors.New("rfxcom: unsupported transceiver mode")
	ErrUnexpectedReply     = errors.New("rfxcom: unexpected reply")
	ErrInvalidValue        = errors.New("rfxcom: invalid value")

	// ErrNAK is returned by Transmit when the transceiver rejects a command.
	ErrNAK = errors.New("rfxcom: transmitter NAK")
	// ErrNAKInvalidAddress is a NAK for an address the protocol cannot carry.
	ErrNAKInvalidAddress = errors.New("rfxcom: transmitter NAK, invalid address")
	// ErrUnknownResponse is a transmitter response outside the known set.
	ErrUnknownResponse = errors.New("rfxcom: unknown transmitter response")
)

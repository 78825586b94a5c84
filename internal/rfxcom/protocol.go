package rfxcom

import (
	"context"
	"fmt"
	"strings"
	"time"

	"homewire/internal/session"
)

// The transceiver ignores input for a short while after a reset.
const defaultResetDelay = 500 * time.Millisecond

// Protocol runs the RFXCOM codec on a session.
type Protocol struct {
	// Mode, when set, is applied during the handshake if the transceiver
	// reports a different one.
	Mode *TransceiverMode
	// ResetDelay is the pause between reset and the status query.
	ResetDelay time.Duration
}

func (Protocol) Name() string { return "rfxcom" }

func (Protocol) Split(data []byte, atEOF bool) (int, []byte, error) { return Split(data, atEOF) }

// Decode returns the packet as a session message. Interface and transmitter
// responses are replies and resolve the outstanding command.
func (Protocol) Decode(raw []byte) (session.Message, error) { return Decode(raw) }

// Handshake resets the transceiver, reads its status, applies the
// configured mode and starts the receiver.
func (p Protocol) Handshake(ctx context.Context, c session.Conversation) error {
	var wantType byte
	if p.Mode != nil {
		t, err := p.Mode.Type()
		if err != nil {
			return err
		}
		wantType = t
	}

	if err := c.SendCommand(NewReset()); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	delay := p.ResetDelay
	if delay <= 0 {
		delay = defaultResetDelay
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	status, err := awaitInterfaceResponse(ctx, c, NewGetStatus())
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	if status.Subtype != SubtypeModeResponse {
		return fmt.Errorf("get status: %w: %s", ErrUnexpectedReply, status)
	}

	if p.Mode != nil && status.TransceiverType != wantType {
		r, err := awaitInterfaceResponse(ctx, c, NewSetMode(wantType, status.Protocols))
		if err != nil {
			return fmt.Errorf("set mode %s: %w", p.Mode, err)
		}
		if r.Subtype == SubtypeWrongCommand {
			return fmt.Errorf("set mode %s: %w: %s", p.Mode, ErrUnexpectedReply, r)
		}
	}

	// Firmware older than the start-receiver command answers "wrong
	// command"; it is already receiving.
	r, err := awaitInterfaceResponse(ctx, c, NewStartReceiver())
	if err != nil {
		return fmt.Errorf("start receiver: %w", err)
	}
	if r.Subtype == SubtypeReceiverStarted && !strings.HasPrefix(r.Banner, receiverStartedBanner) {
		return fmt.Errorf("start receiver: %w: %s", ErrUnexpectedReply, r)
	}
	return nil
}

func awaitInterfaceResponse(ctx context.Context, c session.Conversation, cmd *InterfaceControl) (*InterfaceResponse, error) {
	reply, err := c.SendAndAwaitReply(ctx, cmd, 0)
	if err != nil {
		return nil, err
	}
	r, ok := reply.(*InterfaceResponse)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedReply, reply)
	}
	return r, nil
}

// Transmit sends an RF command and waits for the transmitter's verdict.
// ACK and delayed ACK succeed; NAKs map to ErrNAK and ErrNAKInvalidAddress.
func Transmit(ctx context.Context, c session.Conversation, cmd session.Command) error {
	reply, err := c.SendAndAwaitReply(ctx, cmd, 0)
	if err != nil {
		return err
	}
	tr, ok := reply.(*TransmitterResponse)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnexpectedReply, reply)
	}
	switch tr.Response() {
	case ResponseACK, ResponseACKDelayed:
		return nil
	case ResponseNAK:
		return ErrNAK
	case ResponseNAKInvalidAddress:
		return ErrNAKInvalidAddress
	default:
		return fmt.Errorf("%w: 0x%02X", ErrUnknownResponse, tr.Message)
	}
}

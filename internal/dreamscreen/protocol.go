package dreamscreen

import (
	"context"

	"homewire/internal/session"
)

// Protocol runs the DreamScreen codec on a session. The protocol has no
// sequence numbers or acknowledgements: commands are fire-and-forget and
// device status arrives as unsolicited Refresh broadcasts.
type Protocol struct {
	// PollOnConnect broadcasts a RefreshRequest once the socket is bound.
	PollOnConnect bool
}

func (Protocol) Name() string { return "dreamscreen" }

func (Protocol) Split(data []byte, atEOF bool) (int, []byte, error) { return Split(data, atEOF) }

func (Protocol) Decode(raw []byte) (session.Message, error) { return Parse(raw) }

func (p Protocol) Handshake(_ context.Context, c session.Conversation) error {
	if !p.PollOnConnect {
		return nil
	}
	return c.SendCommand(Command(NewRefreshRequest()))
}

// Command adapts a message for session.SendCommand. The sequence number is
// ignored.
func Command(m Message) session.Command {
	return session.CommandFunc(func(uint8) ([]byte, error) { return Marshal(m) })
}

package session

import (
	"context"
	"time"
)

// Message is a decoded inbound frame.
type Message interface {
	String() string
}

// Reply is a message that answers a sequence-tagged command.
type Reply interface {
	Message
	Sequence() uint8
}

// Command is an outbound message. Marshal renders it with the given
// sequence number; 0 means untagged.
type Command interface {
	Marshal(seq uint8) ([]byte, error)
}

// Conversation is the sending half of a session, handed to protocol
// handshakes and to command helpers.
type Conversation interface {
	SendCommand(cmd Command) error
	SendAndAwaitReply(ctx context.Context, cmd Command, timeout time.Duration) (Reply, error)
}

// Protocol binds a wire codec to a session.
type Protocol interface {
	Name() string

	// Split delimits frames on stream transports.
	Split(data []byte, atEOF bool) (advance int, token []byte, err error)

	// Decode turns one frame into a message. Replies must implement Reply.
	Decode(raw []byte) (Message, error)

	// Handshake runs after every successful dial, before the session is
	// reported online.
	Handshake(ctx context.Context, c Conversation) error
}

// CommandFunc adapts a plain function to Command.
type CommandFunc func(seq uint8) ([]byte, error)

func (f CommandFunc) Marshal(seq uint8) ([]byte, error) { return f(seq) }

package session

import (
	"fmt"
	"time"
)

// State is the connection state of a session.
type State int

const (
	Disconnected State = iota
	Connecting
	Online
	Offline
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Direction tells a tap which way a frame travelled.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "tx"
	}
	return "rx"
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "rx":
		*d = Inbound
	case "tx":
		*d = Outbound
	default:
		return fmt.Errorf("session: unknown direction %q", b)
	}
	return nil
}

// Stats holds operational counters of one session.
type Stats struct {
	State          State     `json:"state"`
	FramesReceived uint64    `json:"frames_received"`
	FramesSent     uint64    `json:"frames_sent"`
	FramesDropped  uint64    `json:"frames_dropped"`
	Timeouts       uint64    `json:"timeouts"`
	Reconnects     uint64    `json:"reconnects"`
	LastActivity   time.Time `json:"last_activity,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

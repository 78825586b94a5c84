// Package capture keeps a bounded journal of the raw frames each device
// session exchanged, for diagnostics and offline replay.
package capture

import (
	"encoding/hex"
	"errors"
	"time"

	"homewire/internal/session"
)

// ErrNotFound is returned when a device has no journal.
var ErrNotFound = errors.New("capture: not found")

// Hex is raw bytes rendered as an upper-case hex string in JSON.
type Hex []byte

func (h Hex) MarshalText() ([]byte, error) {
	out := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(out, h)
	for i, c := range out {
		if c >= 'a' && c <= 'f' {
			out[i] = c - 'a' + 'A'
		}
	}
	return out, nil
}

func (h *Hex) UnmarshalText(b []byte) error {
	out := make([]byte, hex.DecodedLen(len(b)))
	n, err := hex.Decode(out, b)
	if err != nil {
		return err
	}
	*h = out[:n]
	return nil
}

// Record is one captured frame.
type Record struct {
	Seq       uint64            `json:"seq"`
	Time      time.Time         `json:"time"`
	Direction session.Direction `json:"direction"`
	Data      Hex               `json:"data"`
}

// Journal defines the capture persistence interface.
type Journal interface {
	// Append stores a frame for device, evicting the oldest records past
	// the retention limit.
	Append(device string, dir session.Direction, data []byte, at time.Time) error
	// List returns up to limit of the most recent records, oldest first.
	// A limit of zero returns everything retained.
	List(device string, limit int) ([]Record, error)
	// Devices returns the names of devices with a journal.
	Devices() ([]string, error)
	Close() error
}

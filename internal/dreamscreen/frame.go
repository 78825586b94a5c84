// Package dreamscreen implements the DreamScreen UDP wire protocol: the
// checksummed frame codec, the message variant registry and the session
// adapter.
//
// Frame layout:
//
//	byte 0      start marker 0xFC
//	byte 1      length N (payload length + 5)
//	byte 2      group
//	byte 3      flags
//	byte 4-5    command upper, command lower
//	byte 6..    payload (N-5 bytes)
//	byte N+1    checksum over bytes 0..N
package dreamscreen

import (
	"bytes"
	"fmt"

	"homewire/internal/checksum"
)

const (
	startMarker byte = 0xFC

	// headerLen is marker + length + group + flags + two command bytes.
	headerLen = 6
	// lengthOverhead is what the length byte counts on top of the payload:
	// group, flags, two command bytes and the checksum.
	lengthOverhead = 5
	minFrameLen    = headerLen

	// MaxPayload is the largest payload the length byte can describe.
	MaxPayload = 0xFF - lengthOverhead
)

// Flag values carried in byte 3.
const (
	FlagRead          byte = 0x16
	FlagWrite         byte = 0x17
	FlagBroadcastRead byte = 0x30
	FlagResponse      byte = 0x60
)

// GroupAll addresses every device regardless of its group number.
const GroupAll byte = 0xFF

// Frame is one decoded wire unit. Decode copies the payload, so a Frame
// never aliases the receive buffer.
type Frame struct {
	Group        byte
	Flags        byte
	CommandUpper byte
	CommandLower byte
	Payload      []byte
}

// Command returns the two command bytes as one 16-bit value.
func (f Frame) Command() uint16 {
	return uint16(f.CommandUpper)<<8 | uint16(f.CommandLower)
}

// Equal reports whether two frames carry identical fields.
func (f Frame) Equal(o Frame) bool {
	return f.Group == o.Group && f.Flags == o.Flags &&
		f.CommandUpper == o.CommandUpper && f.CommandLower == o.CommandLower &&
		bytes.Equal(f.Payload, o.Payload)
}

func (f Frame) String() string {
	return fmt.Sprintf("group=0x%02X flags=0x%02X cmd=0x%04X payload=%X", f.Group, f.Flags, f.Command(), f.Payload)
}

// Decode validates b and returns the frame it carries. Bytes past the
// declared frame length are ignored.
func Decode(b []byte) (Frame, error) {
	if len(b) < minFrameLen {
		return Frame{}, frameErr(ErrTooShort, "%d bytes, need at least %d", len(b), minFrameLen)
	}
	if b[0] != startMarker {
		return Frame{}, frameErr(ErrNotAFrame, "got 0x%02X", b[0])
	}
	n := int(b[1])
	if n < lengthOverhead {
		return Frame{}, frameErr(ErrLengthMismatch, "declared length %d below minimum %d", n, lengthOverhead)
	}
	if n+2 > len(b) {
		return Frame{}, frameErr(ErrLengthMismatch, "declared length %d needs %d bytes, have %d", n, n+2, len(b))
	}
	if sum := checksum.Sum(b[:n+1]); sum != b[n+1] {
		return Frame{}, frameErr(ErrBadChecksum, "got 0x%02X, want 0x%02X", b[n+1], sum)
	}

	payload := make([]byte, n-lengthOverhead)
	copy(payload, b[headerLen:n+1])
	return Frame{
		Group:        b[2],
		Flags:        b[3],
		CommandUpper: b[4],
		CommandLower: b[5],
		Payload:      payload,
	}, nil
}

// Encode renders f to wire bytes with a freshly computed checksum.
func Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLarge, len(f.Payload), MaxPayload)
	}
	n := len(f.Payload) + lengthOverhead
	buf := make([]byte, 0, n+2)
	buf = append(buf, startMarker, byte(n), f.Group, f.Flags, f.CommandUpper, f.CommandLower)
	buf = append(buf, f.Payload...)
	buf = append(buf, checksum.Sum(buf))
	return buf, nil
}

// Split is a bufio.SplitFunc that extracts whole frames from a byte stream.
// Noise and impossible length bytes are skipped within one call, so a
// buffered frame is returned without waiting for more input. Checksums are
// not verified here; Decode does that.
func Split(data []byte, atEOF bool) (advance int, token []byte, err error) {
	off := 0
	for {
		i := bytes.IndexByte(data[off:], startMarker)
		if i < 0 {
			return len(data), nil, nil
		}
		off += i
		if len(data)-off < 2 {
			return off, nil, nil
		}
		n := int(data[off+1])
		if n < lengthOverhead {
			off++
			continue
		}
		if len(data)-off < n+2 {
			if atEOF {
				return len(data), nil, nil
			}
			return off, nil, nil
		}
		return off + n + 2, data[off : off+n+2], nil
	}
}

// Package transport opens the byte connections sessions run over: serial
// ports, UDP sockets and TCP streams.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	defaultBaud        = 38400
	defaultDialTimeout = 10 * time.Second
	maxDatagram        = 2048
	maxStreamFrame     = 4096
)

// ErrUnsupportedScheme is returned for address URLs with an unknown scheme.
var ErrUnsupportedScheme = errors.New("transport: unsupported scheme")

// Conn is one open connection. ReadFrame returns the next complete frame:
// one datagram on UDP, one split token on streams.
type Conn interface {
	ReadFrame() ([]byte, error)
	Write(p []byte) (int, error)
	Close() error
}

// Dialer opens a fresh Conn. Sessions call it on every (re)connect.
type Dialer func(ctx context.Context) (Conn, error)

// Address is a parsed connection URL:
//
//	serial:///dev/ttyUSB0?baud=38400
//	udp://192.168.1.40:8888?listen=:8888
//	tcp://ser2net.lan:4001
type Address struct {
	Scheme string
	Target string // device path for serial, host:port otherwise
	Baud   int
	Listen string // local UDP bind address
}

func (a Address) String() string {
	switch a.Scheme {
	case "serial":
		return fmt.Sprintf("serial://%s?baud=%d", a.Target, a.Baud)
	case "udp":
		return fmt.Sprintf("udp://%s?listen=%s", a.Target, a.Listen)
	default:
		return a.Scheme + "://" + a.Target
	}
}

// ParseAddress parses a connection URL.
func ParseAddress(raw string) (Address, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Address{}, fmt.Errorf("transport: invalid address %q: %w", raw, err)
	}
	q := u.Query()

	switch u.Scheme {
	case "serial":
		path := u.Path
		if path == "" {
			path = u.Host // serial://COM3
		}
		if path == "" {
			return Address{}, fmt.Errorf("transport: serial address %q has no device path", raw)
		}
		baud := defaultBaud
		if s := q.Get("baud"); s != "" {
			baud, err = strconv.Atoi(s)
			if err != nil || baud <= 0 {
				return Address{}, fmt.Errorf("transport: invalid baud %q", s)
			}
		}
		return Address{Scheme: "serial", Target: path, Baud: baud}, nil
	case "udp":
		if _, _, err := net.SplitHostPort(u.Host); err != nil {
			return Address{}, fmt.Errorf("transport: udp address %q: %w", raw, err)
		}
		listen := q.Get("listen")
		if listen == "" {
			listen = ":0"
		}
		return Address{Scheme: "udp", Target: u.Host, Listen: listen}, nil
	case "tcp":
		if _, _, err := net.SplitHostPort(u.Host); err != nil {
			return Address{}, fmt.Errorf("transport: tcp address %q: %w", raw, err)
		}
		return Address{Scheme: "tcp", Target: u.Host}, nil
	default:
		return Address{}, fmt.Errorf("%w: %q (use serial, udp or tcp)", ErrUnsupportedScheme, u.Scheme)
	}
}

// NewDialer returns a Dialer for addr. split delimits frames on stream
// transports (serial, tcp) and is ignored for udp.
func NewDialer(addr Address, split bufio.SplitFunc) Dialer {
	return func(ctx context.Context) (Conn, error) {
		switch addr.Scheme {
		case "serial":
			return openSerial(addr, split)
		case "udp":
			return openUDP(ctx, addr)
		case "tcp":
			return openTCP(ctx, addr, split)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, addr.Scheme)
		}
	}
}

func openSerial(addr Address, split bufio.SplitFunc) (Conn, error) {
	mode := &serial.Mode{
		BaudRate: addr.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(addr.Target, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", addr.Target, err)
	}
	// USB CDC adapters stay silent until DTR/RTS are asserted.
	_ = port.SetDTR(true)
	_ = port.SetRTS(true)
	return NewStreamConn(port, split), nil
}

func openTCP(ctx context.Context, addr Address, split bufio.SplitFunc) (Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	var d net.Dialer
	c, err := d.DialContext(dctx, "tcp", addr.Target)
	if err != nil {
		return nil, fmt.Errorf("dial tcp://%s: %w", addr.Target, err)
	}
	return NewStreamConn(c, split), nil
}

func openUDP(ctx context.Context, addr Address) (Conn, error) {
	remote, err := net.ResolveUDPAddr("udp4", addr.Target)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr.Target, err)
	}
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp4", addr.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr.Listen, err)
	}
	return &datagramConn{pc: pc, remote: remote, buf: make([]byte, maxDatagram)}, nil
}

// streamConn delimits frames on a byte stream with a split function.
type streamConn struct {
	rwc     io.ReadWriteCloser
	scanner *bufio.Scanner
	writeMu sync.Mutex
}

// NewStreamConn wraps a byte stream so that ReadFrame yields one split
// token at a time.
func NewStreamConn(rwc io.ReadWriteCloser, split bufio.SplitFunc) Conn {
	sc := bufio.NewScanner(rwc)
	sc.Buffer(make([]byte, 0, 512), maxStreamFrame)
	sc.Split(split)
	return &streamConn{rwc: rwc, scanner: sc}
}

func (c *streamConn) ReadFrame() ([]byte, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	tok := c.scanner.Bytes()
	frame := make([]byte, len(tok))
	copy(frame, tok)
	return frame, nil
}

func (c *streamConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.rwc.Write(p)
}

func (c *streamConn) Close() error { return c.rwc.Close() }

// datagramConn treats every datagram as one frame. Replies and device
// broadcasts are accepted from any sender.
type datagramConn struct {
	pc     net.PacketConn
	remote *net.UDPAddr
	buf    []byte
}

func (c *datagramConn) ReadFrame() ([]byte, error) {
	n, _, err := c.pc.ReadFrom(c.buf)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, n)
	copy(frame, c.buf[:n])
	return frame, nil
}

func (c *datagramConn) Write(p []byte) (int, error) {
	return c.pc.WriteTo(p, c.remote)
}

func (c *datagramConn) Close() error { return c.pc.Close() }

package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    Address
		wantErr bool
	}{
		{in: "serial:///dev/ttyUSB0", want: Address{Scheme: "serial", Target: "/dev/ttyUSB0", Baud: 38400}},
		{in: "serial:///dev/ttyACM0?baud=115200", want: Address{Scheme: "serial", Target: "/dev/ttyACM0", Baud: 115200}},
		{in: "serial://COM3", want: Address{Scheme: "serial", Target: "COM3", Baud: 38400}},
		{in: "udp://192.168.1.40:8888", want: Address{Scheme: "udp", Target: "192.168.1.40:8888", Listen: ":0"}},
		{in: "udp://192.168.1.40:8888?listen=:8888", want: Address{Scheme: "udp", Target: "192.168.1.40:8888", Listen: ":8888"}},
		{in: "tcp://ser2net.lan:4001", want: Address{Scheme: "tcp", Target: "ser2net.lan:4001"}},
		{in: "serial:///dev/ttyUSB0?baud=fast", wantErr: true},
		{in: "serial://", wantErr: true},
		{in: "udp://192.168.1.40", wantErr: true},
		{in: "tcp://nohost", wantErr: true},
		{in: "http://example.com", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseAddressUnsupportedScheme(t *testing.T) {
	_, err := ParseAddress("knx://gateway:3671")
	if !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("err = %v, want ErrUnsupportedScheme", err)
	}
}

func TestStreamConnSplitsFrames(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	conn := NewStreamConn(server, bufio.ScanLines)
	defer conn.Close()

	go func() {
		client.Write([]byte("one\ntw"))
		client.Write([]byte("o\n"))
	}()

	for _, want := range []string{"one", "two"} {
		got, err := conn.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if string(got) != want {
			t.Errorf("frame = %q, want %q", got, want)
		}
	}
}

func TestStreamConnWrite(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	conn := NewStreamConn(server, bufio.ScanLines)
	defer conn.Close()

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := client.Read(buf)
		done <- buf[:n]
	}()
	if _, err := conn.Write([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	select {
	case got := <-done:
		if !bytes.Equal(got, []byte{0x01, 0x02}) {
			t.Errorf("peer read %x", got)
		}
	case <-time.After(time.Second):
		t.Fatal("peer did not receive bytes")
	}
}

func TestUDPDialerLoopback(t *testing.T) {
	peer, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer peer.Close()

	addr, err := ParseAddress("udp://" + peer.LocalAddr().String() + "?listen=127.0.0.1:0")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	conn, err := NewDialer(addr, nil)(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{0xFC, 0x05}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 64)
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, from, err := peer.ReadFrom(buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte{0xFC, 0x05}) {
		t.Errorf("peer got %x", buf[:n])
	}

	if _, err := peer.WriteTo([]byte{0xAA, 0xBB, 0xCC}, from); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	got, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, []byte{0xAA, 0xBB, 0xCC}) {
		t.Errorf("ReadFrame = %x", got)
	}
}

package rfxcom

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"homewire/internal/session"
	"homewire/internal/transport"
)

// scriptedConv answers SendAndAwaitReply from a fixed list of replies.
type scriptedConv struct {
	sent    []session.Command
	replies []session.Reply
}

func (c *scriptedConv) SendCommand(cmd session.Command) error {
	c.sent = append(c.sent, cmd)
	return nil
}

func (c *scriptedConv) SendAndAwaitReply(_ context.Context, cmd session.Command, _ time.Duration) (session.Reply, error) {
	c.sent = append(c.sent, cmd)
	if len(c.replies) == 0 {
		return nil, session.ErrTimeout
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return r, nil
}

func (c *scriptedConv) commands() []byte {
	var out []byte
	for _, s := range c.sent {
		if ic, ok := s.(*InterfaceControl); ok {
			out = append(out, ic.Command)
		}
	}
	return out
}

func statusReply(transceiverType byte) *InterfaceResponse {
	return &InterfaceResponse{
		Header:          Header{Subtype: SubtypeModeResponse},
		Command:         CmdGetStatus,
		TransceiverType: transceiverType,
		Protocols:       [4]byte{0x80, 0x00, 0x27, 0x0E},
	}
}

func startedReply() *InterfaceResponse {
	return &InterfaceResponse{Header: Header{Subtype: SubtypeReceiverStarted}, Command: CmdStartReceiver, Banner: receiverStartedBanner}
}

func TestHandshakeSetsMode(t *testing.T) {
	conv := &scriptedConv{replies: []session.Reply{
		statusReply(0x53),
		statusReply(0x52),
		startedReply(),
	}}
	p := Protocol{Mode: &TransceiverMode{"RFXrec433", "433.92MHz"}, ResetDelay: time.Millisecond}
	if err := p.Handshake(context.Background(), conv); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	want := []byte{CmdReset, CmdGetStatus, CmdSetMode, CmdStartReceiver}
	if got := conv.commands(); string(got) != string(want) {
		t.Fatalf("commands = %v, want %v", got, want)
	}
	setMode := conv.sent[2].(*InterfaceControl)
	if setMode.TransceiverType != 0x52 {
		t.Errorf("set mode type = 0x%02X, want 0x52", setMode.TransceiverType)
	}
	if setMode.Protocols != [4]byte{0x80, 0x00, 0x27, 0x0E} {
		t.Errorf("set mode dropped enabled protocols: % X", setMode.Protocols)
	}
}

func TestHandshakeSkipsMatchingMode(t *testing.T) {
	conv := &scriptedConv{replies: []session.Reply{statusReply(0x53), startedReply()}}
	p := Protocol{Mode: &TransceiverMode{"RFXtrx433", "433.92MHz"}, ResetDelay: time.Millisecond}
	if err := p.Handshake(context.Background(), conv); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	want := []byte{CmdReset, CmdGetStatus, CmdStartReceiver}
	if got := conv.commands(); string(got) != string(want) {
		t.Errorf("commands = %v, want %v", got, want)
	}
}

func TestHandshakeOldFirmware(t *testing.T) {
	conv := &scriptedConv{replies: []session.Reply{
		statusReply(0x53),
		&InterfaceResponse{Header: Header{Subtype: SubtypeWrongCommand}, Command: CmdStartReceiver},
	}}
	if err := (Protocol{ResetDelay: time.Millisecond}).Handshake(context.Background(), conv); err != nil {
		t.Errorf("Handshake: %v", err)
	}
}

func TestHandshakeErrors(t *testing.T) {
	t.Run("unsupported mode", func(t *testing.T) {
		conv := &scriptedConv{}
		p := Protocol{Mode: &TransceiverMode{"RFXtrx433", "868.30MHz"}}
		if err := p.Handshake(context.Background(), conv); !errors.Is(err, ErrUnsupportedMode) {
			t.Errorf("err = %v, want ErrUnsupportedMode", err)
		}
		if len(conv.sent) != 0 {
			t.Error("commands sent before mode validation")
		}
	})
	t.Run("no status", func(t *testing.T) {
		conv := &scriptedConv{}
		err := (Protocol{ResetDelay: time.Millisecond}).Handshake(context.Background(), conv)
		if !errors.Is(err, session.ErrTimeout) {
			t.Errorf("err = %v, want ErrTimeout", err)
		}
	})
	t.Run("wrong reply type", func(t *testing.T) {
		conv := &scriptedConv{replies: []session.Reply{NewTransmitterResponse(ResponseACK)}}
		err := (Protocol{ResetDelay: time.Millisecond}).Handshake(context.Background(), conv)
		if !errors.Is(err, ErrUnexpectedReply) {
			t.Errorf("err = %v, want ErrUnexpectedReply", err)
		}
	})
}

func TestTransmit(t *testing.T) {
	tests := []struct {
		reply session.Reply
		want  error
	}{
		{NewTransmitterResponse(ResponseACK), nil},
		{NewTransmitterResponse(ResponseACKDelayed), nil},
		{NewTransmitterResponse(ResponseNAK), ErrNAK},
		{NewTransmitterResponse(ResponseNAKInvalidAddress), ErrNAKInvalidAddress},
		{&TransmitterResponse{Header: Header{Subtype: SubtypeTransmitterResult}, Message: 0x09}, ErrUnknownResponse},
		{statusReply(0x53), ErrUnexpectedReply},
	}
	cmd, err := NewLighting2("ac", "0123ABCD", 1, "on", 0)
	if err != nil {
		t.Fatalf("NewLighting2: %v", err)
	}
	for _, tt := range tests {
		conv := &scriptedConv{replies: []session.Reply{tt.reply}}
		err := Transmit(context.Background(), conv, cmd)
		if tt.want == nil && err != nil || tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("reply %s: err = %v, want %v", tt.reply, err, tt.want)
		}
	}
}

// fakeTransceiver answers the start-up sequence and acknowledges every
// RF command, like an RFXtrx433 on the other end of a serial line.
func fakeTransceiver(t *testing.T, conn net.Conn) {
	sc := bufio.NewScanner(conn)
	sc.Split(Split)
	for sc.Scan() {
		m, err := Decode(sc.Bytes())
		if err != nil {
			t.Errorf("transceiver got undecodable packet % X: %v", sc.Bytes(), err)
			return
		}
		seq := sc.Bytes()[3]
		var reply Message
		switch v := m.(type) {
		case *InterfaceControl:
			switch v.Command {
			case CmdGetStatus, CmdSetMode:
				reply = statusReply(0x53)
			case CmdStartReceiver:
				reply = startedReply()
			}
		case *Lighting2:
			reply = NewTransmitterResponse(ResponseACK)
		}
		if reply == nil {
			continue
		}
		b, _ := reply.Marshal(seq)
		if _, err := conn.Write(b); err != nil {
			return
		}
	}
}

func TestSessionOverStream(t *testing.T) {
	server, client := net.Pipe()
	go fakeTransceiver(t, client)
	defer client.Close()

	p := Protocol{Mode: &TransceiverMode{"RFXtrx433", "433.92MHz"}, ResetDelay: time.Millisecond}
	dial := func(context.Context) (transport.Conn, error) {
		return transport.NewStreamConn(server, p.Split), nil
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := session.Open(context.Background(), p, dial, logger, session.WithReplyTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if s.State() != session.Online {
		t.Fatalf("state = %s, want online", s.State())
	}

	readings := make(chan *Temperature, 1)
	s.OnMessage(func(m session.Message) {
		if tm, ok := m.(*Temperature); ok {
			readings <- tm
		}
	})

	cmd, err := NewLighting2("ac", "0123ABCD", 1, "on", 0)
	if err != nil {
		t.Fatalf("NewLighting2: %v", err)
	}
	if err := Transmit(context.Background(), s, cmd); err != nil {
		t.Fatalf("Transmit: %v", err)
	}

	go client.Write([]byte{0x08, 0x50, 0x01, 0x07, 0x6A, 0x01, 0x00, 0xD7, 0x59})
	select {
	case tm := <-readings:
		if tm.Celsius != 21.5 {
			t.Errorf("temperature = %g", tm.Celsius)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("unsolicited temperature not delivered")
	}
}

func TestStreamDeliversPacketBehindNoise(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	conn := transport.NewStreamConn(server, Split)
	defer conn.Close()

	ack := []byte{0x04, 0x02, 0x01, 0x01, 0x00}
	go client.Write(append([]byte{0x00, 0x02}, ack...))

	got := make(chan []byte, 1)
	go func() {
		b, err := conn.ReadFrame()
		if err != nil {
			t.Errorf("ReadFrame: %v", err)
			return
		}
		got <- b
	}()
	select {
	case b := <-got:
		if !bytes.Equal(b, ack) {
			t.Errorf("packet = % X, want % X", b, ack)
		}
	case <-time.After(time.Second):
		t.Fatal("buffered packet not delivered")
	}
}

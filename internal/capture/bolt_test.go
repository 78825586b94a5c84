package capture

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"homewire/internal/session"
)

func newTestJournal(t *testing.T, retention int) *BoltJournal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.db")
	j, err := OpenBolt(path, retention)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendAndList(t *testing.T) {
	j := newTestJournal(t, 10)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	frames := [][]byte{{0xFC, 0x05, 0xFF, 0x30, 0x01, 0x0A, 0x2A}, {0x04, 0x00, 0x00, 0x01}}
	for i, f := range frames {
		dir := session.Outbound
		if i == 1 {
			dir = session.Inbound
		}
		if err := j.Append("tv", dir, f, at.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := j.List("tv", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}
	for i, r := range got {
		if !bytes.Equal(r.Data, frames[i]) {
			t.Errorf("record %d data = % X, want % X", i, r.Data, frames[i])
		}
		if r.Seq != uint64(i+1) {
			t.Errorf("record %d seq = %d", i, r.Seq)
		}
	}
	if got[0].Direction != session.Outbound || got[1].Direction != session.Inbound {
		t.Errorf("directions = %s, %s", got[0].Direction, got[1].Direction)
	}
	if !got[1].Time.Equal(at.Add(time.Second)) {
		t.Errorf("time = %v", got[1].Time)
	}
}

func TestRetention(t *testing.T) {
	j := newTestJournal(t, 3)
	for i := 0; i < 7; i++ {
		if err := j.Append("rfx", session.Inbound, []byte{byte(i)}, time.Now()); err != nil {
			t.Fatal(err)
		}
	}
	got, err := j.List("rfx", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("records = %d, want 3", len(got))
	}
	for i, r := range got {
		if want := byte(4 + i); r.Data[0] != want {
			t.Errorf("record %d = %d, want %d", i, r.Data[0], want)
		}
	}
}

func TestListLimit(t *testing.T) {
	j := newTestJournal(t, 0)
	for i := 0; i < 5; i++ {
		if err := j.Append("tv", session.Inbound, []byte{byte(i)}, time.Now()); err != nil {
			t.Fatal(err)
		}
	}
	got, err := j.List("tv", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Data[0] != 3 || got[1].Data[0] != 4 {
		t.Errorf("limited list = %+v, want the last two oldest first", got)
	}
}

func TestListUnknownDevice(t *testing.T) {
	j := newTestJournal(t, 0)
	if _, err := j.List("nope", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDevices(t *testing.T) {
	j := newTestJournal(t, 0)
	for _, d := range []string{"tv", "rfx"} {
		if err := j.Append(d, session.Inbound, []byte{1}, time.Now()); err != nil {
			t.Fatal(err)
		}
	}
	names, err := j.Devices()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "rfx" || names[1] != "tv" {
		t.Errorf("devices = %v", names)
	}
}

func TestReopenReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.db")
	j, err := OpenBolt(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Append("tv", session.Outbound, []byte{0xAB}, time.Now()); err != nil {
		t.Fatal(err)
	}
	j.Close()

	ro, err := OpenBoltReadOnly(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ro.Close()
	got, err := ro.List("tv", 0)
	if err != nil || len(got) != 1 || got[0].Data[0] != 0xAB {
		t.Errorf("List = %+v, %v", got, err)
	}
}

func TestRecordJSON(t *testing.T) {
	r := Record{Seq: 1, Direction: session.Outbound, Data: Hex{0xfc, 0x05, 0x2a}}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if m["data"] != "FC052A" || m["direction"] != "tx" {
		t.Errorf("json = %s", b)
	}
	var back Record
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back.Data, r.Data) || back.Direction != session.Outbound {
		t.Errorf("decoded = %+v", back)
	}
}

func TestRecorderFlushesOnClose(t *testing.T) {
	j := newTestJournal(t, 0)
	r := NewRecorder(j, []string{"tv"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	raw := []byte{1, 2, 3}
	r.Tap("tv", session.Inbound, raw)
	raw[0] = 9
	r.Tap("other", session.Inbound, []byte{4})
	r.Close()

	got, err := j.List("tv", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Data[0] != 1 {
		t.Errorf("records = %+v", got)
	}
	if _, err := j.List("other", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("unselected device recorded: %v", err)
	}
	if r.Dropped() != 0 {
		t.Errorf("dropped = %d", r.Dropped())
	}
}

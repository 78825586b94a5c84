package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"homewire/internal/capture"
	"homewire/internal/hub"
	"homewire/internal/session"
)

var errUsage = errors.New(usage)

// runDecode decodes a single hex frame: homewire decode <protocol> <hex>.
// The hex may be split over several arguments.
func runDecode(args []string, w io.Writer) error {
	if len(args) < 2 {
		return errUsage
	}
	proto, err := hub.NewProtocol(args[0], nil)
	if err != nil {
		return err
	}
	raw, err := parseHex(strings.Join(args[1:], ""))
	if err != nil {
		return err
	}
	m, err := proto.Decode(raw)
	if err != nil {
		return fmt.Errorf("decode %X: %w", raw, err)
	}
	describe(w, m)
	return nil
}

// runReplay decodes the frames a capture journal holds for one device.
func runReplay(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", 0, "newest frames to show (0 = all)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w\n%s", err, usage)
	}
	if fs.NArg() != 3 || *limit < 0 {
		return errUsage
	}
	path, protoName, device := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	proto, err := hub.NewProtocol(protoName, nil)
	if err != nil {
		return err
	}
	j, err := capture.OpenBoltReadOnly(path)
	if err != nil {
		return err
	}
	defer j.Close()

	records, err := j.List(device, *limit)
	if err != nil {
		return err
	}
	var failed int
	for _, rec := range records {
		fmt.Fprintf(w, "#%d %s %s %X\n", rec.Seq, rec.Time.Format(time.RFC3339Nano), rec.Direction, []byte(rec.Data))
		m, err := proto.Decode(rec.Data)
		if err != nil {
			failed++
			fmt.Fprintf(w, "  error: %v\n", err)
			continue
		}
		describe(w, m)
	}
	fmt.Fprintf(w, "%d frames, %d undecodable\n", len(records), failed)
	return nil
}

// describe prints a message and its fields in key order.
func describe(w io.Writer, m session.Message) {
	kind := "message"
	if k, ok := m.(interface{ Kind() string }); ok {
		kind = k.Kind()
	}
	fmt.Fprintf(w, "  %s: %s\n", kind, m)

	f, ok := m.(interface{ Fields() map[string]any })
	if !ok {
		return
	}
	fields := f.Fields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "    %s = %v\n", k, fields[k])
	}
}

func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "0x", "", "0X", "").Replace(s)
	if s == "" {
		return nil, errors.New("empty frame")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

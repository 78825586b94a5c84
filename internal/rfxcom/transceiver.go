package rfxcom

import (
	"fmt"
	"sort"
)

// TransceiverMode names a transceiver product and operating frequency as
// they appear in configuration.
type TransceiverMode struct {
	Product   string `yaml:"product"`
	Frequency string `yaml:"frequency"`
}

func (m TransceiverMode) String() string { return m.Product + " " + m.Frequency }

// transceiverTypes lists every supported product/frequency pair. Each entry
// stands on its own; there is no fallback between products.
var transceiverTypes = map[TransceiverMode]byte{
	{"RFXtrx315", "310MHz"}:        0x50,
	{"RFXtrx315", "315MHz"}:        0x51,
	{"RFXrec433", "433.92MHz"}:     0x52,
	{"RFXtrx433", "433.92MHz"}:     0x53,
	{"RFXtrx433", "433.42MHz"}:     0x54,
	{"RFXtrx868", "868.00MHz"}:     0x55,
	{"RFXtrx868", "868.00MHz FSK"}: 0x56,
	{"RFXtrx868", "868.30MHz"}:     0x57,
	{"RFXtrx868", "868.30MHz FSK"}: 0x58,
	{"RFXtrx868", "868.35MHz"}:     0x59,
	{"RFXtrx868", "868.35MHz FSK"}: 0x5A,
	{"RFXtrx868", "868.95MHz"}:     0x5B,
}

// Type returns the transceiver type byte used by the set-mode command.
func (m TransceiverMode) Type() (byte, error) {
	t, ok := transceiverTypes[m]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedMode, m)
	}
	return t, nil
}

// TransceiverName describes a transceiver type byte from a status reply.
func TransceiverName(t byte) string {
	for m, v := range transceiverTypes {
		if v == t {
			return m.String()
		}
	}
	return fmt.Sprintf("type 0x%02X", t)
}

// TransceiverModes returns every supported mode, sorted by type byte.
func TransceiverModes() []TransceiverMode {
	modes := make([]TransceiverMode, 0, len(transceiverTypes))
	for m := range transceiverTypes {
		modes = append(modes, m)
	}
	sort.Slice(modes, func(i, j int) bool {
		return transceiverTypes[modes[i]] < transceiverTypes[modes[j]]
	})
	return modes
}

package hub

import (
	"context"
	"fmt"
	"sort"

	"homewire/internal/dreamscreen"
	"homewire/internal/rfxcom"
)

// Command translates a JSON-style command object into protocol messages
// and sends them on the device's session.
//
// DreamScreen keys: mode, brightness, color ([r,g,b]), ambient_mode_type,
// scene, input, refresh (true) and group to override the configured group.
// RFXCOM keys: lighting2 {subtype, id, unit, command, level}.
func (h *Hub) Command(ctx context.Context, device string, cmd map[string]any) error {
	h.mu.RLock()
	d, ok := h.devices[device]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, device)
	}
	s := d.getSession()
	if s == nil {
		return fmt.Errorf("%w: %q has no session", ErrUnknownDevice, device)
	}

	var err error
	switch d.cfg.Protocol {
	case ProtocolDreamScreen:
		var msgs []dreamscreen.Message
		msgs, err = dreamScreenCommand(d.cfg.Group, cmd)
		for _, m := range msgs {
			if err != nil {
				break
			}
			err = s.SendCommand(dreamscreen.Command(m))
		}
	case ProtocolRFXCOM:
		err = h.rfxcomCommand(ctx, d, cmd)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownProtocol, d.cfg.Protocol)
	}

	ev := CommandEvent{Device: device, Command: cmd}
	if err != nil {
		ev.Error = err.Error()
		h.logger.Warn("command failed", "device", device, "err", err)
	} else {
		h.logger.Info("command sent", "device", device, "command", cmd)
	}
	h.events.Emit(Event{Type: EventCommand, Data: ev})
	return err
}

// dreamScreenKeys is the order messages are sent in when one command sets
// several properties: mode before what the mode displays.
var dreamScreenKeys = []string{"mode", "ambient_mode_type", "scene", "color", "brightness", "input", "refresh"}

func dreamScreenCommand(group byte, cmd map[string]any) ([]dreamscreen.Message, error) {
	known := map[string]bool{"group": true}
	for _, k := range dreamScreenKeys {
		known[k] = true
	}
	var unknown []string
	for k := range cmd {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: unknown keys %v", ErrInvalidCommand, unknown)
	}

	if v, ok := cmd["group"]; ok {
		g, err := byteArg("group", v)
		if err != nil {
			return nil, err
		}
		group = g
	}

	var msgs []dreamscreen.Message
	for _, k := range dreamScreenKeys {
		v, ok := cmd[k]
		if !ok {
			continue
		}
		switch k {
		case "mode":
			mode, err := namedArg(k, v, dreamscreen.ModeName, 4)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, dreamscreen.NewMode(group, mode))
		case "ambient_mode_type":
			t, err := namedArg(k, v, dreamscreen.AmbientTypeName, 2)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, dreamscreen.NewAmbientModeType(group, t))
		case "scene":
			sc, err := namedArg(k, v, dreamscreen.SceneName, 9)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, dreamscreen.NewScene(group, sc))
		case "color":
			rgb, ok := v.([]any)
			if !ok || len(rgb) != 3 {
				return nil, fmt.Errorf("%w: color must be [r, g, b]", ErrInvalidCommand)
			}
			var c [3]byte
			for i := range rgb {
				b, err := byteArg("color", rgb[i])
				if err != nil {
					return nil, err
				}
				c[i] = b
			}
			msgs = append(msgs, dreamscreen.NewColor(group, c[0], c[1], c[2]))
		case "brightness":
			b, err := byteArg(k, v)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, dreamscreen.NewBrightness(group, b))
		case "input":
			in, err := byteArg(k, v)
			if err != nil {
				return nil, err
			}
			if in > 2 {
				return nil, fmt.Errorf("%w: input %d out of range 0-2", ErrInvalidCommand, in)
			}
			msgs = append(msgs, dreamscreen.NewInput(group, in))
		case "refresh":
			if b, ok := v.(bool); ok && b {
				msgs = append(msgs, dreamscreen.NewRefreshRequest())
			}
		}
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%w: nothing to send", ErrInvalidCommand)
	}
	return msgs, nil
}

func (h *Hub) rfxcomCommand(ctx context.Context, d *Device, cmd map[string]any) error {
	raw, ok := cmd["lighting2"]
	if !ok || len(cmd) != 1 {
		return fmt.Errorf("%w: expected a single lighting2 object", ErrInvalidCommand)
	}
	args, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: lighting2 must be an object", ErrInvalidCommand)
	}
	subtype, _ := args["subtype"].(string)
	if subtype == "" {
		subtype = "ac"
	}
	id, _ := args["id"].(string)
	command, _ := args["command"].(string)
	unit, _ := toInt(args["unit"])
	level, _ := toInt(args["level"])

	m, err := rfxcom.NewLighting2(subtype, id, unit, command, level)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	return rfxcom.Transmit(ctx, d.getSession(), m)
}

// namedArg accepts a number below limit or a name produced by nameOf.
func namedArg(key string, v any, nameOf func(byte) string, limit int) (byte, error) {
	if s, ok := v.(string); ok {
		for i := 0; i < limit; i++ {
			if nameOf(byte(i)) == s {
				return byte(i), nil
			}
		}
		return 0, fmt.Errorf("%w: %s %q", ErrInvalidCommand, key, s)
	}
	n, ok := toInt(v)
	if !ok || n < 0 || n >= limit {
		return 0, fmt.Errorf("%w: %s %v", ErrInvalidCommand, key, v)
	}
	return byte(n), nil
}

func byteArg(key string, v any) (byte, error) {
	n, ok := toInt(v)
	if !ok || n < 0 || n > 255 {
		return 0, fmt.Errorf("%w: %s %v", ErrInvalidCommand, key, v)
	}
	return byte(n), nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case float32:
		return toInt(float64(n))
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	default:
		return 0, false
	}
}

//go:build !no_automation

package automation

import "slices"

// ScriptMeta holds user-editable metadata for a script.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	// Devices limits hook calls to events from these devices. Empty means
	// every device.
	Devices []string `json:"devices,omitempty"`
}

// Script is one automation script stored on disk as <id>.lua, with its
// metadata as a JSON comment on the first line.
type Script struct {
	ID      string     `json:"id"`
	Meta    ScriptMeta `json:"meta"`
	LuaCode string     `json:"lua_code"`
	// Hooks lists the on_message/on_state functions the code defines at
	// top level. Derived from the code, never stored.
	Hooks    []string `json:"hooks"`
	FilePath string   `json:"-"`
}

// handles reports whether an event for device should reach hook.
func (s *Script) handles(hook, device string) bool {
	if !slices.Contains(s.Hooks, hook) {
		return false
	}
	return len(s.Meta.Devices) == 0 || slices.Contains(s.Meta.Devices, device)
}

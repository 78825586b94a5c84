//go:build no_automation

package automation

import (
	"context"
	"errors"
	"log/slog"

	"homewire/internal/hub"
)

var (
	ErrNotFound      = errors.New("automation: script not found")
	ErrInvalidScript = errors.New("automation: invalid script")
)

// Hub is the part of the device hub scripts can reach.
type Hub interface {
	Events() *hub.EventBus
	Devices() []hub.DeviceInfo
	Command(ctx context.Context, device string, cmd map[string]any) error
}

// ScriptMeta holds user-editable metadata for a script.
type ScriptMeta struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Enabled     bool     `json:"enabled"`
	Devices     []string `json:"devices,omitempty"`
}

// Script is one automation script.
type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	Hooks    []string   `json:"hooks"`
	FilePath string     `json:"-"`
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// Manager is a no-op stub when automation is disabled.
type Manager struct{}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDeviceNames is accepted and ignored.
func WithDeviceNames(...string) ManagerOption { return func(*Manager) {} }

// NewManager returns nil manager when automation is disabled.
func NewManager(_ string, _ ...ManagerOption) (*Manager, error) { return nil, nil }

// List returns nil.
func (m *Manager) List() ([]*Script, error) { return nil, nil }

// Get returns ErrNotFound.
func (m *Manager) Get(_ string) (*Script, error) { return nil, ErrNotFound }

// Save returns the script unchanged.
func (m *Manager) Save(s *Script) (*Script, error) { return s, nil }

// Delete is a no-op.
func (m *Manager) Delete(_ string) error { return nil }

// Engine is a no-op stub when automation is disabled.
type Engine struct{}

// NewEngine returns a no-op engine when automation is disabled.
func NewEngine(_ Hub, _ *Manager, _ *slog.Logger) *Engine { return &Engine{} }

// Start is a no-op.
func (e *Engine) Start() {}

// Stop is a no-op.
func (e *Engine) Stop() {}

// ReloadScript is a no-op.
func (e *Engine) ReloadScript(_ string) error { return nil }

// StopScript is a no-op.
func (e *Engine) StopScript(_ string) {}

// Running returns nil.
func (e *Engine) Running() []string { return nil }

// RunScript returns a stub result.
func (e *Engine) RunScript(_ string) *RunResult {
	return &RunResult{OK: false, Error: "automation disabled"}
}

// RunLuaCode returns a stub result.
func (e *Engine) RunLuaCode(_ string) *RunResult {
	return &RunResult{OK: false, Error: "automation disabled"}
}

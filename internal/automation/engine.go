//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"homewire/internal/hub"
	"homewire/internal/units"
)

// Hook names a script may define as globals.
const (
	hookMessage = "on_message"
	hookState   = "on_state"
)

// Hub is the part of the device hub scripts can reach.
type Hub interface {
	Events() *hub.EventBus
	Devices() []hub.DeviceInfo
	Command(ctx context.Context, device string, cmd map[string]any) error
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// scriptVM is a running Lua VM for a single script.
type scriptVM struct {
	id       string
	script   *Script // nil for one-shot runs
	state    *lua.LState
	commands chan func(*lua.LState) // serializes Lua access
	ctx      context.Context
	cancel   context.CancelFunc
	// logf receives homewire.log output; RunLuaCode captures it.
	logf func(msg string)
}

// Engine runs enabled scripts and calls their hooks for hub events.
type Engine struct {
	hub     Hub
	manager *Manager
	logger  *slog.Logger

	mu    sync.Mutex
	vms   map[string]*scriptVM // script ID -> running VM
	unsub func()
}

// NewEngine creates a new automation engine.
func NewEngine(h Hub, mgr *Manager, logger *slog.Logger) *Engine {
	return &Engine{
		hub:     h,
		manager: mgr,
		logger:  logger.With("component", "automation"),
		vms:     make(map[string]*scriptVM),
	}
}

// Start subscribes to hub events and loads all enabled scripts.
func (e *Engine) Start() {
	e.unsub = e.hub.Events().OnAll(e.dispatchEvent)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}

	e.mu.Lock()
	n := len(e.vms)
	e.mu.Unlock()
	e.logger.Info("automation engine started", "scripts", n)
}

// Stop cancels all VMs and unsubscribes from hub events.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.logger.Info("automation engine stopped")
}

// ReloadScript stops the old VM (if any) and starts a new one when the
// script is enabled.
func (e *Engine) ReloadScript(id string) error {
	e.stopScript(id)
	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script VM.
func (e *Engine) StopScript(id string) {
	e.stopScript(id)
}

// Running returns the IDs of running scripts.
func (e *Engine) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.vms))
	for id := range e.vms {
		ids = append(ids, id)
	}
	return ids
}

// RunScript executes a stored script once in a temporary VM.
func (e *Engine) RunScript(id string) *RunResult {
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{OK: false, Error: err.Error(), Duration: "0s"}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode executes code in a temporary sandboxed VM and captures
// homewire.log output. Hooks the code defines are not called.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		logMu sync.Mutex
		logs  []string
	)
	vm := e.newVM(ctx, cancel, "run")
	vm.logf = func(msg string) {
		logMu.Lock()
		logs = append(logs, msg)
		logMu.Unlock()
	}
	defer vm.state.Close()
	vm.state.SetContext(ctx)

	err := vm.state.DoString(code)
	dur := time.Since(start)

	logMu.Lock()
	defer logMu.Unlock()
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "context deadline exceeded") {
			msg = "timeout (5s)"
		}
		return &RunResult{OK: false, Error: msg, Logs: logs, Duration: dur.String()}
	}
	return &RunResult{OK: true, Logs: logs, Duration: dur.String()}
}

func (e *Engine) newVM(ctx context.Context, cancel context.CancelFunc, id string) *scriptVM {
	L := lua.NewState()

	// Sandbox: remove dangerous libs and functions
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}

	vm := &scriptVM{
		id:       id,
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	vm.logf = func(msg string) { e.logger.Info("script log", "script", id, "msg", msg) }
	registerHomewireModule(L, vm, e)
	return vm
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	vm := e.newVM(ctx, cancel, s.ID)
	vm.script = s
	L := vm.state

	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// dispatchEvent queues the hook call on every running VM whose script
// defines the hook and is scoped to the event's device.
func (e *Engine) dispatchEvent(event hub.Event) {
	var hook, device string
	var args func(L *lua.LState) []lua.LValue
	switch ev := event.Data.(type) {
	case hub.MessageEvent:
		hook, device = hookMessage, ev.Device
		args = func(L *lua.LState) []lua.LValue {
			fields := goToLua(L, ev.Fields)
			if ev.Source != "" {
				if t, ok := fields.(*lua.LTable); ok {
					t.RawSetString("source", lua.LString(ev.Source))
				}
			}
			return []lua.LValue{lua.LString(ev.Device), lua.LString(ev.Kind), fields}
		}
	case hub.StateEvent:
		hook, device = hookState, ev.Device
		args = func(*lua.LState) []lua.LValue {
			return []lua.LValue{lua.LString(ev.Device), lua.LString(ev.State)}
		}
	default:
		return
	}

	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		if vm.script.handles(hook, device) {
			vms = append(vms, vm)
		}
	}
	e.mu.Unlock()

	for _, vm := range vms {
		select {
		case <-vm.ctx.Done():
		case vm.commands <- func(L *lua.LState) { e.callHook(L, vm.id, hook, args(L)) }:
		default:
			e.logger.Warn("script command channel full, dropping event", "script", vm.id, "hook", hook)
		}
	}
}

func (e *Engine) callHook(L *lua.LState, id, hook string, args []lua.LValue) {
	fn, ok := L.GetGlobal(hook).(*lua.LFunction)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua hook panic", "script", id, "hook", hook, "err", r)
		}
	}()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...); err != nil {
		e.logger.Error("lua hook error", "script", id, "hook", hook, "err", err)
	}
}

// goToLua converts a Go value to a Lua value. Quantities become their
// number.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int8:
		return lua.LNumber(val)
	case int16:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case units.Quantity:
		return lua.LNumber(val.Value)
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	case []int:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, lua.LNumber(vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaToGo converts a Lua value to the JSON-shaped Go value hub commands
// take: numbers are float64, sequences []any, other tables map[string]any.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if n := val.MaxN(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, luaToGo(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, vv lua.LValue) {
			if ks, ok := k.(lua.LString); ok {
				out[string(ks)] = luaToGo(vv)
			}
		})
		return out
	default:
		return nil
	}
}

//go:build !no_automation

package automation

import (
	"context"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const commandTimeout = 10 * time.Second

// registerHomewireModule registers the `homewire` global table in a Lua state.
func registerHomewireModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"send":         func(L *lua.LState) int { return homewireSend(L, vm, e) },
		"log":          func(L *lua.LState) int { return homewireLog(L, vm) },
		"devices":      func(L *lua.LState) int { return homewireDevices(L, e) },
		"after":        func(L *lua.LState) int { return homewireAfter(L, vm, e) },
		"datetime":     homewireDatetime,
		"time_between": homewireTimeBetween,
	})
	L.SetGlobal("homewire", mod)
}

// homewire.send(device, command) returns true, or false and an error
// message.
func homewireSend(L *lua.LState, vm *scriptVM, e *Engine) int {
	device := L.CheckString(1)
	cmd, ok := luaToGo(L.CheckTable(2)).(map[string]any)
	if !ok {
		L.ArgError(2, "command must be a table with named keys")
		return 0
	}

	ctx, cancel := context.WithTimeout(vm.ctx, commandTimeout)
	defer cancel()
	if err := e.hub.Command(ctx, device, cmd); err != nil {
		e.logger.Warn("script command failed", "script", vm.id, "device", device, "err", err)
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// homewire.log(...) joins its arguments with spaces.
func homewireLog(L *lua.LState, vm *scriptVM) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	vm.logf(strings.Join(parts, " "))
	return 0
}

// homewire.devices() returns a list of {name, protocol, state, sources}.
func homewireDevices(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for i, d := range e.hub.Devices() {
		t := L.NewTable()
		t.RawSetString("name", lua.LString(d.Name))
		t.RawSetString("protocol", lua.LString(d.Protocol))
		t.RawSetString("state", lua.LString(d.Stats.State.String()))
		sources := L.NewTable()
		for src, fields := range d.State {
			sources.RawSetString(src, goToLua(L, fields))
		}
		t.RawSetString("sources", sources)
		tbl.RawSetInt(i+1, t)
	}
	L.Push(tbl)
	return 1
}

// homewire.after(seconds, fn) runs fn on the script's VM later.
func homewireAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}
		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "script", vm.id, "err", err)
			}
		}:
		case <-vm.ctx.Done():
		}
	}()
	return 0
}

// homewire.datetime(component)
func homewireDatetime(L *lua.LState) int {
	component := L.CheckString(1)
	now := time.Now()

	switch component {
	case "hour":
		L.Push(lua.LNumber(now.Hour()))
	case "minute":
		L.Push(lua.LNumber(now.Minute()))
	case "weekday":
		L.Push(lua.LNumber(now.Weekday()))
	case "day":
		L.Push(lua.LNumber(now.Day()))
	case "month":
		L.Push(lua.LNumber(now.Month()))
	case "year":
		L.Push(lua.LNumber(now.Year()))
	case "timestamp":
		L.Push(lua.LNumber(now.Unix()))
	case "time_str":
		L.Push(lua.LString(now.Format("15:04:05")))
	default:
		L.ArgError(1, "unknown component: "+component)
		return 0
	}
	return 1
}

// homewire.time_between(from_hour, to_hour) wraps past midnight when
// from > to.
func homewireTimeBetween(L *lua.LState) int {
	L.Push(lua.LBool(hourBetween(time.Now().Hour(), L.CheckInt(1), L.CheckInt(2))))
	return 1
}

func hourBetween(hour, from, to int) bool {
	if from <= to {
		return hour >= from && hour < to
	}
	return hour >= from || hour < to
}

//go:build !no_automation

package automation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

var (
	// ErrNotFound is returned for a script ID with no file.
	ErrNotFound = errors.New("automation: script not found")
	// ErrInvalidScript is returned by Save for code that does not parse or
	// metadata that does not fit the configured devices.
	ErrInvalidScript = errors.New("automation: invalid script")
)

// validScriptID checks that a script ID is safe to use as a filename component.
func validScriptID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, "/\\") && !strings.Contains(id, "..")
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDeviceNames makes Save reject scripts scoped to devices outside names.
func WithDeviceNames(names ...string) ManagerOption {
	return func(m *Manager) {
		m.devices = slices.Clone(names)
	}
}

// Manager stores scripts as .lua files in one directory.
type Manager struct {
	dir     string
	devices []string // nil accepts any device name
	mu      sync.RWMutex
}

// NewManager creates a script manager rooted at dir, creating it if needed.
func NewManager(dir string, opts ...ManagerOption) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scripts dir: %w", err)
	}
	m := &Manager{dir: dir}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// List returns every script in the directory. Files whose metadata line
// does not parse are skipped.
func (m *Manager) List() ([]*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}

	var scripts []*Script
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".lua" {
			continue
		}
		s, err := m.parseFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

// Get returns a single script by ID (filename stem).
func (m *Manager) Get(id string) (*Script, error) {
	if !validScriptID(id) {
		return nil, fmt.Errorf("invalid script id: %q", id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.parseFile(m.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("script %s: %w", id, ErrNotFound)
	}
	return s, err
}

// Save checks the script and writes it to disk. A script without an ID
// gets one derived from its name.
func (m *Manager) Save(s *Script) (*Script, error) {
	if s.ID != "" && !validScriptID(s.ID) {
		return nil, fmt.Errorf("invalid script id: %q", s.ID)
	}
	if err := m.check(s); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = m.freeID(slugify(s.Meta.Name))
	}
	s.FilePath = m.path(s.ID)
	if err := os.WriteFile(s.FilePath, []byte(serializeScript(s)), 0o644); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	return s, nil
}

// Delete removes a script file by ID.
func (m *Manager) Delete(id string) error {
	if !validScriptID(id) {
		return fmt.Errorf("invalid script id: %q", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.path(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("delete script: %w", err)
	}
	return nil
}

func (m *Manager) path(id string) string { return filepath.Join(m.dir, id+".lua") }

// freeID returns base, or base_N for the first N not already on disk.
// Caller holds mu.
func (m *Manager) freeID(base string) string {
	if base == "" {
		base = "script"
	}
	id := base
	for i := 1; ; i++ {
		if _, err := os.Stat(m.path(id)); errors.Is(err, fs.ErrNotExist) {
			return id
		}
		id = fmt.Sprintf("%s_%d", base, i)
	}
}

// check parses the code, fills in Hooks and normalises the device scope.
func (m *Manager) check(s *Script) error {
	hooks, err := scanHooks(s.ID, s.LuaCode)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}
	s.Hooks = hooks

	devices := slices.Clone(s.Meta.Devices)
	slices.Sort(devices)
	devices = slices.Compact(devices)
	for _, d := range devices {
		if d == "" {
			return fmt.Errorf("%w: empty device name", ErrInvalidScript)
		}
		if m.devices != nil && !slices.Contains(m.devices, d) {
			return fmt.Errorf("%w: unknown device %q", ErrInvalidScript, d)
		}
	}
	if len(devices) > 0 && len(hooks) == 0 {
		return fmt.Errorf("%w: scoped to devices but defines neither %s nor %s", ErrInvalidScript, hookMessage, hookState)
	}
	s.Meta.Devices = devices
	return nil
}

// scanHooks parses code and returns the hooks it defines as top-level
// globals, either as "function on_state(...)" or "on_state = function".
func scanHooks(name, code string) ([]string, error) {
	chunk, err := parse.Parse(strings.NewReader(code), name)
	if err != nil {
		return nil, err
	}
	hooks := []string{}
	add := func(e ast.Expr) {
		id, ok := e.(*ast.IdentExpr)
		if !ok || (id.Value != hookMessage && id.Value != hookState) {
			return
		}
		if !slices.Contains(hooks, id.Value) {
			hooks = append(hooks, id.Value)
		}
	}
	for _, st := range chunk {
		switch st := st.(type) {
		case *ast.FuncDefStmt:
			if st.Name.Receiver == nil {
				add(st.Name.Func)
			}
		case *ast.AssignStmt:
			for _, e := range st.Lhs {
				add(e)
			}
		}
	}
	slices.Sort(hooks)
	return hooks, nil
}

// parseFile reads a .lua script file. Hooks is left empty when the code
// does not parse; the engine reports that when it starts the script.
func (m *Manager) parseFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	s := &Script{
		ID:       strings.TrimSuffix(filepath.Base(path), ".lua"),
		FilePath: path,
	}

	lines := strings.Split(string(data), "\n")
	// -- {"name": "...", ...}
	if len(lines) > 0 && strings.HasPrefix(lines[0], "-- {") {
		if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[0], "-- ")), &s.Meta); err != nil {
			return nil, fmt.Errorf("script %s metadata: %w", s.ID, err)
		}
		lines = lines[1:]
	} else {
		// A plain .lua file dropped into the directory runs under its
		// file name.
		s.Meta = ScriptMeta{Name: s.ID, Enabled: true}
	}
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	s.LuaCode = strings.Join(lines, "\n")

	if hooks, err := scanHooks(s.ID, s.LuaCode); err == nil {
		s.Hooks = hooks
	} else {
		s.Hooks = []string{}
	}
	return s, nil
}

func serializeScript(s *Script) string {
	var b strings.Builder
	meta, _ := json.Marshal(s.Meta)
	b.WriteString("-- ")
	b.Write(meta)
	b.WriteString("\n")
	if s.LuaCode != "" {
		b.WriteString("\n")
		b.WriteString(s.LuaCode)
		if !strings.HasSuffix(s.LuaCode, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}

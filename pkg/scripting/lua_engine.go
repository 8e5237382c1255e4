package scripting

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/mindsim/layermem/pkg/errors"
	"github.com/mindsim/layermem/pkg/log"
)

// LuaEngine implements Engine on a single gopher-lua state. The state is not
// goroutine-safe, so every operation serializes on the engine's mutex.
type LuaEngine struct {
	mu      sync.Mutex
	state   *lua.LState
	config  Config
	scripts map[string]bool
	closed  bool
}

// NewLuaEngine creates a Lua state, applies the sandbox when enabled, and
// registers the host API.
func NewLuaEngine(cfg Config) (*LuaEngine, error) {
	state := lua.NewState()
	if cfg.EnableSandboxing {
		setupSandbox(state)
	}
	registerAPIFunctions(state)

	return &LuaEngine{
		state:   state,
		config:  cfg,
		scripts: make(map[string]bool),
	}, nil
}

// LoadScript compiles and runs a script so its function definitions become
// available. A compile error leaves previously loaded functions intact.
func (e *LuaEngine) LoadScript(name string, content []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.ErrStoreClosed
	}

	fn, err := e.state.LoadString(string(content))
	if err != nil {
		return errors.Wrap(errors.ErrLuaExecution, "failed to compile script %s: %s", name, err.Error())
	}

	e.state.SetTop(0)
	e.state.Push(fn)
	if err := e.state.PCall(0, lua.MultRet, nil); err != nil {
		return errors.Wrap(errors.ErrLuaExecution, "failed to run script %s: %s", name, err.Error())
	}

	e.scripts[name] = true
	log.Debug("Loaded Lua script", "name", name, "bytes", len(content))
	return nil
}

// LoadScriptFile loads one script from disk, named after its base filename.
func (e *LuaEngine) LoadScriptFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read script file %s", path)
	}
	return e.LoadScript(filepath.Base(path), content)
}

// LoadScriptDir loads every .lua file in dir, in directory order. Other
// files are ignored.
func (e *LuaEngine) LoadScriptDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(err, "failed to read script directory %s", dir)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lua") {
			continue
		}
		if err := e.LoadScriptFile(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// HasFunction reports whether a global Lua function with the name exists.
func (e *LuaEngine) HasFunction(funcName string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	return e.state.GetGlobal(funcName).Type() == lua.LTFunction
}

// ExecuteFunction calls funcName with the given arguments and returns its
// first result converted to Go values. The context is exposed to the script
// as a global `ctx` table and, together with the configured timeout, bounds
// the call's execution.
func (e *LuaEngine) ExecuteFunction(ctx context.Context, funcName string, args ...interface{}) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.ErrStoreClosed
	}

	fn := e.state.GetGlobal(funcName)
	if fn.Type() != lua.LTFunction {
		return nil, errors.Wrap(errors.ErrFunctionNotFound, "%s", funcName)
	}

	callCtx := ctx
	if e.config.ScriptTimeoutMs > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(e.config.ScriptTimeoutMs)*time.Millisecond)
		defer cancel()
	}
	e.state.SetContext(callCtx)
	defer e.state.RemoveContext()

	e.setContextGlobal(ctx)

	e.state.SetTop(0)
	e.state.Push(fn)
	for _, a := range args {
		e.state.Push(convertGoToLua(e.state, a))
	}
	if err := e.state.PCall(len(args), 1, nil); err != nil {
		return nil, errors.Wrap(errors.ErrLuaExecution, "function %s failed: %s", funcName, err.Error())
	}

	ret := e.state.Get(-1)
	e.state.Pop(1)
	return convertLuaToGo(ret), nil
}

// setContextGlobal mirrors the Go context into a `ctx` table so scripts can
// observe the deadline.
func (e *LuaEngine) setContextGlobal(ctx context.Context) {
	t := e.state.NewTable()
	if deadline, ok := ctx.Deadline(); ok {
		t.RawSetString("deadline", lua.LNumber(deadline.Unix()))
	}
	e.state.SetGlobal("ctx", t)
}

// Close shuts the Lua state down; the engine cannot be used afterwards.
func (e *LuaEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.state.Close()
	return nil
}

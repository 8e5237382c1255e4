// Package scripting embeds a sandboxed Lua engine for user-supplied hook
// scripts. Scripts are loaded once and expose plain Lua functions that the
// orchestrator calls around retrieval.
package scripting

import "context"

// Engine is the interface for the Lua scripting engine.
type Engine interface {
	// LoadScript loads a Lua script with the given name and content.
	LoadScript(name string, content []byte) error

	// LoadScriptFile loads a Lua script from a file path.
	LoadScriptFile(path string) error

	// LoadScriptDir loads all .lua files from a directory.
	LoadScriptDir(dir string) error

	// ExecuteFunction calls a previously loaded Lua function. Arguments and
	// the return value cross the boundary as strings, float64 numbers,
	// bools, []any, and map[string]any.
	ExecuteFunction(ctx context.Context, funcName string, args ...interface{}) (interface{}, error)

	// HasFunction reports whether a global function with the name is loaded.
	HasFunction(funcName string) bool

	// Close releases the underlying Lua state.
	Close() error
}

// Config contains configuration options for the scripting engine.
type Config struct {
	// EnableSandboxing removes io, os, require, and file loading from the
	// Lua environment
	EnableSandboxing bool

	// ScriptTimeoutMs caps a single function call's execution time in
	// milliseconds; zero disables the cap
	ScriptTimeoutMs int
}

// DefaultConfig returns the default configuration for the scripting engine.
func DefaultConfig() Config {
	return Config{
		EnableSandboxing: true,
		ScriptTimeoutMs:  1000,
	}
}

package scripting

import (
	"context"
	stderrors "errors"
)

// ErrFunctionNotFound is returned when ExecuteFunction names a global that
// is not a Lua function.
var ErrFunctionNotFound = stderrors.New("lua function not found")

// Engine runs the Lua functions that extend story classification.
type Engine interface {
	// LoadScript runs content as a chunk named name, defining its globals.
	LoadScript(name string, content []byte) error

	LoadScriptFile(path string) error

	// LoadScriptDir loads every .lua file in dir.
	LoadScriptDir(dir string) error

	// ExecuteFunction calls a global Lua function and returns its first
	// result converted to Go.
	ExecuteFunction(ctx context.Context, funcName string, args ...any) (any, error)

	// HasFunction reports whether a global Lua function with the name exists.
	HasFunction(funcName string) bool

	Close() error
}

// Config controls the Lua state.
type Config struct {
	// EnableSandboxing opens only the base, table, string and math libraries
	EnableSandboxing bool

	// ScriptTimeoutMs bounds each function call; zero disables the limit
	ScriptTimeoutMs int

	// CallStackSize bounds Lua call depth
	CallStackSize int
}

// DefaultConfig returns a sandboxed configuration with a one second limit.
func DefaultConfig() Config {
	return Config{
		EnableSandboxing: true,
		ScriptTimeoutMs:  1000,
		CallStackSize:    256,
	}
}

// LoadAllScripts loads every script in each directory, skipping those that
// do not exist.
func LoadAllScripts(engine Engine, dirs ...string) error {
	for _, dir := range dirs {
		if err := engine.LoadScriptDir(dir); err != nil {
			return err
		}
	}
	return nil
}

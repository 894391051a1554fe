package scripting

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/lexlapax/questweaver/pkg/errors"
	"github.com/lexlapax/questweaver/pkg/log"
)

// LuaEngine implements Engine on a single gopher-lua state. Calls are
// serialized because an LState is not safe for concurrent use.
type LuaEngine struct {
	mu     sync.Mutex
	state  *lua.LState
	config Config
}

// NewLuaEngine creates a Lua state configured by cfg.
func NewLuaEngine(cfg Config) (*LuaEngine, error) {
	if cfg.CallStackSize <= 0 {
		cfg.CallStackSize = DefaultConfig().CallStackSize
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:  cfg.EnableSandboxing,
		CallStackSize: cfg.CallStackSize,
	})
	if cfg.EnableSandboxing {
		if err := setupSandbox(L); err != nil {
			L.Close()
			return nil, err
		}
	}
	registerAPIFunctions(L)

	log.Debug("Initialized Lua engine", "sandboxed", cfg.EnableSandboxing, "timeout_ms", cfg.ScriptTimeoutMs)
	return &LuaEngine{state: L, config: cfg}, nil
}

// LoadScript implements Engine.
func (e *LuaEngine) LoadScript(name string, content []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn, err := e.state.Load(bytes.NewReader(content), name)
	if err != nil {
		return errors.Mark(goerr.Wrap(err, "failed to compile script", goerr.V("script", name)), errors.ErrLuaExecution)
	}

	e.state.Push(fn)
	if err := e.state.PCall(0, lua.MultRet, nil); err != nil {
		return errors.Mark(goerr.Wrap(err, "failed to run script", goerr.V("script", name)), errors.ErrLuaExecution)
	}
	e.state.SetTop(0)

	log.Debug("Loaded Lua script", "script", name)
	return nil
}

// LoadScriptFile implements Engine.
func (e *LuaEngine) LoadScriptFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return goerr.Wrap(err, "failed to read script file", goerr.V("path", path))
	}
	return e.LoadScript(filepath.Base(path), content)
}

// LoadScriptDir implements Engine. Files ending in .lua are loaded in name
// order; a missing directory is not an error.
func (e *LuaEngine) LoadScriptDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug("Script directory does not exist", "dir", dir)
			return nil
		}
		return goerr.Wrap(err, "failed to read script directory", goerr.V("dir", dir))
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".lua") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if err := e.LoadScriptFile(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// HasFunction implements Engine.
func (e *LuaEngine) HasFunction(funcName string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.state.GetGlobal(funcName).(*lua.LFunction)
	return ok
}

// ExecuteFunction implements Engine. The first return value of the Lua
// function is converted to Go.
func (e *LuaEngine) ExecuteFunction(ctx context.Context, funcName string, args ...any) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn, ok := e.state.GetGlobal(funcName).(*lua.LFunction)
	if !ok {
		return nil, goerr.Wrap(ErrFunctionNotFound, "cannot execute", goerr.V("function", funcName))
	}

	if e.config.ScriptTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.config.ScriptTimeoutMs)*time.Millisecond)
		defer cancel()
	}
	e.state.SetContext(ctx)
	defer e.state.RemoveContext()

	luaArgs := make([]lua.LValue, len(args))
	for i, arg := range args {
		luaArgs[i] = convertGoToLua(e.state, arg)
	}

	top := e.state.GetTop()
	if err := e.state.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, luaArgs...); err != nil {
		e.state.SetTop(top)
		return nil, errors.Mark(goerr.Wrap(err, "lua function failed", goerr.V("function", funcName)), errors.ErrLuaExecution)
	}

	ret := e.state.Get(-1)
	e.state.SetTop(top)
	return convertLuaToGo(ret), nil
}

// Close implements Engine.
func (e *LuaEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Close()
	return nil
}

// convertGoToLua converts Go values to Lua values. Stringers become their
// string form; other types become nil.
func convertGoToLua(L *lua.LState, value any) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return v
	case string:
		return lua.LString(v)
	case bool:
		return lua.LBool(v)
	case int:
		return lua.LNumber(v)
	case int32:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float32:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case []string:
		t := L.NewTable()
		for _, s := range v {
			t.Append(lua.LString(s))
		}
		return t
	case []any:
		t := L.NewTable()
		for _, item := range v {
			t.Append(convertGoToLua(L, item))
		}
		return t
	case map[string]string:
		t := L.NewTable()
		for k, item := range v {
			t.RawSetString(k, lua.LString(item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, item := range v {
			t.RawSetString(k, convertGoToLua(L, item))
		}
		return t
	case interface{ String() string }:
		return lua.LString(v.String())
	default:
		return lua.LNil
	}
}

// convertLuaToGo converts Lua values to Go. Tables with only consecutive
// integer keys from 1 become slices; other tables become maps.
func convertLuaToGo(value lua.LValue) any {
	switch v := value.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LString:
		return string(v)
	case lua.LNumber:
		return float64(v)
	case *lua.LTable:
		if n := v.MaxN(); n > 0 && n == countKeys(v) {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, convertLuaToGo(v.RawGetInt(i)))
			}
			return arr
		}
		m := make(map[string]any)
		v.ForEach(func(k, item lua.LValue) {
			m[k.String()] = convertLuaToGo(item)
		})
		return m
	default:
		return value.String()
	}
}

func countKeys(t *lua.LTable) int {
	n := 0
	t.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}

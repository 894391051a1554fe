package scripting

import (
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/lexlapax/questweaver/pkg/log"
)

// safeLibs are the only standard libraries opened in a sandboxed state.
var safeLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// unsafeGlobals are cleared from the base library after it is opened.
var unsafeGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "module", "os", "io", "package", "debug"}

// setupSandbox opens the safe libraries on a state created with
// SkipOpenLibs and removes functions that reach the filesystem or load code.
func setupSandbox(L *lua.LState) error {
	for _, lib := range safeLibs {
		err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.open), NRet: 0, Protect: true}, lua.LString(lib.name))
		if err != nil {
			return goerr.Wrap(err, "failed to open lua library", goerr.V("library", lib.name))
		}
	}

	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetGlobal("print", L.NewFunction(safePrint))
	return nil
}

// safePrint redirects Lua's print to the logger
func safePrint(L *lua.LState) int {
	top := L.GetTop()
	parts := make([]string, top)
	for i := 1; i <= top; i++ {
		parts[i-1] = fmt.Sprint(convertLuaToGo(L.Get(i)))
	}

	log.Info("Lua print", "message", strings.Join(parts, "\t"))
	return 0
}

package scripting

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/mindsim/layermem/pkg/log"
)

// unsafeGlobals are removed from the Lua environment when sandboxing is on.
// Scripts keep string, table, and math but lose filesystem, process, and
// module loading access.
var unsafeGlobals = []string{"io", "os", "package", "require", "dofile", "loadfile", "load"}

func setupSandbox(L *lua.LState) {
	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(sandboxPrint))
}

// sandboxPrint redirects Lua's print to the structured logger.
func sandboxPrint(L *lua.LState) int {
	top := L.GetTop()
	args := make([]interface{}, top)
	for i := 1; i <= top; i++ {
		args[i-1] = convertLuaToGo(L.Get(i))
	}
	log.Debug("Lua print", "args", args)
	return 0
}

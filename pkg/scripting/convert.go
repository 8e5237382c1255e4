package scripting

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// convertLuaToGo maps a Lua value onto nil, bool, float64, string, []any, or
// map[string]any. Tables with a positive array length become slices;
// everything else becomes a string-keyed map.
func convertLuaToGo(v lua.LValue) interface{} {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if n := val.MaxN(); n > 0 {
			arr := make([]interface{}, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, convertLuaToGo(val.RawGetInt(i)))
			}
			return arr
		}
		m := make(map[string]interface{})
		val.ForEach(func(k, item lua.LValue) {
			m[lua.LVAsString(k)] = convertLuaToGo(item)
		})
		return m
	default:
		return val.String()
	}
}

// convertGoToLua maps common Go values onto Lua values. Unknown types fall
// back to their string rendering.
func convertGoToLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case map[string]interface{}:
		t := L.NewTable()
		for k, item := range val {
			t.RawSetString(k, convertGoToLua(L, item))
		}
		return t
	case []interface{}:
		t := L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, convertGoToLua(L, item))
		}
		return t
	case []string:
		t := L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, lua.LString(item))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

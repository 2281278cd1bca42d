package sandbox

import (
	"fmt"
	"math"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

func toLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case float32:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case string:
		return lua.LString(x)
	case []any:
		tbl := L.NewTable()
		for _, e := range x {
			tbl.Append(toLua(L, e))
		}
		return tbl
	case []string:
		tbl := L.NewTable()
		for _, e := range x {
			tbl.Append(lua.LString(e))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, e := range x {
			tbl.RawSetString(k, toLua(L, e))
		}
		return tbl
	}
	return lua.LString(fmt.Sprint(v))
}

// fromLua converts to the value types the call expression parser produces:
// integral numbers become int64, others float64.
func fromLua(v lua.LValue) any {
	switch x := v.(type) {
	case lua.LBool:
		return bool(x)
	case lua.LNumber:
		f := float64(x)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(x)
	case *lua.LTable:
		if n := x.MaxN(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLua(x.RawGetInt(i)))
			}
			return out
		}
		m := make(map[string]any)
		x.ForEach(func(k, val lua.LValue) {
			m[k.String()] = fromLua(val)
		})
		return m
	}
	if v == lua.LNil || v == nil {
		return nil
	}
	return v.String()
}

func keywords(tbl *lua.LTable) (map[string]any, error) {
	args := make(map[string]any)
	var bad []string
	tbl.ForEach(func(k, v lua.LValue) {
		ks, ok := k.(lua.LString)
		if !ok {
			bad = append(bad, k.String())
			return
		}
		args[string(ks)] = fromLua(v)
	})
	if len(bad) > 0 {
		sort.Strings(bad)
		return nil, fmt.Errorf("non-string keyword keys %v", bad)
	}
	return args, nil
}

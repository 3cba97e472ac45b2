package luart

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	lua "github.com/yuin/gopher-lua"
	luajson "layeh.com/gopher-json"

	"github.com/any-hub/fsroute/internal/cache"
	"github.com/any-hub/fsroute/internal/response"
)

var errFunctionValue = errors.New("functions cannot leave the script")

// toGo 把 Lua 值转换为 Go 值：连续整数键的表为 []any，其余表为 map[string]any，
// 整数为 int64，响应 userdata 原样取出。
func toGo(lv lua.LValue) (any, error) {
	return convert(lv, make(map[*lua.LTable]struct{}))
}

func convert(lv lua.LValue, visiting map[*lua.LTable]struct{}) (any, error) {
	switch v := lv.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(v), nil
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	case lua.LString:
		return string(v), nil
	case *lua.LUserData:
		return v.Value, nil
	case *lua.LFunction:
		return nil, errFunctionValue
	case *lua.LTable:
		if _, seen := visiting[v]; seen {
			return nil, cache.ErrCircularReference
		}
		visiting[v] = struct{}{}
		defer delete(visiting, v)
		return convertTable(v, visiting)
	default:
		return nil, fmt.Errorf("unsupported lua value of type %s", lv.Type())
	}
}

func convertTable(t *lua.LTable, visiting map[*lua.LTable]struct{}) (any, error) {
	count := 0
	t.ForEach(func(_, _ lua.LValue) { count++ })
	if n := t.MaxN(); n > 0 && n == count {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			item, err := convert(t.RawGetInt(i), visiting)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	}

	out := make(map[string]any, count)
	var firstErr error
	t.ForEach(func(k, v lua.LValue) {
		if firstErr != nil {
			return
		}
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = kv.String()
		default:
			firstErr = fmt.Errorf("unsupported table key of type %s", k.Type())
			return
		}
		item, err := convert(v, visiting)
		if err != nil {
			firstErr = err
			return
		}
		out[key] = item
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// fromGo 把 Go 值转换为 Lua 值；未直接支持的类型经 JSON 往返转换。
func fromGo(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(string(val))
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case *response.Envelope:
		return newEnvelope(L, val)
	case *response.CacheHit:
		return newCacheHit(L, val)
	case map[string]string:
		t := L.CreateTable(0, len(val))
		for _, k := range sortedKeys(val) {
			t.RawSetString(k, lua.LString(val[k]))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(val))
		for k, item := range val {
			t.RawSetString(k, fromGo(L, item))
		}
		return t
	case []any:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(fromGo(L, item))
		}
		return t
	case []string:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(lua.LString(item))
		}
		return t
	}

	data, err := json.Marshal(v)
	if err != nil {
		return lua.LString(fmt.Sprint(v))
	}
	lv, err := luajson.Decode(L, data)
	if err != nil {
		return lua.LString(string(data))
	}
	return lv
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// toStringMap 读取 {k = v} 形式的表，值统一转为字符串。
func toStringMap(lv lua.LValue) map[string]string {
	t, ok := lv.(*lua.LTable)
	if !ok {
		return nil
	}
	out := make(map[string]string)
	t.ForEach(func(k, v lua.LValue) {
		switch val := v.(type) {
		case lua.LString:
			out[k.String()] = string(val)
		case lua.LNumber:
			out[k.String()] = strconv.FormatFloat(float64(val), 'f', -1, 64)
		case lua.LBool:
			out[k.String()] = strconv.FormatBool(bool(val))
		}
	})
	return out
}

// toStringSlice 读取字符串数组；单个字符串视为只有一个元素。
func toStringSlice(lv lua.LValue) []string {
	switch v := lv.(type) {
	case lua.LString:
		return []string{string(v)}
	case *lua.LTable:
		out := make([]string, 0, v.Len())
		for i := 1; i <= v.Len(); i++ {
			if s, ok := v.RawGetInt(i).(lua.LString); ok {
				out = append(out, string(s))
			}
		}
		return out
	}
	return nil
}

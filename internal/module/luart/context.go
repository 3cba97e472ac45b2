package luart

import (
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/any-hub/fsroute/internal/route"
)

// newContextTable 把请求上下文暴露为 Lua 表，函数字段以点号调用：ctx.next()。
func newContextTable(L *lua.LState, c *route.Context, next *lua.LFunction) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("method", lua.LString(c.Method))
	t.RawSetString("path", lua.LString(c.Path))
	t.RawSetString("route", lua.LString(c.Route))
	t.RawSetString("request_id", lua.LString(c.RequestID))
	t.RawSetString("headers", fromGo(L, c.Headers))
	t.RawSetString("params", fromGo(L, c.Params))
	t.RawSetString("query", fromGo(L, c.Query))
	t.RawSetString("body", fromGo(L, c.Body))

	files := L.CreateTable(len(c.Files), 0)
	for _, f := range c.Files {
		ft := L.NewTable()
		ft.RawSetString("field", lua.LString(f.Field))
		ft.RawSetString("name", lua.LString(f.Name))
		ft.RawSetString("type", lua.LString(f.Type))
		ft.RawSetString("size", lua.LNumber(f.Size))
		ft.RawSetString("data", lua.LString(string(f.Data)))
		files.Append(ft)
	}
	t.RawSetString("files", files)
	t.RawSetString("next", next)

	L.SetFuncs(t, map[string]lua.LGFunction{
		"header": func(L *lua.LState) int {
			L.Push(lua.LString(c.Header(L.CheckString(1))))
			return 1
		},
		"set_header": func(L *lua.LState) int {
			c.SetHeader(L.CheckString(1), L.CheckString(2))
			return 0
		},
		"cache_control": func(L *lua.LState) int {
			ttl := seconds(L.CheckNumber(1))
			if hit, ok := c.CacheControl(ttl, L.CheckString(2)); ok {
				L.Push(newCacheHit(L, hit))
				return 1
			}
			L.Push(lua.LNil)
			return 1
		},
		"get_cached": func(L *lua.LState) int {
			if v, ok := c.GetCached(L.CheckString(1)); ok {
				L.Push(fromGo(L, v))
				return 1
			}
			L.Push(lua.LNil)
			return 1
		},
		"set_cache": func(L *lua.LState) int {
			var ttl []time.Duration
			if n, ok := L.Get(3).(lua.LNumber); ok {
				ttl = append(ttl, seconds(n))
			}
			if err := c.SetCache(L.CheckString(1), checkValue(L, 2), ttl...); err != nil {
				L.RaiseError("%s", err.Error())
			}
			return 0
		},
		"has_cache": func(L *lua.LState) int {
			L.Push(lua.LBool(c.HasCache(L.CheckString(1))))
			return 1
		},
		"fetch": func(L *lua.LState) int {
			L.Push(newEnvelope(L, c.Fetch(L.CheckString(1), fetchRequest(L, L.Get(2)))))
			return 1
		},
		"require_access": func(L *lua.LState) int {
			L.Push(newEnvelope(L, c.RequireAccess(toStringMap(L.CheckTable(1)))))
			return 1
		},
		"cors": func(L *lua.LState) int {
			L.Push(newEnvelope(L, c.CORS(toStringSlice(L.Get(1)), toStringSlice(L.Get(2)))))
			return 1
		},
	})
	t.RawSetString("cache", routeCacheTable(L, c))
	return t
}

func seconds(n lua.LNumber) time.Duration {
	return time.Duration(float64(n) * float64(time.Second))
}

// fetchRequest 读取 ctx.fetch 的第二个参数：{method, headers, query, params, body}。
func fetchRequest(L *lua.LState, lv lua.LValue) route.Request {
	req := route.Request{Method: "GET"}
	opts, ok := lv.(*lua.LTable)
	if !ok {
		return req
	}
	if m, ok := opts.RawGetString("method").(lua.LString); ok && m != "" {
		req.Method = string(m)
	}
	req.Headers = toStringMap(opts.RawGetString("headers"))
	req.Query = toStringMap(opts.RawGetString("query"))
	req.Params = toStringMap(opts.RawGetString("params"))
	if body := opts.RawGetString("body"); body != lua.LNil {
		v, err := toGo(body)
		if err != nil {
			L.ArgError(2, err.Error())
		}
		req.Body = v
	}
	return req
}

// routeCacheTable 暴露路由私有缓存：ctx.cache.get/set/has/remove。
func routeCacheTable(L *lua.LState, c *route.Context) *lua.LTable {
	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"get": func(L *lua.LState) int {
			rc := c.Cache()
			if rc == nil {
				L.Push(lua.LNil)
				return 1
			}
			v, ok := rc.Get(L.CheckString(1))
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(fromGo(L, v))
			return 1
		},
		"set": func(L *lua.LState) int {
			rc := c.Cache()
			if rc == nil {
				return 0
			}
			var ttl []time.Duration
			if n, ok := L.Get(3).(lua.LNumber); ok {
				ttl = append(ttl, seconds(n))
			}
			if err := rc.Set(L.CheckString(1), checkValue(L, 2), ttl...); err != nil {
				L.RaiseError("%s", err.Error())
			}
			return 0
		},
		"has": func(L *lua.LState) int {
			rc := c.Cache()
			L.Push(lua.LBool(rc != nil && rc.Has(L.CheckString(1))))
			return 1
		},
		"remove": func(L *lua.LState) int {
			if rc := c.Cache(); rc != nil {
				rc.Remove(L.CheckString(1))
			}
			return 0
		},
	})
}

package luart

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/any-hub/fsroute/internal/response"
)

const (
	envelopeTypeName = "fsroute.envelope"
	cacheHitTypeName = "fsroute.cachehit"
)

func registerEnvelopeType(L *lua.LState) {
	mt := L.NewTypeMetatable(envelopeTypeName)
	L.SetField(mt, "__index", L.NewFunction(envelopeIndex))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		env := checkEnvelope(L, 1)
		L.Push(lua.LString(string(env.Kind) + " " + env.Status))
		return 1
	}))

	hit := L.NewTypeMetatable(cacheHitTypeName)
	L.SetField(hit, "__index", L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		h, ok := ud.Value.(*response.CacheHit)
		if !ok {
			L.ArgError(1, "cache hit expected")
			return 0
		}
		switch L.CheckString(2) {
		case "key":
			L.Push(lua.LString(h.Key))
		case "response":
			L.Push(newEnvelope(L, h.Envelope))
		default:
			L.Push(lua.LNil)
		}
		return 1
	}))
}

func newEnvelope(L *lua.LState, env *response.Envelope) lua.LValue {
	if env == nil {
		return lua.LNil
	}
	ud := L.NewUserData()
	ud.Value = env
	L.SetMetatable(ud, L.GetTypeMetatable(envelopeTypeName))
	return ud
}

func newCacheHit(L *lua.LState, hit *response.CacheHit) lua.LValue {
	ud := L.NewUserData()
	ud.Value = hit
	L.SetMetatable(ud, L.GetTypeMetatable(cacheHitTypeName))
	return ud
}

func checkEnvelope(L *lua.LState, n int) *response.Envelope {
	ud := L.CheckUserData(n)
	env, ok := ud.Value.(*response.Envelope)
	if !ok {
		L.ArgError(n, "response expected")
		return nil
	}
	return env
}

func checkCode(L *lua.LState, n int) int {
	code := L.CheckInt(n)
	if !response.KnownCode(code) {
		L.ArgError(n, "unknown status code")
	}
	return code
}

func optCode(L *lua.LState, n int) []int {
	if L.Get(n) == lua.LNil {
		return nil
	}
	return []int{checkCode(L, n)}
}

func optString(L *lua.LState, n int) []string {
	if L.Get(n) == lua.LNil {
		return nil
	}
	return []string{L.CheckString(n)}
}

func checkValue(L *lua.LState, n int) any {
	v, err := toGo(L.Get(n))
	if err != nil {
		L.ArgError(n, err.Error())
	}
	return v
}

// responseLoader 是 require("response") 的模块表。
func responseLoader(L *lua.LState) int {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"json": func(L *lua.LState) int {
			L.Push(newEnvelope(L, response.JSON(checkValue(L, 1), optCode(L, 2)...)))
			return 1
		},
		"text": func(L *lua.LState) int {
			L.Push(newEnvelope(L, response.Text(L.CheckString(1), optString(L, 2)...)))
			return 1
		},
		"html": func(L *lua.LState) int {
			L.Push(newEnvelope(L, response.HTML(L.CheckString(1))))
			return 1
		},
		"buffer": func(L *lua.LState) int {
			L.Push(newEnvelope(L, response.Buffer([]byte(L.CheckString(1)), optString(L, 2)...)))
			return 1
		},
		"send": func(L *lua.LState) int {
			L.Push(newEnvelope(L, response.Send(checkValue(L, 1))))
			return 1
		},
		"error": func(L *lua.LState) int {
			L.Push(newEnvelope(L, response.Error(checkCode(L, 1), L.OptString(2, ""))))
			return 1
		},
		"status": func(L *lua.LState) int {
			L.Push(newEnvelope(L, response.Status(checkCode(L, 1), optString(L, 2)...)))
			return 1
		},
	})
	L.Push(mod)
	return 1
}

// envelopeMethods 都返回响应本身，便于链式调用。
var envelopeMethods = map[string]lua.LGFunction{
	"json": func(L *lua.LState) int {
		checkEnvelope(L, 1).JSON(checkValue(L, 2))
		L.Push(L.Get(1))
		return 1
	},
	"text": func(L *lua.LState) int {
		checkEnvelope(L, 1).Text(L.CheckString(2), optString(L, 3)...)
		L.Push(L.Get(1))
		return 1
	},
	"html": func(L *lua.LState) int {
		checkEnvelope(L, 1).HTML(L.CheckString(2))
		L.Push(L.Get(1))
		return 1
	},
	"buffer": func(L *lua.LState) int {
		checkEnvelope(L, 1).Buffer([]byte(L.CheckString(2)), optString(L, 3)...)
		L.Push(L.Get(1))
		return 1
	},
	"send": func(L *lua.LState) int {
		env := checkEnvelope(L, 1)
		if sent := env.Send(checkValue(L, 2)); sent != env {
			L.Push(newEnvelope(L, sent))
			return 1
		}
		L.Push(L.Get(1))
		return 1
	},
	"header": func(L *lua.LState) int {
		checkEnvelope(L, 1).WithHeader(L.CheckString(2), L.CheckString(3))
		L.Push(L.Get(1))
		return 1
	},
	"security_policy": func(L *lua.LState) int {
		checkEnvelope(L, 1).WithSecurityPolicy(L.CheckString(2))
		L.Push(L.Get(1))
		return 1
	},
	"disposition": func(L *lua.LState) int {
		checkEnvelope(L, 1).WithDisposition(L.ToBool(2), L.OptString(3, ""))
		L.Push(L.Get(1))
		return 1
	},
	"with_status": func(L *lua.LState) int {
		checkEnvelope(L, 1).WithStatus(checkCode(L, 2), optString(L, 3)...)
		L.Push(L.Get(1))
		return 1
	},
}

func envelopeIndex(L *lua.LState) int {
	env := checkEnvelope(L, 1)
	key := L.CheckString(2)
	if fn, ok := envelopeMethods[key]; ok {
		L.Push(L.NewFunction(fn))
		return 1
	}
	switch key {
	case "code":
		L.Push(lua.LNumber(env.Code))
	case "status":
		L.Push(lua.LString(env.Status))
	case "message":
		L.Push(lua.LString(env.Message))
	case "kind":
		L.Push(lua.LString(string(env.Kind)))
	case "content_type":
		L.Push(lua.LString(env.ContentType))
	case "payload":
		L.Push(fromGo(L, env.Payload))
	case "headers":
		L.Push(fromGo(L, env.Headers))
	case "ok":
		L.Push(lua.LBool(env.OK()))
	default:
		L.Push(lua.LNil)
	}
	return 1
}

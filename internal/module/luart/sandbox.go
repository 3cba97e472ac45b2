package luart

import (
	"time"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
	luajson "layeh.com/gopher-json"
)

type luaModule struct {
	name   string
	loader lua.LGFunction

	// enabled 为 nil 表示保留全部符号。
	enabled []string
}

// sandboxModules 是路由脚本可见的标准库；package 与 base 必须最先加载。
var sandboxModules = []luaModule{
	{lua.LoadLibName, lua.OpenPackage, nil},
	{lua.BaseLibName, lua.OpenBase, []string{
		"assert", "error", "getmetatable", "ipairs", "next", "pairs", "pcall",
		"rawequal", "rawget", "rawlen", "rawset", "select", "setmetatable",
		"tonumber", "tostring", "type", "unpack", "xpcall", "require",
		"package", "_G", "_VERSION",
	}},
	{lua.TabLibName, lua.OpenTable, nil},
	{lua.StringLibName, lua.OpenString, nil},
	{lua.MathLibName, lua.OpenMath, nil},
	{lua.CoroutineLibName, lua.OpenCoroutine, nil},
	{lua.OsLibName, lua.OpenOs, []string{"time", "clock", "date", "difftime"}},
}

// load 加载标准库并移除白名单之外的符号，见 lua.LState.OpenLibs()。
func (m luaModule) load(L *lua.LState) {
	L.Push(L.NewFunction(m.loader))
	L.Push(lua.LString(m.name))
	L.Call(1, 0)

	if m.enabled == nil {
		return
	}
	allowed := make(map[string]struct{}, len(m.enabled))
	for _, name := range m.enabled {
		allowed[name] = struct{}{}
	}
	st := m.table(L)
	var disabled []lua.LValue
	st.ForEach(func(k, _ lua.LValue) {
		if name, ok := k.(lua.LString); ok {
			if _, keep := allowed[string(name)]; !keep {
				disabled = append(disabled, k)
			}
		}
	})
	for _, k := range disabled {
		st.RawSet(k, lua.LNil)
	}
}

func (m luaModule) table(L *lua.LState) *lua.LTable {
	name := m.name
	if m.name == lua.BaseLibName {
		name = "_G"
	}
	return L.GetGlobal(name).(*lua.LTable)
}

// newSandbox 创建只开放白名单标准库的虚拟机，并注入 print/sleep/log/json/response。
func newSandbox(logger *logrus.Entry) *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, m := range sandboxModules {
		m.load(L)
	}

	// 禁止 package 从磁盘加载模块，依赖统一走受管目录解析。
	if pkg, ok := L.GetGlobal(lua.LoadLibName).(*lua.LTable); ok {
		pkg.RawSetString("path", lua.LString(""))
		pkg.RawSetString("cpath", lua.LString(""))
	}

	L.SetGlobal("print", L.NewFunction(printToLog(logger)))
	L.SetGlobal("sleep", L.NewFunction(sleep))
	luajson.Preload(L)
	L.PreloadModule("log", logLoader(logger))
	L.PreloadModule("response", responseLoader)
	registerEnvelopeType(L)
	return L
}

func printToLog(logger *logrus.Entry) lua.LGFunction {
	return func(L *lua.LState) int {
		top := L.GetTop()
		args := make([]any, 0, top)
		for i := 1; i <= top; i++ {
			args = append(args, L.ToStringMeta(L.Get(i)).String())
		}
		logger.Print(args...)
		return 0
	}
}

// sleep 以毫秒为单位休眠，请求取消时提前返回。
func sleep(L *lua.LState) int {
	d := time.Duration(L.CheckInt64(1)) * time.Millisecond
	ctx := L.Context()
	if ctx == nil {
		time.Sleep(d)
		return 0
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return 0
}

func logLoader(logger *logrus.Entry) lua.LGFunction {
	logAt := func(level logrus.Level) lua.LGFunction {
		return func(L *lua.LState) int {
			top := L.GetTop()
			args := make([]any, 0, top)
			for i := 1; i <= top; i++ {
				args = append(args, L.ToStringMeta(L.Get(i)).String())
			}
			logger.Log(level, args...)
			return 0
		}
	}
	return func(L *lua.LState) int {
		mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
			"debug": logAt(logrus.DebugLevel),
			"info":  logAt(logrus.InfoLevel),
			"warn":  logAt(logrus.WarnLevel),
			"error": logAt(logrus.ErrorLevel),
		})
		L.Push(mod)
		return 1
	}
}

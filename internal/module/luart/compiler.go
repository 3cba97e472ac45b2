package luart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/any-hub/fsroute/internal/cache"
	"github.com/any-hub/fsroute/internal/module"
	"github.com/any-hub/fsroute/internal/route"
)

// DefaultMaxIdle 是每个脚本保留的空闲虚拟机数量。
const DefaultMaxIdle = 8

// Extension 与 Priority 决定 index.lua 在目录索引解析中最先被选中。
const (
	Extension = ".lua"
	Priority  = 10
)

func init() {
	module.MustRegisterCompiler(Extension, Priority, &Compiler{})
}

// exportNames 是脚本可以导出的处理函数键，middleware 单独处理。
var exportNames = []route.Method{
	route.MethodGet,
	route.MethodPost,
	route.MethodPut,
	route.MethodDelete,
	route.MethodAll,
	route.MethodDefault,
}

// Compiler 把 Lua 路由脚本编译为模块。脚本在受限沙箱中执行一次以收集导出，
// 之后每个请求从虚拟机池中取一个实例调用对应函数。
type Compiler struct {
	MaxIdle int
}

// Compile 实现 module.Compiler。
func (c *Compiler) Compile(ctx context.Context, src module.Source) (*route.Module, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	proto, err := compileChunk(src.Path, src.Text)
	if err != nil {
		return nil, err
	}
	logger := src.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &script{
		file:    src.Path,
		proto:   proto,
		require: src.Require,
		logger:  logger.WithField("script", src.Path),
		deps:    make(map[string]compiledDep),
	}
	s.pool = newStatePool(c.MaxIdle, s.newVM)

	probe, err := s.newVM(ctx)
	if err != nil {
		return nil, s.compileError(err)
	}
	mod, err := s.module(probe)
	if err != nil {
		probe.L.Close()
		return nil, &module.CompileError{File: src.Path, Message: err.Error(), Err: err}
	}
	s.pool.put(probe)
	mod.Release = s.pool.close
	return mod, nil
}

func compileChunk(path string, text []byte) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(bytes.NewReader(text), path)
	if err != nil {
		var perr *parse.Error
		if errors.As(err, &perr) {
			msg := perr.Message
			if perr.Token != "" {
				msg = fmt.Sprintf("%s near '%s'", msg, perr.Token)
			}
			return nil, &module.CompileError{File: path, Line: perr.Pos.Line, Column: perr.Pos.Column, Message: msg, Err: err}
		}
		return nil, &module.CompileError{File: path, Message: err.Error(), Err: err}
	}
	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return nil, &module.CompileError{File: path, Message: err.Error(), Err: err}
	}
	return proto, nil
}

type compiledDep struct {
	path  string
	proto *lua.FunctionProto
}

type script struct {
	file    string
	proto   *lua.FunctionProto
	require module.RequireFunc
	logger  *logrus.Entry
	pool    *statePool

	mu   sync.Mutex
	deps map[string]compiledDep
}

// newVM 创建沙箱并执行脚本；返回表时以其为导出，否则以全局变量为导出。
func (s *script) newVM(ctx context.Context) (*vm, error) {
	L := newSandbox(s.logger)
	v := &vm{L: L, loaded: make(map[string]lua.LValue), files: []string{s.file}}
	host := L.GetGlobal("require")
	L.SetGlobal("require", L.NewFunction(s.requireFn(v, host)))

	if ctx != nil {
		L.SetContext(ctx)
		defer L.RemoveContext()
	}
	fn := L.NewFunctionFromProto(s.proto)
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
		L.Close()
		return nil, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	if t, ok := ret.(*lua.LTable); ok {
		v.exports = t
	} else {
		v.exports = L.G.Global
	}
	return v, nil
}

// requireFn 先在受管目录内解析相对依赖，裸模块名回退到沙箱的 package.preload。
func (s *script) requireFn(v *vm, host lua.LValue) lua.LGFunction {
	return func(L *lua.LState) int {
		name := L.CheckString(1)
		dep, err := s.resolve(v.current(), name)
		if err != nil {
			if errors.Is(err, module.ErrOutsideTree) && !isPathLike(name) {
				L.Push(host)
				L.Push(lua.LString(name))
				L.Call(1, 1)
				return 1
			}
			L.RaiseError("%s", err.Error())
			return 0
		}
		if val, ok := v.loaded[dep.path]; ok {
			L.Push(val)
			return 1
		}

		v.files = append(v.files, dep.path)
		func() {
			defer func() { v.files = v.files[:len(v.files)-1] }()
			L.Push(L.NewFunctionFromProto(dep.proto))
			L.Call(0, 1)
		}()
		ret := L.Get(-1)
		L.Pop(1)
		if ret == lua.LNil {
			ret = lua.LTrue
		}
		v.loaded[dep.path] = ret
		L.Push(ret)
		return 1
	}
}

func isPathLike(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "/")
}

func (s *script) resolve(from, name string) (compiledDep, error) {
	key := from + "\x00" + name
	s.mu.Lock()
	d, ok := s.deps[key]
	s.mu.Unlock()
	if ok {
		return d, nil
	}
	if s.require == nil {
		return compiledDep{}, fmt.Errorf("%s: %w", name, module.ErrOutsideTree)
	}
	dep, err := s.require(from, name)
	if err != nil {
		return compiledDep{}, err
	}
	proto, err := compileChunk(dep.Path, dep.Text)
	if err != nil {
		return compiledDep{}, err
	}
	d = compiledDep{path: dep.Path, proto: proto}
	s.mu.Lock()
	s.deps[key] = d
	s.mu.Unlock()
	return d, nil
}

// module 根据探测实例的导出构建路由模块。
func (s *script) module(probe *vm) (*route.Module, error) {
	mod := route.Empty(s.file)
	for _, verb := range exportNames {
		for _, pos := range functionPositions(probe.exports.RawGetString(string(verb))) {
			mod.Handle(verb, s.handler(string(verb), pos))
		}
	}
	for _, pos := range functionPositions(probe.exports.RawGetString("middleware")) {
		mod.Use(s.handler("middleware", pos))
	}

	opts := probe.exports.RawGetString("cache_options")
	if opts == lua.LNil {
		opts = probe.exports.RawGetString("cacheOptions")
	}
	cacheOpts, err := cacheOptions(opts)
	if err != nil {
		return nil, err
	}
	mod.CacheOptions = cacheOpts
	return mod, nil
}

// functionPositions 返回导出值中函数的位置；单个函数为 {0}，数组中的非函数元素被忽略。
func functionPositions(lv lua.LValue) []int {
	switch v := lv.(type) {
	case *lua.LFunction:
		return []int{0}
	case *lua.LTable:
		var out []int
		for i := 1; i <= v.Len(); i++ {
			if _, ok := v.RawGetInt(i).(*lua.LFunction); ok {
				out = append(out, i)
			}
		}
		return out
	}
	return nil
}

func cacheOptions(lv lua.LValue) (*cache.Options, error) {
	if lv == lua.LNil {
		return nil, nil
	}
	t, ok := lv.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("cache_options must be a table, got %s", lv.Type())
	}
	field := func(names ...string) lua.LValue {
		for _, name := range names {
			if v := t.RawGetString(name); v != lua.LNil {
				return v
			}
		}
		return lua.LNil
	}

	opts := &cache.Options{}
	if n, ok := field("expiry_seconds", "expirySeconds").(lua.LNumber); ok {
		// 声明 ≤0 表示永不过期，0 不能留给 Merge 当作未声明。
		opts.Expiry = seconds(n)
		if opts.Expiry <= 0 {
			opts.Expiry = -1
		}
	}
	if n, ok := field("max_entries", "maxEntries").(lua.LNumber); ok {
		opts.MaxEntries = int(n)
	}
	if b, ok := field("clone_values", "cloneValues").(lua.LBool); ok {
		opts.CloneValues = cache.Bool(bool(b))
	}
	if b, ok := field("update_expiration", "updateExpiration").(lua.LBool); ok {
		opts.UpdateExpiration = cache.Bool(bool(b))
	}
	if n, ok := field("sweep_seconds", "sweepSeconds").(lua.LNumber); ok {
		opts.SweepInterval = seconds(n)
	}
	return opts, nil
}

// handler 返回调用导出 name 中第 pos 个函数的处理函数：fn(ctx, next)。
func (s *script) handler(name string, pos int) route.Handler {
	return func(c *route.Context, next route.Next) (any, error) {
		v, err := s.pool.get(c.Context())
		if err != nil {
			return nil, s.runtimeError(err)
		}
		fn := v.lookup(name, pos)
		if fn == nil {
			s.pool.put(v)
			return nil, fmt.Errorf("%s: export %s is not callable", s.file, name)
		}

		L := v.L
		L.SetContext(c.Context())
		nextFn := L.NewFunction(func(*lua.LState) int {
			if next != nil {
				next()
			}
			return 0
		})
		err = L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, newContextTable(L, c, nextFn), nextFn)
		L.RemoveContext()
		if err != nil {
			s.pool.discard(v)
			return nil, s.runtimeError(err)
		}
		ret := L.Get(-1)
		L.Pop(1)
		out, convErr := toGo(ret)
		s.pool.put(v)
		if convErr != nil {
			return nil, &route.SourceError{File: s.file, Message: convErr.Error(), Err: convErr}
		}
		return out, nil
	}
}

var positionPattern = regexp.MustCompile(`(?s)^(.+?):(\d+):\s*(.*)$`)

// runtimeError 把 Lua 错误拆成文件、行号与消息。
func (s *script) runtimeError(err error) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return err
	}
	msg := apiErr.Object.String()
	out := &route.SourceError{File: s.file, Message: msg, Err: err}
	if m := positionPattern.FindStringSubmatch(msg); m != nil {
		out.File = m[1]
		out.Line, _ = strconv.Atoi(m[2])
		out.Message = m[3]
	}
	if errors.Is(apiErr.Cause, context.Canceled) || errors.Is(apiErr.Cause, context.DeadlineExceeded) {
		out.Err = apiErr.Cause
	}
	return out
}

func (s *script) compileError(err error) error {
	var compileErr *module.CompileError
	if errors.As(err, &compileErr) {
		return compileErr
	}
	rt := s.runtimeError(err)
	var srcErr *route.SourceError
	if errors.As(rt, &srcErr) {
		return &module.CompileError{File: srcErr.File, Line: srcErr.Line, Message: srcErr.Message, Err: err}
	}
	return &module.CompileError{File: s.file, Message: err.Error(), Err: err}
}

package luart

import (
	"context"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// vm 是一个已执行过路由脚本的虚拟机。
type vm struct {
	L       *lua.LState
	exports *lua.LTable
	loaded  map[string]lua.LValue
	// files 是正在执行的脚本文件栈，栈顶作为相对 require 的基准。
	files []string
}

func (v *vm) current() string {
	return v.files[len(v.files)-1]
}

// lookup 返回导出 name 中第 pos 个函数；pos 为 0 表示导出值本身就是函数。
func (v *vm) lookup(name string, pos int) *lua.LFunction {
	lv := v.exports.RawGetString(name)
	if pos == 0 {
		fn, _ := lv.(*lua.LFunction)
		return fn
	}
	t, ok := lv.(*lua.LTable)
	if !ok {
		return nil
	}
	fn, _ := t.RawGetInt(pos).(*lua.LFunction)
	return fn
}

// statePool 复用虚拟机；LState 不能并发使用，每个请求独占一个，
// 嵌套 fetch 到同一路由时会取到另一个实例。关闭后仍可取用，归还的实例直接关闭。
type statePool struct {
	mu      sync.Mutex
	free    []*vm
	maxIdle int
	closed  bool
	build   func(ctx context.Context) (*vm, error)
}

func newStatePool(maxIdle int, build func(ctx context.Context) (*vm, error)) *statePool {
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}
	return &statePool{maxIdle: maxIdle, build: build}
}

func (p *statePool) get(ctx context.Context) (*vm, error) {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		v := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return v, nil
	}
	p.mu.Unlock()
	return p.build(ctx)
}

func (p *statePool) put(v *vm) {
	p.mu.Lock()
	if !p.closed && len(p.free) < p.maxIdle {
		p.free = append(p.free, v)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	v.L.Close()
}

// discard 关闭出错的虚拟机，不再放回池中。
func (p *statePool) discard(v *vm) {
	v.L.Close()
}

// close 关闭全部空闲实例；正在执行的实例在归还时关闭。
func (p *statePool) close() {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.closed = true
	p.mu.Unlock()
	for _, v := range free {
		v.L.Close()
	}
}

func (p *statePool) idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

package luart

import (
	"context"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestClosedPoolReleasesIdleStates(t *testing.T) {
	built := 0
	p := newStatePool(4, func(context.Context) (*vm, error) {
		built++
		return &vm{L: lua.NewState(lua.Options{SkipOpenLibs: true})}, nil
	})

	a, _ := p.get(context.Background())
	b, _ := p.get(context.Background())
	p.put(a)
	if p.idle() != 1 {
		t.Fatalf("expected one idle state, got %d", p.idle())
	}

	p.close()
	if p.idle() != 0 {
		t.Fatalf("close should drop idle states, %d left", p.idle())
	}

	// 关闭前借出的实例在归还时关闭，不再回到池中。
	p.put(b)
	if p.idle() != 0 {
		t.Fatalf("state returned after close should be closed, idle=%d", p.idle())
	}

	c, err := p.get(context.Background())
	if err != nil || c == nil || built != 3 {
		t.Fatalf("closed pool should still build states, built=%d err=%v", built, err)
	}
	p.put(c)
	p.close()
}

func TestReleasedModuleStillServes(t *testing.T) {
	root := writeScripts(t, map[string]string{
		"r/index.lua": `function get() return "still here" end`,
	})
	mod := mustLoad(t, root, "r/index.lua")
	if mod.Release == nil {
		t.Fatalf("lua modules should expose Release")
	}
	mod.Close()
	mod.Close()

	out, err := run(mod, newContext(context.Background(), newServices(t), "GET"))
	if err != nil || out != "still here" {
		t.Fatalf("released module should keep answering in-flight calls, got %v %v", out, err)
	}
}

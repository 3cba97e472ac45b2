package module

import (
	"testing"

	"github.com/any-hub/fsroute/internal/route"
)

func replaceRegistry(t *testing.T) func() {
	t.Helper()
	prev := globalRegistry
	globalRegistry = newRegistry()
	return func() { globalRegistry = prev }
}

func TestRegisterResolveAndList(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	build := func() *route.Module { return route.Empty("go") }
	if err := Register(Metadata{Key: "beta", New: build}); err != nil {
		t.Fatalf("register beta failed: %v", err)
	}
	if err := Register(Metadata{Key: "Alpha", New: build}); err != nil {
		t.Fatalf("register alpha failed: %v", err)
	}

	if _, ok := Resolve("ALPHA"); !ok {
		t.Fatalf("resolve should be case-insensitive")
	}
	keys := Keys()
	if len(keys) != 2 || keys[0] != "alpha" || keys[1] != "beta" {
		t.Fatalf("unexpected keys: %v", keys)
	}
	if mod, err := Instantiate("beta"); err != nil || mod == nil {
		t.Fatalf("instantiate failed: %v", err)
	}
	if _, err := Instantiate("missing"); err == nil {
		t.Fatalf("unknown module should fail")
	}
}

func TestRegisterValidation(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	build := func() *route.Module { return route.Empty("go") }
	if err := Register(Metadata{Key: "dup", New: build}); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	if err := Register(Metadata{Key: "dup", New: build}); err == nil {
		t.Fatalf("duplicate registration should fail")
	}
	if err := Register(Metadata{Key: " ", New: build}); err == nil {
		t.Fatalf("empty key should fail")
	}
	if err := Register(Metadata{Key: "nil-ctor"}); err == nil {
		t.Fatalf("missing constructor should fail")
	}
}

func TestExtensionsFollowPriority(t *testing.T) {
	exts := Extensions()
	ia, ib := -1, -1
	for i, ext := range exts {
		switch ext {
		case ".fsa":
			ia = i
		case ".fsb":
			ib = i
		}
	}
	if ia < 0 || ib < 0 || ia > ib {
		t.Fatalf("unexpected extension order %v", exts)
	}
	if err := RegisterCompiler(".fsa", 0, lineCompiler{}); err == nil {
		t.Fatalf("duplicate compiler registration should fail")
	}
}

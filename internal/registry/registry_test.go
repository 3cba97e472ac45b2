package registry

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	_ "github.com/any-hub/fsroute/internal/module/declarative"
	"github.com/any-hub/fsroute/internal/response"
	"github.com/any-hub/fsroute/internal/route"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func writeRoute(t *testing.T, root, dir, text string) string {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(dir))
	if err := os.MkdirAll(full, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(full, "index.yaml")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
	return path
}

func textRoute(body string) string {
	return "get:\n  text: \"" + body + "\"\n"
}

func startRegistry(t *testing.T, root string) *Registry {
	t.Helper()
	reg, err := New(Options{Root: root, Logger: quietLogger(), ReadyDebounce: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := reg.Ready(ctx); err != nil {
		t.Fatalf("registry never became ready: %v", err)
	}
	return reg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func bodyOf(t *testing.T, e *Entry) string {
	t.Helper()
	handlers, _, ok := e.Module.Resolve("GET")
	if !ok {
		t.Fatalf("route %s has no GET handler", e.Key)
	}
	out, err := handlers[0](route.NewContext(context.Background(), nil, nil, nil), func() {})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return out.(*response.Envelope).Payload.(string)
}

func TestInitialScanRegistersInWalkOrder(t *testing.T) {
	root := t.TempDir()
	writeRoute(t, root, "user/active", textRoute("active"))
	writeRoute(t, root, "user/[id]", textRoute("by id"))
	writeRoute(t, root, "", textRoute("home"))
	writeRoute(t, root, "node_modules/pkg", textRoute("ignored"))

	reg := startRegistry(t, root)

	if diff := cmp.Diff([]string{"", "user/[id]", "user/active"}, reg.Snapshot().Keys()); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}

	e, params, ok := reg.Lookup("/user/active")
	if !ok || e.Key != "user/[id]" || params["id"] != "active" {
		t.Fatalf("first registered pattern should win, got %+v %v", e, params)
	}
	if e, _, ok := reg.Lookup("/"); !ok || bodyOf(t, e) != "home" {
		t.Fatalf("root route missing")
	}
	if _, _, ok := reg.Lookup("/user/1/extra"); ok {
		t.Fatalf("lookup should not match longer paths")
	}
}

func TestLaterAddKeepsEarlierRouteFirst(t *testing.T) {
	root := t.TempDir()
	writeRoute(t, root, "user/active", textRoute("active"))
	reg := startRegistry(t, root)
	events := reg.Subscribe()

	writeRoute(t, root, "user/[id]", textRoute("by id"))
	waitFor(t, func() bool { return reg.Snapshot().Len() == 2 })

	e, _, ok := reg.Lookup("user/active")
	if !ok || e.Key != "user/active" {
		t.Fatalf("earlier registration should win, got %+v", e)
	}
	e, params, ok := reg.Lookup("user/9")
	if !ok || e.Key != "user/[id]" || params["id"] != "9" {
		t.Fatalf("param route should still match other values")
	}

	select {
	case ev := <-events:
		if ev.Op != OpAdd || ev.Key != "user/[id]" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no add event")
	}
}

func TestHotReloadSwapsModuleAndKeepsCache(t *testing.T) {
	root := t.TempDir()
	writeRoute(t, root, "greet", textRoute("v1"))
	reg := startRegistry(t, root)

	before, ok := reg.Snapshot().Get("greet")
	if !ok {
		t.Fatalf("greet not registered")
	}
	if err := before.Cache.Set("k", "kept"); err != nil {
		t.Fatalf("cache set: %v", err)
	}

	writeRoute(t, root, "greet", textRoute("v2"))
	waitFor(t, func() bool {
		e, ok := reg.Snapshot().Get("greet")
		return ok && bodyOf(t, e) == "v2"
	})

	after, _ := reg.Snapshot().Get("greet")
	if after.Cache != before.Cache {
		t.Fatalf("reload should reuse the route cache")
	}
	if v, ok := after.Cache.Get("k"); !ok || v != "kept" {
		t.Fatalf("cache contents lost on reload")
	}
	if bodyOf(t, before) != "v1" {
		t.Fatalf("old snapshot entry must stay intact")
	}
}

func TestBrokenReloadKeepsPreviousVersion(t *testing.T) {
	root := t.TempDir()
	writeRoute(t, root, "greet", textRoute("v1"))
	reg := startRegistry(t, root)
	events := reg.Subscribe()

	writeRoute(t, root, "greet", "get: [unclosed\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Err == nil {
				continue
			}
			e, ok := reg.Snapshot().Get("greet")
			if !ok || bodyOf(t, e) != "v1" {
				t.Fatalf("failed reload must keep previous module")
			}
			return
		case <-deadline:
			t.Fatalf("no error event for broken file")
		}
	}
}

func TestUnlinkRemovesRoutes(t *testing.T) {
	root := t.TempDir()
	index := writeRoute(t, root, "a", textRoute("a"))
	writeRoute(t, root, "b/c", textRoute("c"))
	reg := startRegistry(t, root)

	if err := os.Remove(index); err != nil {
		t.Fatalf("remove: %v", err)
	}
	waitFor(t, func() bool {
		_, ok := reg.Snapshot().Get("a")
		return !ok
	})

	if err := os.RemoveAll(filepath.Join(root, "b")); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	waitFor(t, func() bool { return reg.Snapshot().Len() == 0 })
}

func TestReadyCallbacks(t *testing.T) {
	root := t.TempDir()
	writeRoute(t, root, "x", textRoute("x"))
	reg, err := New(Options{Root: root, Logger: quietLogger(), ReadyDebounce: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	fired := make(chan int, 1)
	reg.OnReady(func() { fired <- reg.Snapshot().Len() })
	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case n := <-fired:
		if n != 1 {
			t.Fatalf("ready fired with %d routes", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("ready callback never fired")
	}

	immediate := false
	reg.OnReady(func() { immediate = true })
	if !immediate {
		t.Fatalf("callbacks registered after ready should run immediately")
	}
}

func TestEventsInsideDebounceDelayReadiness(t *testing.T) {
	root := t.TempDir()
	writeRoute(t, root, "x", textRoute("x"))
	const debounce = 400 * time.Millisecond
	reg, err := New(Options{Root: root, Logger: quietLogger(), ReadyDebounce: debounce})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	fired := make(chan []string, 1)
	reg.OnReady(func() { fired <- reg.Snapshot().Keys() })
	started := time.Now()
	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// 每次写入都落在防抖窗口内，累计时长超过一个窗口。
	for i := 0; i < 5; i++ {
		time.Sleep(100 * time.Millisecond)
		writeRoute(t, root, "late", textRoute("late"))
		select {
		case <-fired:
			t.Fatalf("ready fired after %s while events kept arriving", time.Since(started))
		default:
		}
	}

	select {
	case keys := <-fired:
		if elapsed := time.Since(started); elapsed < 500*time.Millisecond+debounce/2 {
			t.Fatalf("ready fired too early: %s", elapsed)
		}
		if diff := cmp.Diff([]string{"x", "late"}, keys); diff != "" {
			t.Fatalf("routes at ready mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("ready never fired after events stopped")
	}
}

func TestNewValidatesRoot(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("empty root should fail")
	}
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(Options{Root: file}); err == nil {
		t.Fatalf("file root should fail")
	}
}

func TestKeyForNormalizesMarkers(t *testing.T) {
	root := t.TempDir()
	reg, err := New(Options{Root: root, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	pattern, err := reg.KeyFor(filepath.Join(reg.Root(), "files", "$name", "*rest"))
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if pattern.String() != "files/[name]/[...rest]" {
		t.Fatalf("unexpected key %q", pattern.String())
	}
}

package fsroute

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/fsroute/internal/response"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
}

func startHandle(t *testing.T, root string, opts ...Option) *Handle {
	t.Helper()
	opts = append([]Option{
		WithLogger(quietLogger()),
		WithReadyDebounce(50 * time.Millisecond),
		WithPollInterval(50 * time.Millisecond),
	}, opts...)
	h, err := Start(context.Background(), root, opts...)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Ready(ctx); err != nil {
		t.Fatalf("never ready: %v", err)
	}
	return h
}

func TestDispatchParamRouteReturnsJSON(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "user/[id]/index.lua", `
function get(ctx)
  return response.json({id = ctx.params.id})
end
`)
	h := startHandle(t, root)

	env := h.Dispatch(context.Background(), "/user/42", Request{Method: "GET"})
	if env.Code != 200 || env.Kind != response.KindJSON {
		t.Fatalf("expected 200 json, got %d %s (%s)", env.Code, env.Kind, env.Message)
	}
	if diff := cmp.Diff(map[string]any{"id": "42"}, env.Payload); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
	if env.Timing.Duration < 0 || env.Timing.End.Before(env.Timing.Start) {
		t.Fatalf("timing not stamped: %+v", env.Timing)
	}
}

func TestDispatchMissingMethodFails(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "user/[id]/index.lua", "function get(ctx) return 'ok' end\n")
	h := startHandle(t, root)

	env := h.Dispatch(context.Background(), "/user/42", Request{Method: "DELETE"})
	if env.Code != 500 || !strings.Contains(env.Message, "Method not allowed") {
		t.Fatalf("expected method-not-allowed failure, got %d %q", env.Code, env.Message)
	}
}

func TestReadyRunsCallbacksAndListsRoutes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "index.yaml", "get:\n  text: root\n")
	writeFile(t, root, "health/index.yaml", "module: health\n")
	h := startHandle(t, root)

	called := make(chan struct{}, 1)
	if err := h.Ready(context.Background(), func() { called <- struct{}{} }); err != nil {
		t.Fatalf("ready: %v", err)
	}
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatalf("callback should run immediately once ready")
	}

	var keys []string
	for _, r := range h.Routes() {
		keys = append(keys, r.Key)
	}
	if diff := cmp.Diff([]string{"", "health"}, keys); diff != "" {
		t.Fatalf("routes mismatch (-want +got):\n%s", diff)
	}
}

func TestHotReloadReflectsNewHandler(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "greet/index.lua", "function get() return 'v1' end\n")
	h := startHandle(t, root)
	events := h.Subscribe()

	if env := h.Dispatch(context.Background(), "/greet", Request{Method: "GET"}); env.Payload != "v1" {
		t.Fatalf("expected v1, got %#v", env.Payload)
	}

	writeFile(t, root, "greet/index.lua", "function get() return 'v2' end\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Err != nil {
				t.Fatalf("reload failed: %v", ev.Err)
			}
			if env := h.Dispatch(context.Background(), "/greet", Request{Method: "GET"}); env.Payload == "v2" {
				return
			}
		case <-deadline:
			t.Fatalf("reload never observed")
		}
	}
}

func TestBasePathIsStripped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ping/index.yaml", "all:\n  json:\n    pong: true\n")
	h := startHandle(t, root, WithBasePath("/api"))

	env := h.Dispatch(context.Background(), "/api/ping", Request{Method: "POST"})
	if env.Code != 200 {
		t.Fatalf("expected 200, got %d %q", env.Code, env.Message)
	}
}

func TestStartRejectsMissingRoot(t *testing.T) {
	if _, err := Start(context.Background(), filepath.Join(t.TempDir(), "nope"), WithLogger(quietLogger())); err == nil {
		t.Fatalf("missing root should fail")
	}
}

package memo

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/any-hub/fsroute/internal/response"
)

func TestMemoryStorePutGetRemove(t *testing.T) {
	store, err := NewMemoryStore(time.Minute, 10)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	env := response.JSON(map[string]any{"id": "42"})
	if err := store.Put(ctx, "user/[id]_42", env, 0); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	env.Payload.(map[string]any)["id"] = "mutated"

	got, ok, err := store.Get(ctx, "user/[id]_42")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.Payload.(map[string]any)["id"] != "42" {
		t.Fatalf("stored envelope was mutated: %+v", got.Payload)
	}

	if err := store.Remove(ctx, "user/[id]_42"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "user/[id]_42"); ok {
		t.Fatalf("expected miss after remove")
	}
}

func TestMemoryStoreRejectsStreams(t *testing.T) {
	store, _ := NewMemoryStore(time.Minute, 10)
	defer store.Close()
	env := response.Stream(strings.NewReader("x"), "", 1)
	if err := store.Put(context.Background(), "k", env, 0); !errors.Is(err, ErrUncacheable) {
		t.Fatalf("expected ErrUncacheable, got %v", err)
	}
}

func TestCodecPreservesPayloadShapes(t *testing.T) {
	text := response.Text("hello").WithHeader("X-Test", "1")
	data, err := encodeEnvelope(text)
	if err != nil {
		t.Fatalf("encode text failed: %v", err)
	}
	decoded, err := decodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode text failed: %v", err)
	}
	if decoded.Payload != "hello" || decoded.Headers["X-Test"] != "1" || decoded.Status != "OK" {
		t.Fatalf("unexpected decoded text envelope: %+v", decoded)
	}

	buf := response.Buffer([]byte{0, 1, 2}, "image/png")
	data, _ = encodeEnvelope(buf)
	decoded, _ = decodeEnvelope(data)
	if diff := cmp.Diff([]byte{0, 1, 2}, decoded.Payload); diff != "" {
		t.Fatalf("bytes mismatch: %s", diff)
	}

	js := response.Status(201).JSON(map[string]any{"n": 1.5})
	data, _ = encodeEnvelope(js)
	decoded, _ = decodeEnvelope(data)
	if decoded.Code != 201 || decoded.Payload.(map[string]any)["n"] != 1.5 {
		t.Fatalf("unexpected json envelope: %+v", decoded)
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("FSROUTE_TEST_REDIS")
	if addr == "" {
		t.Skip("FSROUTE_TEST_REDIS not set")
	}
	ctx := context.Background()
	store, err := NewRedisStore(ctx, RedisOptions{Addr: addr, Prefix: "fsroute:test:", MaxTries: 2})
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer store.Close()

	if err := store.Put(ctx, "k", response.JSON([]any{"a"}), time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	got, ok, err := store.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected hit: ok=%v err=%v", ok, err)
	}
	if got.Kind != response.KindJSON {
		t.Fatalf("unexpected kind %s", got.Kind)
	}
	_ = store.Remove(ctx, "k")
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after remove")
	}
}

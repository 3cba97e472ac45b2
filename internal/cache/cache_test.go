package cache

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestCache(t *testing.T, opts Options) (*Cache[any], *fakeClock) {
	t.Helper()
	opts.SweepInterval = -1
	c, err := New[any](opts)
	if err != nil {
		t.Fatalf("创建缓存失败: %v", err)
	}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c.now = clock.Now
	t.Cleanup(c.Close)
	return c, clock
}

func TestNewRejectsEmptyPolicy(t *testing.T) {
	if _, err := New[string](Options{}); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions, got %v", err)
	}
}

func TestSetGetWithinTTL(t *testing.T) {
	c, clock := newTestCache(t, Options{Expiry: time.Second})
	if err := c.Set("k", "v", time.Second); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("expected v, got %v (%v)", v, ok)
	}

	clock.Advance(2 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("entry should be absent after ttl")
	}
	if c.Len() != 0 {
		t.Fatalf("lazy expiry should remove the entry")
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	c, clock := newTestCache(t, Options{Expiry: time.Minute})
	_ = c.Set("short", 1, time.Second)
	_ = c.Set("long", 2)
	_ = c.Set("forever", 3, 0)

	clock.Advance(2 * time.Second)
	if removed := c.Sweep(); removed != 1 {
		t.Fatalf("expected 1 swept entry, got %d", removed)
	}
	if c.Has("short") || !c.Has("long") || !c.Has("forever") {
		t.Fatalf("unexpected keys after sweep: %v", c.Keys())
	}

	clock.Advance(24 * time.Hour)
	if !c.Has("forever") {
		t.Fatalf("ttl<=0 entry must never expire")
	}
}

func TestNeverExpiringPolicyKeepsEntries(t *testing.T) {
	c, clock := newTestCache(t, Options{Expiry: -1})
	_ = c.Set("k", "v")

	clock.Advance(365 * 24 * time.Hour)
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("entry under a never-expiring policy should stay, got %v (%v)", v, ok)
	}
	if removed := c.Sweep(); removed != 0 {
		t.Fatalf("sweep must not remove never-expiring entries, removed %d", removed)
	}

	if err := c.ApplyOptions(Options{Expiry: -1, SweepInterval: -1}.Merge(DefaultOptions())); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	_ = c.Set("after", 1)
	clock.Advance(time.Hour)
	if !c.Has("after") {
		t.Fatalf("merged defaults must keep the never-expiring policy")
	}
}

func TestGetRefreshesExpiration(t *testing.T) {
	c, clock := newTestCache(t, Options{Expiry: 10 * time.Second})
	_ = c.Set("k", "v")

	clock.Advance(8 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("entry should still be present")
	}
	clock.Advance(8 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("get should have extended expiry")
	}

	clock.Advance(8 * time.Second)
	if _, ok := c.GetWith("k", false); !ok {
		t.Fatalf("entry should be present before non-refreshing read")
	}
	clock.Advance(3 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("non-refreshing read must not extend expiry")
	}
}

func TestEvictionPrefersExpiredEntry(t *testing.T) {
	c, clock := newTestCache(t, Options{Expiry: time.Minute, MaxEntries: 3})
	_ = c.Set("a", 1)
	_ = c.Set("b", 2, time.Second)
	_ = c.Set("c", 3)

	clock.Advance(2 * time.Second)
	_ = c.Set("d", 4)

	if c.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", c.Len())
	}
	if c.Has("b") || !c.Has("a") || !c.Has("c") || !c.Has("d") {
		t.Fatalf("expired entry b should have been evicted, keys=%v", c.Keys())
	}
}

func TestEvictionFallsBackToLeastRecentlyAccessed(t *testing.T) {
	c, clock := newTestCache(t, Options{Expiry: time.Minute, MaxEntries: 3})
	for _, k := range []string{"a", "b", "c"} {
		_ = c.Set(k, k)
		clock.Advance(time.Second)
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("a should be readable")
	}
	clock.Advance(time.Second)
	_ = c.Set("d", "d")

	if c.Has("b") {
		t.Fatalf("b was least recently accessed and should be evicted")
	}
	if !c.Has("a") || !c.Has("c") || !c.Has("d") {
		t.Fatalf("unexpected keys: %v", c.Keys())
	}
}

func TestEvictionBoundHolds(t *testing.T) {
	const limit = 5
	c, clock := newTestCache(t, Options{Expiry: time.Minute, MaxEntries: limit})
	for i := 0; i < 50; i++ {
		_ = c.Set(string(rune('a'+i%26))+string(rune('A'+i/26)), i)
		clock.Advance(time.Millisecond)
		if c.Len() > limit {
			t.Fatalf("cache grew beyond %d entries: %d", limit, c.Len())
		}
	}
}

func TestOverwriteAtCapacityDoesNotEvict(t *testing.T) {
	c, _ := newTestCache(t, Options{Expiry: time.Minute, MaxEntries: 2})
	_ = c.Set("a", 1)
	_ = c.Set("b", 2)
	_ = c.Set("a", 3)
	if !c.Has("a") || !c.Has("b") {
		t.Fatalf("overwriting an existing key must not evict: %v", c.Keys())
	}
}

func TestCloneIsolation(t *testing.T) {
	c, _ := newTestCache(t, Options{Expiry: time.Minute})
	input := map[string]any{"a": 1}
	if err := c.Set("k", input); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	input["a"] = 2

	got, ok := c.Get("k")
	if !ok {
		t.Fatalf("expected value")
	}
	m := got.(map[string]any)
	if m["a"] != 1 {
		t.Fatalf("cached value changed by caller mutation: %v", m)
	}
	m["a"] = 3

	again, _ := c.Get("k")
	if again.(map[string]any)["a"] != 1 {
		t.Fatalf("cached value changed by reader mutation")
	}
}

func TestCircularReferenceLeavesCacheUntouched(t *testing.T) {
	c, _ := newTestCache(t, Options{Expiry: time.Minute})
	_ = c.Set("k", "previous")

	obj := map[string]any{}
	obj["self"] = obj
	if err := c.Set("k", obj); !errors.Is(err, ErrCircularReference) {
		t.Fatalf("expected ErrCircularReference, got %v", err)
	}
	if v, _ := c.Get("k"); v != "previous" {
		t.Fatalf("cache should keep previous value, got %v", v)
	}
}

func TestDisabledCacheStoresNothing(t *testing.T) {
	c, _ := newTestCache(t, Options{Expiry: time.Minute})
	c.SetEnabled(false)
	_ = c.Set("k", 1)
	if _, ok := c.Get("k"); ok || c.Len() != 0 {
		t.Fatalf("disabled cache should not store values")
	}
	c.SetEnabled(true)
	_ = c.Set("k", 1)
	if !c.Has("k") {
		t.Fatalf("re-enabled cache should store values")
	}
}

func TestApplyOptionsKeepsEntries(t *testing.T) {
	c, _ := newTestCache(t, Options{Expiry: time.Minute})
	_ = c.Set("k", 1)
	if err := c.ApplyOptions(Options{Expiry: time.Hour, MaxEntries: 10, SweepInterval: -1}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if !c.Has("k") {
		t.Fatalf("entries must survive ApplyOptions")
	}
	if err := c.ApplyOptions(Options{}); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions, got %v", err)
	}
}

func TestBackgroundSweeper(t *testing.T) {
	c, err := New[int](Options{Expiry: 10 * time.Millisecond, SweepInterval: 5 * time.Millisecond, CloneValues: Bool(false)})
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	defer c.Close()
	_ = c.Set("k", 1)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.Len() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sweeper did not remove expired entry")
}

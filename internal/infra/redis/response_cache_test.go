package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestResponseCacheRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	cache := NewResponseCache(newClient(mr), time.Minute)

	if _, ok, err := cache.Get(ctx, "site:quiz:1:quiz:"); err != nil || ok {
		t.Fatalf("expected miss, got %v %v", ok, err)
	}
	if err := cache.Set(ctx, "site:quiz:1:quiz:", []byte(`{"id":1}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, ok, err := cache.Get(ctx, "site:quiz:1:quiz:")
	if err != nil || !ok || string(raw) != `{"id":1}` {
		t.Fatalf("unexpected get %q %v %v", raw, ok, err)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := cache.Get(ctx, "site:quiz:1:quiz:"); ok {
		t.Fatalf("expected expiry")
	}
}

func TestResponseCacheInvalidatePrefix(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	cache := NewResponseCache(newClient(mr), 0)
	_ = cache.Set(ctx, "site:attempt:9:page:0:", []byte("a"))
	_ = cache.Set(ctx, "site:attempt:9:summary:", []byte("b"))
	_ = cache.Set(ctx, "site:attempt:90:summary:", []byte("c"))

	if err := cache.InvalidatePrefix(ctx, "site:attempt:9:"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if mr.Exists("quiz:cache:site:attempt:9:page:0:") || mr.Exists("quiz:cache:site:attempt:9:summary:") {
		t.Fatalf("expected attempt 9 keys removed")
	}
	if !mr.Exists("quiz:cache:site:attempt:90:summary:") {
		t.Fatalf("attempt 90 key should survive")
	}
}

package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testMessageID = "3f1c0c8e-7a4b-4d1e-9f59-0f6f3a0d9b11"

func newTestCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisCache(rdb, ttl), mr
}

func TestRedisCache_StoreSent_Success(t *testing.T) {
	t.Parallel()

	cache, mr := newTestCache(t, 10*time.Second)

	ctx := context.Background()
	remoteID := "wamid.HBgL"
	sentAt := time.Date(2026, 2, 2, 18, 0, 0, 0, time.UTC)

	if err := cache.StoreSent(ctx, testMessageID, remoteID, sentAt); err != nil {
		t.Fatalf("StoreSent() error: %v", err)
	}

	key := "msg:" + testMessageID

	if !mr.Exists(key) {
		t.Fatalf("expected key %q to exist", key)
	}
	if ttl := mr.TTL(key); ttl <= 0 {
		t.Fatalf("expected TTL to be set, got %v", ttl)
	}

	raw, err := mr.Get(key)
	if err != nil {
		t.Fatalf("failed to get key %q: %v", key, err)
	}

	var got SentRecord
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("failed to unmarshal value: %v", err)
	}
	if got.ProviderMessageID != remoteID {
		t.Fatalf("expected ProviderMessageID %q, got %q", remoteID, got.ProviderMessageID)
	}
	if !got.SentAt.Equal(sentAt) {
		t.Fatalf("expected SentAt %v, got %v", sentAt, got.SentAt)
	}
}

func TestRedisCache_StoreSent_OverwritesExistingValue(t *testing.T) {
	t.Parallel()

	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	if err := cache.StoreSent(ctx, testMessageID, "first", time.Now()); err != nil {
		t.Fatalf("first StoreSent() error: %v", err)
	}
	if err := cache.StoreSent(ctx, testMessageID, "second", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("second StoreSent() error: %v", err)
	}

	rec, ok, err := cache.LookupSent(ctx, testMessageID)
	if err != nil {
		t.Fatalf("LookupSent() error: %v", err)
	}
	if !ok {
		t.Fatalf("expected record to exist")
	}
	if rec.ProviderMessageID != "second" {
		t.Fatalf("expected overwritten ProviderMessageID %q, got %q", "second", rec.ProviderMessageID)
	}
}

func TestRedisCache_LookupSent_Missing(t *testing.T) {
	t.Parallel()

	cache, _ := newTestCache(t, time.Minute)

	_, ok, err := cache.LookupSent(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("LookupSent() error: %v", err)
	}
	if ok {
		t.Fatalf("expected no record")
	}
}

func TestRedisCache_LookupSent_Expired(t *testing.T) {
	t.Parallel()

	cache, mr := newTestCache(t, time.Second)
	ctx := context.Background()

	if err := cache.StoreSent(ctx, testMessageID, "x", time.Now()); err != nil {
		t.Fatalf("StoreSent() error: %v", err)
	}
	mr.FastForward(2 * time.Second)

	_, ok, err := cache.LookupSent(ctx, testMessageID)
	if err != nil {
		t.Fatalf("LookupSent() error: %v", err)
	}
	if ok {
		t.Fatalf("expected record to expire")
	}
}

func TestRedisCache_StoreSent_ContextCanceled(t *testing.T) {
	t.Parallel()

	cache, _ := newTestCache(t, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := cache.StoreSent(ctx, testMessageID, "x", time.Now()); err == nil {
		t.Fatalf("expected error due to canceled context, got nil")
	}
}

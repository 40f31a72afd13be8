package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/avivamar/palm-sub009/internal/models"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	cache := NewMemorySyncStatusCache(time.Minute)
	ctx := context.Background()

	status, err := cache.GetStatus(ctx, "SO-1001")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != "" {
		t.Fatalf("expected empty status for unknown order, got %q", status)
	}

	if err := cache.SetStatus(ctx, "SO-1001", models.SyncStatusCompleted); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	status, _ = cache.GetStatus(ctx, "SO-1001")
	if status != models.SyncStatusCompleted {
		t.Fatalf("expected completed, got %q", status)
	}

	if err := cache.ClearStatus(ctx, "SO-1001"); err != nil {
		t.Fatalf("ClearStatus: %v", err)
	}
	status, _ = cache.GetStatus(ctx, "SO-1001")
	if status != "" {
		t.Fatalf("expected cleared status, got %q", status)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	cache := NewMemorySyncStatusCache(10 * time.Millisecond)
	ctx := context.Background()

	if err := cache.SetStatus(ctx, "SO-1001", models.SyncStatusCompleted); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	status, _ := cache.GetStatus(ctx, "SO-1001")
	if status != "" {
		t.Fatalf("expected expired entry, got %q", status)
	}
}

func newRedisCache(t *testing.T) *RedisSyncStatusCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSyncStatusCache(client, time.Minute)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	cache := newRedisCache(t)
	ctx := context.Background()

	status, err := cache.GetStatus(ctx, "SO-1001")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != "" {
		t.Fatalf("expected empty status for unknown order, got %q", status)
	}

	if err := cache.SetStatus(ctx, "SO-1001", models.SyncStatusCompleted); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	status, _ = cache.GetStatus(ctx, "SO-1001")
	if status != models.SyncStatusCompleted {
		t.Fatalf("expected completed, got %q", status)
	}

	if err := cache.ClearStatus(ctx, "SO-1001"); err != nil {
		t.Fatalf("ClearStatus: %v", err)
	}
	status, _ = cache.GetStatus(ctx, "SO-1001")
	if status != "" {
		t.Fatalf("expected cleared status, got %q", status)
	}
}

type failingCache struct {
	err error
}

func (f *failingCache) GetStatus(context.Context, string) (string, error) { return "", f.err }
func (f *failingCache) SetStatus(context.Context, string, string) error   { return f.err }
func (f *failingCache) ClearStatus(context.Context, string) error         { return f.err }

func TestFailoverFallsBackToMemory(t *testing.T) {
	log := zerolog.Nop()
	memory := NewMemorySyncStatusCache(time.Minute)
	cache := NewFailoverSyncStatusCache(&failingCache{err: errors.New("connection refused")}, memory, &log)
	ctx := context.Background()

	if err := cache.SetStatus(ctx, "SO-1001", models.SyncStatusCompleted); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	status, err := cache.GetStatus(ctx, "SO-1001")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != models.SyncStatusCompleted {
		t.Fatalf("expected fallback hit, got %q", status)
	}
}

func TestFailoverPrefersHealthyPrimary(t *testing.T) {
	log := zerolog.Nop()
	primary := NewMemorySyncStatusCache(time.Minute)
	fallback := NewMemorySyncStatusCache(time.Minute)
	cache := NewFailoverSyncStatusCache(primary, fallback, &log)
	ctx := context.Background()

	if err := cache.SetStatus(ctx, "SO-1001", models.SyncStatusProcessing); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	// Both tiers receive writes.
	status, _ := primary.GetStatus(ctx, "SO-1001")
	if status != models.SyncStatusProcessing {
		t.Fatalf("primary miss: %q", status)
	}
	status, _ = fallback.GetStatus(ctx, "SO-1001")
	if status != models.SyncStatusProcessing {
		t.Fatalf("fallback miss: %q", status)
	}

	status, err := cache.GetStatus(ctx, "SO-1001")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != models.SyncStatusProcessing {
		t.Fatalf("expected primary hit, got %q", status)
	}
}

package repository

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	status    string
	expiresAt time.Time
}

// MemorySyncStatusCache is the in-process fallback cache. Entries honor the
// same TTL as the Redis cache so both tiers agree on staleness.
type MemorySyncStatusCache struct {
	entries sync.Map
	ttl     time.Duration
}

func NewMemorySyncStatusCache(ttl time.Duration) *MemorySyncStatusCache {
	return &MemorySyncStatusCache{ttl: ttl}
}

func (r *MemorySyncStatusCache) GetStatus(ctx context.Context, orderNumber string) (string, error) {
	val, ok := r.entries.Load(orderNumber)
	if !ok {
		return "", nil
	}
	entry := val.(*memoryEntry)
	if r.ttl > 0 && time.Now().After(entry.expiresAt) {
		r.entries.Delete(orderNumber)
		return "", nil
	}
	return entry.status, nil
}

func (r *MemorySyncStatusCache) SetStatus(ctx context.Context, orderNumber, status string) error {
	r.entries.Store(orderNumber, &memoryEntry{status: status, expiresAt: time.Now().Add(r.ttl)})
	return nil
}

func (r *MemorySyncStatusCache) ClearStatus(ctx context.Context, orderNumber string) error {
	r.entries.Delete(orderNumber)
	return nil
}

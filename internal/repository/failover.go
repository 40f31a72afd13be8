package repository

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/avivamar/palm-sub009/internal/domain"
)

// FailoverSyncStatusCache serves from the primary (Redis) cache and falls
// back to the in-process cache when the primary errors. The primary is
// probed again after a minute.
type FailoverSyncStatusCache struct {
	primary   domain.SyncStatusCache
	fallback  domain.SyncStatusCache
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverSyncStatusCache(primary, fallback domain.SyncStatusCache, logger *zerolog.Logger) *FailoverSyncStatusCache {
	return &FailoverSyncStatusCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverSyncStatusCache) markDown() {
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverSyncStatusCache) shouldProbe() bool {
	return time.Since(time.Unix(0, r.lastCheck.Load())) > time.Minute
}

func (r *FailoverSyncStatusCache) GetStatus(ctx context.Context, orderNumber string) (string, error) {
	if !r.isDown.Load() {
		status, err := r.primary.GetStatus(ctx, orderNumber)
		if err == nil {
			return status, nil
		}
		r.logger.Error().Err(err).Msg("primary status cache failed, falling back to memory")
		r.markDown()
	} else if r.shouldProbe() {
		status, err := r.primary.GetStatus(ctx, orderNumber)
		if err == nil {
			r.isDown.Store(false)
			return status, nil
		}
		r.lastCheck.Store(time.Now().UnixNano())
	}

	return r.fallback.GetStatus(ctx, orderNumber)
}

func (r *FailoverSyncStatusCache) SetStatus(ctx context.Context, orderNumber, status string) error {
	// The fallback is always written so a failover still sees recent
	// statuses.
	if err := r.fallback.SetStatus(ctx, orderNumber, status); err != nil {
		r.logger.Error().Err(err).Msg("fallback status cache write failed")
	}

	if r.isDown.Load() {
		return nil
	}
	if err := r.primary.SetStatus(ctx, orderNumber, status); err != nil {
		r.logger.Error().Err(err).Msg("primary status cache write failed")
		r.markDown()
	}
	return nil
}

func (r *FailoverSyncStatusCache) ClearStatus(ctx context.Context, orderNumber string) error {
	if err := r.fallback.ClearStatus(ctx, orderNumber); err != nil {
		r.logger.Error().Err(err).Msg("fallback status cache clear failed")
	}
	if r.isDown.Load() {
		return nil
	}
	if err := r.primary.ClearStatus(ctx, orderNumber); err != nil {
		r.logger.Error().Err(err).Msg("primary status cache clear failed")
		r.markDown()
	}
	return nil
}

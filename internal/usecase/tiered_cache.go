package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"admetrics/internal/domain"
	"admetrics/pkg/logger"
	"admetrics/pkg/metrics"
)

// TieredCache fronts the hot and warm stores. It owns key encoding and
// serialization; deciding which tier answers a request is the service's job.
type TieredCache struct {
	hot       domain.HotStore // nil means warm-only operation
	warm      domain.WarmStore
	keyPrefix string
	logger    *logger.Logger
	recorder  domain.Recorder
}

func NewTieredCache(hot domain.HotStore, warm domain.WarmStore, keyPrefix string, logger *logger.Logger, recorder domain.Recorder) *TieredCache {
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	return &TieredCache{
		hot:       hot,
		warm:      warm,
		keyPrefix: keyPrefix,
		logger:    logger,
		recorder:  recorder,
	}
}

func (c *TieredCache) hotKey(key domain.MetricsKey) string {
	return c.keyPrefix + key.String()
}

// GetHot never fails: store errors and undecodable entries are misses.
func (c *TieredCache) GetHot(ctx context.Context, key domain.MetricsKey) (*domain.MetricsRecord, bool) {
	if c.hot == nil {
		return nil, false
	}

	data, ok, err := c.hot.Get(ctx, c.hotKey(key))
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("key", key.String()).Warn("Hot cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var record domain.MetricsRecord
	if err := json.Unmarshal(data, &record); err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("key", key.String()).Warn("Discarding undecodable hot cache entry")
		c.evictHot(ctx, key)
		return nil, false
	}
	if record.Key != key {
		c.evictHot(ctx, key)
		return nil, false
	}

	record.SourceTier = domain.SourceHot
	return &record, true
}

func (c *TieredCache) evictHot(ctx context.Context, key domain.MetricsKey) {
	if err := c.hot.Del(ctx, c.hotKey(key)); err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("key", key.String()).Warn("Failed to evict hot cache entry")
	}
}

// GetWarm returns (nil, false, nil) on a miss.
func (c *TieredCache) GetWarm(ctx context.Context, key domain.MetricsKey) (*domain.MetricsRecord, bool, error) {
	record, err := c.warm.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read warm cache: %w", err)
	}

	record.SourceTier = domain.SourceWarm
	return record, true, nil
}

// PutHot is best-effort; a failed write only costs future latency.
func (c *TieredCache) PutHot(ctx context.Context, key domain.MetricsKey, record *domain.MetricsRecord, ttl time.Duration) {
	if c.hot == nil {
		return
	}

	data, err := json.Marshal(record)
	if err == nil {
		err = c.hot.SetEX(ctx, c.hotKey(key), data, ttl)
	}
	if err != nil {
		c.recorder.RecordCacheWriteFailure(domain.SourceHot)
		c.logger.WithContext(ctx).WithError(err).WithField("key", key.String()).Warn("Hot cache write failed")
	}
}

// PutWarm durably replaces the record stored under key.
func (c *TieredCache) PutWarm(ctx context.Context, key domain.MetricsKey, record *domain.MetricsRecord) error {
	stored := record.Clone()
	stored.Key = key

	if err := c.warm.Upsert(ctx, stored); err != nil {
		c.recorder.RecordCacheWriteFailure(domain.SourceWarm)
		return &domain.CacheWriteError{Tier: domain.SourceWarm, Key: key, Err: err}
	}
	return nil
}

// InvalidateClient drops every hot and warm entry of a client, across
// platforms and periods. A fetch already in flight may still write back
// after this returns.
func (c *TieredCache) InvalidateClient(ctx context.Context, clientID string) (int, error) {
	removed := 0

	if c.hot != nil {
		n, err := c.hot.DeletePrefix(ctx, c.keyPrefix+domain.ClientKeyPrefix(clientID))
		if err != nil {
			c.logger.WithContext(ctx).WithError(err).WithField("client_id", clientID).Warn("Hot cache invalidation failed")
		}
		removed += n
	}

	n, err := c.warm.DeleteClient(ctx, clientID)
	if err != nil {
		return removed, fmt.Errorf("failed to invalidate warm cache for client %s: %w", clientID, err)
	}

	return removed + n, nil
}

// HotEntries returns the hot tier's entry count, or -1 when unknown.
func (c *TieredCache) HotEntries(ctx context.Context) int {
	if c.hot == nil {
		return 0
	}
	return c.hot.Len(ctx)
}

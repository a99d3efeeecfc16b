package usecase

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"admetrics/internal/domain"
	"admetrics/pkg/logger"
	"admetrics/pkg/metrics"
)

const (
	DefaultHotTTL     = 5 * time.Minute
	DefaultWarmMaxAge = 3 * time.Hour

	persistWarning = "metrics could not be persisted; the next request will fetch them again"
)

// lookup outcomes, also used as metric labels
const (
	outcomeHot      = "hot"
	outcomeWarm     = "warm"
	outcomeStale    = "stale"
	outcomeLive     = "live"
	outcomeFailed   = "failed"
	outcomeCanceled = "canceled"
)

type ServiceConfig struct {
	HotTTL     time.Duration
	WarmMaxAge time.Duration
	Refresher  RefresherConfig
}

// MetricsService is the single entry point used by dashboards, reports and
// email jobs. It decides which tier answers each request.
type MetricsService struct {
	cache      *TieredCache
	aggregator *ParallelAggregator
	coalescer  *RequestCoalescer
	refresher  *BackgroundRefresher
	policy     domain.FreshnessPolicy
	hotTTL     time.Duration
	logger     *logger.Logger
	recorder   domain.Recorder
	now        func() time.Time

	stats serviceStats
}

type serviceStats struct {
	hot, warm, stale, live, failed atomic.Int64
	latencyNanos                   atomic.Int64
}

func NewMetricsService(
	cache *TieredCache,
	aggregator *ParallelAggregator,
	config ServiceConfig,
	logger *logger.Logger,
	recorder domain.Recorder,
) *MetricsService {
	if config.HotTTL <= 0 {
		config.HotTTL = DefaultHotTTL
	}
	if config.WarmMaxAge <= 0 {
		config.WarmMaxAge = DefaultWarmMaxAge
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	s := &MetricsService{
		cache:      cache,
		aggregator: aggregator,
		coalescer:  NewRequestCoalescer(),
		policy:     domain.FreshnessPolicy{MaxAge: config.WarmMaxAge},
		hotTTL:     config.HotTTL,
		logger:     logger,
		recorder:   recorder,
		now:        time.Now,
	}
	s.refresher = NewBackgroundRefresher(s.refresh, config.Refresher, logger, recorder)

	return s
}

// GetMetrics returns metrics for a client, platform selector and date range.
//
// Hot hits return immediately. Warm records are served when fresh, or when
// they cover a settled historical period; stale warm records are served and
// refreshed in the background. Everything else is fetched live, with
// concurrent identical requests sharing one fetch.
func (s *MetricsService) GetMetrics(ctx context.Context, req domain.MetricsRequest) (*domain.MetricsRecord, error) {
	key, err := domain.BuildKey(req.ClientID, req.Platform, req.Range)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	record, outcome, err := s.resolve(ctx, key, req.ForceRefresh)
	s.observe(outcome, time.Since(start))

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"client_id":     key.ClientID,
		"platform":      key.Platform,
		"period":        key.PeriodID,
		"force_refresh": req.ForceRefresh,
		"outcome":       outcome,
		"duration":      time.Since(start),
	})
	if err != nil {
		log.WithError(err).Warn("Failed to get metrics")
		return nil, err
	}

	log.Debug("Served metrics")
	return record, nil
}

func (s *MetricsService) resolve(ctx context.Context, key domain.MetricsKey, force bool) (*domain.MetricsRecord, string, error) {
	r, err := key.Range()
	if err != nil {
		return nil, outcomeFailed, err
	}

	if !force {
		if record, ok := s.cache.GetHot(ctx, key); ok {
			return record, outcomeHot, nil
		}

		record, ok, err := s.cache.GetWarm(ctx, key)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("key", key.String()).Warn("Warm cache unavailable, fetching live")
		}
		if ok {
			now := s.now()
			class, err := s.policy.Classify(key.PeriodID, now)
			if err != nil {
				return nil, outcomeFailed, err
			}

			if s.policy.IsSettled(record, class) || s.policy.IsFresh(record, now) {
				s.cache.PutHot(ctx, key, record, s.hotTTL)
				return record, outcomeWarm, nil
			}

			s.refresher.ScheduleRefresh(key, r)
			return record, outcomeStale, nil
		}
	}

	record, _, err := s.coalescer.RunOnce(ctx, key, func(fetchCtx context.Context) (*domain.MetricsRecord, error) {
		return s.fetchAndStore(fetchCtx, key, r)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, outcomeCanceled, err
		}
		return nil, outcomeFailed, err
	}
	return record, outcomeLive, nil
}

// fetchAndStore fetches live data and writes it through to warm, then hot.
// A failed warm write is reported on the record but does not fail the fetch.
func (s *MetricsService) fetchAndStore(ctx context.Context, key domain.MetricsKey, r domain.DateRange) (*domain.MetricsRecord, error) {
	record, err := s.aggregator.Fetch(ctx, key, r)
	if err != nil {
		return nil, err
	}

	if err := s.cache.PutWarm(ctx, key, record); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("key", key.String()).Error("Failed to persist metrics")
		record.Warnings = append(record.Warnings, persistWarning)
		return record, nil
	}

	s.cache.PutHot(ctx, key, record, s.hotTTL)
	return record, nil
}

// refresh is the background refresher's job: the same coalesced fetch a cold
// request would run.
func (s *MetricsService) refresh(ctx context.Context, key domain.MetricsKey, r domain.DateRange) error {
	record, _, err := s.coalescer.RunOnce(ctx, key, func(fetchCtx context.Context) (*domain.MetricsRecord, error) {
		return s.fetchAndStore(fetchCtx, key, r)
	})
	if err != nil {
		return err
	}
	if len(record.Warnings) > 0 {
		return errors.New(strings.Join(record.Warnings, "; "))
	}
	return nil
}

// InvalidateClient drops every cached record for a client and lifts any
// credential block, typically after the client's credentials change.
func (s *MetricsService) InvalidateClient(ctx context.Context, clientID string) (int, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return 0, domain.ErrInvalidClient
	}

	s.aggregator.ClearClient(clientID)
	removed, err := s.cache.InvalidateClient(ctx, clientID)
	if err != nil {
		return removed, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"client_id": clientID,
		"removed":   removed,
	}).Info("Invalidated client cache")
	return removed, nil
}

// GetCacheStats reports this instance's cache effectiveness.
func (s *MetricsService) GetCacheStats(ctx context.Context) domain.CacheStats {
	stats := domain.CacheStats{
		HotHits:     s.stats.hot.Load(),
		WarmHits:    s.stats.warm.Load(),
		StaleServes: s.stats.stale.Load(),
		LiveFetches: s.stats.live.Load(),
		Failures:    s.stats.failed.Load(),
		HotEntries:  s.cache.HotEntries(ctx),
		InFlight:    s.coalescer.InFlight(),
	}
	stats.Requests = stats.HotHits + stats.WarmHits + stats.StaleServes + stats.LiveFetches + stats.Failures

	if stats.Requests > 0 {
		hits := stats.HotHits + stats.WarmHits + stats.StaleServes
		stats.HitRate = float64(hits) / float64(stats.Requests)
		stats.AvgLatency = time.Duration(s.stats.latencyNanos.Load() / stats.Requests)
	}

	return stats
}

// RefreshErrors delivers background refresh failures.
func (s *MetricsService) RefreshErrors() <-chan error {
	return s.refresher.Errors()
}

// Shutdown waits for queued background refreshes to finish.
func (s *MetricsService) Shutdown(ctx context.Context) error {
	return s.refresher.Shutdown(ctx)
}

func (s *MetricsService) observe(outcome string, duration time.Duration) {
	s.recorder.RecordLookup(outcome, duration)

	switch outcome {
	case outcomeHot:
		s.stats.hot.Add(1)
	case outcomeWarm:
		s.stats.warm.Add(1)
	case outcomeStale:
		s.stats.stale.Add(1)
	case outcomeLive:
		s.stats.live.Add(1)
	case outcomeFailed:
		s.stats.failed.Add(1)
	default:
		// canceled callers are not counted in the hit rate
		return
	}
	s.stats.latencyNanos.Add(int64(duration))
}

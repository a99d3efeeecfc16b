package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"admetrics/internal/domain"
	"admetrics/internal/infrastructure"
	"admetrics/internal/platformtest"
	"admetrics/pkg/logger"

	"github.com/stretchr/testify/require"
)

const testClient = "acme"

var errStoreDown = errors.New("store unavailable")

// recordingRecorder counts events by label.
type recordingRecorder struct {
	mu       sync.Mutex
	lookups  map[string]int
	fetches  map[string]int
	refresh  map[string]int
	failures map[domain.SourceTier]int
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{
		lookups:  make(map[string]int),
		fetches:  make(map[string]int),
		refresh:  make(map[string]int),
		failures: make(map[domain.SourceTier]int),
	}
}

func (r *recordingRecorder) RecordLookup(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups[outcome]++
}

func (r *recordingRecorder) RecordPlatformFetch(platform domain.Platform, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches[string(platform)+"/"+status]++
}

func (r *recordingRecorder) RecordRefresh(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refresh[status]++
}

func (r *recordingRecorder) RecordCacheWriteFailure(tier domain.SourceTier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[tier]++
}

func (r *recordingRecorder) lookupCount(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups[outcome]
}

func (r *recordingRecorder) fetchCount(platform domain.Platform, status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches[string(platform)+"/"+status]
}

func (r *recordingRecorder) refreshCount(status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refresh[status]
}

func (r *recordingRecorder) failureCount(tier domain.SourceTier) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[tier]
}

// flakyWarmStore wraps a warm store and can fail writes or reads.
type flakyWarmStore struct {
	domain.WarmStore
	failUpsert bool
	failGet    bool
}

func (s *flakyWarmStore) Get(ctx context.Context, key domain.MetricsKey) (*domain.MetricsRecord, error) {
	if s.failGet {
		return nil, errStoreDown
	}
	return s.WarmStore.Get(ctx, key)
}

func (s *flakyWarmStore) Upsert(ctx context.Context, record *domain.MetricsRecord) error {
	if s.failUpsert {
		return errStoreDown
	}
	return s.WarmStore.Upsert(ctx, record)
}

// brokenHotStore fails every operation.
type brokenHotStore struct{}

func (brokenHotStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errStoreDown
}
func (brokenHotStore) SetEX(context.Context, string, []byte, time.Duration) error { return errStoreDown }
func (brokenHotStore) Del(context.Context, string) error                         { return errStoreDown }
func (brokenHotStore) DeletePrefix(context.Context, string) (int, error)         { return 0, errStoreDown }
func (brokenHotStore) Len(context.Context) int                                   { return -1 }

type fixture struct {
	social   *platformtest.Fake
	search   *platformtest.Fake
	accounts *infrastructure.MemoryAccountStore
	warm     domain.WarmStore
	hot      domain.HotStore
	recorder *recordingRecorder

	aggregator *ParallelAggregator
	cache      *TieredCache
	service    *MetricsService
}

type fixtureOption func(*fixture)

func withWarm(warm domain.WarmStore) fixtureOption {
	return func(f *fixture) { f.warm = warm }
}

func withHot(hot domain.HotStore) fixtureOption {
	return func(f *fixture) { f.hot = hot }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	log := logger.Discard()
	hot, err := infrastructure.NewMemoryHotStore(128)
	require.NoError(t, err)

	f := &fixture{
		social: platformtest.Returning(domain.PlatformSocial,
			platformtest.Campaign("s1", 100, 1000, 50, 5),
			platformtest.Campaign("s2", 50, 1000, 50, 5),
		),
		search: platformtest.Returning(domain.PlatformSearch,
			platformtest.Campaign("g1", 200, 4000, 100, 20),
		),
		accounts: infrastructure.NewMemoryAccountStore(map[string]map[string]string{
			testClient: {"social": "act_1", "search": "123-456"},
		}),
		warm:     infrastructure.NewMemoryWarmStore(log),
		hot:      hot,
		recorder: newRecordingRecorder(),
	}
	for _, opt := range opts {
		opt(f)
	}

	f.aggregator = NewParallelAggregator(
		[]domain.PlatformClient{f.social, f.search},
		f.accounts,
		AggregatorConfig{PerPlatformTimeout: 2 * time.Second, CredentialBlockTTL: time.Hour},
		log,
		f.recorder,
	)
	f.cache = NewTieredCache(f.hot, f.warm, "test:", log, f.recorder)
	f.service = NewMetricsService(f.cache, f.aggregator, ServiceConfig{
		HotTTL:     time.Minute,
		WarmMaxAge: 3 * time.Hour,
		Refresher:  RefresherConfig{Workers: 2, QueueSize: 10, Timeout: 5 * time.Second},
	}, log, f.recorder)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.service.Shutdown(ctx)
	})

	return f
}

func (f *fixture) key(t *testing.T, platform domain.Platform, r domain.DateRange) domain.MetricsKey {
	t.Helper()
	key, err := domain.BuildKey(testClient, platform, r)
	require.NoError(t, err)
	return key
}

func historicalMonth() domain.DateRange {
	return domain.MonthRange(2023, time.January)
}

func currentMonth() domain.DateRange {
	return domain.CurrentMonth(time.Now())
}

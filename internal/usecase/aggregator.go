package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"admetrics/internal/domain"
	"admetrics/pkg/logger"
	"admetrics/pkg/metrics"
)

const DefaultPlatformTimeout = 30 * time.Second

// AggregatorConfig holds the fan-out settings.
type AggregatorConfig struct {
	PerPlatformTimeout time.Duration
	// how long a rejected credential blocks further calls for that client and platform
	CredentialBlockTTL time.Duration
}

// ParallelAggregator fetches every requested platform concurrently and
// merges the results, tolerating per-platform failure.
type ParallelAggregator struct {
	clients  map[domain.Platform]domain.PlatformClient
	accounts domain.AccountStore
	config   AggregatorConfig
	logger   *logger.Logger
	recorder domain.Recorder
	now      func() time.Time

	mu      sync.Mutex
	blocked map[credentialKey]blockedCredential
}

type credentialKey struct {
	clientID string
	platform domain.Platform
}

type blockedCredential struct {
	err   error
	until time.Time
}

type platformResult struct {
	platform  domain.Platform
	campaigns []domain.Campaign
	err       error
	skipped   bool
}

func NewParallelAggregator(
	clients []domain.PlatformClient,
	accounts domain.AccountStore,
	config AggregatorConfig,
	logger *logger.Logger,
	recorder domain.Recorder,
) *ParallelAggregator {
	if config.PerPlatformTimeout <= 0 {
		config.PerPlatformTimeout = DefaultPlatformTimeout
	}

	if recorder == nil {
		recorder = metrics.Nop{}
	}

	byPlatform := make(map[domain.Platform]domain.PlatformClient, len(clients))
	for _, c := range clients {
		byPlatform[c.Platform()] = c
	}

	return &ParallelAggregator{
		clients:  byPlatform,
		accounts: accounts,
		config:   config,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
		blocked:  make(map[credentialKey]blockedCredential),
	}
}

// FetchBoth fetches the combined view of every platform for a client.
func (a *ParallelAggregator) FetchBoth(ctx context.Context, clientID string, r domain.DateRange) (*domain.MetricsRecord, error) {
	key, err := domain.BuildKey(clientID, domain.PlatformBoth, r)
	if err != nil {
		return nil, err
	}
	return a.Fetch(ctx, key, r)
}

// Fetch fetches the platforms selected by key.Platform and merges them into one record.
// It waits for every platform to settle; only a failure of all of them is an error.
func (a *ParallelAggregator) Fetch(ctx context.Context, key domain.MetricsKey, r domain.DateRange) (*domain.MetricsRecord, error) {
	log := a.logger.WithContext(ctx)

	accounts, err := a.accounts.Accounts(ctx, key.ClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts for client %s: %w", key.ClientID, err)
	}

	platforms := key.Platform.Expand()
	results := make([]platformResult, len(platforms))

	var wg sync.WaitGroup
	for i, platform := range platforms {
		ref, ok := accounts[platform]
		client, hasClient := a.clients[platform]
		if !ok || ref == "" || !hasClient {
			results[i] = platformResult{platform: platform, skipped: true}
			continue
		}

		wg.Go(func() {
			campaigns, err := a.fetchPlatform(ctx, key.ClientID, client, ref, r)
			if err != nil {
				log.WithError(err).WithFields(map[string]any{
					"client_id": key.ClientID,
					"platform":  platform,
					"period":    key.PeriodID,
				}).Warn("Platform fetch failed")
			}
			results[i] = platformResult{platform: platform, campaigns: campaigns, err: err}
		})
	}
	wg.Wait()

	record, failures, attempted := a.merge(key, results)
	if attempted > 0 && len(failures) == attempted {
		return nil, &domain.BothPlatformsFailedError{Errors: failures}
	}

	log.WithFields(map[string]any{
		"client_id": key.ClientID,
		"platform":  key.Platform,
		"period":    key.PeriodID,
		"campaigns": len(record.Campaigns),
		"attempted": attempted,
		"failed":    len(failures),
	}).Info("Aggregated platform metrics")

	return record, nil
}

// ClearClient lifts credential blocks for a client, e.g. after its credentials change.
func (a *ParallelAggregator) ClearClient(clientID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for k := range a.blocked {
		if k.clientID == clientID {
			delete(a.blocked, k)
		}
	}
}

func (a *ParallelAggregator) merge(key domain.MetricsKey, results []platformResult) (*domain.MetricsRecord, map[domain.Platform]error, int) {
	record := &domain.MetricsRecord{
		Key:            key,
		Campaigns:      []domain.Campaign{},
		PlatformTotals: make(map[domain.Platform]domain.Totals),
		FetchedAt:      a.now().UTC(),
		SourceTier:     domain.SourceLive,
	}
	failures := make(map[domain.Platform]error)
	attempted := 0

	for _, res := range results {
		if res.skipped {
			continue
		}
		attempted++

		if res.err != nil {
			failures[res.platform] = res.err
			if record.PlatformErrors == nil {
				record.PlatformErrors = make(map[domain.Platform]*domain.PlatformError)
			}
			record.PlatformErrors[res.platform] = domain.ToPlatformError(res.err)
			record.PlatformTotals[res.platform] = domain.Totals{}
			continue
		}

		record.Campaigns = append(record.Campaigns, res.campaigns...)
		platformTotals := domain.SumCampaigns(res.campaigns)
		record.PlatformTotals[res.platform] = platformTotals
		record.Totals = record.Totals.Add(platformTotals)
	}

	return record, failures, attempted
}

func (a *ParallelAggregator) fetchPlatform(ctx context.Context, clientID string, client domain.PlatformClient, ref string, r domain.DateRange) ([]domain.Campaign, error) {
	platform := client.Platform()

	if err := a.blockedErr(clientID, platform); err != nil {
		a.recorder.RecordPlatformFetch(platform, "blocked", 0)
		return nil, err
	}

	start := time.Now()
	fetchCtx, cancel := context.WithTimeout(ctx, a.config.PerPlatformTimeout)
	defer cancel()

	type outcome struct {
		campaigns []domain.Campaign
		err       error
	}
	done := make(chan outcome, 1)
	go func() {
		campaigns, err := client.FetchCampaigns(fetchCtx, ref, r)
		done <- outcome{campaigns: campaigns, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-fetchCtx.Done():
		// a late response lands in the buffered channel and is dropped
		res = outcome{err: fetchCtx.Err()}
	}
	duration := time.Since(start)

	switch {
	case res.err == nil, errors.Is(res.err, domain.ErrEmptyResult):
		a.recorder.RecordPlatformFetch(platform, "success", duration)
		campaigns := make([]domain.Campaign, 0, len(res.campaigns))
		for _, c := range res.campaigns {
			if c.Platform == "" {
				c.Platform = platform
			}
			campaigns = append(campaigns, c)
		}
		return campaigns, nil

	case errors.Is(res.err, context.DeadlineExceeded):
		a.recorder.RecordPlatformFetch(platform, "timeout", duration)
		return nil, &domain.TransientFetchError{Platform: platform, Timeout: true, Err: res.err}
	}

	var credErr *domain.CredentialError
	if errors.As(res.err, &credErr) {
		a.recorder.RecordPlatformFetch(platform, "credential_error", duration)
		a.block(clientID, platform, res.err)
		return nil, res.err
	}

	a.recorder.RecordPlatformFetch(platform, "error", duration)
	var transientErr *domain.TransientFetchError
	if errors.As(res.err, &transientErr) {
		return nil, res.err
	}
	return nil, &domain.TransientFetchError{Platform: platform, Err: res.err}
}

func (a *ParallelAggregator) block(clientID string, platform domain.Platform, err error) {
	if a.config.CredentialBlockTTL <= 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.blocked[credentialKey{clientID, platform}] = blockedCredential{err: err, until: a.now().Add(a.config.CredentialBlockTTL)}
}

func (a *ParallelAggregator) blockedErr(clientID string, platform domain.Platform) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	k := credentialKey{clientID, platform}
	b, ok := a.blocked[k]
	if !ok {
		return nil
	}
	if !a.now().Before(b.until) {
		delete(a.blocked, k)
		return nil
	}
	return b.err
}

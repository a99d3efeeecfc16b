package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"admetrics/internal/domain"
	"admetrics/internal/infrastructure"
	"admetrics/internal/platformtest"
	"admetrics/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParallelAggregator_MergesBothPlatforms(t *testing.T) {
	f := newFixture(t)

	record, err := f.aggregator.FetchBoth(context.Background(), testClient, historicalMonth())
	require.NoError(t, err)

	assert.Len(t, record.Campaigns, 3)
	assert.False(t, record.Partial())
	assert.Equal(t, domain.SourceLive, record.SourceTier)
	assert.False(t, record.FetchedAt.IsZero())

	assert.Equal(t, 350.0, record.Totals.Spend)
	assert.Equal(t, int64(6000), record.Totals.Impressions)
	assert.Equal(t, int64(200), record.Totals.Clicks)
	assert.InDelta(t, 200.0/6000.0, record.Totals.AverageCTR, 1e-12)
	assert.InDelta(t, 350.0/200.0, record.Totals.AverageCPC, 1e-12)

	assert.Equal(t, 150.0, record.PlatformTotals[domain.PlatformSocial].Spend)
	assert.Equal(t, 200.0, record.PlatformTotals[domain.PlatformSearch].Spend)

	for _, c := range record.Campaigns {
		assert.NotEmpty(t, c.Platform)
	}
	assert.Equal(t, []string{"act_1"}, f.social.Accounts())
	assert.Equal(t, []string{"123-456"}, f.search.Accounts())
}

func TestParallelAggregator_FetchesPlatformsConcurrently(t *testing.T) {
	f := newFixture(t)
	f.social.Hold()
	f.search.Hold()

	done := make(chan error, 1)
	go func() {
		_, err := f.aggregator.FetchBoth(context.Background(), testClient, historicalMonth())
		done <- err
	}()

	// both calls are in progress before either is allowed to finish
	require.Eventually(t, func() bool {
		return f.social.Calls() == 1 && f.search.Calls() == 1
	}, time.Second, 5*time.Millisecond)

	f.social.Release()
	f.search.Release()
	require.NoError(t, <-done)
}

func TestParallelAggregator_PartialFailure(t *testing.T) {
	f := newFixture(t)
	f.search.Script(platformtest.Response{Err: &domain.TransientFetchError{Platform: domain.PlatformSearch, Err: errors.New("503")}})

	record, err := f.aggregator.FetchBoth(context.Background(), testClient, historicalMonth())
	require.NoError(t, err)

	assert.True(t, record.Partial())
	assert.False(t, record.Complete())
	require.Contains(t, record.PlatformErrors, domain.PlatformSearch)
	assert.Equal(t, domain.ErrorKindTransient, record.PlatformErrors[domain.PlatformSearch].Kind)
	assert.Equal(t, domain.Totals{}, record.PlatformTotals[domain.PlatformSearch])
	assert.Equal(t, 150.0, record.Totals.Spend)
	assert.Len(t, record.Campaigns, 2)
	assert.Equal(t, 1, f.recorder.fetchCount(domain.PlatformSearch, "error"))
}

func TestParallelAggregator_AllPlatformsFail(t *testing.T) {
	f := newFixture(t)
	f.social.Script(platformtest.Response{Err: errors.New("connection reset")})
	f.search.Script(platformtest.Response{Err: &domain.CredentialError{Platform: domain.PlatformSearch, Err: errors.New("401")}})

	_, err := f.aggregator.FetchBoth(context.Background(), testClient, historicalMonth())

	var bothErr *domain.BothPlatformsFailedError
	require.ErrorAs(t, err, &bothErr)
	assert.Len(t, bothErr.Errors, 2)

	var transient *domain.TransientFetchError
	assert.ErrorAs(t, bothErr.Errors[domain.PlatformSocial], &transient)
	var cred *domain.CredentialError
	assert.ErrorAs(t, err, &cred)
}

func TestParallelAggregator_SinglePlatformFailureIsTotal(t *testing.T) {
	f := newFixture(t)
	f.search.Script(platformtest.Response{Err: errors.New("boom")})

	key := f.key(t, domain.PlatformSearch, historicalMonth())
	_, err := f.aggregator.Fetch(context.Background(), key, historicalMonth())

	var bothErr *domain.BothPlatformsFailedError
	require.ErrorAs(t, err, &bothErr)
	assert.Zero(t, f.social.Calls())
}

func TestParallelAggregator_SinglePlatform(t *testing.T) {
	f := newFixture(t)

	key := f.key(t, domain.PlatformSocial, historicalMonth())
	record, err := f.aggregator.Fetch(context.Background(), key, historicalMonth())
	require.NoError(t, err)

	assert.Equal(t, key, record.Key)
	assert.Len(t, record.Campaigns, 2)
	assert.Equal(t, 1, f.social.Calls())
	assert.Zero(t, f.search.Calls())
}

func TestParallelAggregator_Timeout(t *testing.T) {
	f := newFixture(t)
	f.aggregator.config.PerPlatformTimeout = 50 * time.Millisecond
	f.search.Script(platformtest.Response{Delay: 5 * time.Second})

	start := time.Now()
	record, err := f.aggregator.FetchBoth(context.Background(), testClient, historicalMonth())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	require.Contains(t, record.PlatformErrors, domain.PlatformSearch)
	assert.Equal(t, domain.ErrorKindTimeout, record.PlatformErrors[domain.PlatformSearch].Kind)
	assert.Equal(t, 1, f.recorder.fetchCount(domain.PlatformSearch, "timeout"))
}

func TestParallelAggregator_EmptyResultIsSuccess(t *testing.T) {
	f := newFixture(t)
	f.search.Script(platformtest.Response{Err: domain.ErrEmptyResult})

	record, err := f.aggregator.FetchBoth(context.Background(), testClient, historicalMonth())
	require.NoError(t, err)

	assert.False(t, record.Partial())
	assert.Len(t, record.Campaigns, 2)
	assert.Equal(t, domain.Totals{}, record.PlatformTotals[domain.PlatformSearch])
}

func TestParallelAggregator_SkipsPlatformsWithoutAccount(t *testing.T) {
	f := newFixture(t)
	f.accounts = infrastructure.NewMemoryAccountStore(map[string]map[string]string{
		testClient: {"social": "act_1"},
	})
	f.aggregator.accounts = f.accounts

	record, err := f.aggregator.FetchBoth(context.Background(), testClient, historicalMonth())
	require.NoError(t, err)

	assert.False(t, record.Partial())
	assert.Zero(t, f.search.Calls())
	assert.NotContains(t, record.PlatformTotals, domain.PlatformSearch)
}

func TestParallelAggregator_UnknownClientHasNoData(t *testing.T) {
	f := newFixture(t)

	record, err := f.aggregator.FetchBoth(context.Background(), "nobody", historicalMonth())
	require.NoError(t, err)

	assert.Empty(t, record.Campaigns)
	assert.False(t, record.Complete())
	assert.Zero(t, f.social.Calls()+f.search.Calls())
}

func TestParallelAggregator_CredentialErrorBlocksUntilCleared(t *testing.T) {
	f := newFixture(t)
	f.social.Script(
		platformtest.Response{Err: &domain.CredentialError{Platform: domain.PlatformSocial, Err: errors.New("token expired")}},
		platformtest.Response{Campaigns: []domain.Campaign{platformtest.Campaign("s1", 1, 1, 1, 1)}},
	)

	for range 3 {
		record, err := f.aggregator.FetchBoth(context.Background(), testClient, historicalMonth())
		require.NoError(t, err)
		require.Contains(t, record.PlatformErrors, domain.PlatformSocial)
		assert.Equal(t, domain.ErrorKindCredential, record.PlatformErrors[domain.PlatformSocial].Kind)
	}
	assert.Equal(t, 1, f.social.Calls())
	assert.Equal(t, 2, f.recorder.fetchCount(domain.PlatformSocial, "blocked"))

	f.aggregator.ClearClient(testClient)

	record, err := f.aggregator.FetchBoth(context.Background(), testClient, historicalMonth())
	require.NoError(t, err)
	assert.False(t, record.Partial())
	assert.Equal(t, 2, f.social.Calls())
}

func TestParallelAggregator_CredentialBlockExpires(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	f.aggregator.now = func() time.Time { return now }
	f.social.Script(
		platformtest.Response{Err: &domain.CredentialError{Platform: domain.PlatformSocial, Err: errors.New("401")}},
		platformtest.Response{Campaigns: []domain.Campaign{platformtest.Campaign("s1", 1, 1, 1, 1)}},
	)

	_, err := f.aggregator.FetchBoth(context.Background(), testClient, historicalMonth())
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	record, err := f.aggregator.FetchBoth(context.Background(), testClient, historicalMonth())
	require.NoError(t, err)

	assert.False(t, record.Partial())
	assert.Equal(t, 2, f.social.Calls())
}

type failingAccountStore struct{}

func (failingAccountStore) Accounts(context.Context, string) (domain.ClientAccounts, error) {
	return nil, errStoreDown
}

func TestParallelAggregator_AccountStoreFailure(t *testing.T) {
	agg := NewParallelAggregator(
		[]domain.PlatformClient{platformtest.Returning(domain.PlatformSocial)},
		failingAccountStore{},
		AggregatorConfig{},
		logger.Discard(),
		nil,
	)

	_, err := agg.FetchBoth(context.Background(), testClient, historicalMonth())
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, DefaultPlatformTimeout, agg.config.PerPlatformTimeout)
}

func TestParallelAggregator_InvalidInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.aggregator.FetchBoth(context.Background(), "", historicalMonth())
	assert.ErrorIs(t, err, domain.ErrInvalidClient)

	_, err = f.aggregator.FetchBoth(context.Background(), testClient, domain.DateRange{Start: "2024-03-10", End: "2024-03-01"})
	assert.True(t, domain.IsInvalidInput(err))
}

package infrastructure

import (
	"context"
	"testing"
	"time"

	"admetrics/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(client string, platform domain.Platform, period string, fetchedAt time.Time, spend float64) *domain.MetricsRecord {
	campaigns := []domain.Campaign{{
		ID:          "c1",
		Name:        "Spring",
		Platform:    domain.PlatformSocial,
		Spend:       spend,
		Impressions: 1000,
		Clicks:      50,
		Conversions: 5,
		Conversion:  domain.ConversionMetrics{PhoneContacts: 2, FormSubmissions: 3},
	}}
	return &domain.MetricsRecord{
		Key:            domain.MetricsKey{ClientID: client, Platform: platform, PeriodID: period},
		Campaigns:      campaigns,
		Totals:         domain.SumCampaigns(campaigns),
		PlatformTotals: map[domain.Platform]domain.Totals{domain.PlatformSocial: domain.SumCampaigns(campaigns)},
		FetchedAt:      fetchedAt,
		PlatformErrors: map[domain.Platform]*domain.PlatformError{
			domain.PlatformSearch: {Kind: domain.ErrorKindTimeout, Message: "deadline exceeded"},
		},
	}
}

// runWarmStoreTests exercises the behavior every warm store must share.
func runWarmStoreTests(t *testing.T, store domain.WarmStore) {
	ctx := context.Background()
	fetchedAt := time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC)

	t.Run("missing key", func(t *testing.T) {
		_, err := store.Get(ctx, domain.MetricsKey{ClientID: "nobody", Platform: domain.PlatformBoth, PeriodID: "2024-03"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("round trip", func(t *testing.T) {
		record := sampleRecord("acme", domain.PlatformBoth, "2024-03", fetchedAt, 100)
		require.NoError(t, store.Upsert(ctx, record))

		got, err := store.Get(ctx, record.Key)
		require.NoError(t, err)
		assert.Equal(t, record.Key, got.Key)
		assert.Equal(t, record.Campaigns, got.Campaigns)
		assert.Equal(t, record.Totals, got.Totals)
		assert.True(t, record.FetchedAt.Equal(got.FetchedAt))
		require.Contains(t, got.PlatformErrors, domain.PlatformSearch)
		assert.Equal(t, domain.ErrorKindTimeout, got.PlatformErrors[domain.PlatformSearch].Kind)
	})

	t.Run("newer fetch replaces", func(t *testing.T) {
		record := sampleRecord("acme", domain.PlatformBoth, "2024-03", fetchedAt.Add(time.Hour), 250)
		require.NoError(t, store.Upsert(ctx, record))

		got, err := store.Get(ctx, record.Key)
		require.NoError(t, err)
		assert.Equal(t, 250.0, got.Totals.Spend)
	})

	t.Run("older fetch is ignored", func(t *testing.T) {
		record := sampleRecord("acme", domain.PlatformBoth, "2024-03", fetchedAt.Add(-time.Hour), 1)
		require.NoError(t, store.Upsert(ctx, record))

		got, err := store.Get(ctx, record.Key)
		require.NoError(t, err)
		assert.Equal(t, 250.0, got.Totals.Spend)
	})

	t.Run("future dated row is replaced", func(t *testing.T) {
		skewed := sampleRecord("skewed", domain.PlatformBoth, "2024-03", time.Now().Add(time.Hour), 5)
		require.NoError(t, store.Upsert(ctx, skewed))

		record := sampleRecord("skewed", domain.PlatformBoth, "2024-03", time.Now().Add(-time.Minute), 350)
		require.NoError(t, store.Upsert(ctx, record))

		got, err := store.Get(ctx, record.Key)
		require.NoError(t, err)
		assert.Equal(t, 350.0, got.Totals.Spend)
		assert.False(t, got.FetchedAt.After(time.Now()))
	})

	t.Run("keys are distinct", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, sampleRecord("acme", domain.PlatformSocial, "2024-03", fetchedAt, 10)))
		require.NoError(t, store.Upsert(ctx, sampleRecord("acme", domain.PlatformBoth, "2024-03-01_2024-03-15", fetchedAt, 20)))
		require.NoError(t, store.Upsert(ctx, sampleRecord("acme:x", domain.PlatformBoth, "2024-03", fetchedAt, 30)))

		got, err := store.Get(ctx, domain.MetricsKey{ClientID: "acme", Platform: domain.PlatformSocial, PeriodID: "2024-03"})
		require.NoError(t, err)
		assert.Equal(t, 10.0, got.Totals.Spend)

		got, err = store.Get(ctx, domain.MetricsKey{ClientID: "acme", Platform: domain.PlatformBoth, PeriodID: "2024-03"})
		require.NoError(t, err)
		assert.Equal(t, 250.0, got.Totals.Spend)
	})

	t.Run("delete client", func(t *testing.T) {
		removed, err := store.DeleteClient(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, 3, removed)

		_, err = store.Get(ctx, domain.MetricsKey{ClientID: "acme", Platform: domain.PlatformBoth, PeriodID: "2024-03"})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		// other clients, even with a shared prefix, survive
		_, err = store.Get(ctx, domain.MetricsKey{ClientID: "acme:x", Platform: domain.PlatformBoth, PeriodID: "2024-03"})
		assert.NoError(t, err)

		removed, err = store.DeleteClient(ctx, "acme")
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}

type accountWriter interface {
	domain.AccountStore
	SetAccount(ctx context.Context, clientID string, platform domain.Platform, ref string) error
}

func runAccountStoreTests(t *testing.T, store accountWriter) {
	ctx := context.Background()

	accounts, err := store.Accounts(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, accounts)

	require.NoError(t, store.SetAccount(ctx, "acme", domain.PlatformSocial, "act_1"))
	require.NoError(t, store.SetAccount(ctx, "acme", domain.PlatformSearch, "123-456"))
	require.NoError(t, store.SetAccount(ctx, "acme", domain.PlatformSearch, "789-000"))

	accounts, err = store.Accounts(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, domain.ClientAccounts{
		domain.PlatformSocial: "act_1",
		domain.PlatformSearch: "789-000",
	}, accounts)
}

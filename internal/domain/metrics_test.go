package domain_test

import (
	"errors"
	"testing"

	"admetrics/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestSumCampaigns(t *testing.T) {
	totals := domain.SumCampaigns([]domain.Campaign{
		{Spend: 100, Impressions: 1000, Clicks: 50, Conversions: 5, Conversion: domain.ConversionMetrics{PhoneContacts: 2, BookingValue: 300}},
		{Spend: 50, Impressions: 1000, Clicks: 50, Conversions: 5, Conversion: domain.ConversionMetrics{FormSubmissions: 3, BookingValue: 150}},
	})

	assert.Equal(t, 150.0, totals.Spend)
	assert.Equal(t, int64(2000), totals.Impressions)
	assert.Equal(t, int64(100), totals.Clicks)
	assert.Equal(t, int64(10), totals.Conversions)
	assert.Equal(t, 2, totals.Conversion.PhoneContacts)
	assert.Equal(t, 3, totals.Conversion.FormSubmissions)
	assert.InDelta(t, 0.05, totals.AverageCTR, 1e-9)
	assert.InDelta(t, 1.5, totals.AverageCPC, 1e-9)
	assert.InDelta(t, 15.0, totals.CostPerConversion, 1e-9)
	assert.InDelta(t, 0.1, totals.ConversionRate, 1e-9)
	assert.InDelta(t, 3.0, totals.ROAS, 1e-9)
}

func TestSumCampaigns_ZeroDenominators(t *testing.T) {
	totals := domain.SumCampaigns(nil)
	assert.Equal(t, domain.Totals{}, totals)

	totals = domain.SumCampaigns([]domain.Campaign{{Spend: 10}})
	assert.Zero(t, totals.AverageCTR)
	assert.Zero(t, totals.AverageCPC)
	assert.Zero(t, totals.CostPerConversion)
	assert.Zero(t, totals.ConversionRate)
	assert.Zero(t, totals.ROAS)
}

func TestTotals_AddRecomputesRatios(t *testing.T) {
	// CTR 10% on a small platform, 1% on a large one
	small := domain.SumCampaigns([]domain.Campaign{{Impressions: 100, Clicks: 10, Spend: 10}})
	large := domain.SumCampaigns([]domain.Campaign{{Impressions: 10000, Clicks: 100, Spend: 100}})

	combined := small.Add(large)

	assert.InDelta(t, 110.0/10100.0, combined.AverageCTR, 1e-12)
	assert.NotEqual(t, (small.AverageCTR+large.AverageCTR)/2, combined.AverageCTR)
	assert.InDelta(t, 1.0, combined.AverageCPC, 1e-12)
}

func TestMetricsRecord_Clone(t *testing.T) {
	original := &domain.MetricsRecord{
		Campaigns:      []domain.Campaign{{ID: "c1"}},
		PlatformTotals: map[domain.Platform]domain.Totals{domain.PlatformSocial: {Spend: 1}},
		PlatformErrors: map[domain.Platform]*domain.PlatformError{
			domain.PlatformSearch: {Kind: domain.ErrorKindTimeout, Message: "slow"},
		},
		Warnings: []string{"w"},
	}

	clone := original.Clone()
	clone.Campaigns[0].ID = "changed"
	clone.PlatformTotals[domain.PlatformSocial] = domain.Totals{Spend: 2}
	clone.PlatformErrors[domain.PlatformSearch].Message = "changed"
	clone.Warnings[0] = "changed"

	assert.Equal(t, "c1", original.Campaigns[0].ID)
	assert.Equal(t, 1.0, original.PlatformTotals[domain.PlatformSocial].Spend)
	assert.Equal(t, "slow", original.PlatformErrors[domain.PlatformSearch].Message)
	assert.Equal(t, "w", original.Warnings[0])

	var nilRecord *domain.MetricsRecord
	assert.Nil(t, nilRecord.Clone())
}

func TestPlatform_Expand(t *testing.T) {
	assert.Equal(t, []domain.Platform{domain.PlatformSocial, domain.PlatformSearch}, domain.PlatformBoth.Expand())
	assert.Equal(t, []domain.Platform{domain.PlatformSearch}, domain.PlatformSearch.Expand())
	assert.False(t, domain.Platform("tv").Valid())
}

func TestToPlatformError(t *testing.T) {
	assert.Nil(t, domain.ToPlatformError(nil))

	cred := domain.ToPlatformError(&domain.CredentialError{Platform: domain.PlatformSocial, Err: errors.New("401")})
	assert.Equal(t, domain.ErrorKindCredential, cred.Kind)

	timeout := domain.ToPlatformError(&domain.TransientFetchError{Platform: domain.PlatformSearch, Timeout: true, Err: errors.New("deadline")})
	assert.Equal(t, domain.ErrorKindTimeout, timeout.Kind)

	other := domain.ToPlatformError(errors.New("boom"))
	assert.Equal(t, domain.ErrorKindTransient, other.Kind)
}

func TestBothPlatformsFailedError(t *testing.T) {
	credErr := &domain.CredentialError{Platform: domain.PlatformSocial, Err: errors.New("401")}
	err := &domain.BothPlatformsFailedError{Errors: map[domain.Platform]error{
		domain.PlatformSocial: credErr,
		domain.PlatformSearch: &domain.TransientFetchError{Platform: domain.PlatformSearch, Err: errors.New("503")},
	}}

	var target *domain.CredentialError
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, "all platform fetches failed (search: search fetch failed: 503; social: social credentials rejected: 401)", err.Error())
}

package domain

import (
	"time"
)

type Platform string

const (
	PlatformSocial Platform = "social"
	PlatformSearch Platform = "search"

	// PlatformBoth selects the combined view of every platform.
	PlatformBoth Platform = "both"
)

// AllPlatforms lists the concrete ad platforms in a stable order.
var AllPlatforms = []Platform{PlatformSocial, PlatformSearch}

func (p Platform) Valid() bool {
	switch p {
	case PlatformSocial, PlatformSearch, PlatformBoth:
		return true
	}
	return false
}

// Expand resolves a selector into the concrete platforms it covers.
func (p Platform) Expand() []Platform {
	if p == PlatformBoth {
		return AllPlatforms
	}
	return []Platform{p}
}

type SourceTier string

const (
	SourceHot  SourceTier = "hot"
	SourceWarm SourceTier = "warm"
	SourceLive SourceTier = "live"
)

// named conversion sub-metrics
type ConversionMetrics struct {
	PhoneContacts     int     `json:"phone_contacts"`
	FormSubmissions   int     `json:"form_submissions"`
	CompletedBookings int     `json:"completed_bookings"`
	BookingValue      float64 `json:"booking_value"`
}

func (c ConversionMetrics) add(o ConversionMetrics) ConversionMetrics {
	return ConversionMetrics{
		PhoneContacts:     c.PhoneContacts + o.PhoneContacts,
		FormSubmissions:   c.FormSubmissions + o.FormSubmissions,
		CompletedBookings: c.CompletedBookings + o.CompletedBookings,
		BookingValue:      c.BookingValue + o.BookingValue,
	}
}

// per-campaign metrics row
type Campaign struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Platform    Platform          `json:"platform"`
	Spend       float64           `json:"spend"`
	Impressions int64             `json:"impressions"`
	Clicks      int64             `json:"clicks"`
	Conversions int64             `json:"conversions"`
	Conversion  ConversionMetrics `json:"conversion_metrics"`
}

// Totals holds summed counters and ratios derived from those sums.
type Totals struct {
	Spend       float64           `json:"spend"`
	Impressions int64             `json:"impressions"`
	Clicks      int64             `json:"clicks"`
	Conversions int64             `json:"conversions"`
	Conversion  ConversionMetrics `json:"conversion_metrics"`

	AverageCTR        float64 `json:"average_ctr"`
	AverageCPC        float64 `json:"average_cpc"`
	CostPerConversion float64 `json:"cost_per_conversion"`
	ConversionRate    float64 `json:"conversion_rate"`
	ROAS              float64 `json:"roas"`
}

// SumCampaigns aggregates campaign rows into totals.
func SumCampaigns(campaigns []Campaign) Totals {
	var t Totals
	for _, c := range campaigns {
		t.Spend += c.Spend
		t.Impressions += c.Impressions
		t.Clicks += c.Clicks
		t.Conversions += c.Conversions
		t.Conversion = t.Conversion.add(c.Conversion)
	}
	return t.withRatios()
}

// Add sums two totals and recomputes the ratios from the summed counters.
// Ratios are never averaged.
func (t Totals) Add(o Totals) Totals {
	sum := Totals{
		Spend:       t.Spend + o.Spend,
		Impressions: t.Impressions + o.Impressions,
		Clicks:      t.Clicks + o.Clicks,
		Conversions: t.Conversions + o.Conversions,
		Conversion:  t.Conversion.add(o.Conversion),
	}
	return sum.withRatios()
}

func (t Totals) withRatios() Totals {
	t.AverageCTR, t.AverageCPC, t.CostPerConversion, t.ConversionRate, t.ROAS = 0, 0, 0, 0, 0

	// Calculate derived metrics with division by zero protection
	if t.Impressions > 0 {
		t.AverageCTR = float64(t.Clicks) / float64(t.Impressions)
	}
	if t.Clicks > 0 {
		t.AverageCPC = t.Spend / float64(t.Clicks)
		t.ConversionRate = float64(t.Conversions) / float64(t.Clicks)
	}
	if t.Conversions > 0 {
		t.CostPerConversion = t.Spend / float64(t.Conversions)
	}
	if t.Spend > 0 {
		t.ROAS = t.Conversion.BookingValue / t.Spend
	}
	return t
}

// ErrorKind classifies a per-platform failure.
type ErrorKind string

const (
	ErrorKindCredential ErrorKind = "credential"
	ErrorKindTransient  ErrorKind = "transient"
	ErrorKindTimeout    ErrorKind = "timeout"
)

// PlatformError is the serializable form of a per-platform fetch failure.
type PlatformError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *PlatformError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// MetricsRecord is the cached payload for one MetricsKey.
//
// A platform listed in PlatformErrors contributed zero to Totals; its
// numbers are missing, not zero, and consumers must render them as partial.
type MetricsRecord struct {
	Key            MetricsKey                  `json:"key"`
	Campaigns      []Campaign                  `json:"campaigns"`
	Totals         Totals                      `json:"totals"`
	PlatformTotals map[Platform]Totals         `json:"platform_totals,omitempty"`
	FetchedAt      time.Time                   `json:"fetched_at"`
	SourceTier     SourceTier                  `json:"source_tier"`
	PlatformErrors map[Platform]*PlatformError `json:"platform_errors,omitempty"`
	Warnings       []string                    `json:"warnings,omitempty"`
}

// Partial reports whether any platform failed while building the record.
func (r *MetricsRecord) Partial() bool {
	return len(r.PlatformErrors) > 0
}

// Complete reports whether the record holds campaign data from every
// platform it was asked for.
func (r *MetricsRecord) Complete() bool {
	return len(r.Campaigns) > 0 && !r.Partial()
}

// Clone returns a deep copy so cached values are never shared with callers.
func (r *MetricsRecord) Clone() *MetricsRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Campaigns != nil {
		c.Campaigns = append([]Campaign(nil), r.Campaigns...)
	}
	if r.PlatformTotals != nil {
		c.PlatformTotals = make(map[Platform]Totals, len(r.PlatformTotals))
		for p, t := range r.PlatformTotals {
			c.PlatformTotals[p] = t
		}
	}
	if r.PlatformErrors != nil {
		c.PlatformErrors = make(map[Platform]*PlatformError, len(r.PlatformErrors))
		for p, e := range r.PlatformErrors {
			pe := *e
			c.PlatformErrors[p] = &pe
		}
	}
	if r.Warnings != nil {
		c.Warnings = append([]string(nil), r.Warnings...)
	}
	return &c
}

// ClientAccounts maps a platform to the client's account reference on it.
// A missing platform means no credentials are configured there.
type ClientAccounts map[Platform]string

// MetricsRequest is the input of the public GetMetrics operation.
type MetricsRequest struct {
	ClientID     string
	Platform     Platform
	Range        DateRange
	ForceRefresh bool
}

// CacheStats summarizes cache effectiveness for observability.
type CacheStats struct {
	Requests    int64         `json:"requests"`
	HotHits     int64         `json:"hot_hits"`
	WarmHits    int64         `json:"warm_hits"`
	StaleServes int64         `json:"stale_serves"`
	LiveFetches int64         `json:"live_fetches"`
	Failures    int64         `json:"failures"`
	HitRate     float64       `json:"hit_rate"`
	HotEntries  int           `json:"hot_entries"`
	InFlight    int           `json:"in_flight"`
	AvgLatency  time.Duration `json:"avg_latency"`
}

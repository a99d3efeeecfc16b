package domain

import (
	"time"
)

type PeriodClass string

const (
	// PeriodCurrent periods contain "now" and keep changing.
	PeriodCurrent PeriodClass = "current"
	// PeriodHistorical periods are entirely in the past or future.
	PeriodHistorical PeriodClass = "historical"
)

// FreshnessPolicy decides whether a stored record may be served as-is.
type FreshnessPolicy struct {
	MaxAge time.Duration
}

// Classify reports whether now falls inside the period (inclusive, civil dates).
func (FreshnessPolicy) Classify(periodID string, now time.Time) (PeriodClass, error) {
	r, err := ParseDateRange(periodID)
	if err != nil {
		return "", err
	}
	start, end, err := r.Bounds()
	if err != nil {
		return "", err
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if today.Before(start) || today.After(end) {
		return PeriodHistorical, nil
	}
	return PeriodCurrent, nil
}

// IsFresh reports whether the record is younger than MaxAge.
// Records with a zero or future fetch time are never fresh.
func (p FreshnessPolicy) IsFresh(record *MetricsRecord, now time.Time) bool {
	if record == nil || record.FetchedAt.IsZero() {
		return false
	}
	if record.FetchedAt.After(now) {
		return false
	}
	return now.Sub(record.FetchedAt) < p.MaxAge
}

// IsSettled reports whether a historical record never needs refetching:
// once a past period holds campaign data only a forced refresh replaces it.
func (p FreshnessPolicy) IsSettled(record *MetricsRecord, class PeriodClass) bool {
	return class == PeriodHistorical && record != nil && len(record.Campaigns) > 0
}

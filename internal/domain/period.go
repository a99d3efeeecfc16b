package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"

	// separates start and end in a custom period id
	rangeSeparator = "_"
)

// DateRange is an inclusive range of civil dates in YYYY-MM-DD form.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// MonthRange returns the range covering a whole calendar month.
func MonthRange(year int, month time.Month) DateRange {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return DateRange{Start: first.Format(dateLayout), End: last.Format(dateLayout)}
}

// CurrentMonth returns the calendar month that contains now.
func CurrentMonth(now time.Time) DateRange {
	return MonthRange(now.Year(), now.Month())
}

// ParseDateRange accepts "YYYY-MM", "start..end" or the canonical "start_end" form.
func ParseDateRange(s string) (DateRange, error) {
	s = strings.TrimSpace(s)

	if m, err := time.Parse(monthLayout, s); err == nil {
		return MonthRange(m.Year(), m.Month()), nil
	}

	for _, sep := range []string{"..", rangeSeparator} {
		if start, end, ok := strings.Cut(s, sep); ok {
			r := DateRange{Start: strings.TrimSpace(start), End: strings.TrimSpace(end)}
			if _, _, err := r.Bounds(); err != nil {
				return DateRange{}, err
			}
			return r, nil
		}
	}

	return DateRange{}, &InvalidRangeError{Start: s, Reason: "expected YYYY-MM or YYYY-MM-DD..YYYY-MM-DD"}
}

// Bounds parses both ends of the range. Start after End is an error.
func (r DateRange) Bounds() (time.Time, time.Time, error) {
	start, err := time.Parse(dateLayout, r.Start)
	if err != nil {
		return time.Time{}, time.Time{}, &InvalidRangeError{Start: r.Start, End: r.End, Reason: "malformed start date"}
	}
	end, err := time.Parse(dateLayout, r.End)
	if err != nil {
		return time.Time{}, time.Time{}, &InvalidRangeError{Start: r.Start, End: r.End, Reason: "malformed end date"}
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, &InvalidRangeError{Start: r.Start, End: r.End, Reason: "start is after end"}
	}
	return start, end, nil
}

// PeriodID returns the canonical identifier of the range: YYYY-MM when it
// spans exactly one calendar month, start_end otherwise.
func (r DateRange) PeriodID() (string, error) {
	start, end, err := r.Bounds()
	if err != nil {
		return "", err
	}
	if start.Day() == 1 && end.Equal(start.AddDate(0, 1, -1)) {
		return start.Format(monthLayout), nil
	}
	return start.Format(dateLayout) + rangeSeparator + end.Format(dateLayout), nil
}

func (r DateRange) String() string {
	return r.Start + ".." + r.End
}

// MetricsKey identifies one cached metrics record.
type MetricsKey struct {
	ClientID string   `json:"client_id"`
	Platform Platform `json:"platform"`
	PeriodID string   `json:"period_id"`
}

// BuildKey validates its inputs and normalizes the range into a period id.
func BuildKey(clientID string, platform Platform, r DateRange) (MetricsKey, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return MetricsKey{}, ErrInvalidClient
	}
	if !platform.Valid() {
		return MetricsKey{}, fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}

	periodID, err := r.PeriodID()
	if err != nil {
		return MetricsKey{}, err
	}

	return MetricsKey{ClientID: clientID, Platform: platform, PeriodID: periodID}, nil
}

// Range converts the period id back into a date range.
func (k MetricsKey) Range() (DateRange, error) {
	return ParseDateRange(k.PeriodID)
}

// String is injective: the client id is escaped so it can never contain the separator.
func (k MetricsKey) String() string {
	return ClientKeyPrefix(k.ClientID) + string(k.Platform) + ":" + k.PeriodID
}

// ClientKeyPrefix is the common prefix of every key string for a client.
func ClientKeyPrefix(clientID string) string {
	return url.QueryEscape(clientID) + ":"
}

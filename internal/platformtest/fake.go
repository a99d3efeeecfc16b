// Package platformtest provides a scriptable domain.PlatformClient for tests.
package platformtest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"admetrics/internal/domain"
)

// Response is what the fake returns for one call.
type Response struct {
	Campaigns []domain.Campaign
	Err       error
	// Delay is honored unless the context ends first.
	Delay time.Duration
}

// Fake is a concurrency-safe PlatformClient. Responses are consumed in
// order; the last one repeats once the script runs out.
type Fake struct {
	platform domain.Platform

	mu        sync.Mutex
	responses []Response
	accounts  []string
	gate      chan struct{}

	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
}

func New(platform domain.Platform, responses ...Response) *Fake {
	return &Fake{platform: platform, responses: responses}
}

// Returning builds a fake that always succeeds with the given campaigns.
func Returning(platform domain.Platform, campaigns ...domain.Campaign) *Fake {
	return New(platform, Response{Campaigns: campaigns})
}

// Failing builds a fake that always fails with err.
func Failing(platform domain.Platform, err error) *Fake {
	return New(platform, Response{Err: err})
}

// Script replaces the remaining responses.
func (f *Fake) Script(responses ...Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = responses
}

// Hold makes every call block until Release; useful to pile up concurrent callers.
func (f *Fake) Hold() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
}

func (f *Fake) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

func (f *Fake) Platform() domain.Platform {
	return f.platform
}

func (f *Fake) FetchCampaigns(ctx context.Context, accountRef string, _ domain.DateRange) ([]domain.Campaign, error) {
	f.calls.Add(1)
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if current <= seen || f.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}

	f.mu.Lock()
	f.accounts = append(f.accounts, accountRef)
	gate := f.gate
	var resp Response
	if len(f.responses) > 0 {
		resp = f.responses[0]
		if len(f.responses) > 1 {
			f.responses = f.responses[1:]
		}
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if resp.Err != nil {
		return nil, resp.Err
	}
	return append([]domain.Campaign(nil), resp.Campaigns...), nil
}

// Calls returns how many times FetchCampaigns was invoked.
func (f *Fake) Calls() int {
	return int(f.calls.Load())
}

// MaxConcurrent returns the highest number of overlapping calls observed.
func (f *Fake) MaxConcurrent() int {
	return int(f.maxSeen.Load())
}

// Accounts returns the account references seen, in call order.
func (f *Fake) Accounts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.accounts...)
}

// Campaign builds a campaign row with the given counters.
func Campaign(id string, spend float64, impressions, clicks, conversions int64) domain.Campaign {
	return domain.Campaign{
		ID:          id,
		Name:        "Campaign " + id,
		Spend:       spend,
		Impressions: impressions,
		Clicks:      clicks,
		Conversions: conversions,
	}
}

var _ domain.PlatformClient = (*Fake)(nil)

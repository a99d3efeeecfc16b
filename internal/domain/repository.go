package domain

import (
	"context"
	"time"
)

// interface for one ad platform's reporting API
type PlatformClient interface {
	Platform() Platform
	FetchCampaigns(ctx context.Context, accountRef string, r DateRange) ([]Campaign, error)
}

// WarmStore is the durable tier and the source of truth for fetched data.
type WarmStore interface {
	// Get returns ErrNotFound on a miss.
	Get(ctx context.Context, key MetricsKey) (*MetricsRecord, error)
	// Upsert replaces the record stored under record.Key and is durable when it returns.
	Upsert(ctx context.Context, record *MetricsRecord) error
	DeleteClient(ctx context.Context, clientID string) (int, error)
}

// HotStore is a best-effort key-value store with per-entry TTL.
type HotStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	// Len returns the number of live entries, or -1 when it cannot be known cheaply.
	Len(ctx context.Context) int
}

// interface for looking up a client's ad accounts
type AccountStore interface {
	Accounts(ctx context.Context, clientID string) (ClientAccounts, error)
}

// Recorder receives counters and timings; implementations are owned by one service instance.
type Recorder interface {
	RecordLookup(outcome string, duration time.Duration)
	RecordPlatformFetch(platform Platform, status string, duration time.Duration)
	RecordRefresh(status string)
	RecordCacheWriteFailure(tier SourceTier)
}

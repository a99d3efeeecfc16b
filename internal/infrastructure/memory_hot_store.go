package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"admetrics/internal/domain"

	lru "github.com/hashicorp/golang-lru/v2"
)

type hotEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryHotStore is a size-bounded in-process hot tier with per-entry TTL.
// Used when no Redis is configured; it is not shared between instances.
type MemoryHotStore struct {
	cache *lru.Cache[string, hotEntry]
	now   func() time.Time
}

func NewMemoryHotStore(maxEntries int) (*MemoryHotStore, error) {
	cache, err := lru.New[string, hotEntry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create hot cache: %w", err)
	}
	return &MemoryHotStore{cache: cache, now: time.Now}, nil
}

func (s *MemoryHotStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, ok := s.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(entry.expiresAt) {
		s.cache.Remove(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryHotStore) SetEX(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	stored := append([]byte(nil), value...)
	s.cache.Add(key, hotEntry{value: stored, expiresAt: s.now().Add(ttl)})
	return nil
}

func (s *MemoryHotStore) Del(_ context.Context, key string) error {
	s.cache.Remove(key)
	return nil
}

func (s *MemoryHotStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	removed := 0
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) && s.cache.Remove(key) {
			removed++
		}
	}
	return removed, nil
}

// Len may count expired entries that were not read since they expired.
func (s *MemoryHotStore) Len(_ context.Context) int {
	return s.cache.Len()
}

var _ domain.HotStore = (*MemoryHotStore)(nil)

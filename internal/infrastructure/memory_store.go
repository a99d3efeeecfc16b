package infrastructure

import (
	"context"
	"strings"
	"sync"
	"time"

	"admetrics/internal/domain"
	"admetrics/pkg/logger"
)

// MemoryWarmStore implements domain.WarmStore in process memory. It loses
// everything on restart and suits tests and single-instance development.
type MemoryWarmStore struct {
	data   map[domain.MetricsKey]*domain.MetricsRecord
	mutex  sync.RWMutex
	logger *logger.Logger
}

func NewMemoryWarmStore(logger *logger.Logger) *MemoryWarmStore {
	return &MemoryWarmStore{
		data:   make(map[domain.MetricsKey]*domain.MetricsRecord),
		logger: logger,
	}
}

func (s *MemoryWarmStore) Get(_ context.Context, key domain.MetricsKey) (*domain.MetricsRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	record, ok := s.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return record.Clone(), nil
}

func (s *MemoryWarmStore) Upsert(ctx context.Context, record *domain.MetricsRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// an older fetch finishing late never replaces a newer one; a stored
	// fetch time in the future is corrupt and always loses
	if existing, ok := s.data[record.Key]; ok && existing.FetchedAt.After(record.FetchedAt) && !existing.FetchedAt.After(time.Now()) {
		return nil
	}
	s.data[record.Key] = record.Clone()

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"key":       record.Key.String(),
		"campaigns": len(record.Campaigns),
	}).Debug("Stored metrics record in memory")
	return nil
}

func (s *MemoryWarmStore) DeleteClient(_ context.Context, clientID string) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	removed := 0
	for key := range s.data {
		if key.ClientID == clientID {
			delete(s.data, key)
			removed++
		}
	}
	return removed, nil
}

var _ domain.WarmStore = (*MemoryWarmStore)(nil)

// MemoryAccountStore implements domain.AccountStore from a static mapping.
type MemoryAccountStore struct {
	accounts map[string]domain.ClientAccounts
	mutex    sync.RWMutex
}

// NewMemoryAccountStore builds the store from client id -> platform -> account ref.
// Unknown platform names are ignored.
func NewMemoryAccountStore(seed map[string]map[string]string) *MemoryAccountStore {
	s := &MemoryAccountStore{accounts: make(map[string]domain.ClientAccounts, len(seed))}
	for clientID, platforms := range seed {
		for platform, ref := range platforms {
			s.Set(clientID, domain.Platform(strings.ToLower(platform)), ref)
		}
	}
	return s
}

// Set registers or replaces one account reference.
func (s *MemoryAccountStore) Set(clientID string, platform domain.Platform, ref string) {
	if platform == domain.PlatformBoth || !platform.Valid() {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	accounts, ok := s.accounts[clientID]
	if !ok {
		accounts = make(domain.ClientAccounts)
		s.accounts[clientID] = accounts
	}
	accounts[platform] = ref
}

// Accounts returns an empty mapping for unknown clients.
func (s *MemoryAccountStore) Accounts(_ context.Context, clientID string) (domain.ClientAccounts, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make(domain.ClientAccounts, len(s.accounts[clientID]))
	for p, ref := range s.accounts[clientID] {
		out[p] = ref
	}
	return out, nil
}

var _ domain.AccountStore = (*MemoryAccountStore)(nil)

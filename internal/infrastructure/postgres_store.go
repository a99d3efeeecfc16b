package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"admetrics/internal/domain"
	"admetrics/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPostgresPool opens a pool sized for a cache-backing workload and pings it.
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

// PostgresStore is the durable warm tier shared by every instance. It also
// serves client account references.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

func NewPostgresStore(pool *pgxpool.Pool, logger *logger.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

func (s *PostgresStore) Get(ctx context.Context, key domain.MetricsKey) (*domain.MetricsRecord, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM metrics_records
		WHERE client_id = $1 AND platform = $2 AND period_id = $3`,
		key.ClientID, string(key.Platform), key.PeriodID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics record %s: %w", key, err)
	}

	var record domain.MetricsRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("failed to decode metrics record %s: %w", key, err)
	}
	record.Key = key
	return &record, nil
}

// Upsert keeps the newest fetch: a write carrying an older FetchedAt than the
// stored row is ignored, so concurrent writers from any instance converge.
// A stored row dated in the future is always replaced.
func (s *PostgresStore) Upsert(ctx context.Context, record *domain.MetricsRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode metrics record %s: %w", record.Key, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO metrics_records (client_id, platform, period_id, payload, fetched_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (client_id, platform, period_id) DO UPDATE
		SET payload = EXCLUDED.payload,
		    fetched_at = EXCLUDED.fetched_at,
		    updated_at = NOW()
		WHERE metrics_records.fetched_at <= EXCLUDED.fetched_at
		   OR metrics_records.fetched_at > NOW()`,
		record.Key.ClientID, string(record.Key.Platform), record.Key.PeriodID, payload, record.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert metrics record %s: %w", record.Key, err)
	}
	return nil
}

func (s *PostgresStore) DeleteClient(ctx context.Context, clientID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM metrics_records WHERE client_id = $1`, clientID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete metrics records for client %s: %w", clientID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Accounts(ctx context.Context, clientID string) (domain.ClientAccounts, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT platform, account_ref FROM client_accounts WHERE client_id = $1`, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts for client %s: %w", clientID, err)
	}
	defer rows.Close()

	accounts := make(domain.ClientAccounts)
	for rows.Next() {
		var platform, ref string
		if err := rows.Scan(&platform, &ref); err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts[domain.Platform(platform)] = ref
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read accounts for client %s: %w", clientID, err)
	}
	return accounts, nil
}

// SetAccount registers or replaces a client's account reference on one platform.
func (s *PostgresStore) SetAccount(ctx context.Context, clientID string, platform domain.Platform, ref string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO client_accounts (client_id, platform, account_ref, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (client_id, platform) DO UPDATE
		SET account_ref = EXCLUDED.account_ref, updated_at = NOW()`,
		clientID, string(platform), ref,
	)
	if err != nil {
		return fmt.Errorf("failed to save %s account for client %s: %w", platform, clientID, err)
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"client_id": clientID,
		"platform":  platform,
	}).Info("Saved client account")
	return nil
}

var (
	_ domain.WarmStore    = (*PostgresStore)(nil)
	_ domain.AccountStore = (*PostgresStore)(nil)
)

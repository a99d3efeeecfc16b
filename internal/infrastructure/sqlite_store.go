package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"admetrics/internal/domain"
	"admetrics/pkg/logger"

	// registers the "sqlite" driver
	_ "modernc.org/sqlite"
)

// SQLiteStore is a durable single-node warm tier and account store.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *logger.Logger
}

// NewSQLiteStore opens (or creates) the database at path and ensures the schema.
func NewSQLiteStore(ctx context.Context, path string, logger *logger.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, path: path, logger: logger}

	if err := s.configure(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	if err := s.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) configure(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS metrics_records (
		client_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		period_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		fetched_at INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (client_id, platform, period_id)
	);
	CREATE TABLE IF NOT EXISTS client_accounts (
		client_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		account_ref TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (client_id, platform)
	);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, key domain.MetricsKey) (*domain.MetricsRecord, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM metrics_records WHERE client_id = ? AND platform = ? AND period_id = ?",
		key.ClientID, string(key.Platform), key.PeriodID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics record %s: %w", key, err)
	}

	var record domain.MetricsRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, fmt.Errorf("failed to decode metrics record %s: %w", key, err)
	}
	record.Key = key
	return &record, nil
}

// Upsert ignores writes older than the stored row, like the Postgres store.
func (s *SQLiteStore) Upsert(ctx context.Context, record *domain.MetricsRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode metrics record %s: %w", record.Key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO metrics_records (client_id, platform, period_id, payload, fetched_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (client_id, platform, period_id) DO UPDATE
		SET payload = excluded.payload,
		    fetched_at = excluded.fetched_at,
		    updated_at = CURRENT_TIMESTAMP
		WHERE metrics_records.fetched_at <= excluded.fetched_at
		   OR metrics_records.fetched_at > ?`,
		record.Key.ClientID, string(record.Key.Platform), record.Key.PeriodID, string(payload), record.FetchedAt.UnixNano(),
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert metrics record %s: %w", record.Key, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteClient(ctx context.Context, clientID string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM metrics_records WHERE client_id = ?", clientID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete metrics records for client %s: %w", clientID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted records: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) Accounts(ctx context.Context, clientID string) (domain.ClientAccounts, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT platform, account_ref FROM client_accounts WHERE client_id = ?", clientID)
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
	return accounts, rows.Err()
}

func (s *SQLiteStore) SetAccount(ctx context.Context, clientID string, platform domain.Platform, ref string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_accounts (client_id, platform, account_ref, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (client_id, platform) DO UPDATE
		SET account_ref = excluded.account_ref, updated_at = CURRENT_TIMESTAMP`,
		clientID, string(platform), ref,
	)
	if err != nil {
		return fmt.Errorf("failed to save %s account for client %s: %w", platform, clientID, err)
	}
	return nil
}

var (
	_ domain.WarmStore    = (*SQLiteStore)(nil)
	_ domain.AccountStore = (*SQLiteStore)(nil)
)

package main

import (
	"context"
	"fmt"
	"strings"

	"admetrics/internal/domain"
	"admetrics/internal/infrastructure"
	"admetrics/internal/infrastructure/migrations"
	"admetrics/pkg/config"
	"admetrics/pkg/logger"
)

type stores struct {
	hot      domain.HotStore
	warm     domain.WarmStore
	accounts domain.AccountStore
	closers  []func() error
}

type accountSeeder interface {
	SetAccount(ctx context.Context, clientID string, platform domain.Platform, ref string) error
}

// openStores picks the hot tier (Redis, else in-process LRU) and the warm
// tier (Postgres, else SQLite, else memory).
func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	s := &stores{}

	if cfg.Redis.Addr != "" {
		client, err := infrastructure.NewRedisClient(ctx, infrastructure.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, client.Close)
		s.hot = infrastructure.NewRedisHotStore(client, cfg.Redis.KeyPrefix)
		log.WithField("addr", cfg.Redis.Addr).Info("Using Redis hot tier")
	} else {
		hot, err := infrastructure.NewMemoryHotStore(cfg.Cache.HotMaxEntries)
		if err != nil {
			return nil, err
		}
		s.hot = hot
		log.WithField("max_entries", cfg.Cache.HotMaxEntries).Info("Using in-process hot tier")
	}

	switch {
	case cfg.Storage.DatabaseURL != "":
		if cfg.Storage.RunMigrations {
			if err := migrate(cfg.Storage.DatabaseURL, log); err != nil {
				s.close(log)
				return nil, err
			}
		}

		pool, err := infrastructure.NewPostgresPool(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			s.close(log)
			return nil, err
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })

		store := infrastructure.NewPostgresStore(pool, log)
		s.warm, s.accounts = store, store
		log.Info("Using Postgres warm tier")

		if err := seedAccounts(ctx, store, cfg.ClientAccounts); err != nil {
			s.close(log)
			return nil, err
		}

	case cfg.Storage.SQLitePath != "":
		store, err := infrastructure.NewSQLiteStore(ctx, cfg.Storage.SQLitePath, log)
		if err != nil {
			s.close(log)
			return nil, err
		}
		s.closers = append(s.closers, store.Close)
		s.warm, s.accounts = store, store
		log.WithField("path", store.Path()).Info("Using SQLite warm tier")

		if err := seedAccounts(ctx, store, cfg.ClientAccounts); err != nil {
			s.close(log)
			return nil, err
		}

	default:
		s.warm = infrastructure.NewMemoryWarmStore(log)
		s.accounts = infrastructure.NewMemoryAccountStore(cfg.ClientAccounts)
		log.Warn("No DATABASE_URL or SQLITE_PATH set, warm tier is in memory and lost on restart")
	}

	return s, nil
}

func migrate(databaseURL string, log *logger.Logger) error {
	migrator, err := migrations.New(databaseURL, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			log.WithError(err).Warn("Failed to close migrator")
		}
	}()

	return migrator.Up()
}

// seedAccounts writes configured account references into a durable store.
func seedAccounts(ctx context.Context, store accountSeeder, seed map[string]map[string]string) error {
	for clientID, platforms := range seed {
		for name, ref := range platforms {
			platform := domain.Platform(strings.ToLower(name))
			if platform == domain.PlatformBoth || !platform.Valid() {
				continue
			}
			if err := store.SetAccount(ctx, clientID, platform, ref); err != nil {
				return fmt.Errorf("failed to seed client accounts: %w", err)
			}
		}
	}
	return nil
}

func (s *stores) close(log *logger.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}
	s.closers = nil
}

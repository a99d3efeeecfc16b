package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admetrics/internal/delivery"
	"admetrics/internal/domain"
	"admetrics/internal/infrastructure"
	"admetrics/internal/usecase"
	"admetrics/pkg/config"
	"admetrics/pkg/logger"
	"admetrics/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Server stopped with error")
	}
	log.Info("Server stopped")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.NewRegistry())

	stores, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stores.close(log)

	clients := []domain.PlatformClient{
		newPlatformClient(domain.PlatformSocial, cfg.Platforms.SocialAPIURL, cfg.Platforms.SocialAPIToken, cfg, log),
		newPlatformClient(domain.PlatformSearch, cfg.Platforms.SearchAPIURL, cfg.Platforms.SearchAPIToken, cfg, log),
	}

	aggregator := usecase.NewParallelAggregator(clients, stores.accounts, usecase.AggregatorConfig{
		PerPlatformTimeout: cfg.Fetch.PerPlatformTimeout,
		CredentialBlockTTL: cfg.Fetch.CredentialBlockTTL,
	}, log, m)

	cache := usecase.NewTieredCache(stores.hot, stores.warm, cfg.Redis.KeyPrefix, log, m)

	service := usecase.NewMetricsService(cache, aggregator, usecase.ServiceConfig{
		HotTTL:     cfg.Cache.HotTTL,
		WarmMaxAge: cfg.Cache.WarmMaxAge,
		Refresher: usecase.RefresherConfig{
			Workers:   cfg.Refresh.Workers,
			QueueSize: cfg.Refresh.QueueSize,
			Timeout:   cfg.Refresh.Timeout,
		},
	}, log, m)

	go watchRefreshErrors(ctx, service, log)

	handlers := delivery.NewHTTPHandlers(service, log)
	router := delivery.NewHTTPRouter(handlers, log, m, cfg.Server.RequestTimeout).SetupRoutes()

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("failed to serve http: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to drain HTTP server")
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Background refreshes still running at shutdown")
	}

	return nil
}

func newPlatformClient(platform domain.Platform, baseURL, token string, cfg *config.Config, log *logger.Logger) domain.PlatformClient {
	if baseURL == "" {
		log.WithField("platform", platform).Warn("No API URL configured, platform fetches will fail")
	}

	return infrastructure.NewHTTPPlatformClient(infrastructure.PlatformClientConfig{
		Platform:           platform,
		BaseURL:            baseURL,
		Token:              token,
		Timeout:            cfg.Fetch.PerPlatformTimeout,
		RateLimitPerSecond: cfg.Fetch.RateLimitPerSecond,
		RateLimitBurst:     cfg.Fetch.RateLimitBurst,
	}, log)
}

// watchRefreshErrors surfaces failed background refreshes until shutdown.
func watchRefreshErrors(ctx context.Context, service *usecase.MetricsService, log *logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-service.RefreshErrors():
			entry := log.WithError(err)
			var refreshErr *usecase.RefreshError
			if errors.As(err, &refreshErr) {
				entry = entry.WithField("client_id", refreshErr.Key.ClientID)
			}
			entry.Warn("Serving stale metrics after failed refresh")
		}
	}
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Application settings
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Cache     CacheConfig
	Fetch     FetchConfig
	Refresh   RefreshConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Platforms PlatformsConfig
	// client id -> platform -> account reference, seeds the in-memory account store
	ClientAccounts map[string]map[string]string
}

// Server settings
type ServerConfig struct {
	Port           string
	RequestTimeout time.Duration
}

// Logging settings
type LoggingConfig struct {
	Level string
}

type CacheConfig struct {
	HotTTL        time.Duration
	WarmMaxAge    time.Duration
	HotMaxEntries int
}

type FetchConfig struct {
	PerPlatformTimeout time.Duration
	CredentialBlockTTL time.Duration
	RateLimitPerSecond int
	RateLimitBurst     int
}

type RefreshConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Redis is optional; an empty Addr selects the in-process hot tier.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Postgres wins over SQLite when both are set; neither selects the in-memory warm tier.
type StorageConfig struct {
	DatabaseURL   string
	SQLitePath    string
	RunMigrations bool
}

type PlatformsConfig struct {
	SocialAPIURL   string
	SocialAPIToken string
	SearchAPIURL   string
	SearchAPIToken string
}

func Load() (*Config, error) {
	// a missing .env is fine; real environment variables always win
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			RequestTimeout: getDurationEnv("REQUEST_TIMEOUT", "60s"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Cache: CacheConfig{
			HotTTL:        getDurationEnv("HOT_TTL", "5m"),
			WarmMaxAge:    getDurationEnv("WARM_MAX_AGE", "3h"),
			HotMaxEntries: getIntEnv("HOT_MAX_ENTRIES", 10000),
		},
		Fetch: FetchConfig{
			PerPlatformTimeout: getDurationEnv("PER_PLATFORM_TIMEOUT", "30s"),
			CredentialBlockTTL: getDurationEnv("CREDENTIAL_BLOCK_TTL", "30m"),
			RateLimitPerSecond: getIntEnv("RATE_LIMIT_PER_SECOND", 10),
			RateLimitBurst:     getIntEnv("RATE_LIMIT_BURST", 5),
		},
		Refresh: RefreshConfig{
			Workers:   getIntEnv("REFRESH_WORKERS", 4),
			QueueSize: getIntEnv("REFRESH_QUEUE_SIZE", 100),
			Timeout:   getDurationEnv("REFRESH_TIMEOUT", "2m"),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getIntEnv("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "admetrics:"),
		},
		Storage: StorageConfig{
			DatabaseURL:   getEnv("DATABASE_URL", ""),
			SQLitePath:    getEnv("SQLITE_PATH", ""),
			RunMigrations: getBoolEnv("RUN_MIGRATIONS", true),
		},
		Platforms: PlatformsConfig{
			SocialAPIURL:   getEnv("SOCIAL_API_URL", ""),
			SocialAPIToken: getEnv("SOCIAL_API_TOKEN", ""),
			SearchAPIURL:   getEnv("SEARCH_API_URL", ""),
			SearchAPIToken: getEnv("SEARCH_API_TOKEN", ""),
		},
	}

	if raw := getEnv("CLIENT_ACCOUNTS", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &config.ClientAccounts); err != nil {
			return nil, fmt.Errorf("failed to parse CLIENT_ACCOUNTS: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	durations := map[string]time.Duration{
		"REQUEST_TIMEOUT":      c.Server.RequestTimeout,
		"HOT_TTL":              c.Cache.HotTTL,
		"WARM_MAX_AGE":         c.Cache.WarmMaxAge,
		"PER_PLATFORM_TIMEOUT": c.Fetch.PerPlatformTimeout,
		"REFRESH_TIMEOUT":      c.Refresh.Timeout,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	if c.Fetch.CredentialBlockTTL < 0 {
		errs = append(errs, fmt.Errorf("CREDENTIAL_BLOCK_TTL must not be negative, got %s", c.Fetch.CredentialBlockTTL))
	}

	sizes := map[string]int{
		"HOT_MAX_ENTRIES":       c.Cache.HotMaxEntries,
		"RATE_LIMIT_PER_SECOND": c.Fetch.RateLimitPerSecond,
		"RATE_LIMIT_BURST":      c.Fetch.RateLimitBurst,
		"REFRESH_WORKERS":       c.Refresh.Workers,
		"REFRESH_QUEUE_SIZE":    c.Refresh.QueueSize,
	}
	for name, n := range sizes {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, n))
		}
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

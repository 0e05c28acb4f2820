// Package config loads application configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Known provider names, matching the registered client names.
const (
	ProviderAlphaVantage = "alphavantage"
	ProviderYahoo        = "yahoo"
)

// ProviderConfig holds per-provider client settings. Zero values defer to
// the client's own defaults.
type ProviderConfig struct {
	Enabled           bool
	APIKey            string
	BaseURL           string
	RequestsPerMinute int
	RateLimitWindow   time.Duration // window RequestsPerMinute is spread over
	Timeout           time.Duration // per-request HTTP timeout
	MaxRetries        int           // attempts per provider before falling back
	RetryDelay        time.Duration // base backoff delay between attempts
}

// BackupConfig holds the off-site backup settings. The backup service
// stays disabled unless bucket and credentials are all present.
type BackupConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	RetentionDays   int
}

// Configured reports whether the backup settings are complete.
func (b BackupConfig) Configured() bool {
	return b.Bucket != "" && b.AccessKeyID != "" && b.SecretAccessKey != ""
}

// Config holds application configuration.
type Config struct {
	DataDir  string // directory holding the SQLite databases, always absolute
	Port     int
	LogLevel string
	DevMode  bool

	// PrimaryDataProvider is authoritative when set. DEFAULT_DATA_PROVIDER
	// is honored only when PRIMARY_DATA_PROVIDER is absent.
	PrimaryDataProvider  string
	FallbackDataProvider string
	Providers            map[string]ProviderConfig

	ScheduleTime             string // exchange-local HH:MM for the daily workflow
	PeriodicTickInterval     time.Duration
	WorkerConcurrency        int
	BackfillLookbackDaily    int
	BackfillLookbackIntraday int

	Backup BackupConfig
}

// Load reads configuration from environment variables. A .env file in
// the working directory is merged in first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("MARKETSYNC_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	primary := getEnv("PRIMARY_DATA_PROVIDER", "")
	if primary == "" {
		primary = getEnv("DEFAULT_DATA_PROVIDER", ProviderAlphaVantage)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		PrimaryDataProvider:  strings.ToLower(primary),
		FallbackDataProvider: strings.ToLower(getEnv("FALLBACK_DATA_PROVIDER", ProviderYahoo)),
		Providers: map[string]ProviderConfig{
			ProviderAlphaVantage: loadProviderConfig("ALPHAVANTAGE"),
			ProviderYahoo:        loadProviderConfig("YAHOO"),
		},

		ScheduleTime:             getEnv("SCHEDULE_TIME", "17:30"),
		PeriodicTickInterval:     getEnvAsDuration("PERIODIC_TICK_INTERVAL", 15*time.Minute),
		WorkerConcurrency:        getEnvAsInt("WORKER_CONCURRENCY", 8),
		BackfillLookbackDaily:    getEnvAsInt("BACKFILL_LOOKBACK_DAILY", 10),
		BackfillLookbackIntraday: getEnvAsInt("BACKFILL_LOOKBACK_INTRADAY", 3),

		Backup: BackupConfig{
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:          getEnv("BACKUP_S3_REGION", ""),
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadProviderConfig reads one provider's settings under an env prefix,
// e.g. ALPHAVANTAGE_API_KEY.
func loadProviderConfig(prefix string) ProviderConfig {
	return ProviderConfig{
		Enabled:           getEnvAsBool(prefix+"_ENABLED", true),
		APIKey:            getEnv(prefix+"_API_KEY", ""),
		BaseURL:           getEnv(prefix+"_BASE_URL", ""),
		RequestsPerMinute: getEnvAsInt(prefix+"_REQUESTS_PER_MINUTE", 0),
		RateLimitWindow:   getEnvAsDuration(prefix+"_RATE_LIMIT_WINDOW", 0),
		Timeout:           getEnvAsDuration(prefix+"_TIMEOUT", 0),
		MaxRetries:        getEnvAsInt(prefix+"_MAX_RETRIES", 0),
		RetryDelay:        getEnvAsDuration(prefix+"_RETRY_DELAY", 0),
	}
}

// Validate checks the loaded configuration for consistency.
func (c *Config) Validate() error {
	if _, ok := c.Providers[c.PrimaryDataProvider]; !ok {
		return fmt.Errorf("unknown primary data provider %q", c.PrimaryDataProvider)
	}
	if c.FallbackDataProvider != "" {
		if _, ok := c.Providers[c.FallbackDataProvider]; !ok {
			return fmt.Errorf("unknown fallback data provider %q", c.FallbackDataProvider)
		}
	}
	if !c.Providers[c.PrimaryDataProvider].Enabled {
		return fmt.Errorf("primary data provider %q is disabled", c.PrimaryDataProvider)
	}
	if err := validateScheduleTime(c.ScheduleTime); err != nil {
		return err
	}
	if c.PeriodicTickInterval < time.Minute {
		return fmt.Errorf("periodic tick interval %s is below the 1m floor", c.PeriodicTickInterval)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1, got %d", c.WorkerConcurrency)
	}
	return nil
}

// validateScheduleTime checks an HH:MM time of day.
func validateScheduleTime(s string) error {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return fmt.Errorf("schedule time %q is not HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return fmt.Errorf("schedule time %q has invalid hour", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return fmt.Errorf("schedule time %q has invalid minute", s)
	}
	return nil
}

// ScheduleHourMinute returns the parsed daily schedule time. Validate
// has already rejected malformed values.
func (c *Config) ScheduleHourMinute() (hour, minute int) {
	parts := strings.Split(c.ScheduleTime, ":")
	hour, _ = strconv.Atoi(parts[0])
	minute, _ = strconv.Atoi(parts[1])
	return hour, minute
}

// DatabasePath returns the path of a named database file under DataDir.
func (c *Config) DatabasePath(name string) string {
	return filepath.Join(c.DataDir, name+".db")
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// scheduleParser accepts the six-field (seconds first) expressions the scheduler runs
var scheduleParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for ledger.db and cache.db (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	// Client data sources read at the start of every run
	ClientsFile  string
	HoldingsFile string
	// AllocationTolerance is the allowed deviation, in percentage points, of a
	// client's summed allocation from 100
	AllocationTolerance float64

	// Scheduled daily run
	ScheduleEnabled bool
	Schedule        string // cron expression with seconds field
	MarketViewFile  string

	FailedRunRetention time.Duration

	// Stage adapters
	AnthropicAPIKey  string // LLM parser and synthesizer are used when set, rules otherwise
	AnthropicModel   string
	AnthropicBaseURL string
	MFAPIBaseURL     string
	FetchConcurrency int
	FetchLookback    time.Duration
	MarketDataTTL    time.Duration

	Backup BackupConfig
	Policy *Policy
}

// BackupConfig configures ledger backups to an S3 compatible bucket
type BackupConfig struct {
	Enabled         bool
	Schedule        string
	Endpoint        string // empty for AWS, account endpoint for R2
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	Keep            int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("MAESTRO_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	policy, err := LoadPolicy(getEnv("MAESTRO_POLICY_FILE", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:             absDataDir,
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		Port:                getEnvAsInt("MAESTRO_PORT", 8080),
		DevMode:             getEnvAsBool("DEV_MODE", false),
		ClientsFile:         getEnv("CLIENTS_FILE", filepath.Join(absDataDir, "clients.csv")),
		HoldingsFile:        getEnv("HOLDINGS_FILE", filepath.Join(absDataDir, "holdings.csv")),
		AllocationTolerance: getEnvAsFloat("ALLOCATION_TOLERANCE_PCT", 2.0),
		ScheduleEnabled:     getEnvAsBool("SCHEDULE_ENABLED", false),
		Schedule:            getEnv("SCHEDULE", "0 30 8 * * 1-5"), // 08:30 on weekdays
		MarketViewFile:      getEnv("MARKET_VIEW_FILE", filepath.Join(absDataDir, "market_view.txt")),
		FailedRunRetention:  getEnvAsDuration("FAILED_RUN_RETENTION", 30*24*time.Hour),
		AnthropicAPIKey:     getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:      getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		AnthropicBaseURL:    getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		MFAPIBaseURL:        getEnv("MFAPI_BASE_URL", "https://api.mfapi.in"),
		FetchConcurrency:    getEnvAsInt("FETCH_CONCURRENCY", 4),
		FetchLookback:       getEnvAsDuration("FETCH_LOOKBACK", 400*24*time.Hour),
		MarketDataTTL:       getEnvAsDuration("MARKET_DATA_TTL", 6*time.Hour),
		Backup: BackupConfig{
			Enabled:         getEnvAsBool("BACKUP_ENABLED", false),
			Schedule:        getEnv("BACKUP_SCHEDULE", "0 0 2 * * *"),
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:          getEnv("BACKUP_S3_REGION", "auto"),
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			Prefix:          getEnv("BACKUP_S3_PREFIX", "maestro/"),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			Keep:            getEnvAsInt("BACKUP_KEEP", 14),
		},
		Policy: policy,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.AllocationTolerance < 0 {
		return fmt.Errorf("ALLOCATION_TOLERANCE_PCT must not be negative")
	}
	if c.FetchConcurrency < 1 {
		return fmt.Errorf("FETCH_CONCURRENCY must be at least 1")
	}
	if c.ScheduleEnabled {
		if _, err := scheduleParser.Parse(c.Schedule); err != nil {
			return fmt.Errorf("invalid SCHEDULE %q: %w", c.Schedule, err)
		}
	}
	if c.Backup.Enabled {
		if c.Backup.Bucket == "" {
			return fmt.Errorf("BACKUP_S3_BUCKET is required when backups are enabled")
		}
		if _, err := scheduleParser.Parse(c.Backup.Schedule); err != nil {
			return fmt.Errorf("invalid BACKUP_SCHEDULE %q: %w", c.Backup.Schedule, err)
		}
	}
	if c.Policy == nil {
		return fmt.Errorf("policy is not loaded")
	}
	return c.Policy.Validate()
}

// LedgerPath returns the path of the run ledger database
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// CachePath returns the path of the provider cache database
func (c *Config) CachePath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsFloat gets an environment variable as float64 or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as bool or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsDuration gets an environment variable as a Go duration or returns a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

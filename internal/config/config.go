// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir          string // Base directory for the results database and exports (always absolute)
	LogLevel         string
	Port             int
	DevMode          bool
	EngineConfigPath string // Optional YAML file overriding engine defaults
	PricesCSV        string // Price history used by scheduled backtests; synthetic prices when empty
	S3               S3Config
	BackupRetention  int // Days; the newest three backups are always kept
	Schedule         ScheduleConfig
	Engine           EngineConfig
}

// S3Config holds S3-compatible export settings (AWS S3, Cloudflare R2, MinIO)
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Custom endpoint for R2/MinIO; empty uses AWS
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// Enabled reports whether exports are configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// ScheduleConfig holds cron expressions (with seconds) for background jobs
type ScheduleConfig struct {
	NightlyBacktest string
	CoverageGuard   string
	Backup          string
	Maintenance     string
}

// Load reads configuration from environment variables and the optional engine file
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("ALPHASHIELD_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:          absDataDir,
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Port:             getEnvAsInt("PORT", 8080),
		DevMode:          getEnvAsBool("DEV_MODE", false),
		EngineConfigPath: getEnv("ENGINE_CONFIG", ""),
		PricesCSV:        getEnv("PRICES_CSV", ""),
		S3: S3Config{
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("S3_REGION", "auto"),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			Prefix:          getEnv("S3_PREFIX", "alphashield"),
		},
		BackupRetention: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		Schedule: ScheduleConfig{
			NightlyBacktest: getEnv("NIGHTLY_BACKTEST_SCHEDULE", "0 0 2 * * *"),
			CoverageGuard:   getEnv("COVERAGE_GUARD_SCHEDULE", "0 */15 * * * *"),
			Backup:          getEnv("BACKUP_SCHEDULE", "0 30 3 * * *"),
			Maintenance:     getEnv("MAINTENANCE_SCHEDULE", "0 0 4 * * *"),
		},
		Engine: DefaultEngineConfig(),
	}

	if cfg.EngineConfigPath != "" {
		engine, err := LoadEngineConfig(cfg.EngineConfigPath)
		if err != nil {
			return nil, err
		}
		cfg.Engine = engine
	}

	// Environment wins over the file for the capability flag
	if v := os.Getenv("QUANTUM_ENABLED"); v != "" {
		cfg.Engine.Optimizer.QuantumEnabled = getEnvAsBool("QUANTUM_ENABLED", false)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.S3.Enabled() && (c.S3.AccessKeyID == "") != (c.S3.SecretAccessKey == "") {
		return fmt.Errorf("S3 access key id and secret must be set together")
	}
	return c.Engine.Validate()
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

// Package config provides configuration management functionality.
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

// DefaultDatasetURL is the public German credit dataset location.
const DefaultDatasetURL = "https://archive.ics.uci.edu/ml/machine-learning-databases/statlog/german/german.data"

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for model, artifacts and database (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	Dataset  DatasetConfig
	Model    ModelConfig
	Jobs     JobsConfig
	Mirror   MirrorConfig
	Pressure PressureConfig
}

// DatasetConfig controls where training data comes from.
type DatasetConfig struct {
	Path            string
	URL             string
	DownloadTimeout time.Duration
	AllowSynthetic  bool // synthetic stand-in when the file and download are unavailable
}

// ModelConfig controls the model lifecycle.
type ModelConfig struct {
	Dir                  string // model bundle directory
	ArtifactsDir         string // explanation JSON/SVG artifacts
	AutoLoad             bool   // scoring triggers the guarded load when nothing is loaded
	LoadOnStartup        bool
	BackgroundSampleSize int
}

// JobsConfig holds cron schedules (seconds field included).
type JobsConfig struct {
	CleanupSchedule       string
	RetrainSchedule       string // empty disables periodic retraining
	MirrorSchedule        string
	WALCheckpointSchedule string
	MaintenanceSchedule   string
	ArtifactRetention     time.Duration
	ScoreRetention        time.Duration
	RetrainTimeout        time.Duration
}

// MirrorConfig configures the optional S3-compatible bundle mirror.
type MirrorConfig struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	RetentionDays   int
}

// Enabled reports whether a bucket is configured.
func (m MirrorConfig) Enabled() bool {
	return m.Bucket != ""
}

// PressureConfig controls when optional side effects are skipped.
type PressureConfig struct {
	MemoryPercent float64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("RISK_DATA_DIR", "./data")

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	devMode := getEnvAsBool("DEV_MODE", false)

	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("GO_PORT", 8001),
		DevMode:  devMode,
		Dataset: DatasetConfig{
			Path:            getEnv("DATASET_PATH", filepath.Join(absDataDir, "german.data")),
			URL:             getEnv("DATASET_URL", DefaultDatasetURL),
			DownloadTimeout: getEnvAsDuration("DATASET_DOWNLOAD_TIMEOUT", 10*time.Second),
			AllowSynthetic:  getEnvAsBool("ALLOW_SYNTHETIC_DATA", devMode),
		},
		Model: ModelConfig{
			Dir:                  getEnv("MODEL_DIR", filepath.Join(absDataDir, "model")),
			ArtifactsDir:         getEnv("ARTIFACTS_DIR", filepath.Join(absDataDir, "explanations")),
			AutoLoad:             getEnvAsBool("MODEL_AUTOLOAD", true),
			LoadOnStartup:        getEnvAsBool("LOAD_ON_STARTUP", true),
			BackgroundSampleSize: getEnvAsInt("BACKGROUND_SAMPLE_SIZE", 100),
		},
		Jobs: JobsConfig{
			CleanupSchedule:       getEnv("CLEANUP_SCHEDULE", "0 0 3 * * *"),
			RetrainSchedule:       getEnv("RETRAIN_SCHEDULE", ""),
			MirrorSchedule:        getEnv("MIRROR_SCHEDULE", "0 30 3 * * *"),
			WALCheckpointSchedule: getEnv("WAL_CHECKPOINT_SCHEDULE", "0 0 * * * *"),
			MaintenanceSchedule:   getEnv("MAINTENANCE_SCHEDULE", "0 0 4 * * *"),
			ArtifactRetention:     time.Duration(getEnvAsInt("ARTIFACT_RETENTION_DAYS", 7)) * 24 * time.Hour,
			ScoreRetention:        time.Duration(getEnvAsInt("SCORE_RETENTION_DAYS", 365)) * 24 * time.Hour,
			RetrainTimeout:        getEnvAsDuration("RETRAIN_TIMEOUT", 30*time.Minute),
		},
		Mirror: MirrorConfig{
			Bucket:          getEnv("S3_BUCKET", ""),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			Region:          getEnv("S3_REGION", "auto"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			Prefix:          strings.Trim(getEnv("S3_PREFIX", "riskscore"), "/"),
			RetentionDays:   getEnvAsInt("MIRROR_RETENTION_DAYS", 30),
		},
		Pressure: PressureConfig{
			MemoryPercent: getEnvAsFloat("MEMORY_PRESSURE_PERCENT", 90),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DatabasePath returns the score history database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "scores.db")
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Model.BackgroundSampleSize <= 0 {
		return fmt.Errorf("BACKGROUND_SAMPLE_SIZE must be positive, got %d", c.Model.BackgroundSampleSize)
	}
	if c.Dataset.DownloadTimeout <= 0 {
		return fmt.Errorf("DATASET_DOWNLOAD_TIMEOUT must be positive")
	}
	if c.Jobs.ArtifactRetention <= 0 {
		return fmt.Errorf("ARTIFACT_RETENTION_DAYS must be positive")
	}
	if c.Jobs.ScoreRetention < 0 {
		return fmt.Errorf("SCORE_RETENTION_DAYS must not be negative")
	}
	if c.Pressure.MemoryPercent <= 0 || c.Pressure.MemoryPercent > 100 {
		return fmt.Errorf("MEMORY_PRESSURE_PERCENT must be in (0, 100], got %.1f", c.Pressure.MemoryPercent)
	}

	// Mirror credentials are only required once a bucket is configured
	if c.Mirror.Enabled() && (c.Mirror.AccessKeyID == "" || c.Mirror.SecretAccessKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required when S3_BUCKET is set")
	}

	return nil
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Parallel ParallelConfig
	Email    EmailConfig
	Tracker  TrackerConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host    string
	Port    string
	BaseURL string // Public base URL used in report links
}

// DatabaseConfig holds PostgreSQL connection details
type DatabaseConfig struct {
	URL string
}

// ParallelConfig holds Parallel task API configuration
type ParallelConfig struct {
	APIKey         string
	BaseURL        string
	Processor      string        // Default processor tier
	MaxReconnects  int           // Stream reconnection attempts
	ConnectTimeout time.Duration // Stream connect timeout
	ReadTimeout    time.Duration // Stream idle-read timeout (tolerates silent gaps)
	ProbeTimeout   time.Duration // Short timeout for sweeper/polling result probes
}

// EmailConfig holds SendGrid email configuration
type EmailConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// TrackerConfig holds task tracking and recovery configuration
type TrackerConfig struct {
	MaxReportsPerHour int
	StaleAfter        time.Duration // Age before a running/failed task is re-verified
	RetryMinAge       time.Duration // Failed tasks younger than this are left alone
	RetryMaxAge       time.Duration // Failed tasks older than this are not resurrected
	SweepSchedule     string        // Optional cron spec for periodic sweeps ("" disables)
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host:    getEnv("HOST", "0.0.0.0"),
			Port:    getEnv("PORT", "8080"),
			BaseURL: getEnv("BASE_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Parallel: ParallelConfig{
			APIKey:         getEnv("PARALLEL_API_KEY", ""),
			BaseURL:        getEnv("PARALLEL_BASE_URL", "https://api.parallel.ai"),
			Processor:      getEnv("PARALLEL_PROCESSOR", "ultra"),
			MaxReconnects:  getEnvInt("PARALLEL_MAX_RECONNECTS", 10),
			ConnectTimeout: getEnvDuration("PARALLEL_CONNECT_TIMEOUT", 10*time.Second),
			ReadTimeout:    getEnvDuration("PARALLEL_READ_TIMEOUT", 5*time.Minute),
			ProbeTimeout:   getEnvDuration("PARALLEL_PROBE_TIMEOUT", 15*time.Second),
		},
		Email: EmailConfig{
			APIKey:    getEnv("SENDGRID_API_KEY", ""),
			FromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
			FromName:  getEnv("SENDGRID_FROM_NAME", "Market Research"),
		},
		Tracker: TrackerConfig{
			MaxReportsPerHour: getEnvInt("MAX_REPORTS_PER_HOUR", 100),
			StaleAfter:        getEnvDuration("TRACKER_STALE_AFTER", 4*time.Hour),
			RetryMinAge:       getEnvDuration("TRACKER_RETRY_MIN_AGE", time.Hour),
			RetryMaxAge:       getEnvDuration("TRACKER_RETRY_MAX_AGE", 24*time.Hour),
			SweepSchedule:     getEnv("TRACKER_SWEEP_SCHEDULE", "@every 10m"),
		},
	}

	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// ValidateConfig validates that required configuration values are present
func ValidateConfig(config *Config) error {
	if config.Parallel.APIKey == "" {
		return fmt.Errorf("PARALLEL_API_KEY is required")
	}
	if config.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	// SendGrid is optional - email notifications are disabled without it
	return nil
}

// Helper functions for environment variable access
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

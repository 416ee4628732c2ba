// Package config loads service configuration from CAREHAVEN_* environment
// variables with sensible defaults for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Policy        PolicyConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds the optional Redis session backend. An empty URL keeps
// sessions in process memory.
type RedisConfig struct {
	URL string
}

// PolicyConfig holds security policy defaults handling
type PolicyConfig struct {
	// DefaultsFile is an optional YAML file overriding the platform default
	// security policy. Watched for changes when WatchDefaults is set.
	DefaultsFile  string
	WatchDefaults bool
}

// AuditConfig holds audit trail retention
type AuditConfig struct {
	RetentionDays int
	// PruneSchedule is a cron expression for the retention sweep.
	PruneSchedule string
}

// ObservabilityConfig holds logging and metrics settings
type ObservabilityConfig struct {
	LogLevel       string
	MetricsEnabled bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("CAREHAVEN_HOST", "0.0.0.0"),
			Port:            getEnv("CAREHAVEN_PORT", "8080"),
			ReadTimeout:     getEnvDuration("CAREHAVEN_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("CAREHAVEN_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("CAREHAVEN_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("CAREHAVEN_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:          getEnv("CAREHAVEN_POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("CAREHAVEN_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("CAREHAVEN_POSTGRES_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			URL: getEnv("CAREHAVEN_REDIS_URL", ""),
		},
		Policy: PolicyConfig{
			DefaultsFile:  getEnv("CAREHAVEN_POLICY_DEFAULTS_FILE", ""),
			WatchDefaults: getEnvBool("CAREHAVEN_POLICY_WATCH_DEFAULTS", true),
		},
		Audit: AuditConfig{
			RetentionDays: getEnvInt("CAREHAVEN_AUDIT_RETENTION_DAYS", 365),
			PruneSchedule: getEnv("CAREHAVEN_AUDIT_PRUNE_SCHEDULE", "0 3 * * *"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("CAREHAVEN_LOG_LEVEL", "info"),
			MetricsEnabled: getEnvBool("CAREHAVEN_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required (CAREHAVEN_POSTGRES_URL)")
	}
	if c.Audit.RetentionDays < 1 {
		return fmt.Errorf("audit retention must be at least one day")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

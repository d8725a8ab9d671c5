package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Dedup backends for approaching-limit notification markers
const (
	DedupBackendRedis  = "redis"
	DedupBackendMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// Plan limit and throttle configuration
	Limits LimitsConfig

	// Observability configuration
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

	// Health/metrics server (separate port for k8s health checks)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL settings for the role store and usage ledger
type DatabaseConfig struct {
	PostgresURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds settings for hourly counters, notification markers and
// run cost accumulators
type RedisConfig struct {
	URL        string
	PoolSize   int
	MaxRetries int
}

// LimitsConfig holds plan limit settings
type LimitsConfig struct {
	// PlansFile optionally overrides the built-in plan catalog (YAML)
	PlansFile string

	// DedupBackend selects where notification markers live: redis or memory
	DedupBackend string

	// MemoryDedupSize bounds the in-process marker cache
	MemoryDedupSize int

	// Per-caller request throttle
	ThrottleRPS   float64
	ThrottleBurst int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTel observability.OTelConfig
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Limits:        loadLimitsConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TENANTGATE_HOST", "0.0.0.0"),
		Port:            getEnv("TENANTGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TENANTGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TENANTGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TENANTGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TENANTGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("TENANTGATE_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		PostgresURL:     getEnv("TENANTGATE_POSTGRES_URL", ""),
		MaxOpenConns:    getEnvInt("TENANTGATE_POSTGRES_MAX_CONNS", 20),
		MaxIdleConns:    getEnvInt("TENANTGATE_POSTGRES_MIN_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("TENANTGATE_POSTGRES_CONN_LIFETIME", 30*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("TENANTGATE_REDIS_URL", "redis://localhost:6379/0"),
		PoolSize:   getEnvInt("TENANTGATE_REDIS_POOL_SIZE", 10),
		MaxRetries: getEnvInt("TENANTGATE_REDIS_MAX_RETRIES", 3),
	}
}

func loadLimitsConfig() LimitsConfig {
	return LimitsConfig{
		PlansFile:       getEnv("TENANTGATE_PLANS_FILE", ""),
		DedupBackend:    strings.ToLower(getEnv("TENANTGATE_DEDUP_BACKEND", DedupBackendRedis)),
		MemoryDedupSize: getEnvInt("TENANTGATE_MEMORY_DEDUP_SIZE", 10000),
		ThrottleRPS:     getEnvFloat("TENANTGATE_THROTTLE_RPS", 20),
		ThrottleBurst:   getEnvInt("TENANTGATE_THROTTLE_BURST", 40),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       strings.ToLower(getEnv("TENANTGATE_LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("TENANTGATE_LOG_FORMAT", "json")),
		MetricsEnabled: getEnvBool("TENANTGATE_METRICS_ENABLED", true),
		OTel: observability.OTelConfig{
			Enabled:        getEnvBool("TENANTGATE_OTEL_ENABLED", false),
			Endpoint:       getEnv("TENANTGATE_OTEL_ENDPOINT", "localhost:4317"),
			ServiceName:    getEnv("TENANTGATE_OTEL_SERVICE_NAME", "tenantgate"),
			ServiceVersion: getEnv("TENANTGATE_OTEL_SERVICE_VERSION", "1.0.0"),
			Insecure:       getEnvBool("TENANTGATE_OTEL_INSECURE", true),
			SampleRatio:    getEnvFloat("TENANTGATE_OTEL_SAMPLE_RATIO", 1.0),
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}

	switch c.Limits.DedupBackend {
	case DedupBackendRedis:
	case DedupBackendMemory:
		if c.Limits.MemoryDedupSize <= 0 {
			return fmt.Errorf("memory dedup size must be positive")
		}
	default:
		return fmt.Errorf("invalid dedup backend: %s (must be redis or memory)", c.Limits.DedupBackend)
	}

	if c.Limits.ThrottleRPS <= 0 || c.Limits.ThrottleBurst <= 0 {
		return fmt.Errorf("throttle rate and burst must be positive")
	}

	switch c.Observability.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.LogFormat)
	}

	if c.Observability.OTel.Enabled {
		if c.Observability.OTel.Endpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTel.ServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTel.SampleRatio < 0 || c.Observability.OTel.SampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
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

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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

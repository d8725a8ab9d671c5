package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}
			assert.Equal(t, tt.want, getEnv(tt.key, tt.defaultValue))
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		defaultValue bool
		envValue     string
		want         bool
	}{
		{name: "true", envValue: "true", want: true},
		{name: "TRUE", envValue: "TRUE", want: true},
		{name: "one", envValue: "1", want: true},
		{name: "false", defaultValue: true, envValue: "false", want: false},
		{name: "garbage", defaultValue: true, envValue: "yes please", want: false},
		{name: "unset uses default", defaultValue: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("TEST_BOOL", tt.envValue)
			}
			assert.Equal(t, tt.want, getEnvBool("TEST_BOOL", tt.defaultValue))
		})
	}
}

// TestGetEnvNumbers tests the numeric helpers
func TestGetEnvNumbers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_BAD_DURATION", "soon")

	assert.Equal(t, 42, getEnvInt("TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("TEST_BAD_INT", 1))
	assert.Equal(t, 7, getEnvInt("TEST_INT_UNSET", 7))
	assert.Equal(t, 0.25, getEnvFloat("TEST_FLOAT", 1))
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TEST_BAD_DURATION", time.Second))
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080", HealthPort: "9090"},
		Database: DatabaseConfig{
			PostgresURL: "postgres://localhost/tenantgate",
		},
		Redis:  RedisConfig{URL: "redis://localhost:6379/0"},
		Limits: LimitsConfig{
			DedupBackend:    DedupBackendRedis,
			MemoryDedupSize: 100,
			ThrottleRPS:     20,
			ThrottleBurst:   40,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			OTel:      observability.OTelConfig{
				Endpoint:    "localhost:4317",
				ServiceName: "tenantgate",
				SampleRatio: 1,
			},
		},
	}
}

// TestConfigValidate tests configuration validation
func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{
			name:    "missing port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: "server port is required",
		},
		{
			name:    "missing health port",
			mutate:  func(c *Config) { c.Server.HealthPort = "" },
			wantErr: "health port is required",
		},
		{
			name:    "same ports",
			mutate:  func(c *Config) { c.Server.HealthPort = "8080" },
			wantErr: "must be different",
		},
		{
			name:    "missing postgres",
			mutate:  func(c *Config) { c.Database.PostgresURL = "" },
			wantErr: "postgres URL is required",
		},
		{
			name:    "missing redis",
			mutate:  func(c *Config) { c.Redis.URL = "" },
			wantErr: "redis URL is required",
		},
		{
			name:    "unknown dedup backend",
			mutate:  func(c *Config) { c.Limits.DedupBackend = "memcached" },
			wantErr: "invalid dedup backend",
		},
		{
			name: "memory dedup needs a size",
			mutate: func(c *Config) {
				c.Limits.DedupBackend = DedupBackendMemory
				c.Limits.MemoryDedupSize = 0
			},
			wantErr: "memory dedup size",
		},
		{
			name:    "zero throttle burst",
			mutate:  func(c *Config) { c.Limits.ThrottleBurst = 0 },
			wantErr: "throttle rate and burst",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Observability.LogFormat = "xml" },
			wantErr: "invalid log format",
		},
		{
			name: "otel without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTel.Enabled = true
				c.Observability.OTel.Endpoint = ""
			},
			wantErr: "endpoint is required",
		},
		{
			name: "otel sample ratio out of range",
			mutate: func(c *Config) {
				c.Observability.OTel.Enabled = true
				c.Observability.OTel.SampleRatio = 1.5
			},
			wantErr: "sample ratio",
		},
		{
			name:   "otel disabled ignores endpoint",
			mutate: func(c *Config) { c.Observability.OTel.Endpoint = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestLoadConfig tests loading from the environment
func TestLoadConfig(t *testing.T) {
	t.Run("defaults with required settings", func(t *testing.T) {
		t.Setenv("TENANTGATE_POSTGRES_URL", "postgres://db/tenantgate")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, "8080", cfg.Server.Port)
		assert.Equal(t, "9090", cfg.Server.HealthPort)
		assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
		assert.Equal(t, DedupBackendRedis, cfg.Limits.DedupBackend)
		assert.Empty(t, cfg.Limits.PlansFile)
		assert.Equal(t, 20.0, cfg.Limits.ThrottleRPS)
		assert.Equal(t, 40, cfg.Limits.ThrottleBurst)
		assert.Equal(t, "info", cfg.Observability.LogLevel)
		assert.Equal(t, "json", cfg.Observability.LogFormat)
		assert.True(t, cfg.Observability.MetricsEnabled)
		assert.False(t, cfg.Observability.OTel.Enabled)
		assert.Equal(t, "tenantgate", cfg.Observability.OTel.ServiceName)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("TENANTGATE_POSTGRES_URL", "postgres://db/tenantgate")
		t.Setenv("TENANTGATE_PORT", "8000")
		t.Setenv("TENANTGATE_DEDUP_BACKEND", "MEMORY")
		t.Setenv("TENANTGATE_PLANS_FILE", "/etc/tenantgate/plans.yaml")
		t.Setenv("TENANTGATE_LOG_LEVEL", "DEBUG")
		t.Setenv("TENANTGATE_OTEL_ENABLED", "true")
		t.Setenv("TENANTGATE_OTEL_SAMPLE_RATIO", "0.1")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, "8000", cfg.Server.Port)
		assert.Equal(t, DedupBackendMemory, cfg.Limits.DedupBackend)
		assert.Equal(t, "/etc/tenantgate/plans.yaml", cfg.Limits.PlansFile)
		assert.Equal(t, "debug", cfg.Observability.LogLevel)
		assert.True(t, cfg.Observability.OTel.Enabled)
		assert.Equal(t, 0.1, cfg.Observability.OTel.SampleRatio)
	})

	t.Run("missing postgres", func(t *testing.T) {
		t.Setenv("TENANTGATE_POSTGRES_URL", "")

		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration validation failed")
	})
}

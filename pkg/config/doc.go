// Package config provides application configuration management from environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	TENANTGATE_HOST="0.0.0.0"
//	TENANTGATE_PORT="8080"
//	TENANTGATE_HEALTH_PORT="9090"
//	TENANTGATE_READ_TIMEOUT="15s"
//	TENANTGATE_SHUTDOWN_TIMEOUT="30s"
//
// Storage settings:
//
//	TENANTGATE_POSTGRES_URL="postgres://localhost/tenantgate?sslmode=disable"
//	TENANTGATE_POSTGRES_MAX_CONNS="20"
//	TENANTGATE_REDIS_URL="redis://localhost:6379/0"
//	TENANTGATE_REDIS_POOL_SIZE="10"
//
// Limit settings:
//
//	TENANTGATE_PLANS_FILE="/etc/tenantgate/plans.yaml"
//	TENANTGATE_DEDUP_BACKEND="redis"  # redis, memory
//	TENANTGATE_THROTTLE_RPS="20"
//	TENANTGATE_THROTTLE_BURST="40"
//
// Observability settings:
//
//	TENANTGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	TENANTGATE_LOG_FORMAT="json" # json, text
//	TENANTGATE_METRICS_ENABLED="true"
//	TENANTGATE_OTEL_ENABLED="true"
//	TENANTGATE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config

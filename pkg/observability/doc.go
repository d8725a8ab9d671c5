// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Logging
//
// Loggers are logrus loggers. Handlers pick up the request-scoped logger, which
// carries request_id and user_id fields:
//
//	logger := observability.NewLogger("info", "json", os.Stdout)
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).WithField("org_id", orgID).Info("resolved access")
//
// # Metrics
//
// NewMetrics registers the tenantgate_* collectors on a registry. A nil
// *Metrics records nothing, so components can be built without metrics in
// tests.
//
// # Health
//
// Readiness is unhealthy when Postgres is down and degraded when Redis is down,
// because every Redis-backed check fails open.
package observability

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Access control
	AccessDecisionsTotal *prometheus.CounterVec

	// Limits
	HourlyRateLimitChecksTotal *prometheus.CounterVec
	PlanLimitChecksTotal       *prometheus.CounterVec
	LimitNotificationsTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AccessDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_access_decisions_total",
				Help: "Access context resolutions by outcome",
			},
			[]string{"outcome"},
		),
		HourlyRateLimitChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_hourly_rate_limit_checks_total",
				Help: "Hourly run rate limit checks by plan tier and outcome",
			},
			[]string{"plan_tier", "outcome"},
		),
		PlanLimitChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_plan_limit_checks_total",
				Help: "Monthly plan limit checks by limit type and outcome",
			},
			[]string{"limit_type", "outcome"},
		),
		LimitNotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_limit_notifications_total",
				Help: "Usage limit notifications dispatched",
			},
			[]string{"kind", "limit_type"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AccessDecisionsTotal,
		m.HourlyRateLimitChecksTotal,
		m.PlanLimitChecksTotal,
		m.LimitNotificationsTotal,
	)

	return m
}

// RecordAccessDecision counts a resolver outcome
func (m *Metrics) RecordAccessDecision(outcome string) {
	if m == nil {
		return
	}
	m.AccessDecisionsTotal.WithLabelValues(outcome).Inc()
}

// RecordHourlyRateLimit counts a rate limiter outcome
func (m *Metrics) RecordHourlyRateLimit(planTier, outcome string) {
	if m == nil {
		return
	}
	m.HourlyRateLimitChecksTotal.WithLabelValues(planTier, outcome).Inc()
}

// RecordPlanLimit counts a monthly limit check outcome
func (m *Metrics) RecordPlanLimit(limitType, outcome string) {
	if m == nil {
		return
	}
	m.PlanLimitChecksTotal.WithLabelValues(limitType, outcome).Inc()
}

// RecordLimitNotification counts a dispatched notification
func (m *Metrics) RecordLimitNotification(kind, limitType string) {
	if m == nil {
		return
	}
	m.LimitNotificationsTotal.WithLabelValues(kind, limitType).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests, labelled by mux route template
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/ratelimit"
)

// ThrottleConfig defines per-caller request throttling
type ThrottleConfig struct {
	// RequestsPerSecond is the sustained rate per caller
	RequestsPerSecond float64
	// Burst allows temporary bursts above the rate
	Burst int
	// MaxCallers bounds the number of tracked callers
	MaxCallers int
	// BucketTTL resets a caller's bucket this long after it was created
	BucketTTL time.Duration
}

// DefaultThrottleConfig returns default throttle settings
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		RequestsPerSecond: 20,
		Burst:             40,
		MaxCallers:        10000,
		BucketTTL:         10 * time.Minute,
	}
}

// Throttle is an in-process token bucket per caller, protecting the service
// itself. It is independent of the plan-based hourly run limit.
type Throttle struct {
	config   ThrottleConfig
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
}

// NewThrottle creates a per-caller throttle
func NewThrottle(config ThrottleConfig) *Throttle {
	return &Throttle{
		config:   config,
		limiters: expirable.NewLRU[string, *rate.Limiter](config.MaxCallers, nil, config.BucketTTL),
	}
}

func (t *Throttle) limiter(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	if l, ok := t.limiters.Get(key); ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(t.config.RequestsPerSecond), t.config.Burst)
	t.limiters.Add(key, l)
	return l
}

// Handler rejects callers that exceed their bucket with 429
func (t *Throttle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.limiter(callerKey(r)).Allow() {
			httputil.WriteTooManyRequests(w, 1, httputil.ErrorResponse{Error: "Too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// callerKey identifies the caller by user id, falling back to the client address
func callerKey(r *http.Request) string {
	if userID := contextkeys.GetUserID(r.Context()); userID != "" {
		return "user:" + userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

// HourlyChecker checks the hourly run budget of a caller
type HourlyChecker interface {
	Check(ctx context.Context, userID, orgID, planTier string) ratelimit.Result
}

// TierSource resolves an organization's plan tier
type TierSource interface {
	PlanTier(ctx context.Context, orgID string) string
}

// HourlyRunLimit enforces the plan's hourly run budget on run-starting routes.
// Must run after TrustedIdentity and the RBAC gate.
func HourlyRunLimit(limiter HourlyChecker, tiers TierSource) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := contextkeys.GetUserID(r.Context())
			orgID := mux.Vars(r)["org_id"]

			result := limiter.Check(r.Context(), userID, orgID, tiers.PlanTier(r.Context(), orgID))
			if !result.CanProceed {
				retryAfter := 0
				if result.RetryAfterSeconds != nil {
					retryAfter = *result.RetryAfterSeconds
				}
				httputil.WriteTooManyRequests(w, retryAfter, result.Exceeded)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

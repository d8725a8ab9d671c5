package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/plans"
)

const (
	// KeyPrefix namespaces every hourly window key
	KeyPrefix = "rate_limit:hourly_runs"

	// WindowTTL outlives the hour so a key never expires mid-window
	WindowTTL = 61 * time.Minute

	// ErrorCodeHourlyRateLimitExceeded identifies a denial to clients
	ErrorCodeHourlyRateLimitExceeded = "HOURLY_RATE_LIMIT_EXCEEDED"

	// EventHourlyRateLimitHit is the analytics event logged on every denial
	EventHourlyRateLimitHit = "hourly_rate_limit_hit"

	windowLayout = "2006010215"
)

// Result is the outcome of an hourly check. Limit is nil for unlimited tiers
// and when the check failed open.
type Result struct {
	CanProceed        bool           `json:"can_proceed"`
	CurrentCount      int64          `json:"current_count"`
	Limit             *int64         `json:"limit"`
	PlanTier          plans.Tier     `json:"plan_tier"`
	RetryAfterSeconds *int           `json:"retry_after_seconds"`
	Exceeded          *ExceededError `json:"error_response"`
}

// ExceededError is the client payload for a denied run
type ExceededError struct {
	ErrorCode         string           `json:"error_code"`
	Message           string           `json:"message"`
	CurrentCount      int64            `json:"current_count"`
	Limit             int64            `json:"limit"`
	PlanTier          plans.Tier       `json:"plan_tier"`
	PlanDisplayName   string           `json:"plan_display_name"`
	RetryAfterSeconds int              `json:"retry_after_seconds"`
	ResetAt           string           `json:"reset_at"`
	UpgradeCTA        plans.UpgradeCTA `json:"upgrade_cta"`
}

func (e *ExceededError) Error() string {
	return e.Message
}

// HourlyLimiter enforces per-plan run quotas over fixed UTC clock hours.
//
// Members of an organization share the organization's budget: the window is
// keyed by org id when one is given and by user id otherwise.
type HourlyLimiter struct {
	store   CounterStore
	catalog *plans.Catalog
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a HourlyLimiter
type Option func(*HourlyLimiter)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *HourlyLimiter) { l.now = now }
}

// WithMetrics records check outcomes
func WithMetrics(m *observability.Metrics) Option {
	return func(l *HourlyLimiter) { l.metrics = m }
}

// NewHourlyLimiter creates a limiter. A nil catalog uses the built-in plans.
func NewHourlyLimiter(store CounterStore, catalog *plans.Catalog, logger logrus.FieldLogger, opts ...Option) *HourlyLimiter {
	if catalog == nil {
		catalog = plans.DefaultCatalog()
	}
	l := &HourlyLimiter{
		store:   store,
		catalog: catalog,
		logger:  logger,
		tracer:  otel.Tracer(observability.TracerName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ContextID picks the identity whose budget a run draws from. Runs inside an
// organization draw from one pooled budget shared by every member, not from a
// per-user budget. The pooling is intentional; personal runs use the user id.
func ContextID(userID, orgID string) string {
	if orgID != "" {
		return orgID
	}
	return userID
}

// WindowKey returns the counter key for contextID during the UTC hour containing t
func WindowKey(contextID string, t time.Time) string {
	return fmt.Sprintf("%s:%s:%s", KeyPrefix, contextID, t.UTC().Format(windowLayout))
}

// Check counts one run against the caller's hourly budget.
//
// Unlimited tiers never touch the store. Store failures fail open.
func (l *HourlyLimiter) Check(ctx context.Context, userID, orgID, planTier string) Result {
	tier := l.tier(planTier, orgID)
	limit := l.catalog.Limits(tier).HourlyRunLimit

	ctx, span := l.tracer.Start(ctx, "ratelimit.HourlyCheck", trace.WithAttributes(
		attribute.String("org.id", orgID),
		attribute.String("plan.tier", string(tier)),
	))
	defer span.End()

	if limit == nil {
		l.metrics.RecordHourlyRateLimit(string(tier), "unlimited")
		return Result{CanProceed: true, PlanTier: tier}
	}

	now := l.now().UTC()
	key := WindowKey(ContextID(userID, orgID), now)

	count, err := l.increment(ctx, key)
	if err != nil {
		span.RecordError(err)
		l.metrics.RecordHourlyRateLimit(string(tier), "fail_open")
		l.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"org_id":  orgID,
		}).Warn("Hourly rate limit check failed, allowing run")
		return Result{CanProceed: true, PlanTier: tier}
	}

	span.SetAttributes(attribute.Int64("ratelimit.count", count))
	result := Result{
		CanProceed:   count <= *limit,
		CurrentCount: count,
		Limit:        limit,
		PlanTier:     tier,
	}
	if result.CanProceed {
		l.metrics.RecordHourlyRateLimit(string(tier), "allowed")
		return result
	}

	retryAfter := secondsUntilNextHour(now)
	result.RetryAfterSeconds = &retryAfter
	result.Exceeded = l.exceeded(count, *limit, tier, orgID, now, retryAfter)

	l.metrics.RecordHourlyRateLimit(string(tier), "denied")
	l.logger.WithFields(logrus.Fields{
		"event":         EventHourlyRateLimitHit,
		"user_id":       userID,
		"org_id":        orgID,
		"plan_tier":     tier,
		"current_count": count,
		"limit":         *limit,
	}).Infof("Hourly rate limit hit: usage=%d/%d", count, *limit)

	return result
}

// CurrentUsage reads the caller's count for the current hour without
// incrementing it. Store failures report (0, 3600).
func (l *HourlyLimiter) CurrentUsage(ctx context.Context, userID, orgID string) (int64, int) {
	now := l.now().UTC()
	count, err := l.store.Get(ctx, WindowKey(ContextID(userID, orgID), now))
	if err != nil {
		l.logger.WithError(err).WithField("user_id", userID).Warn("Failed to read hourly usage")
		return 0, 3600
	}
	return count, secondsUntilNextHour(now)
}

// Limit returns the tier's hourly run limit, nil when unlimited
func (l *HourlyLimiter) Limit(tier plans.Tier) *int64 {
	return l.catalog.Limits(tier).HourlyRunLimit
}

// increment bumps the window counter and refreshes its TTL on every call,
// so a key whose first EXPIRE was lost still expires.
func (l *HourlyLimiter) increment(ctx context.Context, key string) (int64, error) {
	if s, ok := l.store.(expiringIncrementer); ok {
		return s.IncrementWithTTL(ctx, key, WindowTTL)
	}

	count, err := l.store.Increment(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := l.store.Expire(ctx, key, WindowTTL); err != nil {
		return 0, err
	}
	return count, nil
}

func (l *HourlyLimiter) tier(raw, orgID string) plans.Tier {
	tier := plans.NormalizeTier(raw)
	if !l.catalog.Known(tier) {
		l.logger.WithFields(logrus.Fields{
			"org_id":    orgID,
			"plan_tier": raw,
		}).Warn("Unknown plan tier, applying free limits")
		return plans.TierFree
	}
	return tier
}

func (l *HourlyLimiter) exceeded(count, limit int64, tier plans.Tier, orgID string, now time.Time, retryAfter int) *ExceededError {
	display := l.catalog.DisplayName(tier)
	return &ExceededError{
		ErrorCode: ErrorCodeHourlyRateLimitExceeded,
		Message: fmt.Sprintf(
			"Hourly rate limit exceeded. You've made %d requests this hour. Your %s plan allows %d per hour.",
			count, display, limit),
		CurrentCount:      count,
		Limit:             limit,
		PlanTier:          tier,
		PlanDisplayName:   display,
		RetryAfterSeconds: retryAfter,
		ResetAt:           NextHour(now).Format(time.RFC3339),
		UpgradeCTA: plans.UpgradeCTA{
			Text:        "Upgrade Plan",
			URL:         plans.BillingURL(orgID),
			Description: l.catalog.HourlyUpgradeDescription(),
		},
	}
}

// NextHour returns the start of the UTC hour after t
func NextHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour).Add(time.Hour)
}

func secondsUntilNextHour(now time.Time) int {
	secs := int(math.Ceil(NextHour(now).Sub(now.UTC()).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

package orgs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tenantgate/pkg/async"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/plans"
)

// DispatchFunc runs a notification without blocking the caller
type DispatchFunc func(ctx context.Context, taskName string, fn func(context.Context) error)

// Checker enforces monthly plan ceilings and sends usage notifications.
//
// Checks fail open: when the ledger is unreachable or the organization is
// unknown the action is allowed and a warning is logged.
type Checker struct {
	ledger   Ledger
	dedup    DedupCache
	notifier Notifier
	catalog  *plans.Catalog
	logger   logrus.FieldLogger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	dispatch DispatchFunc
}

// CheckerOption configures a Checker
type CheckerOption func(*Checker)

// WithCatalog sets the plan catalog used for display names and upgrade copy
func WithCatalog(catalog *plans.Catalog) CheckerOption {
	return func(c *Checker) { c.catalog = catalog }
}

// WithMetrics records check outcomes and notifications
func WithMetrics(m *observability.Metrics) CheckerOption {
	return func(c *Checker) { c.metrics = m }
}

// WithDispatcher replaces the background dispatcher
func WithDispatcher(dispatch DispatchFunc) CheckerOption {
	return func(c *Checker) { c.dispatch = dispatch }
}

// NewChecker creates a limit checker
func NewChecker(ledger Ledger, dedup DedupCache, notifier Notifier, logger logrus.FieldLogger, opts ...CheckerOption) *Checker {
	c := &Checker{
		ledger:   ledger,
		dedup:    dedup,
		notifier: notifier,
		catalog:  plans.DefaultCatalog(),
		logger:   logger,
		tracer:   otel.Tracer(observability.TracerName),
		dispatch: func(ctx context.Context, taskName string, fn func(context.Context) error) {
			async.GoDetached(ctx, 10*time.Second, taskName, fn)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckAgentLimit reports whether the organization may create another agent.
// The ceiling is compared against the live agent count, not the ledger.
func (c *Checker) CheckAgentLimit(ctx context.Context, orgID string) LimitCheckResult {
	ctx, span := c.tracer.Start(ctx, "orgs.CheckAgentLimit", trace.WithAttributes(attribute.String("org.id", orgID)))
	defer span.End()

	var (
		info  *PlanAndUsage
		count int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		info, err = c.ledger.GetPlanAndUsage(gctx, orgID)
		return err
	})
	g.Go(func() error {
		var err error
		count, err = c.ledger.CountLiveAgents(gctx, orgID)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return c.failOpen(orgID, LimitTypeAgents, err)
	}

	return c.evaluate(ctx, info, LimitTypeAgents, count, info.AgentLimit)
}

// CheckRunLimit reports whether the organization may start another run this month
func (c *Checker) CheckRunLimit(ctx context.Context, orgID string) LimitCheckResult {
	ctx, span := c.tracer.Start(ctx, "orgs.CheckRunLimit", trace.WithAttributes(attribute.String("org.id", orgID)))
	defer span.End()

	info, err := c.ledger.GetPlanAndUsage(ctx, orgID)
	if err != nil {
		span.RecordError(err)
		return c.failOpen(orgID, LimitTypeRuns, err)
	}

	return c.evaluate(ctx, info, LimitTypeRuns, info.RunsExecuted, info.RunLimitMonthly)
}

func (c *Checker) evaluate(ctx context.Context, info *PlanAndUsage, limitType LimitType, count int64, limit *int64) LimitCheckResult {
	result := LimitCheckResult{
		Allowed:      true,
		LimitType:    limitType,
		CurrentCount: count,
		Limit:        limit,
		PlanTier:     info.PlanTier,
	}
	if limit == nil {
		c.metrics.RecordPlanLimit(string(limitType), "unlimited")
		return result
	}

	result.Allowed = count < *limit
	if result.Allowed {
		c.metrics.RecordPlanLimit(string(limitType), "allowed")
		return result
	}

	c.metrics.RecordPlanLimit(string(limitType), "denied")
	result.Exceeded = c.exceeded(info, limitType, count, *limit)
	c.limitHit(ctx, info, limitType, count, *limit)
	return result
}

func (c *Checker) exceeded(info *PlanAndUsage, limitType LimitType, count, limit int64) *LimitExceededError {
	display := c.displayName(info)
	e := &LimitExceededError{
		CurrentCount:    count,
		Limit:           limit,
		PlanTier:        info.PlanTier,
		PlanDisplayName: display,
		OrgID:           info.OrgID,
		OrgName:         info.OrgName,
		UpgradeCTA: plans.UpgradeCTA{
			Text:        "Upgrade Plan",
			URL:         plans.BillingURL(info.OrgID),
			Description: c.catalog.MonthlyUpgradeDescription(),
		},
	}

	switch limitType {
	case LimitTypeAgents:
		e.ErrorCode = ErrorCodeAgentLimitExceeded
		e.Message = fmt.Sprintf("Agent limit reached. Your %s plan allows %d agents. Upgrade to create more.", display, limit)
	case LimitTypeRuns:
		e.ErrorCode = ErrorCodeRunLimitExceeded
		e.Message = fmt.Sprintf("Monthly run limit reached. Your %s plan allows %d runs per month. Upgrade for more runs.", display, limit)
		if info.PeriodEnd != nil {
			e.PeriodEnd = formatPeriod(info.PeriodEnd)
			e.UpgradeCTA.Description = fmt.Sprintf("Upgrade to continue or wait until %s for limit reset", e.PeriodEnd)
		}
	}
	return e
}

// limitHit logs the analytics event and fires the "limit reached" notification
func (c *Checker) limitHit(ctx context.Context, info *PlanAndUsage, limitType LimitType, count, limit int64) {
	c.logger.WithFields(logrus.Fields{
		"event":         EventOrgLimitHit,
		"org_id":        info.OrgID,
		"limit_type":    limitType.EventName(),
		"plan_tier":     info.PlanTier,
		"current_count": count,
		"limit":         limit,
		"usage_percent": math.Round(usagePercent(count, limit)*10) / 10,
	}).Infof("Org limit hit: usage=%d/%d", count, limit)

	notice := ReachedNotice{
		OrgID:     info.OrgID,
		OrgName:   info.OrgName,
		PlanTier:  info.PlanTier,
		LimitType: limitType,
		Limit:     limit,
	}
	c.metrics.RecordLimitNotification("reached", string(limitType))
	c.dispatch(ctx, "usage limit reached notification", func(ctx context.Context) error {
		return c.notifier.UsageLimitReached(ctx, notice)
	})
}

// IncrementAgentUsage records a created agent, then warns the owners if the
// live agent count has crossed the approaching threshold.
func (c *Checker) IncrementAgentUsage(ctx context.Context, orgID string) (int64, error) {
	newCount, err := c.ledger.IncrementAgentCount(ctx, orgID)
	if err != nil {
		return 0, fmt.Errorf("failed to increment agent usage: %w", err)
	}
	if newCount <= 0 {
		return newCount, nil
	}

	info, err := c.ledger.GetPlanAndUsage(ctx, orgID)
	if err != nil {
		c.warnNotifyFailure(orgID, LimitTypeAgents, err)
		return newCount, nil
	}
	if info.AgentLimit == nil || *info.AgentLimit <= 0 {
		return newCount, nil
	}

	live, err := c.ledger.CountLiveAgents(ctx, orgID)
	if err != nil {
		c.warnNotifyFailure(orgID, LimitTypeAgents, err)
		return newCount, nil
	}

	c.notifyIfApproaching(ctx, info, LimitTypeAgents, live, *info.AgentLimit)
	return newCount, nil
}

// IncrementRunUsage records a finished run with its token and cost totals,
// then warns the owners if the month's run count has crossed the threshold.
func (c *Checker) IncrementRunUsage(ctx context.Context, orgID string, tokensUsed, costCents int64) (int64, error) {
	newCount, err := c.ledger.IncrementRunCount(ctx, orgID, tokensUsed, costCents)
	if err != nil {
		return 0, fmt.Errorf("failed to increment run usage: %w", err)
	}
	if newCount <= 0 {
		return newCount, nil
	}

	info, err := c.ledger.GetPlanAndUsage(ctx, orgID)
	if err != nil {
		c.warnNotifyFailure(orgID, LimitTypeRuns, err)
		return newCount, nil
	}
	if info.RunLimitMonthly == nil || *info.RunLimitMonthly <= 0 {
		return newCount, nil
	}

	c.notifyIfApproaching(ctx, info, LimitTypeRuns, newCount, *info.RunLimitMonthly)
	return newCount, nil
}

// notifyIfApproaching sends at most one warning per org, limit type and
// marker lifetime, and only while usage sits in [80%, 100%).
func (c *Checker) notifyIfApproaching(ctx context.Context, info *PlanAndUsage, limitType LimitType, current, limit int64) {
	percentage := int(math.Round(usagePercent(current, limit)))
	if percentage < ApproachingThreshold || percentage >= 100 {
		return
	}

	logger := c.logger.WithFields(logrus.Fields{
		"org_id":     info.OrgID,
		"limit_type": limitType,
	})

	key := approachingKey(info.OrgID, limitType)
	sent, err := c.dedup.Get(ctx, key)
	if err != nil {
		logger.WithError(err).Warn("Failed to check approaching notification marker")
		sent = false
	}
	if sent {
		return
	}

	logger.WithField("percentage", percentage).Infof("Org approaching limit: usage=%d/%d", current, limit)

	// Mark before dispatching so a concurrent increment sees the marker.
	if err := c.dedup.Set(ctx, key, ApproachingNotificationTTL); err != nil {
		logger.WithError(err).Warn("Failed to set approaching notification marker")
	}

	notice := ApproachingNotice{
		OrgID:        info.OrgID,
		OrgName:      info.OrgName,
		PlanTier:     info.PlanTier,
		LimitType:    limitType,
		CurrentUsage: current,
		Limit:        limit,
		Remaining:    limit - current,
		Percentage:   percentage,
	}
	c.metrics.RecordLimitNotification("approaching", string(limitType))
	c.dispatch(ctx, "usage limit approaching notification", func(ctx context.Context) error {
		return c.notifier.UsageLimitApproaching(ctx, notice)
	})
}

// Summary reports the organization's usage for the current month
func (c *Checker) Summary(ctx context.Context, orgID string) (*UsageSummary, error) {
	var (
		info *PlanAndUsage
		live int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		info, err = c.ledger.GetPlanAndUsage(gctx, orgID)
		return err
	})
	g.Go(func() error {
		var err error
		live, err = c.ledger.CountLiveAgents(gctx, orgID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &UsageSummary{
		OrgID:              info.OrgID,
		OrgName:            info.OrgName,
		PlanTier:           info.PlanTier,
		PlanDisplayName:    c.displayName(info),
		BillingStatus:      info.BillingStatus,
		Agents:             newMeter(live, info.AgentLimit),
		Runs:               newMeter(info.RunsExecuted, info.RunLimitMonthly),
		TotalTokensUsed:    info.TotalTokensUsed,
		EstimatedCostCents: info.EstimatedCostCents,
		PeriodStart:        formatPeriod(info.PeriodStart),
		PeriodEnd:          formatPeriod(info.PeriodEnd),
	}, nil
}

// PlanTier returns the organization's tier, or "" when it cannot be read
func (c *Checker) PlanTier(ctx context.Context, orgID string) string {
	info, err := c.ledger.GetPlanAndUsage(ctx, orgID)
	if err != nil {
		c.logger.WithError(err).WithField("org_id", orgID).Warn("Failed to read plan tier")
		return ""
	}
	return string(info.PlanTier)
}

func (c *Checker) failOpen(orgID string, limitType LimitType, err error) LimitCheckResult {
	c.metrics.RecordPlanLimit(string(limitType), "fail_open")

	logger := c.logger.WithFields(logrus.Fields{"org_id": orgID, "limit_type": limitType})
	if errors.Is(err, ErrOrganizationNotFound) {
		logger.Warn("Organization not found for limit check, allowing")
	} else {
		logger.WithError(err).Warn("Limit check failed, allowing")
	}

	return LimitCheckResult{
		Allowed:   true,
		LimitType: limitType,
		PlanTier:  PlanTierUnknown,
	}
}

func (c *Checker) warnNotifyFailure(orgID string, limitType LimitType, err error) {
	c.logger.WithError(err).WithFields(logrus.Fields{
		"org_id":     orgID,
		"limit_type": limitType,
	}).Warn("Failed to evaluate approaching limit notification")
}

func (c *Checker) displayName(info *PlanAndUsage) string {
	if info.PlanDisplayName != "" {
		return info.PlanDisplayName
	}
	return c.catalog.DisplayName(info.PlanTier)
}

func usagePercent(current, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(current) / float64(limit) * 100
}

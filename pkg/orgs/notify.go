package orgs

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantgate/pkg/plans"
)

const (
	WorkflowUsageApproaching = "org-usage-approaching"
	WorkflowUsageReached     = "org-usage-limit-reached"
)

// ApproachingNotice tells org owners they have used most of a ceiling
type ApproachingNotice struct {
	OrgID        string     `json:"org_id"`
	OrgName      string     `json:"org_name"`
	PlanTier     plans.Tier `json:"plan_tier"`
	LimitType    LimitType  `json:"limit_type"`
	CurrentUsage int64      `json:"current_usage"`
	Limit        int64      `json:"limit"`
	Remaining    int64      `json:"remaining"`
	Percentage   int        `json:"percentage"`
}

// ReachedNotice tells org owners a ceiling blocked an action
type ReachedNotice struct {
	OrgID     string     `json:"org_id"`
	OrgName   string     `json:"org_name"`
	PlanTier  plans.Tier `json:"plan_tier"`
	LimitType LimitType  `json:"limit_type"`
	Limit     int64      `json:"limit"`
}

// Notifier delivers usage limit notifications to organization owners
type Notifier interface {
	UsageLimitApproaching(ctx context.Context, notice ApproachingNotice) error
	UsageLimitReached(ctx context.Context, notice ReachedNotice) error
}

// LogNotifier emits notifications as structured log events for a downstream
// delivery pipeline to pick up
type LogNotifier struct {
	logger logrus.FieldLogger
}

// NewLogNotifier creates a notifier that logs every notice
func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) UsageLimitApproaching(ctx context.Context, notice ApproachingNotice) error {
	n.logger.WithFields(logrus.Fields{
		"workflow":      WorkflowUsageApproaching,
		"org_id":        notice.OrgID,
		"org_name":      notice.OrgName,
		"plan_tier":     notice.PlanTier,
		"limit_type":    notice.LimitType.Display(),
		"current_usage": notice.CurrentUsage,
		"limit":         notice.Limit,
		"remaining":     notice.Remaining,
		"percentage":    notice.Percentage,
	}).Info("Usage limit approaching notification")
	return nil
}

func (n *LogNotifier) UsageLimitReached(ctx context.Context, notice ReachedNotice) error {
	action := "run more agents"
	if notice.LimitType == LimitTypeAgents {
		action = "create more agents"
	}
	n.logger.WithFields(logrus.Fields{
		"workflow":       WorkflowUsageReached,
		"org_id":         notice.OrgID,
		"org_name":       notice.OrgName,
		"plan_tier":      notice.PlanTier,
		"limit_type":     notice.LimitType.Display(),
		"limit":          notice.Limit,
		"action_blocked": action,
	}).Info("Usage limit reached notification")
	return nil
}

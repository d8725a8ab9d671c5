package orgs

import (
	"fmt"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/plans"
)

// LimitType identifies a monthly plan ceiling
type LimitType string

const (
	LimitTypeAgents LimitType = "agents"
	LimitTypeRuns   LimitType = "runs"
)

// EventName is the analytics name logged when the limit blocks an action
func (t LimitType) EventName() string {
	if t == LimitTypeAgents {
		return "agent_creation"
	}
	return "monthly_runs"
}

// Display is the limit's name in notification copy
func (t LimitType) Display() string {
	if t == LimitTypeAgents {
		return "agent"
	}
	return "monthly run"
}

const (
	ErrorCodeAgentLimitExceeded = "ORG_AGENT_LIMIT_EXCEEDED"
	ErrorCodeRunLimitExceeded   = "ORG_RUN_LIMIT_MONTHLY_EXCEEDED"

	// EventOrgLimitHit is the analytics event logged on every denial
	EventOrgLimitHit = "org_limit_hit"

	// ApproachingThreshold is the usage percentage that triggers a warning
	ApproachingThreshold = 80

	// ApproachingNotificationTTL covers a billing period with some slack
	ApproachingNotificationTTL = 32 * 24 * time.Hour

	// PlanTierUnknown is reported when a check failed open
	PlanTierUnknown plans.Tier = "unknown"

	periodLayout = "2006-01-02"
)

// PlanAndUsage is an organization's plan ceilings joined with the ledger row
// for the current calendar month. Counters are zero when no row exists yet.
type PlanAndUsage struct {
	OrgID              string
	OrgName            string
	PlanTier           plans.Tier
	PlanDisplayName    string
	BillingStatus      string
	AgentLimit         *int64
	RunLimitMonthly    *int64
	MonthlyPriceCents  *int64
	AgentsCreated      int64
	RunsExecuted       int64
	TotalTokensUsed    int64
	EstimatedCostCents int64
	PeriodStart        *time.Time
	PeriodEnd          *time.Time
}

// LimitCheckResult is the outcome of a monthly limit check. Limit is nil when
// the plan is unlimited or the check failed open.
type LimitCheckResult struct {
	Allowed      bool                `json:"allowed"`
	LimitType    LimitType           `json:"limit_type"`
	CurrentCount int64               `json:"current_count"`
	Limit        *int64              `json:"limit"`
	PlanTier     plans.Tier          `json:"plan_tier"`
	Exceeded     *LimitExceededError `json:"error_response"`
}

// LimitExceededError is the client payload for a blocked action
type LimitExceededError struct {
	ErrorCode       string           `json:"error_code"`
	Message         string           `json:"message"`
	CurrentCount    int64            `json:"current_count"`
	Limit           int64            `json:"limit"`
	PlanTier        plans.Tier       `json:"plan_tier"`
	PlanDisplayName string           `json:"plan_display_name"`
	OrgID           string           `json:"org_id"`
	OrgName         string           `json:"org_name"`
	PeriodEnd       string           `json:"period_end,omitempty"`
	UpgradeCTA      plans.UpgradeCTA `json:"upgrade_cta"`
}

func (e *LimitExceededError) Error() string {
	return e.Message
}

// UsageMeter is one resource's consumption against its ceiling
type UsageMeter struct {
	Used    int64    `json:"used"`
	Limit   *int64   `json:"limit"`
	Percent *float64 `json:"percent"`
}

// UsageSummary is the organization's usage for the current month
type UsageSummary struct {
	OrgID              string     `json:"org_id"`
	OrgName            string     `json:"org_name"`
	PlanTier           plans.Tier `json:"plan_tier"`
	PlanDisplayName    string     `json:"plan_display_name"`
	BillingStatus      string     `json:"billing_status,omitempty"`
	Agents             UsageMeter `json:"agents"`
	Runs               UsageMeter `json:"runs"`
	TotalTokensUsed    int64      `json:"total_tokens_used"`
	EstimatedCostCents int64      `json:"estimated_cost_cents"`
	PeriodStart        string     `json:"period_start,omitempty"`
	PeriodEnd          string     `json:"period_end,omitempty"`
}

func newMeter(used int64, limit *int64) UsageMeter {
	m := UsageMeter{Used: used, Limit: limit}
	if limit != nil && *limit > 0 {
		pct := usagePercent(used, *limit)
		m.Percent = &pct
	}
	return m
}

func formatPeriod(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(periodLayout)
}

func approachingKey(orgID string, limitType LimitType) string {
	return fmt.Sprintf("org_approaching_notification:%s:%s", orgID, limitType)
}

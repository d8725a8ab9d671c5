package api

import (
	"github.com/platinummonkey/tenantgate/pkg/costs"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
	"github.com/platinummonkey/tenantgate/pkg/plans"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

// AuthContextResponse lists the caller's organizations
type AuthContextResponse struct {
	UserID        string                  `json:"user_id"`
	Organizations []rbac.MembershipAccess `json:"organizations"`
}

// AccessResponse is the caller's role and permissions in one organization
type AccessResponse struct {
	UserID      string            `json:"user_id"`
	OrgID       string            `json:"org_id"`
	Role        rbac.Role         `json:"role"`
	Permissions []rbac.Permission `json:"permissions"`
}

// HourlyUsage is the caller's consumption of the hourly run budget
type HourlyUsage struct {
	CurrentCount      int64      `json:"current_count"`
	Limit             *int64     `json:"limit"`
	PlanTier          plans.Tier `json:"plan_tier"`
	SecondsUntilReset int        `json:"seconds_until_reset"`
}

// UsageResponse is the organization's monthly usage plus the caller's hourly usage
type UsageResponse struct {
	*orgs.UsageSummary
	Hourly HourlyUsage `json:"hourly_runs"`
}

// ReserveAgentResponse confirms an agent slot was recorded
type ReserveAgentResponse struct {
	OrgID         string `json:"org_id"`
	AgentsCreated int64  `json:"agents_created"`
}

// StartRunRequest optionally names the agent being run
type StartRunRequest struct {
	AgentID string `json:"agent_id,omitempty"`
}

// StartRunResponse returns the id under which usage is recorded
type StartRunResponse struct {
	RunID   string `json:"run_id"`
	OrgID   string `json:"org_id"`
	AgentID string `json:"agent_id,omitempty"`
}

// RecordUsageRequest reports LLM and tool usage for a run
type RecordUsageRequest struct {
	Model               string `json:"model"`
	PromptTokens        int64  `json:"prompt_tokens"`
	CompletionTokens    int64  `json:"completion_tokens"`
	CacheReadTokens     int64  `json:"cache_read_tokens"`
	CacheCreationTokens int64  `json:"cache_creation_tokens"`
	ToolExecutionMS     int64  `json:"tool_execution_ms"`
}

// RecordUsageResponse returns the priced cost of the reported call
type RecordUsageResponse struct {
	RunID      string `json:"run_id"`
	CostMicros int64  `json:"cost_micros"`
}

// CompleteRunResponse returns the run's final totals and the month's run count
type CompleteRunResponse struct {
	Totals       *costs.Totals `json:"totals"`
	RunsExecuted int64         `json:"runs_executed"`
}

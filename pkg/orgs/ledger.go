package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/plans"
)

// ErrOrganizationNotFound is returned when the organization has no row
var ErrOrganizationNotFound = errors.New("organization not found")

// Ledger is the persistent monthly usage record for organizations
type Ledger interface {
	// GetPlanAndUsage returns ErrOrganizationNotFound for unknown orgs
	GetPlanAndUsage(ctx context.Context, orgID string) (*PlanAndUsage, error)
	// CountLiveAgents counts the agents that exist right now
	CountLiveAgents(ctx context.Context, orgID string) (int64, error)
	// IncrementAgentCount bumps agents_created for the current month
	IncrementAgentCount(ctx context.Context, orgID string) (int64, error)
	// IncrementRunCount bumps runs_executed and adds tokens and cost for the current month
	IncrementRunCount(ctx context.Context, orgID string, tokensUsed, costCents int64) (int64, error)
}

// PostgresLedger implements Ledger over organizations, plan_tiers,
// organization_usage and agents
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a new ledger
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// GetPlanAndUsage reads plan ceilings and this month's counters in one query
func (l *PostgresLedger) GetPlanAndUsage(ctx context.Context, orgID string) (*PlanAndUsage, error) {
	query := `
		SELECT
			o.id, o.name, o.plan_tier, o.billing_status,
			pt.agent_limit, pt.run_limit_monthly, pt.display_name, pt.monthly_price_cents,
			COALESCE(u.agents_created, 0), COALESCE(u.runs_executed, 0),
			COALESCE(u.total_tokens_used, 0), COALESCE(u.estimated_cost_cents, 0),
			u.period_start, u.period_end
		FROM organizations o
		JOIN plan_tiers pt ON pt.tier_name = o.plan_tier
		LEFT JOIN organization_usage u ON u.org_id = o.id
			AND u.period_start = date_trunc('month', CURRENT_DATE)::DATE
		WHERE o.id = $1
	`

	var (
		p                           PlanAndUsage
		tier                        string
		billingStatus, displayName  sql.NullString
		agentLimit, runLimit, price sql.NullInt64
		periodStart, periodEnd      sql.NullTime
	)
	err := l.db.QueryRowContext(ctx, query, orgID).Scan(
		&p.OrgID, &p.OrgName, &tier, &billingStatus,
		&agentLimit, &runLimit, &displayName, &price,
		&p.AgentsCreated, &p.RunsExecuted,
		&p.TotalTokensUsed, &p.EstimatedCostCents,
		&periodStart, &periodEnd,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan and usage: %w", err)
	}

	p.PlanTier = plans.NormalizeTier(tier)
	p.BillingStatus = billingStatus.String
	p.PlanDisplayName = displayName.String
	p.AgentLimit = nullInt64Ptr(agentLimit)
	p.RunLimitMonthly = nullInt64Ptr(runLimit)
	p.MonthlyPriceCents = nullInt64Ptr(price)
	p.PeriodStart = nullTimePtr(periodStart)
	p.PeriodEnd = nullTimePtr(periodEnd)
	return &p, nil
}

// CountLiveAgents counts the organization's agents
func (l *PostgresLedger) CountLiveAgents(ctx context.Context, orgID string) (int64, error) {
	query := `SELECT COUNT(*) FROM agents WHERE org_id = $1`

	var count int64
	if err := l.db.QueryRowContext(ctx, query, orgID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count agents: %w", err)
	}
	return count, nil
}

// IncrementAgentCount creates the month's usage row if needed and bumps it atomically
func (l *PostgresLedger) IncrementAgentCount(ctx context.Context, orgID string) (int64, error) {
	query := `
		INSERT INTO organization_usage (org_id, period_start, period_end, agents_created)
		VALUES ($1, date_trunc('month', CURRENT_DATE)::DATE,
			(date_trunc('month', CURRENT_DATE) + INTERVAL '1 month - 1 day')::DATE, 1)
		ON CONFLICT (org_id, period_start) DO UPDATE SET
			agents_created = organization_usage.agents_created + 1,
			updated_at = NOW()
		RETURNING agents_created
	`

	var count int64
	if err := l.db.QueryRowContext(ctx, query, orgID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to increment agent count: %w", err)
	}
	return count, nil
}

// IncrementRunCount creates the month's usage row if needed and bumps it atomically
func (l *PostgresLedger) IncrementRunCount(ctx context.Context, orgID string, tokensUsed, costCents int64) (int64, error) {
	query := `
		INSERT INTO organization_usage
			(org_id, period_start, period_end, runs_executed, total_tokens_used, estimated_cost_cents)
		VALUES ($1, date_trunc('month', CURRENT_DATE)::DATE,
			(date_trunc('month', CURRENT_DATE) + INTERVAL '1 month - 1 day')::DATE, 1, $2, $3)
		ON CONFLICT (org_id, period_start) DO UPDATE SET
			runs_executed = organization_usage.runs_executed + 1,
			total_tokens_used = organization_usage.total_tokens_used + EXCLUDED.total_tokens_used,
			estimated_cost_cents = organization_usage.estimated_cost_cents + EXCLUDED.estimated_cost_cents,
			updated_at = NOW()
		RETURNING runs_executed
	`

	var count int64
	if err := l.db.QueryRowContext(ctx, query, orgID, tokensUsed, costCents).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to increment run count: %w", err)
	}
	return count, nil
}

func nullInt64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	return &v.Time
}

//go:build integration

package api

import (
	"context"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/orgs"
	"github.com/platinummonkey/tenantgate/pkg/plans"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

func TestPostgresRoleStore_Integration(t *testing.T) {
	db := setupPostgresContainer(t)
	seedOrganization(t, db, "org-b", "Beta", "free", map[string]string{"alice": "owner", "bob": "viewer"})
	seedOrganization(t, db, "org-a", "Acme", "pro", map[string]string{"alice": "member"})

	logger, _ := test.NewNullLogger()
	resolver := rbac.NewResolver(rbac.NewPostgresRoleStore(db), logger, nil)
	ctx := context.Background()

	access, err := resolver.RequireOwner(ctx, "org-b", "alice")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleOwner, access.Role)

	_, err = resolver.RequireMember(ctx, "org-b", "bob")
	assert.ErrorIs(t, err, rbac.ErrAccessDenied)

	_, err = resolver.RequireViewer(ctx, "org-a", "bob")
	assert.ErrorIs(t, err, rbac.ErrAccessDenied)

	memberships, err := rbac.NewPostgresRoleStore(db).ListMemberships(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, memberships, 2)
	assert.Equal(t, "Acme", memberships[0].OrgName)
	assert.Equal(t, "member", memberships[0].Role)
	assert.Equal(t, "Beta", memberships[1].OrgName)
}

func TestPostgresLedger_Integration(t *testing.T) {
	db := setupPostgresContainer(t)
	seedOrganization(t, db, "org-1", "Acme", "free", nil)
	for i := 0; i < 2; i++ {
		_, err := db.Exec(`INSERT INTO agents (id, org_id, name) VALUES ($1, 'org-1', $2)`,
			fmt.Sprintf("agent-%d", i), fmt.Sprintf("Agent %d", i))
		require.NoError(t, err)
	}

	ledger := orgs.NewPostgresLedger(db)
	ctx := context.Background()

	info, err := ledger.GetPlanAndUsage(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, plans.TierFree, info.PlanTier)
	assert.Equal(t, "Free", info.PlanDisplayName)
	require.NotNil(t, info.RunLimitMonthly)
	assert.Equal(t, int64(100), *info.RunLimitMonthly)
	assert.Zero(t, info.RunsExecuted)
	assert.Nil(t, info.PeriodEnd)

	live, err := ledger.CountLiveAgents(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), live)

	count, err := ledger.IncrementRunCount(ctx, "org-1", 1500, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	count, err = ledger.IncrementRunCount(ctx, "org-1", 500, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	agents, err := ledger.IncrementAgentCount(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), agents)

	info, err = ledger.GetPlanAndUsage(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.RunsExecuted)
	assert.Equal(t, int64(1), info.AgentsCreated)
	assert.Equal(t, int64(2000), info.TotalTokensUsed)
	assert.Equal(t, int64(4), info.EstimatedCostCents)
	require.NotNil(t, info.PeriodStart)
	require.NotNil(t, info.PeriodEnd)
	assert.Equal(t, 1, info.PeriodStart.Day())

	_, err = ledger.GetPlanAndUsage(ctx, "missing")
	assert.ErrorIs(t, err, orgs.ErrOrganizationNotFound)
}

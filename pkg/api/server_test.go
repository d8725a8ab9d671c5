package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/costs"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
	"github.com/platinummonkey/tenantgate/pkg/plans"
	"github.com/platinummonkey/tenantgate/pkg/ratelimit"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

type stubRoleStore struct {
	roles map[string]string // "org/user" -> role
	names map[string]string
}

func (s *stubRoleStore) GetRole(ctx context.Context, orgID, userID string) (string, error) {
	role, ok := s.roles[orgID+"/"+userID]
	if !ok {
		return "", rbac.ErrNotMember
	}
	return role, nil
}

func (s *stubRoleStore) ListMemberships(ctx context.Context, userID string) ([]rbac.Membership, error) {
	var out []rbac.Membership
	for _, orgID := range []string{"org-1", "org-2"} {
		if role, ok := s.roles[orgID+"/"+userID]; ok {
			out = append(out, rbac.Membership{OrgID: orgID, OrgName: s.names[orgID], Role: role})
		}
	}
	return out, nil
}

type memoryLedger struct {
	mu   sync.Mutex
	orgs map[string]*orgs.PlanAndUsage
	live map[string]int64
}

func (l *memoryLedger) GetPlanAndUsage(ctx context.Context, orgID string) (*orgs.PlanAndUsage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, ok := l.orgs[orgID]
	if !ok {
		return nil, orgs.ErrOrganizationNotFound
	}
	copied := *info
	return &copied, nil
}

func (l *memoryLedger) CountLiveAgents(ctx context.Context, orgID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.live[orgID], nil
}

func (l *memoryLedger) IncrementAgentCount(ctx context.Context, orgID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, ok := l.orgs[orgID]
	if !ok {
		return 0, errors.New("no such org")
	}
	info.AgentsCreated++
	l.live[orgID]++
	return info.AgentsCreated, nil
}

func (l *memoryLedger) IncrementRunCount(ctx context.Context, orgID string, tokensUsed, costCents int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, ok := l.orgs[orgID]
	if !ok {
		return 0, errors.New("no such org")
	}
	info.RunsExecuted++
	info.TotalTokensUsed += tokensUsed
	info.EstimatedCostCents += costCents
	return info.RunsExecuted, nil
}

type testEnv struct {
	server *Server
	ledger *memoryLedger
	redis  *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger, _ := test.NewNullLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	roles := &stubRoleStore{
		roles: map[string]string{
			"org-1/owner":  "owner",
			"org-1/member": "member",
			"org-1/viewer": "viewer",
			"org-1/broken": "superuser",
			"org-2/member": "admin",
		},
		names: map[string]string{"org-1": "Acme", "org-2": "Zeta"},
	}
	ledger := &memoryLedger{
		orgs: map[string]*orgs.PlanAndUsage{
			"org-1": {
				OrgID:           "org-1",
				OrgName:         "Acme",
				PlanTier:        plans.TierFree,
				PlanDisplayName: "Free",
				AgentLimit:      plans.Int64(3),
				RunLimitMonthly: plans.Int64(100),
			},
		},
		live: map[string]int64{},
	}

	now := time.Date(2026, 10, 18, 14, 25, 30, 0, time.UTC)
	syncDispatch := func(ctx context.Context, name string, fn func(context.Context) error) { _ = fn(ctx) }

	server := NewServer(Deps{
		Resolver: rbac.NewResolver(roles, logger, metrics),
		Checker: orgs.NewChecker(ledger, orgs.NewMemoryDedupCache(100, orgs.ApproachingNotificationTTL),
			orgs.NewLogNotifier(logger), logger, orgs.WithMetrics(metrics), orgs.WithDispatcher(syncDispatch)),
		Hourly: ratelimit.NewHourlyLimiter(ratelimit.NewRedisCounterStore(client), nil, logger,
			ratelimit.WithClock(func() time.Time { return now })),
		Costs:   costs.NewTracker(client, nil, logger),
		Metrics: metrics,
		Logger:  logger,
	})

	return &testEnv{server: server, ledger: ledger, redis: mr}
}

func (e *testEnv) do(method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set(middleware.UserIDHeader, userID)
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest))
}

func TestGetAuthContext(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("GET", "/v1/auth/context", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do("GET", "/v1/auth/context", "member", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	var resp AuthContextResponse
	decode(t, w, &resp)
	assert.Equal(t, "member", resp.UserID)
	require.Len(t, resp.Organizations, 2)
	assert.Equal(t, rbac.RoleMember, resp.Organizations[0].Role)
	assert.Equal(t, rbac.RoleAdmin, resp.Organizations[1].Role)
	assert.Contains(t, resp.Organizations[1].Permissions, rbac.PermMembersManage)
}

func TestGetAccess(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		userID  string
		status  int
		message string
	}{
		{"unauthenticated", "", http.StatusUnauthorized, "Authentication required"},
		{"not a member", "stranger", http.StatusForbidden, "Access denied"},
		{"invalid stored role", "broken", http.StatusInternalServerError, "Invalid role configuration"},
		{"viewer", "viewer", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("GET", "/v1/organizations/org-1/access", tt.userID, nil)
			assert.Equal(t, tt.status, w.Code)
			if tt.message != "" {
				assert.Contains(t, w.Body.String(), tt.message)
				assert.NotContains(t, w.Body.String(), "superuser")
			}
		})
	}

	w := env.do("GET", "/v1/organizations/org-1/access", "owner", nil)
	var resp AccessResponse
	decode(t, w, &resp)
	assert.Equal(t, rbac.RoleOwner, resp.Role)
	assert.Len(t, resp.Permissions, len(rbac.AllPermissions()))
}

func TestStartRun_HourlyLimit(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 10; i++ {
		w := env.do("POST", "/v1/organizations/org-1/runs", "member", nil)
		require.Equal(t, http.StatusCreated, w.Code, "run %d", i+1)
	}

	w := env.do("POST", "/v1/organizations/org-1/runs", "owner", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2070", w.Header().Get("Retry-After"))

	var body ratelimit.ExceededError
	decode(t, w, &body)
	assert.Equal(t, ratelimit.ErrorCodeHourlyRateLimitExceeded, body.ErrorCode)
	assert.Equal(t, int64(10), body.Limit)

	w = env.do("GET", "/v1/organizations/org-1/rate-limit", "viewer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var usage HourlyUsage
	decode(t, w, &usage)
	assert.Equal(t, int64(11), usage.CurrentCount)
	assert.Equal(t, int64(10), *usage.Limit)
	assert.Equal(t, 2070, usage.SecondsUntilReset)
}

func TestStartRun_ViewerForbidden(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("POST", "/v1/organizations/org-1/runs", "viewer", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "You don't have permission to perform this action")
	assert.False(t, env.redis.Exists("rate_limit:hourly_runs:org-1:2026101814"))
}

func TestStartRun_MonthlyLimit(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.orgs["org-1"].RunsExecuted = 100

	w := env.do("POST", "/v1/organizations/org-1/runs", "member", nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	var body orgs.LimitExceededError
	decode(t, w, &body)
	assert.Equal(t, orgs.ErrorCodeRunLimitExceeded, body.ErrorCode)
	assert.Equal(t, "Monthly run limit reached. Your Free plan allows 100 runs per month. Upgrade for more runs.", body.Message)
	assert.False(t, env.redis.Exists("rate_limit:hourly_runs:org-1:2026101814"))

	for i := 0; i < 15; i++ {
		w = env.do("POST", "/v1/organizations/org-1/runs", "member", nil)
		require.Equal(t, http.StatusPaymentRequired, w.Code)
	}
	assert.False(t, env.redis.Exists("rate_limit:hourly_runs:org-1:2026101814"))

	env.ledger.orgs["org-1"].RunsExecuted = 99
	w = env.do("POST", "/v1/organizations/org-1/runs", "member", nil)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestRunLifecycle(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("POST", "/v1/organizations/org-1/runs", "member", StartRunRequest{AgentID: "agent-7"})
	require.Equal(t, http.StatusCreated, w.Code)
	var started StartRunResponse
	decode(t, w, &started)
	require.NotEmpty(t, started.RunID)
	assert.Equal(t, "agent-7", started.AgentID)

	usagePath := "/v1/organizations/org-1/runs/" + started.RunID + "/usage"
	w = env.do("POST", usagePath, "member", RecordUsageRequest{
		PromptTokens:     1000,
		CompletionTokens: 500,
		ToolExecutionMS:  250,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var recorded RecordUsageResponse
	decode(t, w, &recorded)
	assert.Equal(t, int64(10_500), recorded.CostMicros)

	w = env.do("POST", usagePath, "member", RecordUsageRequest{PromptTokens: -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("POST", usagePath, "member", RecordUsageRequest{PromptTokens: costs.MaxTokensPerCall + 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("POST", usagePath, "member", RecordUsageRequest{PromptTokens: 4e12})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	completePath := "/v1/organizations/org-1/runs/" + started.RunID + "/complete"
	w = env.do("POST", completePath, "member", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var completed CompleteRunResponse
	decode(t, w, &completed)
	assert.Equal(t, int64(1), completed.RunsExecuted)
	assert.Equal(t, int64(1500), completed.Totals.TotalTokens)
	assert.Equal(t, int64(250), completed.Totals.ToolExecutionMS)
	assert.Equal(t, int64(1500), env.ledger.orgs["org-1"].TotalTokensUsed)
	assert.Equal(t, int64(1), env.ledger.orgs["org-1"].EstimatedCostCents)

	w = env.do("POST", completePath, "member", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Run not found")

	w = env.do("POST", usagePath, "member", RecordUsageRequest{PromptTokens: 10})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do("POST", "/v1/organizations/org-1/runs/untracked/complete", "member", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do("POST", "/v1/organizations/org-1/runs/untracked/usage", "member", RecordUsageRequest{PromptTokens: 10})
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, int64(1), env.ledger.orgs["org-1"].RunsExecuted)
	assert.Equal(t, int64(1500), env.ledger.orgs["org-1"].TotalTokensUsed)
}

func TestRunLifecycle_OtherOrganization(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.orgs["org-2"] = &orgs.PlanAndUsage{
		OrgID:           "org-2",
		OrgName:         "Zeta",
		PlanTier:        plans.TierFree,
		PlanDisplayName: "Free",
		AgentLimit:      plans.Int64(3),
		RunLimitMonthly: plans.Int64(100),
	}

	w := env.do("POST", "/v1/organizations/org-1/runs", "member", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var started StartRunResponse
	decode(t, w, &started)

	// org-2's admin knows the run id but reaches it through its own org
	foreign := "/v1/organizations/org-2/runs/" + started.RunID
	w = env.do("POST", foreign+"/usage", "member", RecordUsageRequest{PromptTokens: 900_000_000})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do("POST", foreign+"/complete", "member", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, int64(0), env.ledger.orgs["org-2"].RunsExecuted)

	own := "/v1/organizations/org-1/runs/" + started.RunID
	w = env.do("POST", own+"/complete", "member", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var completed CompleteRunResponse
	decode(t, w, &completed)
	assert.Equal(t, int64(0), completed.Totals.TotalTokens)
	assert.Equal(t, int64(1), env.ledger.orgs["org-1"].RunsExecuted)
}

func TestReserveAgent(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("POST", "/v1/organizations/org-1/agents/reserve", "viewer", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	for i := 0; i < 3; i++ {
		w = env.do("POST", "/v1/organizations/org-1/agents/reserve", "member", nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w = env.do("POST", "/v1/organizations/org-1/agents/reserve", "member", nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), orgs.ErrorCodeAgentLimitExceeded)
	assert.Contains(t, w.Body.String(), "Agent limit reached. Your Free plan allows 3 agents. Upgrade to create more.")
}

func TestGetUsage(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.orgs["org-1"].RunsExecuted = 40
	env.ledger.live["org-1"] = 1

	w := env.do("GET", "/v1/organizations/org-1/usage", "viewer", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		PlanTier    plans.Tier      `json:"plan_tier"`
		Agents      orgs.UsageMeter `json:"agents"`
		Runs        orgs.UsageMeter `json:"runs"`
		HourlyRuns  HourlyUsage     `json:"hourly_runs"`
		PlanDisplay string          `json:"plan_display_name"`
	}
	decode(t, w, &resp)
	assert.Equal(t, plans.TierFree, resp.PlanTier)
	assert.Equal(t, "Free", resp.PlanDisplay)
	assert.Equal(t, int64(1), resp.Agents.Used)
	assert.Equal(t, int64(40), resp.Runs.Used)
	require.NotNil(t, resp.Runs.Percent)
	assert.InDelta(t, 40.0, *resp.Runs.Percent, 0.001)
	assert.Equal(t, int64(10), *resp.HourlyRuns.Limit)

	w = env.do("GET", "/v1/organizations/org-2/usage", "member", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

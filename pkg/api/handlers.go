package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/costs"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
	"github.com/platinummonkey/tenantgate/pkg/plans"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

// getAuthContext lists every organization the caller belongs to
func (s *Server) getAuthContext(w http.ResponseWriter, r *http.Request) {
	userID := contextkeys.GetUserID(r.Context())
	if userID == "" {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	memberships, err := s.resolver.Memberships(r.Context(), userID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to list memberships")
		httputil.WriteInternalError(w, "Failed to load auth context")
		return
	}

	_ = httputil.WriteSuccess(w, AuthContextResponse{
		UserID:        userID,
		Organizations: memberships,
	})
}

func (s *Server) getAccess(w http.ResponseWriter, r *http.Request) {
	access := rbac.GetAccessContext(r)
	_ = httputil.WriteSuccess(w, AccessResponse{
		UserID:      access.UserID,
		OrgID:       access.OrgID,
		Role:        access.Role,
		Permissions: access.Permissions(),
	})
}

func (s *Server) getUsage(w http.ResponseWriter, r *http.Request) {
	access := rbac.GetAccessContext(r)

	summary, err := s.checker.Summary(r.Context(), access.OrgID)
	if errors.Is(err, orgs.ErrOrganizationNotFound) {
		httputil.WriteNotFound(w, "Organization not found")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to load usage summary")
		httputil.WriteInternalError(w, "Failed to load usage")
		return
	}

	_ = httputil.WriteSuccess(w, UsageResponse{
		UsageSummary: summary,
		Hourly:       s.hourlyUsage(r, access, summary.PlanTier),
	})
}

func (s *Server) getRateLimit(w http.ResponseWriter, r *http.Request) {
	access := rbac.GetAccessContext(r)
	tier := plans.NormalizeTier(s.checker.PlanTier(r.Context(), access.OrgID))
	_ = httputil.WriteSuccess(w, s.hourlyUsage(r, access, tier))
}

func (s *Server) hourlyUsage(r *http.Request, access *rbac.AccessContext, tier plans.Tier) HourlyUsage {
	count, reset := s.hourly.CurrentUsage(r.Context(), access.UserID, access.OrgID)
	return HourlyUsage{
		CurrentCount:      count,
		Limit:             s.hourly.Limit(tier),
		PlanTier:          tier,
		SecondsUntilReset: reset,
	}
}

// reserveAgent records an agent creation once the plan ceiling check passed
func (s *Server) reserveAgent(w http.ResponseWriter, r *http.Request) {
	access := rbac.GetAccessContext(r)

	count, err := s.checker.IncrementAgentUsage(r.Context(), access.OrgID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to record agent creation")
		httputil.WriteInternalError(w, "Failed to record agent creation")
		return
	}

	_ = httputil.WriteJSON(w, http.StatusCreated, ReserveAgentResponse{
		OrgID:         access.OrgID,
		AgentsCreated: count,
	})
}

// startRun issues a run id once the monthly and hourly checks passed and
// registers it for the organization
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	access := rbac.GetAccessContext(r)

	var req StartRunRequest
	if !httputil.ParseOptionalJSON(w, r, &req) {
		return
	}

	runID := uuid.NewString()
	if err := s.costs.Start(r.Context(), runID, access.OrgID); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to start run")
		httputil.WriteInternalError(w, "Failed to start run")
		return
	}

	_ = httputil.WriteJSON(w, http.StatusCreated, StartRunResponse{
		RunID:   runID,
		OrgID:   access.OrgID,
		AgentID: req.AgentID,
	})
}

func (s *Server) recordRunUsage(w http.ResponseWriter, r *http.Request) {
	access := rbac.GetAccessContext(r)
	runID, ok := httputil.ParsePathStringOrError(w, r, "run_id")
	if !ok {
		return
	}

	var req RecordUsageRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	cost, err := s.costs.Record(r.Context(), runID, access.OrgID, costs.Usage{
		Model:               req.Model,
		PromptTokens:        req.PromptTokens,
		CompletionTokens:    req.CompletionTokens,
		CacheReadTokens:     req.CacheReadTokens,
		CacheCreationTokens: req.CacheCreationTokens,
	}, req.ToolExecutionMS)
	switch {
	case errors.Is(err, costs.ErrInvalidUsage):
		httputil.WriteBadRequest(w, err.Error())
		return
	case errors.Is(err, costs.ErrRunNotTracked):
		httputil.WriteNotFound(w, "Run not found")
		return
	case err != nil:
		observability.FromContext(r.Context()).WithError(err).Error("Failed to record run usage")
		httputil.WriteInternalError(w, "Failed to record usage")
		return
	}

	_ = httputil.WriteSuccess(w, RecordUsageResponse{RunID: runID, CostMicros: cost})
}

// completeRun finalizes the run's cost totals and adds the run to the
// organization's monthly ledger. Only the call that removes the run counts it.
func (s *Server) completeRun(w http.ResponseWriter, r *http.Request) {
	access := rbac.GetAccessContext(r)
	runID, ok := httputil.ParsePathStringOrError(w, r, "run_id")
	if !ok {
		return
	}
	logger := observability.FromContext(r.Context()).WithField("run_id", runID)

	totals, err := s.costs.Finalize(r.Context(), runID, access.OrgID)
	switch {
	case errors.Is(err, costs.ErrRunNotTracked):
		httputil.WriteNotFound(w, "Run not found")
		return
	case err != nil:
		logger.WithError(err).Error("Failed to finalize run costs")
		httputil.WriteInternalError(w, "Failed to complete run")
		return
	}

	count, err := s.checker.IncrementRunUsage(r.Context(), access.OrgID, totals.TotalTokens, totals.CostCents)
	if err != nil {
		logger.WithError(err).Error("Failed to record run")
		httputil.WriteInternalError(w, "Failed to complete run")
		return
	}

	_ = httputil.WriteSuccess(w, CompleteRunResponse{Totals: totals, RunsExecuted: count})
}

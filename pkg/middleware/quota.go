package middleware

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
)

// PlanLimitChecker checks an organization's monthly ceilings
type PlanLimitChecker interface {
	CheckAgentLimit(ctx context.Context, orgID string) orgs.LimitCheckResult
	CheckRunLimit(ctx context.Context, orgID string) orgs.LimitCheckResult
}

// QuotaMiddleware enforces monthly plan limits with 402 responses.
// The organization comes from the {org_id} route variable; it must run after
// the RBAC gate so that unknown callers are rejected first.
type QuotaMiddleware struct {
	checker PlanLimitChecker
}

// NewQuotaMiddleware creates a new QuotaMiddleware
func NewQuotaMiddleware(checker PlanLimitChecker) *QuotaMiddleware {
	return &QuotaMiddleware{checker: checker}
}

// EnforceAgentLimit blocks agent creation once the plan's agent ceiling is reached
func (m *QuotaMiddleware) EnforceAgentLimit(next http.Handler) http.Handler {
	return m.enforce(next, m.checker.CheckAgentLimit)
}

// EnforceRunLimit blocks new runs once the month's run ceiling is reached
func (m *QuotaMiddleware) EnforceRunLimit(next http.Handler) http.Handler {
	return m.enforce(next, m.checker.CheckRunLimit)
}

func (m *QuotaMiddleware) enforce(next http.Handler, check func(context.Context, string) orgs.LimitCheckResult) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := mux.Vars(r)["org_id"]
		if orgID == "" {
			httputil.WriteBadRequest(w, "Organization ID required")
			return
		}

		result := check(r.Context(), orgID)
		if !result.Allowed {
			httputil.WritePaymentRequired(w, result.Exceeded)
			return
		}

		next.ServeHTTP(w, r)
	})
}

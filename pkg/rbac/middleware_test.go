package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
)

func newGateRouter(t *testing.T, gate Gate) *mux.Router {
	t.Helper()
	logger, _ := test.NewNullLogger()
	mw := NewMiddleware(logger)

	router := mux.NewRouter()
	router.Handle("/v1/organizations/{org_id}/settings", mw.Require(gate)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access := GetAccessContext(r)
			require.NotNil(t, access)
			json.NewEncoder(w).Encode(access)
		}),
	))
	return router
}

func serveAs(router http.Handler, userID, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if userID != "" {
		req = req.WithContext(contextkeys.WithUserID(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["error"]
}

func TestMiddleware_Allows(t *testing.T) {
	resolver, _ := newTestResolver(&fakeRoleStore{roles: map[string]string{"org-1/user-1": "admin"}})
	router := newGateRouter(t, resolver.RequirePermission(PermSettingsUpdate))

	rec := serveAs(router, "user-1", "/v1/organizations/org-1/settings")
	assert.Equal(t, http.StatusOK, rec.Code)

	var access AccessContext
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&access))
	assert.Equal(t, RoleAdmin, access.Role)
	assert.Equal(t, "org-1", access.OrgID)
}

func TestMiddleware_Unauthenticated(t *testing.T) {
	resolver, _ := newTestResolver(&fakeRoleStore{})
	rec := serveAs(newGateRouter(t, resolver.RequireViewer), "", "/v1/organizations/org-1/settings")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_Forbidden(t *testing.T) {
	resolver, _ := newTestResolver(&fakeRoleStore{roles: map[string]string{"org-1/user-1": "viewer"}})
	router := newGateRouter(t, resolver.RequireMember)

	rec := serveAs(router, "user-1", "/v1/organizations/org-1/settings")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "This action requires member role or higher", errorMessage(t, rec))

	rec = serveAs(router, "user-2", "/v1/organizations/org-1/settings")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Access denied", errorMessage(t, rec))
}

func TestMiddleware_InvalidRoleIsGeneric500(t *testing.T) {
	resolver, _ := newTestResolver(&fakeRoleStore{roles: map[string]string{"org-1/user-1": "god-mode"}})
	rec := serveAs(newGateRouter(t, resolver.RequireViewer), "user-1", "/v1/organizations/org-1/settings")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	msg := errorMessage(t, rec)
	assert.Equal(t, "Invalid role configuration", msg)
	assert.NotContains(t, msg, "god-mode")
}

func TestMiddleware_StoreFailure(t *testing.T) {
	gate := func(ctx context.Context, orgID, userID string) (*AccessContext, error) {
		return nil, errors.New("pq: connection refused")
	}
	rec := serveAs(newGateRouter(t, gate), "user-1", "/v1/organizations/org-1/settings")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to resolve access", errorMessage(t, rec))
}

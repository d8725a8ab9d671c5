package rbac

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
)

// Middleware enforces gates on org-scoped routes. The organization comes from
// the {org_id} route variable and the caller from the authenticated user id
// in the request context.
type Middleware struct {
	logger logrus.FieldLogger
}

// NewMiddleware creates a new RBAC middleware
func NewMiddleware(logger logrus.FieldLogger) *Middleware {
	return &Middleware{logger: logger}
}

// Require wraps a handler so it only runs when gate admits the caller.
// The resolved *AccessContext is stored in the request context.
func (m *Middleware) Require(gate Gate) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := contextkeys.GetUserID(r.Context())
			if userID == "" {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			orgID := mux.Vars(r)["org_id"]
			if orgID == "" {
				httputil.WriteBadRequest(w, "Organization ID required")
				return
			}

			access, err := gate(r.Context(), orgID, userID)
			if err != nil {
				m.writeError(w, err)
				return
			}

			ctx := contextkeys.WithAccess(r.Context(), access)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// statusCoder is implemented by AccessDeniedError and InvalidRoleError
type statusCoder interface {
	error
	StatusCode() int
}

func (m *Middleware) writeError(w http.ResponseWriter, err error) {
	var coded statusCoder
	if errors.As(err, &coded) {
		httputil.WriteErrorMessage(w, coded.StatusCode(), coded.Error())
		return
	}

	m.logger.WithError(err).Error("Access resolution failed")
	httputil.WriteErrorMessage(w, http.StatusInternalServerError, "Failed to resolve access")
}

// GetAccessContext returns the access context set by Require, or nil
func GetAccessContext(r *http.Request) *AccessContext {
	access, _ := r.Context().Value(contextkeys.AccessKey).(*AccessContext)
	return access
}

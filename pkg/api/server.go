package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantgate/pkg/costs"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
	"github.com/platinummonkey/tenantgate/pkg/ratelimit"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

// Deps are the components the API serves
type Deps struct {
	Resolver *rbac.Resolver
	Checker  *orgs.Checker
	Hourly   *ratelimit.HourlyLimiter
	Costs    *costs.Tracker
	Throttle *middleware.Throttle
	Metrics  *observability.Metrics
	Logger   logrus.FieldLogger
}

// Server is the tenantgate HTTP API
type Server struct {
	router   *mux.Router
	resolver *rbac.Resolver
	checker  *orgs.Checker
	hourly   *ratelimit.HourlyLimiter
	costs    *costs.Tracker
	logger   logrus.FieldLogger
}

// NewServer creates the API server and registers its routes
func NewServer(deps Deps) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		resolver: deps.Resolver,
		checker:  deps.Checker,
		hourly:   deps.Hourly,
		costs:    deps.Costs,
		logger:   deps.Logger,
	}
	s.setupRoutes(deps)
	return s
}

func (s *Server) setupRoutes(deps Deps) {
	r := s.router
	r.Use(middleware.RequestID(s.logger))
	r.Use(httputil.RecoveryMiddleware)
	r.Use(httputil.LoggingMiddleware)
	r.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	r.Use(middleware.TrustedIdentity)
	if deps.Throttle != nil {
		r.Use(deps.Throttle.Handler)
	}
	r.Use(httputil.ContentTypeMiddleware)
	r.Use(httputil.MaxBytesMiddleware(1 << 20))

	gate := rbac.NewMiddleware(s.logger)
	quota := middleware.NewQuotaMiddleware(s.checker)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/auth/context", s.getAuthContext).Methods(http.MethodGet)

	org := v1.PathPrefix("/organizations/{org_id}").Subrouter()

	viewer := gate.Require(s.resolver.RequirePermission(rbac.PermOrgView))
	org.Handle("/access", viewer(http.HandlerFunc(s.getAccess))).Methods(http.MethodGet)
	org.Handle("/usage", viewer(http.HandlerFunc(s.getUsage))).Methods(http.MethodGet)
	org.Handle("/rate-limit", viewer(http.HandlerFunc(s.getRateLimit))).Methods(http.MethodGet)

	creator := gate.Require(s.resolver.RequirePermission(rbac.PermAgentsCreate))
	org.Handle("/agents/reserve",
		creator(quota.EnforceAgentLimit(http.HandlerFunc(s.reserveAgent))),
	).Methods(http.MethodPost)

	runner := gate.Require(s.resolver.RequirePermission(rbac.PermAgentsRun))
	org.Handle("/runs",
		runner(quota.EnforceRunLimit(middleware.HourlyRunLimit(s.hourly, s.checker)(http.HandlerFunc(s.startRun)))),
	).Methods(http.MethodPost)
	org.Handle("/runs/{run_id}/usage", runner(http.HandlerFunc(s.recordRunUsage))).Methods(http.MethodPost)
	org.Handle("/runs/{run_id}/complete", runner(http.HandlerFunc(s.completeRun))).Methods(http.MethodPost)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

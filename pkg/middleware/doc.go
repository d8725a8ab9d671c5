// Package middleware provides HTTP middleware for caller identity, request
// throttling and plan limit enforcement.
//
// # Ordering
//
// Outer to inner:
//
//  1. RequestID        assigns the request id and request-scoped logger
//  2. TrustedIdentity  reads X-User-ID from the gateway
//  3. Throttle         per-caller token bucket (429)
//  4. rbac.Middleware  role/permission gate on {org_id} routes (401/403)
//  5. QuotaMiddleware  monthly plan ceilings (402), read-only
//  6. HourlyRunLimit   plan hourly run budget (429 + Retry-After)
//
// The monthly check runs first so a request refused with 402 never spends
// hourly budget.
//
// Example:
//
//	router.Use(middleware.RequestID(logger), middleware.TrustedIdentity, throttle.Handler)
//	runs := router.PathPrefix("/v1/organizations/{org_id}/runs").Subrouter()
//	runs.Use(rbacMiddleware.Require(resolver.RequirePermission(rbac.PermAgentsRun)))
//	runs.Use(quota.EnforceRunLimit)
//	runs.Use(middleware.HourlyRunLimit(hourly, checker))
package middleware

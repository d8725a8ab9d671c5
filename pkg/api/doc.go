// Package api serves tenantgate's HTTP endpoints.
//
// Callers are identified by the X-User-ID header set by the authenticating
// gateway. Organization routes are gated by role or permission and answer
// 401, 403, 429 or 402 before the handler runs.
//
//	GET  /v1/auth/context
//	GET  /v1/organizations/{org_id}/access
//	GET  /v1/organizations/{org_id}/usage
//	GET  /v1/organizations/{org_id}/rate-limit
//	POST /v1/organizations/{org_id}/agents/reserve
//	POST /v1/organizations/{org_id}/runs
//	POST /v1/organizations/{org_id}/runs/{run_id}/usage
//	POST /v1/organizations/{org_id}/runs/{run_id}/complete
//
// A run's lifecycle: POST /runs checks the monthly ceiling, consumes one unit
// of the hourly budget and registers the run for the organization. Usage
// reports accumulate cost in Redis, and the first /complete moves the totals
// into the monthly ledger. Usage or completion for a run the organization did
// not start, or already completed, answers 404.
package api

// Package orgs enforces monthly plan limits for organizations.
//
// # Limits
//
// Each plan tier carries two monthly ceilings, read from the plan_tiers table:
//
//	agent_limit        live agents the organization may own
//	run_limit_monthly  agent runs per calendar month
//
// A NULL ceiling is unlimited. CheckAgentLimit compares the ceiling with the
// live agent count; CheckRunLimit compares it with runs_executed in the
// organization_usage row for the current month. Denials carry a 402 payload
// with an upgrade call to action.
//
// # Notifications
//
// After every increment the checker computes round(used/limit*100). Between 80
// and 99 it sends one "approaching" notification, deduplicated through a
// marker key that lives for 32 days:
//
//	org_approaching_notification:{org_id}:{agents|runs}
//
// Every denial sends a "limit reached" notification. Both are dispatched in
// the background and never fail the caller.
package orgs

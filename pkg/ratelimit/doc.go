// Package ratelimit enforces hourly agent run quotas per plan tier.
//
// Each run increments a Redis counter keyed by the current UTC hour:
//
//	rate_limit:hourly_runs:{org_id or user_id}:{YYYYMMDDHH}
//
// All members of an organization share the org's budget.
// The window is fixed, not sliding: every budget resets at the top of the hour.
// Enterprise has no hourly ceiling and never touches Redis. When Redis is
// unavailable the limiter lets the run through and logs a warning.
package ratelimit

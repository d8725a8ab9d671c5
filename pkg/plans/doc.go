// Package plans defines the subscription tiers, their hourly run limits and
// display names.
//
// A nil hourly limit means the tier is unlimited. Monthly agent and run
// ceilings are enforced from the plan_tiers table by package orgs and are not
// part of the catalog. The built-in catalog can be overridden from a YAML file:
//
//	tiers:
//	  free:
//	    hourly_run_limit: 20
//	  enterprise:
//	    display_name: Enterprise
package plans

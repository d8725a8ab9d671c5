// Package costs accumulates token usage, cost and tool execution time for
// agent runs.
//
// Start creates a Redis hash at run_cost:{run_id} holding the owning org id.
// Record and Finalize run as Lua scripts that refuse runs owned by another
// organization, so usage cannot be written to or billed against someone
// else's run. The hash expires 24 hours after its last update. Finalize reads
// and deletes it in one step and the result feeds the organization's monthly
// ledger exactly once.
//
// Costs are integers in micro-dollars. MicrosToCents converts for billing.
package costs

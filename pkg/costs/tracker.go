package costs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	// KeyPrefix namespaces the per-run accumulator hashes
	KeyPrefix = "run_cost:"

	// RunTTL bounds how long an unfinished run is kept after its last update
	RunTTL = 24 * time.Hour

	fieldOrgID        = "org_id"
	fieldInputTokens  = "input_tokens"
	fieldOutputTokens = "output_tokens"
	fieldCostMicros   = "cost_micros"
	fieldToolMS       = "tool_execution_ms"
)

// ErrRunNotTracked is returned for runs that were never started, already
// finalized, expired, or belong to another organization
var ErrRunNotTracked = errors.New("run is not tracked")

// recordScript adds usage to a run only when it belongs to ARGV[1]
var recordScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "org_id") ~= ARGV[1] then
	return 0
end
redis.call("HINCRBY", KEYS[1], "input_tokens", ARGV[3])
redis.call("HINCRBY", KEYS[1], "output_tokens", ARGV[4])
redis.call("HINCRBY", KEYS[1], "cost_micros", ARGV[5])
redis.call("HINCRBY", KEYS[1], "tool_execution_ms", ARGV[6])
redis.call("EXPIRE", KEYS[1], ARGV[2])
return 1
`)

// finalizeScript returns and deletes a run's hash when it belongs to ARGV[1]
var finalizeScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "org_id") ~= ARGV[1] then
	return false
end
local fields = redis.call("HGETALL", KEYS[1])
redis.call("DEL", KEYS[1])
return fields
`)

// Totals is the accumulated usage of one run
type Totals struct {
	RunID           string `json:"run_id"`
	InputTokens     int64  `json:"total_input_tokens"`
	OutputTokens    int64  `json:"total_output_tokens"`
	TotalTokens     int64  `json:"total_tokens"`
	CostMicros      int64  `json:"total_cost_micros"`
	CostCents       int64  `json:"total_cost_cents"`
	ToolExecutionMS int64  `json:"total_tool_execution_ms"`
}

// Tracker accumulates token usage, cost and tool time per run in Redis so
// that any instance serving the run can add to it. Every run is bound to the
// organization that started it.
type Tracker struct {
	client redis.Cmdable
	prices PriceTable
	logger logrus.FieldLogger
}

// NewTracker creates a tracker. A nil price table uses DefaultPrices.
func NewTracker(client redis.Cmdable, prices PriceTable, logger logrus.FieldLogger) *Tracker {
	if prices == nil {
		prices = DefaultPrices()
	}
	return &Tracker{client: client, prices: prices, logger: logger}
}

func runKey(runID string) string {
	return KeyPrefix + runID
}

// Start registers a run for orgID. Usage can only be recorded and finalized
// for started runs.
func (t *Tracker) Start(ctx context.Context, runID, orgID string) error {
	if runID == "" || orgID == "" {
		return fmt.Errorf("run id and org id are required")
	}
	key := runKey(runID)

	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldOrgID, orgID)
		pipe.Expire(ctx, key, RunTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to start run %s: %w", runID, err)
	}
	return nil
}

// Record prices one LLM call, adds it and the tool execution time to the run
// and returns the call's cost in micro-dollars. It returns ErrInvalidUsage for out-of-range
// values and ErrRunNotTracked when the run is not open for orgID.
func (t *Tracker) Record(ctx context.Context, runID, orgID string, usage Usage, toolExecutionMS int64) (int64, error) {
	if err := usage.Validate(); err != nil {
		return 0, err
	}
	if err := validateToolExecutionMS(toolExecutionMS); err != nil {
		return 0, err
	}
	cost := t.prices.Cost(usage)

	n, err := recordScript.Run(ctx, t.client, []string{runKey(runID)},
		orgID, int64(RunTTL/time.Second),
		usage.PromptTokens, usage.CompletionTokens, cost, toolExecutionMS,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to record usage for run %s: %w", runID, err)
	}
	if n == 0 {
		return 0, ErrRunNotTracked
	}

	t.logger.WithFields(logrus.Fields{
		"run_id":            runID,
		"org_id":            orgID,
		"model":             usage.Model,
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
		"cost_micros":       cost,
	}).Debug("Recorded run usage")
	return cost, nil
}

// Totals returns the run's usage so far without clearing it
func (t *Tracker) Totals(ctx context.Context, runID, orgID string) (*Totals, error) {
	fields, err := t.client.HGetAll(ctx, runKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read usage for run %s: %w", runID, err)
	}
	if fields[fieldOrgID] != orgID {
		return nil, ErrRunNotTracked
	}
	return parseTotals(runID, fields)
}

// Finalize reads and deletes the run's hash atomically, so a run is billed at
// most once. A second call returns ErrRunNotTracked.
func (t *Tracker) Finalize(ctx context.Context, runID, orgID string) (*Totals, error) {
	raw, err := finalizeScript.Run(ctx, t.client, []string{runKey(runID)}, orgID).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRunNotTracked
	}
	if err != nil {
		return nil, fmt.Errorf("failed to finalize run %s: %w", runID, err)
	}

	fields := make(map[string]string, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		fields[raw[i]] = raw[i+1]
	}
	totals, err := parseTotals(runID, fields)
	if err != nil {
		return nil, err
	}

	t.logger.WithFields(logrus.Fields{
		"run_id":            runID,
		"org_id":            orgID,
		"total_tokens":      totals.TotalTokens,
		"cost_micros":       totals.CostMicros,
		"tool_execution_ms": totals.ToolExecutionMS,
	}).Info("Finalized run usage")
	return totals, nil
}

func parseTotals(runID string, fields map[string]string) (*Totals, error) {
	if len(fields) == 0 {
		return nil, ErrRunNotTracked
	}

	totals := &Totals{RunID: runID}
	for name, dst := range map[string]*int64{
		fieldInputTokens:  &totals.InputTokens,
		fieldOutputTokens: &totals.OutputTokens,
		fieldCostMicros:   &totals.CostMicros,
		fieldToolMS:       &totals.ToolExecutionMS,
	} {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s for run %s: %w", name, runID, err)
		}
		*dst = v
	}

	totals.TotalTokens = totals.InputTokens + totals.OutputTokens
	totals.CostCents = MicrosToCents(totals.CostMicros)
	return totals, nil
}

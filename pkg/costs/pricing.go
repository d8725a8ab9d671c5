package costs

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"time"
)

const (
	// MaxTokensPerCall bounds each token count reported for a single LLM call
	MaxTokensPerCall = 1_000_000_000

	// MaxToolExecutionMS bounds the tool time reported in one call
	MaxToolExecutionMS = int64(RunTTL / time.Millisecond)

	tokensPerMillion = 1_000_000
)

// ErrInvalidUsage is returned for negative or out-of-range usage reports
var ErrInvalidUsage = errors.New("invalid usage")

// Price is a model's token price in micro-dollars per million tokens
type Price struct {
	InputPerMTok      int64 `yaml:"input_per_mtok" json:"input_per_mtok"`
	OutputPerMTok     int64 `yaml:"output_per_mtok" json:"output_per_mtok"`
	CacheReadPerMTok  int64 `yaml:"cache_read_per_mtok" json:"cache_read_per_mtok"`
	CacheWritePerMTok int64 `yaml:"cache_write_per_mtok" json:"cache_write_per_mtok"`
}

// DefaultModel is the price table entry used for unknown models
const DefaultModel = "default"

// PriceTable maps model identifiers to prices
type PriceTable map[string]Price

// DefaultPrices returns a table with only the fallback price
// ($3 in, $15 out, $0.30 cache read, $3.75 cache write per million tokens).
func DefaultPrices() PriceTable {
	return PriceTable{
		DefaultModel: {
			InputPerMTok:      3_000_000,
			OutputPerMTok:     15_000_000,
			CacheReadPerMTok:  300_000,
			CacheWritePerMTok: 3_750_000,
		},
	}
}

// Lookup returns the model's price, falling back to the default entry
func (t PriceTable) Lookup(model string) Price {
	if p, ok := t[model]; ok {
		return p
	}
	return t[DefaultModel]
}

// Usage is one LLM call's token counts. Cached tokens are part of PromptTokens.
type Usage struct {
	Model               string `json:"model"`
	PromptTokens        int64  `json:"prompt_tokens"`
	CompletionTokens    int64  `json:"completion_tokens"`
	CacheReadTokens     int64  `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens int64  `json:"cache_creation_tokens,omitempty"`
}

// Validate checks every token count is within [0, MaxTokensPerCall]
func (u Usage) Validate() error {
	for _, f := range [...]struct {
		name  string
		value int64
	}{
		{"prompt_tokens", u.PromptTokens},
		{"completion_tokens", u.CompletionTokens},
		{"cache_read_tokens", u.CacheReadTokens},
		{"cache_creation_tokens", u.CacheCreationTokens},
	} {
		if f.value < 0 || f.value > MaxTokensPerCall {
			return fmt.Errorf("%w: %s must be between 0 and %d", ErrInvalidUsage, f.name, MaxTokensPerCall)
		}
	}
	return nil
}

func validateToolExecutionMS(ms int64) error {
	if ms < 0 || ms > MaxToolExecutionMS {
		return fmt.Errorf("%w: tool_execution_ms must be between 0 and %d", ErrInvalidUsage, MaxToolExecutionMS)
	}
	return nil
}

// Cost prices u in micro-dollars. The sum is computed in 128 bits and the
// result saturates at math.MaxInt64.
func (t PriceTable) Cost(u Usage) int64 {
	p := t.Lookup(u.Model)

	uncached := u.PromptTokens - u.CacheReadTokens - u.CacheCreationTokens
	if uncached < 0 {
		uncached = 0
	}

	var hi, lo uint64
	for _, c := range [...]struct{ tokens, price int64 }{
		{uncached, p.InputPerMTok},
		{u.CompletionTokens, p.OutputPerMTok},
		{u.CacheReadTokens, p.CacheReadPerMTok},
		{u.CacheCreationTokens, p.CacheWritePerMTok},
	} {
		if c.tokens <= 0 || c.price <= 0 {
			continue
		}
		h, l := bits.Mul64(uint64(c.tokens), uint64(c.price))
		var carry uint64
		lo, carry = bits.Add64(lo, l, 0)
		hi += h + carry
	}

	if hi >= tokensPerMillion {
		return math.MaxInt64
	}
	q, _ := bits.Div64(hi, lo, tokensPerMillion)
	if q > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(q)
}

// MicrosToCents rounds micro-dollars to the nearest cent
func MicrosToCents(micros int64) int64 {
	return (micros + 5_000) / 10_000
}

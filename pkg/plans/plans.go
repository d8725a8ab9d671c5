package plans

import (
	"errors"
	"fmt"
	"strings"
)

// Tier represents a subscription plan tier
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// ErrUnknownTier is returned by ParseTier for values outside the known tiers
var ErrUnknownTier = errors.New("unknown plan tier")

// NormalizeTier lower-cases a stored tier value. An empty value means free.
func NormalizeTier(raw string) Tier {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return TierFree
	}
	return Tier(raw)
}

// ParseTier normalizes raw and checks it against the known tiers.
func ParseTier(raw string) (Tier, error) {
	tier := NormalizeTier(raw)
	switch tier {
	case TierFree, TierPro, TierEnterprise:
		return tier, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTier, raw)
}

// Limits holds the settings this service owns for a tier. A nil ceiling is
// unlimited. Monthly agent and run ceilings live in the plan_tiers table.
type Limits struct {
	DisplayName    string `json:"display_name" yaml:"display_name"`
	HourlyRunLimit *int64 `json:"hourly_run_limit" yaml:"hourly_run_limit"`
}

// UpgradeCTA is the call to action attached to every limit denial
type UpgradeCTA struct {
	Text        string `json:"text"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// BillingURL returns the billing settings path, scoped to orgID when present.
func BillingURL(orgID string) string {
	if orgID == "" {
		return "/settings/billing"
	}
	return "/settings/billing?org=" + orgID
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}

// FormatLimit renders a ceiling for user-facing text.
func FormatLimit(limit *int64) string {
	if limit == nil {
		return "unlimited"
	}
	return fmt.Sprintf("%d", *limit)
}

package plans

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog maps each tier to its hourly limit and display name
type Catalog struct {
	Tiers map[Tier]Limits `yaml:"tiers"`
}

// DefaultCatalog returns the built-in plan limits.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Tiers: map[Tier]Limits{
			TierFree: {
				DisplayName:    "Free",
				HourlyRunLimit: Int64(10),
			},
			TierPro: {
				DisplayName:    "Pro",
				HourlyRunLimit: Int64(100),
			},
			TierEnterprise: {
				DisplayName:    "Enterprise",
				HourlyRunLimit: nil,
			},
		},
	}
}

// LoadCatalog reads a YAML catalog from path and merges it over the defaults.
// Tiers absent from the file keep their built-in limits. A tier present in the
// file replaces its built-in entry, so an omitted ceiling there is unlimited.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes YAML catalog data and merges it over the defaults.
// Unknown keys are rejected, including monthly ceilings, which are read from
// the database and cannot be overridden here.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse plan catalog: %w", err)
	}

	cat := DefaultCatalog()
	for tier, limits := range file.Tiers {
		parsed, err := ParseTier(string(tier))
		if err != nil {
			return nil, err
		}
		if limits.DisplayName == "" {
			limits.DisplayName = cat.Tiers[parsed].DisplayName
		}
		cat.Tiers[parsed] = limits
	}
	return cat, nil
}

// Limits returns the limits for tier. Unknown tiers get the free limits.
func (c *Catalog) Limits(tier Tier) Limits {
	if limits, ok := c.Tiers[tier]; ok {
		return limits
	}
	return c.Tiers[TierFree]
}

// Known reports whether tier has an entry in the catalog.
func (c *Catalog) Known(tier Tier) bool {
	_, ok := c.Tiers[tier]
	return ok
}

// DisplayName returns the human-readable tier name.
func (c *Catalog) DisplayName(tier Tier) string {
	if limits, ok := c.Tiers[tier]; ok && limits.DisplayName != "" {
		return limits.DisplayName
	}
	s := string(tier)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// HourlyUpgradeDescription describes what upgrading buys in hourly runs.
func (c *Catalog) HourlyUpgradeDescription() string {
	pro := c.Limits(TierPro)
	ent := c.Limits(TierEnterprise)
	return fmt.Sprintf("Upgrade to %s for %s runs/hour or %s for %s",
		pro.DisplayName, FormatLimit(pro.HourlyRunLimit),
		ent.DisplayName, FormatLimit(ent.HourlyRunLimit))
}

// MonthlyUpgradeDescription describes what upgrading buys in monthly limits.
// It names no numbers since the monthly ceilings are not held here.
func (c *Catalog) MonthlyUpgradeDescription() string {
	return fmt.Sprintf("Unlock more agents and runs with %s", c.DisplayName(TierPro))
}

// Package autonomy resolves how much latitude the agent has for a user in a
// given action category. Levels run 0 (never act) to 4 (fully autonomous);
// level 2 is the platform default.
package autonomy

import (
	"gopkg.in/yaml.v3"

	"rentline/internal/domain"
)

const (
	PresetCautious = "cautious"
	PresetBalanced = "balanced"
	PresetHandsOff = "hands_off"
)

const (
	CategoryQuery          = "query"
	CategoryMessages       = "messages"
	CategoryFinancial      = "financial"
	CategoryLegal          = "legal"
	CategoryMaintenance    = "maintenance"
	CategoryListings       = "listings"
	CategoryTenantFinding  = "tenant_finding"
	CategoryRentCollection = "rent_collection"
)

// DefaultLevel applies when neither an override nor a preset entry covers a category.
const DefaultLevel = 2

// Per-preset default levels. rent_collection is deliberately absent from every
// table: it resolves through DefaultLevel unless a user sets an explicit
// override. Do not add it here without a product decision.
const presetTemplate = `cautious:
  query: 2
  messages: 1
  financial: 0
  legal: 0
  maintenance: 1
  listings: 1
  tenant_finding: 1

balanced:
  query: 3
  messages: 2
  financial: 1
  legal: 0
  maintenance: 2
  listings: 2
  tenant_finding: 2

hands_off:
  query: 4
  messages: 3
  financial: 2
  legal: 1
  maintenance: 3
  listings: 3
  tenant_finding: 3
`

var presets = loadPresets()

func loadPresets() map[string]map[string]int {
	var tables map[string]map[string]int
	if err := yaml.Unmarshal([]byte(presetTemplate), &tables); err != nil {
		panic("autonomy: invalid preset template: " + err.Error())
	}
	return tables
}

// Presets returns the known preset names.
func Presets() []string {
	return []string{PresetCautious, PresetBalanced, PresetHandsOff}
}

// ValidPreset reports whether name is a known preset.
func ValidPreset(name string) bool {
	_, ok := presets[name]
	return ok
}

// ResolveLevel returns the effective autonomy level for a category. Precedence:
// a well-formed "L<0..4>" override, then the preset's table (balanced when
// settings are absent), then DefaultLevel. Pure and total.
func ResolveLevel(settings *domain.AutonomySettings, category string) int {
	if settings != nil {
		if raw, ok := settings.Overrides[category]; ok {
			return parseLevel(raw)
		}
	}
	preset := PresetBalanced
	if settings != nil && settings.Preset != "" {
		preset = settings.Preset
	}
	if table, ok := presets[preset]; ok {
		if level, ok := table[category]; ok {
			return level
		}
	}
	return DefaultLevel
}

// ValidLevel reports whether raw is a well-formed level string ("L0".."L4").
func ValidLevel(raw string) bool {
	return len(raw) == 2 && (raw[0] == 'L' || raw[0] == 'l') && raw[1] >= '0' && raw[1] <= '4'
}

func parseLevel(raw string) int {
	if len(raw) != 2 || (raw[0] != 'L' && raw[0] != 'l') {
		return DefaultLevel
	}
	d := raw[1]
	if d < '0' || d > '4' {
		return DefaultLevel
	}
	return int(d - '0')
}

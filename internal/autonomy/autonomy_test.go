package autonomy

import (
	"testing"

	"rentline/internal/domain"
)

func TestResolveLevelNilSettings(t *testing.T) {
	// no row means the balanced tables apply
	if got := ResolveLevel(nil, CategoryFinancial); got != 1 {
		t.Fatalf("financial for nil settings: got %d, want 1", got)
	}
	if got := ResolveLevel(nil, CategoryQuery); got != 3 {
		t.Fatalf("query for nil settings: got %d, want 3", got)
	}
}

func TestResolveLevelOverrideWins(t *testing.T) {
	s := &domain.AutonomySettings{
		Preset:    PresetCautious,
		Overrides: map[string]string{CategoryFinancial: "L4"},
	}
	if got := ResolveLevel(s, CategoryFinancial); got != 4 {
		t.Fatalf("override: got %d, want 4", got)
	}
	// sibling category still uses the preset table
	if got := ResolveLevel(s, CategoryLegal); got != 0 {
		t.Fatalf("cautious legal: got %d, want 0", got)
	}
}

func TestResolveLevelMalformedOverride(t *testing.T) {
	for _, raw := range []string{"", "4", "L", "L9", "level-3", "LL2"} {
		s := &domain.AutonomySettings{
			Preset:    PresetHandsOff,
			Overrides: map[string]string{CategoryMessages: raw},
		}
		if got := ResolveLevel(s, CategoryMessages); got != DefaultLevel {
			t.Fatalf("override %q: got %d, want %d", raw, got, DefaultLevel)
		}
	}
}

func TestResolveLevelUnknownPreset(t *testing.T) {
	s := &domain.AutonomySettings{Preset: "aggressive"}
	if got := ResolveLevel(s, CategoryQuery); got != DefaultLevel {
		t.Fatalf("unknown preset: got %d, want %d", got, DefaultLevel)
	}
}

// rent_collection is absent from every preset table, so the effective level is
// always DefaultLevel unless the user overrides it. Presets changing this would
// silently change which rent reminders auto-send.
func TestRentCollectionFallsBackToDefault(t *testing.T) {
	for _, preset := range Presets() {
		s := &domain.AutonomySettings{Preset: preset}
		if got := ResolveLevel(s, CategoryRentCollection); got != DefaultLevel {
			t.Fatalf("preset %s rent_collection: got %d, want %d", preset, got, DefaultLevel)
		}
	}
	s := &domain.AutonomySettings{
		Preset:    PresetBalanced,
		Overrides: map[string]string{CategoryRentCollection: "L1"},
	}
	if got := ResolveLevel(s, CategoryRentCollection); got != 1 {
		t.Fatalf("rent_collection override: got %d, want 1", got)
	}
}

func TestPresetsMonotone(t *testing.T) {
	order := []string{PresetCautious, PresetBalanced, PresetHandsOff}
	categories := []string{
		CategoryQuery, CategoryMessages, CategoryFinancial, CategoryLegal,
		CategoryMaintenance, CategoryListings, CategoryTenantFinding,
	}
	for _, cat := range categories {
		prev := -1
		for _, preset := range order {
			level := ResolveLevel(&domain.AutonomySettings{Preset: preset}, cat)
			if level < prev {
				t.Fatalf("category %s: %s level %d below previous %d", cat, preset, level, prev)
			}
			prev = level
		}
	}
}

package refdata

import (
	"context"

	"github.com/rawblock/tariff-engine/internal/evaluator"
	"github.com/rawblock/tariff-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Bulk accessors used to mirror the seed catalog into PostgreSQL at
// startup, plus the static Annex II override for the feature flag.
// ──────────────────────────────────────────────────────────────────────

func (c *Catalog) DutyRules() []models.DutyRule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.DutyRule, 0, len(c.dutyRules))
	for _, dr := range c.dutyRules {
		out = append(out, dr)
	}
	return out
}

func (c *Catalog) Materials() []models.Section232Material {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Section232Material, len(c.materials))
	copy(out, c.materials)
	return out
}

func (c *Catalog) ProgramRates() []models.ProgramRate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.ProgramRate, len(c.programRates))
	copy(out, c.programRates)
	return out
}

func (c *Catalog) Groups() []models.CountryGroup {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.CountryGroup, len(c.groups))
	copy(out, c.groups)
	return out
}

func (c *Catalog) Countries() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.countryCodes))
	for name, code := range c.countryCodes {
		out[name] = code
	}
	return out
}

func (c *Catalog) MFNRates() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.mfn))
	for hts, rate := range c.mfn {
		out[hts] = rate
	}
	return out
}

func (c *Catalog) AnnexIICodes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.annexII))
	for hts := range c.annexII {
		out = append(out, hts)
	}
	return out
}

func (c *Catalog) Documents() []models.OfficialDocument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.OfficialDocument, 0, len(c.documents))
	for _, d := range c.documents {
		out = append(out, d)
	}
	return out
}

// StaticAnnexII overrides the Annex II check with the static seed list
// while every other read passes through. Used when the
// database-backed Annex II feature flag is off.
type StaticAnnexII struct {
	evaluator.Store
	Static *Catalog
}

func (s StaticAnnexII) AnnexIIListed(ctx context.Context, hts8 string) (bool, error) {
	return s.Static.AnnexIIListed(ctx, hts8)
}

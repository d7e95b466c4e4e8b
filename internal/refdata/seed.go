package refdata

import (
	"github.com/rawblock/tariff-engine/pkg/models"
)

// Seed builds the reference catalog: the static program catalog, duty
// rules, country groups, and the current rate/material tables. The
// temporal rate table is authoritative; rows imported from the legacy
// static Section 301 table carry dataset_tag "legacy_static" and are
// archived, so they only answer when no live row covers the date.
func Seed() *Catalog {
	c := New()

	open := func(s string) models.Date { return models.MustDate(s) }
	until := func(s string) *models.Date { d := models.MustDate(s); return &d }
	rate := func(v float64) *float64 { return &v }

	// ── Program catalog ──────────────────────────────────────────
	// Filing sequence is the CBP entry order; calculation sequence
	// puts every Section 232 program before IEEPA Reciprocal so the
	// remaining value is defined when the reciprocal base is read.
	c.AddProgram(models.TariffProgram{
		ID: "section_301", Name: "Section 301 (China)",
		CountryScope: "CN", CheckType: models.CheckHTSLookup,
		ConditionHandler: models.HandlerNone,
		FilingSequence:   10, CalcSequence: 10,
		DisclaimBehavior: models.DisclaimNone,
		EffectiveStart:   open("2018-07-06"),
	})
	c.AddProgram(models.TariffProgram{
		ID: "ieepa_fentanyl", Name: "IEEPA Fentanyl",
		CountryScope: "CN,HK", CheckType: models.CheckAlways,
		ConditionHandler: models.HandlerNone,
		FilingSequence:   20, CalcSequence: 20,
		DisclaimBehavior: models.DisclaimNone,
		EffectiveStart:   open("2024-01-01"),
	})
	c.AddProgram(models.TariffProgram{
		ID: "section_232_copper", Name: "Section 232 Copper",
		CountryScope: "*", CheckType: models.CheckHTSLookup,
		ConditionHandler: models.HandlerMaterialComposition,
		FilingSequence:   30, CalcSequence: 30,
		DisclaimBehavior: models.DisclaimRequired,
		EffectiveStart:   open("2024-01-01"),
	})
	c.AddProgram(models.TariffProgram{
		ID: "section_232_steel", Name: "Section 232 Steel",
		CountryScope: "*", CheckType: models.CheckHTSLookup,
		ConditionHandler: models.HandlerMaterialComposition,
		FilingSequence:   40, CalcSequence: 31,
		DisclaimBehavior: models.DisclaimRequired,
		EffectiveStart:   open("2024-01-01"),
	})
	c.AddProgram(models.TariffProgram{
		ID: "section_232_aluminum", Name: "Section 232 Aluminum",
		CountryScope: "*", CheckType: models.CheckHTSLookup,
		ConditionHandler: models.HandlerMaterialComposition,
		FilingSequence:   50, CalcSequence: 32,
		DisclaimBehavior: models.DisclaimRequired,
		EffectiveStart:   open("2024-01-01"),
	})
	c.AddProgram(models.TariffProgram{
		ID: "ieepa_reciprocal", Name: "IEEPA Reciprocal",
		CountryScope: "*", CheckType: models.CheckAlways,
		ConditionHandler: models.HandlerDependency,
		DependsOn:        "section_232",
		FilingSequence:   60, CalcSequence: 90,
		DisclaimBehavior: models.DisclaimNone,
		EffectiveStart:   open("2024-01-01"),
	})

	// ── Duty rules ───────────────────────────────────────────────
	c.AddDutyRule(models.DutyRule{ProgramID: "section_301", CalculationType: models.CalcAdditive, BaseOn: models.BaseProductValue})
	c.AddDutyRule(models.DutyRule{ProgramID: "ieepa_fentanyl", CalculationType: models.CalcAdditive, BaseOn: models.BaseProductValue})
	for _, m := range []string{"copper", "steel", "aluminum"} {
		c.AddDutyRule(models.DutyRule{
			ProgramID:       "section_232_" + m,
			CalculationType: models.CalcAdditive,
			BaseOn:          models.BaseContentValue,
			ContentKey:      m,
			FallbackBaseOn:  models.BaseProductValue,
			BaseEffect:      models.EffectSubtractFromRemaining,
		})
	}
	c.AddDutyRule(models.DutyRule{ProgramID: "ieepa_reciprocal", CalculationType: models.CalcAdditive, BaseOn: models.BaseRemainingValue})

	// ── Countries and groups ─────────────────────────────────────
	countries := map[string]string{
		"china": "CN", "hong kong": "HK", "germany": "DE", "france": "FR",
		"italy": "IT", "spain": "ES", "netherlands": "NL", "ireland": "IE",
		"united kingdom": "GB", "japan": "JP", "vietnam": "VN",
		"mexico": "MX", "canada": "CA", "united states": "US",
		"south korea": "KR", "taiwan": "TW", "india": "IN",
	}
	for name, code := range countries {
		c.AddCountry(name, code)
	}
	c.AddGroup(models.CountryGroup{Name: "EU", Members: []string{"DE", "FR", "IT", "ES", "NL", "IE"}})
	c.AddGroup(models.CountryGroup{Name: "UK", Members: []string{"GB"}})
	c.AddGroup(models.CountryGroup{Name: "CN", Members: []string{"CN", "HK"}})

	// ── Section 301 temporal rows ────────────────────────────────
	seedProv := func(r models.RateRow) models.RateRow {
		r.SourceDocumentID = "doc-seed-2025"
		r.EvidenceID = "ev-seed-2025"
		r.DatasetTag = "seed_2025"
		return r
	}
	c.AddDocument(models.OfficialDocument{
		ID: "doc-seed-2025", Source: "federal_register", ExternalID: "seed",
		Tier: models.TierA, CanonicalURL: "https://www.federalregister.gov",
		PublicationDate: open("2025-01-01"),
	})

	c.AddRate(seedProv(models.RateRow{
		ID: "r301-8544429000", ProgramID: "section_301",
		Keys: models.SubjectKeys{HTS8: "85444290"}, Role: models.RoleImpose,
		Chapter99Code: "9903.88.03", Rate: rate(0.25),
		EffectiveStart: open("2018-09-24"),
	}))
	c.AddRate(seedProv(models.RateRow{
		ID: "r301-84733051", ProgramID: "section_301",
		Keys: models.SubjectKeys{HTS8: "84733051"}, Role: models.RoleImpose,
		Chapter99Code: "9903.88.03", Rate: rate(0.25),
		EffectiveStart: open("2018-09-24"),
	}))
	// Exclusion for 8473.30.51: wins over the impose row inside its
	// window, expired before 2026.
	c.AddRate(seedProv(models.RateRow{
		ID: "r301x-84733051", ProgramID: "section_301",
		Keys: models.SubjectKeys{HTS8: "84733051"}, Role: models.RoleExclude,
		Chapter99Code: "9903.88.69", Rate: rate(0),
		EffectiveStart: open("2024-01-01"), EffectiveEnd: until("2025-12-01"),
	}))
	// Legacy static-table import, archived: consulted only when no
	// live temporal row covers the date.
	c.AddRate(models.RateRow{
		ID: "r301-legacy-85444290", ProgramID: "section_301",
		Keys: models.SubjectKeys{HTS8: "85444290"}, Role: models.RoleImpose,
		Chapter99Code: "9903.88.03", Rate: rate(0.25),
		EffectiveStart: open("2018-09-24"),
		DatasetTag:     "legacy_static", IsArchived: true,
	})

	// ── IEEPA rows ───────────────────────────────────────────────
	c.AddProgramRate(models.ProgramRate{
		ProgramID: "ieepa_fentanyl", CountryOrGroup: "CN",
		Chapter99Code: "9903.01.24", Rate: rate(0.10),
		EffectiveStart: open("2024-01-01"),
	})
	c.AddRate(seedProv(models.RateRow{
		ID: "rrec-cn-standard", ProgramID: "ieepa_reciprocal",
		Keys: models.SubjectKeys{Country: "CN", Variant: "standard"}, Role: models.RoleImpose,
		Chapter99Code: "9903.01.33", Rate: rate(0.10),
		EffectiveStart: open("2024-01-01"),
	}))
	c.AddRate(seedProv(models.RateRow{
		ID: "rrec-eu-standard", ProgramID: "ieepa_reciprocal",
		Keys: models.SubjectKeys{CountryGroup: "EU", Variant: "standard"}, Role: models.RoleImpose,
		Chapter99Code: "9903.02.20", Rate: rate(0.15),
		EffectiveStart: open("2024-01-01"),
	}))
	for id, v := range map[string]struct {
		variant string
		code    string
	}{
		"rrec-annex2":   {"annex_ii_exempt", "9903.01.32"},
		"rrec-232ex":    {"section_232_exempt", "9903.01.34"},
		"rrec-uscontent": {"us_content_exempt", "9903.01.35"},
	} {
		c.AddRate(seedProv(models.RateRow{
			ID: id, ProgramID: "ieepa_reciprocal",
			Keys: models.SubjectKeys{Variant: v.variant}, Role: models.RoleImpose,
			Chapter99Code: v.code, Rate: rate(0),
			EffectiveStart: open("2024-01-01"),
		}))
	}
	// EU reciprocal ceiling: 15% less the MFN base rate.
	c.AddProgramRate(models.ProgramRate{
		ProgramID: "ieepa_reciprocal", CountryOrGroup: "EU",
		Chapter99Code: "9903.02.20", Formula: "15% - MFN",
		EffectiveStart: open("2024-01-01"),
	})

	// ── Section 232 material rules ───────────────────────────────
	mat := func(id, hts8, material, claim, disclaim string, r float64) models.Section232Material {
		return models.Section232Material{
			ID: id, HTS8: hts8, Material: material,
			ClaimCode: claim, DisclaimCode: disclaim, Rate: r,
			SplitPolicy: models.SplitIfAnyContent, ContentBasis: models.ContentByValue,
			QuantityUnit: "kg", EffectiveStart: open("2024-01-01"),
		}
	}
	c.AddMaterial(mat("m-8544-cu", "85444290", "copper", "9903.78.01", "9903.78.02", 0.50))
	c.AddMaterial(mat("m-8544-fe", "85444290", "steel", "9903.80.01", "9903.80.02", 0.50))
	c.AddMaterial(mat("m-8544-al", "85444290", "aluminum", "9903.85.08", "9903.85.09", 0.25))
	c.AddMaterial(mat("m-8473-al", "84733051", "aluminum", "9903.85.08", "9903.85.09", 0.25))
	c.AddMaterial(mat("m-7411-cu", "74111010", "copper", "9903.78.01", "9903.78.02", 0.50))

	// ── Annex II and MFN base rates ──────────────────────────────
	c.AddAnnexII("84733051")
	c.AddAnnexII("30049092")
	c.SetMFN("85444290", 0.026)
	c.SetMFN("84733051", 0.0)
	c.SetMFN("90189080", 0.05)
	c.SetMFN("74111010", 0.015)

	return c
}

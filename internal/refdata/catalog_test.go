package refdata

import (
	"context"
	"testing"

	"github.com/rawblock/tariff-engine/pkg/models"
)

func rate(v float64) *float64 { return &v }

func TestRateAsOf_ExcludeBeatsImpose(t *testing.T) {
	c := Seed()
	row, err := c.RateAsOf(context.Background(), "section_301",
		models.SubjectKeys{HTS8: "84733051", Country: "CN", CountryGroup: "CN"},
		models.MustDate("2024-10-01"))
	if err != nil || row == nil {
		t.Fatalf("RateAsOf = %+v, %v", row, err)
	}
	if row.Role != models.RoleExclude || row.Chapter99Code != "9903.88.69" {
		t.Errorf("got %s/%s, want exclude/9903.88.69", row.Role, row.Chapter99Code)
	}
}

func TestRateAsOf_ImposeAfterExclusionExpiry(t *testing.T) {
	c := Seed()
	row, err := c.RateAsOf(context.Background(), "section_301",
		models.SubjectKeys{HTS8: "84733051"}, models.MustDate("2026-01-15"))
	if err != nil || row == nil {
		t.Fatalf("RateAsOf = %+v, %v", row, err)
	}
	if row.Role != models.RoleImpose || row.Chapter99Code != "9903.88.03" {
		t.Errorf("got %s/%s, want impose/9903.88.03", row.Role, row.Chapter99Code)
	}
}

func TestRateAsOf_HTS10BeatsHTS8(t *testing.T) {
	c := New()
	c.AddRate(models.RateRow{
		ID: "r8", ProgramID: "section_301", Keys: models.SubjectKeys{HTS8: "85444290"},
		Role: models.RoleImpose, Chapter99Code: "9903.88.03", Rate: rate(0.25),
		EffectiveStart: models.MustDate("2020-01-01"),
		SourceDocumentID: "d", EvidenceID: "e",
	})
	c.AddRate(models.RateRow{
		ID: "r10", ProgramID: "section_301",
		Keys: models.SubjectKeys{HTS8: "85444290", HTS10: "8544429090"},
		Role: models.RoleImpose, Chapter99Code: "9903.88.03", Rate: rate(0.075),
		EffectiveStart: models.MustDate("2020-01-01"),
		SourceDocumentID: "d", EvidenceID: "e",
	})

	row, err := c.RateAsOf(context.Background(), "section_301",
		models.SubjectKeys{HTS8: "85444290", HTS10: "8544429090"}, models.MustDate("2025-01-01"))
	if err != nil || row == nil {
		t.Fatalf("RateAsOf = %+v, %v", row, err)
	}
	if row.ID != "r10" {
		t.Errorf("got row %s, want the HTS-10 row", row.ID)
	}
}

func TestRateAsOf_ArchivedOnlyAsFallback(t *testing.T) {
	c := New()
	c.AddRate(models.RateRow{
		ID: "r-live", ProgramID: "section_301", Keys: models.SubjectKeys{HTS8: "39269099"},
		Role: models.RoleImpose, Chapter99Code: "9903.88.03", Rate: rate(0.25),
		EffectiveStart: models.MustDate("2025-01-01"),
		SourceDocumentID: "d", EvidenceID: "e",
	})
	c.AddRate(models.RateRow{
		ID: "r-arch", ProgramID: "section_301", Keys: models.SubjectKeys{HTS8: "39269099"},
		Role: models.RoleImpose, Chapter99Code: "9903.88.03", Rate: rate(0.10),
		EffectiveStart: models.MustDate("2019-01-01"), IsArchived: true,
	})

	// Live row in window: archived never answers.
	row, _ := c.RateAsOf(context.Background(), "section_301",
		models.SubjectKeys{HTS8: "39269099"}, models.MustDate("2025-06-01"))
	if row == nil || row.ID != "r-live" {
		t.Fatalf("got %+v, want the live row", row)
	}

	// Before the live row's window: only the archived row covers.
	row, _ = c.RateAsOf(context.Background(), "section_301",
		models.SubjectKeys{HTS8: "39269099"}, models.MustDate("2020-01-01"))
	if row == nil || row.ID != "r-arch" {
		t.Fatalf("got %+v, want the archived fallback", row)
	}
}

func TestRateAsOf_MostRecentStartWins(t *testing.T) {
	c := New()
	end := models.MustDate("2026-01-01")
	c.AddRate(models.RateRow{
		ID: "r-old", ProgramID: "section_301", Keys: models.SubjectKeys{HTS8: "39269099"},
		Role: models.RoleImpose, Chapter99Code: "9903.88.03", Rate: rate(0.10),
		EffectiveStart: models.MustDate("2024-01-01"), EffectiveEnd: &end,
		SourceDocumentID: "d", EvidenceID: "e",
	})
	c.AddRate(models.RateRow{
		ID: "r-new", ProgramID: "section_301", Keys: models.SubjectKeys{HTS8: "39269099"},
		Role: models.RoleImpose, Chapter99Code: "9903.88.03", Rate: rate(0.25),
		EffectiveStart: models.MustDate("2026-01-01"),
		SourceDocumentID: "d", EvidenceID: "e",
	})

	row, _ := c.RateAsOf(context.Background(), "section_301",
		models.SubjectKeys{HTS8: "39269099"}, models.MustDate("2026-06-01"))
	if row == nil || row.ID != "r-new" {
		t.Fatalf("got %+v, want the 2026 row", row)
	}
	row, _ = c.RateAsOf(context.Background(), "section_301",
		models.SubjectKeys{HTS8: "39269099"}, models.MustDate("2025-06-01"))
	if row == nil || row.ID != "r-old" {
		t.Fatalf("got %+v, want the 2024 row", row)
	}
}

func TestMaterialRules_HTS10Preferred(t *testing.T) {
	c := New()
	c.AddMaterial(models.Section232Material{
		ID: "m8", HTS8: "85444290", Material: "copper",
		ClaimCode: "9903.78.01", DisclaimCode: "9903.78.02", Rate: 0.5,
		SplitPolicy: models.SplitIfAnyContent, ContentBasis: models.ContentByValue,
		EffectiveStart: models.MustDate("2024-01-01"),
	})
	c.AddMaterial(models.Section232Material{
		ID: "m10", HTS8: "85444290", HTS10: "8544429090", Material: "copper",
		ClaimCode: "9903.78.01", DisclaimCode: "9903.78.02", Rate: 0.3,
		SplitPolicy: models.SplitIfAnyContent, ContentBasis: models.ContentByValue,
		EffectiveStart: models.MustDate("2024-01-01"),
	})

	rules, err := c.MaterialRules(context.Background(), "85444290", "8544429090", models.MustDate("2025-01-01"))
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected both rows, got %d", len(rules))
	}
	if rules[0].ID != "m10" {
		t.Errorf("first rule = %s, want the HTS-10 row first", rules[0].ID)
	}
}

func TestSeed_InvariantsHold(t *testing.T) {
	c := Seed()
	rows := c.Rates()
	if err := models.NoWindowOverlap(rows); err != nil {
		t.Errorf("NoWindowOverlap: %v", err)
	}
	if err := models.SupersessionChainConsistent(rows); err != nil {
		t.Errorf("SupersessionChainConsistent: %v", err)
	}
	if err := models.EveryRowHasEvidence(rows); err != nil {
		t.Errorf("EveryRowHasEvidence: %v", err)
	}
}

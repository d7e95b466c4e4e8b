package commit

import (
	"context"
	"errors"
	"testing"

	"github.com/rawblock/tariff-engine/internal/refdata"
	"github.com/rawblock/tariff-engine/pkg/models"
)

func rate(v float64) *float64 { return &v }

func newFixture() (*refdata.Catalog, *Engine) {
	c := refdata.New()
	c.AddDocument(models.OfficialDocument{
		ID: "doc-fr-1", Source: "federal_register", ExternalID: "2025-12345",
		Tier: models.TierA, CanonicalURL: "https://www.federalregister.gov/d/2025-12345",
	})
	c.AddDocument(models.OfficialDocument{
		ID: "doc-csms-1", Source: "cbp_csms", ExternalID: "65432109",
		Tier: models.TierB, CanonicalURL: "https://content.govdelivery.com/accounts/USDHSCBP/bulletins/65432109",
	})
	return c, NewEngine(c, nil)
}

// S6: committing a successor closes the predecessor at the new start
// and as-of queries answer per side of the boundary.
func TestCommit_Supersession(t *testing.T) {
	c, engine := newFixture()
	ctx := context.Background()
	keys := models.SubjectKeys{HTS8: "39269099"}

	c.AddRate(models.RateRow{
		ID: "row-old", ProgramID: "section_301", Keys: keys, Role: models.RoleImpose,
		Chapter99Code: "9903.88.03", Rate: rate(0.10),
		EffectiveStart:   models.MustDate("2025-01-01"),
		SourceDocumentID: "doc-fr-1", EvidenceID: "ev-old",
	})

	cand := &models.CandidateChange{
		ID: "cand-1", ProgramID: "section_301", Keys: keys, Role: models.RoleImpose,
		Chapter99Code: "9903.88.03", Rate: rate(0.25),
		EffectiveStart: models.MustDate("2026-01-01"),
		DocumentID:     "doc-fr-1", EvidenceID: "ev-new",
		Status:         models.CandidateApproved, RunID: "run-1",
	}
	c.AddCandidate(cand)

	newRow, err := engine.Commit(ctx, cand)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	rows := c.Rates()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows after supersession, got %d", len(rows))
	}

	var old models.RateRow
	for _, r := range rows {
		if r.ID == "row-old" {
			old = r
		}
	}
	if old.EffectiveEnd == nil || !old.EffectiveEnd.Equal(models.MustDate("2026-01-01")) {
		t.Errorf("predecessor end = %v, want 2026-01-01", old.EffectiveEnd)
	}
	if old.SupersededByID != newRow.ID {
		t.Errorf("predecessor superseded_by = %s, want %s", old.SupersededByID, newRow.ID)
	}
	if newRow.SupersedesID != "row-old" {
		t.Errorf("new row supersedes = %s, want row-old", newRow.SupersedesID)
	}

	// As-of on each side of the boundary.
	before, err := c.RateAsOf(ctx, "section_301", keys, models.MustDate("2025-06-01"))
	if err != nil || before == nil || *before.Rate != 0.10 {
		t.Fatalf("as_of 2025-06-01 = %+v, want the 0.10 row", before)
	}
	after, err := c.RateAsOf(ctx, "section_301", keys, models.MustDate("2026-06-01"))
	if err != nil || after == nil || *after.Rate != 0.25 {
		t.Fatalf("as_of 2026-06-01 = %+v, want the 0.25 row", after)
	}
	if before.EvidenceID == "" || after.EvidenceID == "" {
		t.Error("both rows must reference their evidence packets")
	}

	// Store invariants hold after the commit.
	if err := models.NoWindowOverlap(rows); err != nil {
		t.Errorf("NoWindowOverlap: %v", err)
	}
	if err := models.SupersessionChainConsistent(rows); err != nil {
		t.Errorf("SupersessionChainConsistent: %v", err)
	}
	if err := models.EveryRowHasEvidence(rows); err != nil {
		t.Errorf("EveryRowHasEvidence: %v", err)
	}

	if cand.Status != models.CandidateCommitted {
		t.Errorf("candidate status = %s, want committed", cand.Status)
	}
	if len(c.RunChanges()) != 1 {
		t.Errorf("expected 1 run change, got %d", len(c.RunChanges()))
	}
	if got := len(c.AuditEntries()); got != 2 {
		t.Errorf("expected 2 audit entries (supersede + insert), got %d", got)
	}
}

// Applying an approved candidate twice is a no-op after the first
// commit: the second attempt would overlap the row it created.
func TestCommit_Idempotence(t *testing.T) {
	c, engine := newFixture()
	ctx := context.Background()
	keys := models.SubjectKeys{HTS8: "39269099"}

	cand := &models.CandidateChange{
		ID: "cand-1", ProgramID: "section_301", Keys: keys, Role: models.RoleImpose,
		Chapter99Code: "9903.88.03", Rate: rate(0.25),
		EffectiveStart: models.MustDate("2026-01-01"),
		DocumentID:     "doc-fr-1", EvidenceID: "ev-new",
	}
	c.AddCandidate(cand)

	if _, err := engine.Commit(ctx, cand); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	_, err := engine.Commit(ctx, cand)
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("second commit error = %v, want ErrInvariantViolation", err)
	}
	if len(c.Rates()) != 1 {
		t.Errorf("expected 1 row after replay, got %d", len(c.Rates()))
	}
	if cand.Status != models.CandidatePending || cand.BlockReason == "" {
		t.Errorf("replayed candidate = %s/%q, want pending with block reason", cand.Status, cand.BlockReason)
	}
}

func TestCommit_RefusesNonTierA(t *testing.T) {
	c, engine := newFixture()
	cand := &models.CandidateChange{
		ID: "cand-b", ProgramID: "section_301",
		Keys: models.SubjectKeys{HTS8: "39269099"}, Role: models.RoleImpose,
		Chapter99Code: "9903.88.03", Rate: rate(0.25),
		EffectiveStart: models.MustDate("2026-01-01"),
		DocumentID:     "doc-csms-1", EvidenceID: "ev-1",
	}
	c.AddCandidate(cand)

	_, err := engine.Commit(context.Background(), cand)
	if !errors.Is(err, ErrNotTierA) {
		t.Fatalf("error = %v, want ErrNotTierA", err)
	}
	if len(c.Rates()) != 0 {
		t.Error("non-tier-A commit must not write rows")
	}
}

func TestCommit_RefusesMissingEvidence(t *testing.T) {
	_, engine := newFixture()
	cand := &models.CandidateChange{
		ID: "cand-noev", ProgramID: "section_301",
		Keys: models.SubjectKeys{HTS8: "39269099"}, Role: models.RoleImpose,
		Chapter99Code: "9903.88.03", Rate: rate(0.25),
		EffectiveStart: models.MustDate("2026-01-01"),
		DocumentID:     "doc-fr-1",
	}
	_, err := engine.Commit(context.Background(), cand)
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("error = %v, want ErrInvariantViolation for missing evidence", err)
	}
}

// Committing a schedule of N rows and reading as_of at each interior
// anchor returns the correct row, and the right neighbor at d-1.
func TestCommitSchedule_RoundTrip(t *testing.T) {
	c, engine := newFixture()
	ctx := context.Background()
	keys := models.SubjectKeys{HTS8: "72104900"}

	entries := []ScheduleEntry{
		{EffectiveStart: models.MustDate("2025-01-01"), Chapter99Code: "9903.80.01", Rate: rate(0.25)},
		{EffectiveStart: models.MustDate("2025-06-04"), Chapter99Code: "9903.80.01", Rate: rate(0.50)},
		{EffectiveStart: models.MustDate("2026-02-01"), Chapter99Code: "9903.80.01", Rate: rate(0.35)},
	}
	rows, err := engine.CommitSchedule(ctx, "section_232_steel", keys, models.RoleImpose, entries, "doc-fr-1", "ev-sched")
	if err != nil {
		t.Fatalf("CommitSchedule failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	all := c.Rates()
	if err := models.NoWindowOverlap(all); err != nil {
		t.Fatalf("NoWindowOverlap: %v", err)
	}
	if err := models.SupersessionChainConsistent(all); err != nil {
		t.Fatalf("SupersessionChainConsistent: %v", err)
	}

	for i, anchor := range []string{"2025-01-01", "2025-06-04", "2026-02-01"} {
		d := models.MustDate(anchor)
		got, err := c.RateAsOf(ctx, "section_232_steel", keys, d)
		if err != nil || got == nil {
			t.Fatalf("as_of %s returned nil", anchor)
		}
		if *got.Rate != *entries[i].Rate {
			t.Errorf("as_of %s rate = %v, want %v", anchor, *got.Rate, *entries[i].Rate)
		}
		if i > 0 {
			prev, err := c.RateAsOf(ctx, "section_232_steel", keys, d.AddDays(-1))
			if err != nil || prev == nil {
				t.Fatalf("as_of %s-1d returned nil", anchor)
			}
			if *prev.Rate != *entries[i-1].Rate {
				t.Errorf("as_of %s-1d rate = %v, want neighbor %v", anchor, *prev.Rate, *entries[i-1].Rate)
			}
		}
	}

	// Before the first anchor nothing answers.
	none, err := c.RateAsOf(ctx, "section_232_steel", keys, models.MustDate("2024-12-31"))
	if err != nil || none != nil {
		t.Errorf("as_of before schedule = %+v, want nil", none)
	}
}

func TestCommitSchedule_RejectsUnorderedAnchors(t *testing.T) {
	_, engine := newFixture()
	entries := []ScheduleEntry{
		{EffectiveStart: models.MustDate("2025-06-01"), Chapter99Code: "9903.80.01", Rate: rate(0.50)},
		{EffectiveStart: models.MustDate("2025-01-01"), Chapter99Code: "9903.80.01", Rate: rate(0.25)},
	}
	_, err := engine.CommitSchedule(context.Background(), "section_232_steel",
		models.SubjectKeys{HTS8: "72104900"}, models.RoleImpose, entries, "doc-fr-1", "ev-1")
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("error = %v, want ErrInvariantViolation", err)
	}
}

package models

import "fmt"

// ──────────────────────────────────────────────────────────────────────
// Rate-store invariant predicates. The PostgreSQL store's
// CheckInvariants (read by the health surface) and the tests call
// these; the commit engine does not call them and checks provenance
// and window overlap itself before every write.
// ──────────────────────────────────────────────────────────────────────

// chainKey groups rows into one supersession chain.
func chainKey(r RateRow) string {
	return r.ProgramID + "|" + string(r.Role) + "|" + r.Keys.Canonical()
}

// NoWindowOverlap verifies that for every (subject-key, program, role)
// triple the effective windows are pairwise non-overlapping. Archived
// rows are exempt: they are shadow data by definition.
func NoWindowOverlap(rows []RateRow) error {
	byChain := map[string][]RateRow{}
	for _, r := range rows {
		if r.IsArchived {
			continue
		}
		k := chainKey(r)
		byChain[k] = append(byChain[k], r)
	}
	for key, chain := range byChain {
		for i := 0; i < len(chain); i++ {
			for j := i + 1; j < len(chain); j++ {
				a, b := chain[i], chain[j]
				if WindowsOverlap(a.EffectiveStart, a.EffectiveEnd, b.EffectiveStart, b.EffectiveEnd) {
					return fmt.Errorf("overlapping windows for %s: rows %s and %s", key, a.ID, b.ID)
				}
			}
		}
	}
	return nil
}

// SupersessionChainConsistent verifies that every row naming a
// predecessor starts exactly where the predecessor ends.
func SupersessionChainConsistent(rows []RateRow) error {
	byID := map[string]RateRow{}
	for _, r := range rows {
		byID[r.ID] = r
	}
	for _, r := range rows {
		if r.SupersedesID == "" {
			continue
		}
		pred, ok := byID[r.SupersedesID]
		if !ok {
			return fmt.Errorf("row %s supersedes unknown row %s", r.ID, r.SupersedesID)
		}
		if pred.EffectiveEnd == nil || !pred.EffectiveEnd.Equal(r.EffectiveStart) {
			return fmt.Errorf("row %s starts %s but predecessor %s ends %v",
				r.ID, r.EffectiveStart, pred.ID, pred.EffectiveEnd)
		}
	}
	return nil
}

// EveryRowHasEvidence verifies that every committed, non-archived row
// carries both its source document and its evidence packet. Seeded
// archive imports are exempt.
func EveryRowHasEvidence(rows []RateRow) error {
	for _, r := range rows {
		if r.IsArchived {
			continue
		}
		if r.SourceDocumentID == "" || r.EvidenceID == "" {
			return fmt.Errorf("row %s missing provenance (doc=%q evidence=%q)",
				r.ID, r.SourceDocumentID, r.EvidenceID)
		}
	}
	return nil
}

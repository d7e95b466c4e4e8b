package db

import (
	"context"
	"fmt"
	"log"

	"github.com/rawblock/tariff-engine/internal/refdata"
)

// SeedReference mirrors the static reference catalog into the
// database. Every insert is ON CONFLICT DO NOTHING, so reruns are
// no-ops and pipeline-committed rows are never touched.
func (s *Store) SeedReference(ctx context.Context, cat *refdata.Catalog) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	programs, _ := cat.Programs(ctx)
	for _, p := range programs {
		var end any
		if p.EffectiveEnd != nil {
			end = p.EffectiveEnd.Time()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO tariff_programs
			(id, name, country_scope, check_type, condition_handler, depends_on,
			 filing_sequence, calc_sequence, disclaim_behavior, effective_start, effective_end)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (id) DO NOTHING`,
			p.ID, p.Name, p.CountryScope, p.CheckType, p.ConditionHandler, p.DependsOn,
			p.FilingSequence, p.CalcSequence, p.DisclaimBehavior, p.EffectiveStart.Time(), end); err != nil {
			return fmt.Errorf("seed program %s: %v", p.ID, err)
		}
	}

	for _, dr := range cat.DutyRules() {
		if _, err := tx.Exec(ctx, `
			INSERT INTO duty_rules (program_id, calculation_type, base_on, content_key, fallback_base_on, base_effect)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (program_id) DO NOTHING`,
			dr.ProgramID, dr.CalculationType, dr.BaseOn, dr.ContentKey, dr.FallbackBaseOn, dr.BaseEffect); err != nil {
			return fmt.Errorf("seed duty rule %s: %v", dr.ProgramID, err)
		}
	}

	for name, code := range cat.Countries() {
		if _, err := tx.Exec(ctx, `
			INSERT INTO countries (name, code) VALUES ($1,$2) ON CONFLICT (name) DO NOTHING`,
			name, code); err != nil {
			return err
		}
	}
	for _, g := range cat.Groups() {
		if _, err := tx.Exec(ctx, `
			INSERT INTO country_groups (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, g.Name); err != nil {
			return err
		}
		for _, member := range g.Members {
			if _, err := tx.Exec(ctx, `
				INSERT INTO country_group_members (group_name, country_code) VALUES ($1,$2)
				ON CONFLICT (group_name, country_code) DO NOTHING`, g.Name, member); err != nil {
				return err
			}
		}
	}

	for _, d := range cat.Documents() {
		var pub any
		if !d.PublicationDate.IsZero() {
			pub = d.PublicationDate.Time()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO official_documents
			(id, source, external_id, tier, canonical_url, publication_date, raw_sha256, line_count)
			VALUES ($1,$2,$3,$4,$5,$6,'',0)
			ON CONFLICT (source, external_id) DO NOTHING`,
			d.ID, d.Source, d.ExternalID, d.Tier, d.CanonicalURL, pub); err != nil {
			return err
		}
	}

	for _, r := range cat.Rates() {
		var end any
		if r.EffectiveEnd != nil {
			end = r.EffectiveEnd.Time()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO rate_rows
			(id, program_id, hts_8digit, hts_10digit, country_code, country_group, material, variant,
			 chapter_99_code, rate, formula, role, effective_start, effective_end,
			 source_document_id, evidence_id, supersedes_id, superseded_by_id, dataset_tag, is_archived)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
			ON CONFLICT (id) DO NOTHING`,
			r.ID, r.ProgramID, r.Keys.HTS8, r.Keys.HTS10, r.Keys.Country, r.Keys.CountryGroup,
			r.Keys.Material, r.Keys.Variant, r.Chapter99Code, r.Rate, r.Formula, r.Role,
			r.EffectiveStart.Time(), end, r.SourceDocumentID, r.EvidenceID,
			r.SupersedesID, r.SupersededByID, r.DatasetTag, r.IsArchived); err != nil {
			return fmt.Errorf("seed rate row %s: %v", r.ID, err)
		}
	}

	for _, pr := range cat.ProgramRates() {
		var end any
		if pr.EffectiveEnd != nil {
			end = pr.EffectiveEnd.Time()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO program_rates (program_id, country_or_group, chapter_99_code, rate, formula, effective_start, effective_end)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (program_id, country_or_group, effective_start) DO NOTHING`,
			pr.ProgramID, pr.CountryOrGroup, pr.Chapter99Code, pr.Rate, pr.Formula,
			pr.EffectiveStart.Time(), end); err != nil {
			return err
		}
	}

	for _, m := range cat.Materials() {
		var end any
		if m.EffectiveEnd != nil {
			end = m.EffectiveEnd.Time()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO section232_materials
			(id, hts_8digit, hts_10digit, material, claim_code, disclaim_code, rate, min_percent,
			 split_policy, split_threshold_pct, content_basis, quantity_unit, effective_start, effective_end)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			ON CONFLICT (id) DO NOTHING`,
			m.ID, m.HTS8, m.HTS10, m.Material, m.ClaimCode, m.DisclaimCode, m.Rate, m.MinPercent,
			m.SplitPolicy, m.SplitThresholdPct, m.ContentBasis, m.QuantityUnit,
			m.EffectiveStart.Time(), end); err != nil {
			return err
		}
	}

	for hts, rate := range cat.MFNRates() {
		if _, err := tx.Exec(ctx, `
			INSERT INTO mfn_rates (hts_8digit, rate, effective_start)
			VALUES ($1,$2,'2024-01-01')
			ON CONFLICT (hts_8digit, effective_start) DO NOTHING`, hts, rate); err != nil {
			return err
		}
	}

	for _, hts := range cat.AnnexIICodes() {
		if _, err := tx.Exec(ctx, `
			INSERT INTO annex_ii_codes (hts_8digit) VALUES ($1) ON CONFLICT (hts_8digit) DO NOTHING`, hts); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	log.Println("[DB] Reference catalog seeded")
	return nil
}

package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rawblock/tariff-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Temporal rate store reads. The precedence encoded in rateAsOfSQL is
// the contract: window coverage, non-archived preferred, exclude
// before impose, most specific subject key, most recent start.
// ──────────────────────────────────────────────────────────────────────

const rateRowColumns = `id, program_id, COALESCE(hts_8digit,''), COALESCE(hts_10digit,''),
	COALESCE(country_code,''), COALESCE(country_group,''), COALESCE(material,''), COALESCE(variant,''),
	chapter_99_code, rate, COALESCE(formula,''), role, effective_start, effective_end,
	COALESCE(source_document_id,''), COALESCE(evidence_id,''), COALESCE(supersedes_id,''),
	COALESCE(superseded_by_id,''), COALESCE(dataset_tag,''), is_archived`

const rateAsOfSQL = `
	SELECT ` + rateRowColumns + `
	FROM rate_rows
	WHERE program_id = $1
	  AND effective_start <= $2
	  AND (effective_end IS NULL OR effective_end > $2)
	  AND (COALESCE(hts_8digit,'')  = '' OR hts_8digit  = $3)
	  AND (COALESCE(hts_10digit,'') = '' OR hts_10digit = $4)
	  AND (COALESCE(country_code,'')  = '' OR country_code  = $5)
	  AND (COALESCE(country_group,'') = '' OR country_group = $6)
	  AND (COALESCE(material,'') = '' OR material = $7)
	  AND COALESCE(variant,'') = $8
	ORDER BY is_archived ASC,
	  CASE role WHEN 'exclude' THEN 0 ELSE 1 END,
	  (CASE WHEN COALESCE(hts_10digit,'')  <> '' THEN 8 ELSE 0 END
	 + CASE WHEN COALESCE(hts_8digit,'')   <> '' THEN 4 ELSE 0 END
	 + CASE WHEN COALESCE(country_code,'')  <> '' THEN 2 ELSE 0 END
	 + CASE WHEN COALESCE(country_group,'') <> '' THEN 1 ELSE 0 END) DESC,
	  effective_start DESC
	LIMIT 1`

func scanRateRow(row pgx.Row) (*models.RateRow, error) {
	var r models.RateRow
	var start time.Time
	var end *time.Time
	err := row.Scan(&r.ID, &r.ProgramID, &r.Keys.HTS8, &r.Keys.HTS10,
		&r.Keys.Country, &r.Keys.CountryGroup, &r.Keys.Material, &r.Keys.Variant,
		&r.Chapter99Code, &r.Rate, &r.Formula, &r.Role, &start, &end,
		&r.SourceDocumentID, &r.EvidenceID, &r.SupersedesID,
		&r.SupersededByID, &r.DatasetTag, &r.IsArchived)
	if err != nil {
		return nil, err
	}
	r.EffectiveStart = models.DateFromTime(start)
	if end != nil {
		d := models.DateFromTime(*end)
		r.EffectiveEnd = &d
	}
	return &r, nil
}

// RateAsOf returns the single best row for the subject keys at date.
func (s *Store) RateAsOf(ctx context.Context, programID string, keys models.SubjectKeys, date models.Date) (*models.RateRow, error) {
	row := s.pool.QueryRow(ctx, rateAsOfSQL, programID, date.Time(),
		keys.HTS8, keys.HTS10, keys.Country, keys.CountryGroup, keys.Material, keys.Variant)
	r, err := scanRateRow(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rate as-of query failed: %w", err)
	}
	return r, nil
}

// Schedule returns the chained sequence of rows sharing a subject key
// across time, oldest first, so callers can project historical or
// future answers without extra logic.
func (s *Store) Schedule(ctx context.Context, programID string, keys models.SubjectKeys, role models.RowRole) ([]models.RateRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+rateRowColumns+`
		FROM rate_rows
		WHERE program_id = $1 AND role = $2 AND NOT is_archived
		  AND COALESCE(hts_8digit,'')  = $3 AND COALESCE(hts_10digit,'') = $4
		  AND COALESCE(country_code,'') = $5 AND COALESCE(country_group,'') = $6
		  AND COALESCE(material,'') = $7 AND COALESCE(variant,'') = $8
		ORDER BY effective_start ASC`,
		programID, role, keys.HTS8, keys.HTS10, keys.Country, keys.CountryGroup, keys.Material, keys.Variant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RateRow
	for rows.Next() {
		r, err := scanRateRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// AllRateRows loads the full table for invariant probes.
func (s *Store) AllRateRows(ctx context.Context) ([]models.RateRow, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+rateRowColumns+` FROM rate_rows`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RateRow
	for rows.Next() {
		r, err := scanRateRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// CheckInvariants runs the exported store invariants over the full
// table. Used by the health surface and monitoring.
func (s *Store) CheckInvariants(ctx context.Context) []error {
	rows, err := s.AllRateRows(ctx)
	if err != nil {
		return []error{err}
	}
	var violations []error
	for _, check := range []func([]models.RateRow) error{
		models.NoWindowOverlap,
		models.SupersessionChainConsistent,
		models.EveryRowHasEvidence,
	} {
		if err := check(rows); err != nil {
			violations = append(violations, err)
		}
	}
	return violations
}

// ── program catalog reads ────────────────────────────────────────

func (s *Store) Programs(ctx context.Context) ([]models.TariffProgram, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, country_scope, check_type, condition_handler, COALESCE(depends_on,''),
		       filing_sequence, calc_sequence, disclaim_behavior, effective_start, effective_end
		FROM tariff_programs ORDER BY filing_sequence`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TariffProgram
	for rows.Next() {
		var p models.TariffProgram
		var start time.Time
		var end *time.Time
		if err := rows.Scan(&p.ID, &p.Name, &p.CountryScope, &p.CheckType, &p.ConditionHandler,
			&p.DependsOn, &p.FilingSequence, &p.CalcSequence, &p.DisclaimBehavior, &start, &end); err != nil {
			return nil, err
		}
		p.EffectiveStart = models.DateFromTime(start)
		if end != nil {
			d := models.DateFromTime(*end)
			p.EffectiveEnd = &d
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DutyRule(ctx context.Context, programID string) (*models.DutyRule, error) {
	var dr models.DutyRule
	err := s.pool.QueryRow(ctx, `
		SELECT program_id, calculation_type, base_on, COALESCE(content_key,''),
		       COALESCE(fallback_base_on,''), COALESCE(base_effect,'')
		FROM duty_rules WHERE program_id = $1`, programID).
		Scan(&dr.ProgramID, &dr.CalculationType, &dr.BaseOn, &dr.ContentKey, &dr.FallbackBaseOn, &dr.BaseEffect)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dr, nil
}

func (s *Store) MaterialRules(ctx context.Context, hts8, hts10 string, date models.Date) ([]models.Section232Material, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, hts_8digit, COALESCE(hts_10digit,''), material, claim_code, disclaim_code,
		       rate, min_percent, split_policy, split_threshold_pct, content_basis,
		       COALESCE(quantity_unit,''), effective_start, effective_end
		FROM section232_materials
		WHERE effective_start <= $3 AND (effective_end IS NULL OR effective_end > $3)
		  AND (hts_8digit = $1 AND COALESCE(hts_10digit,'') = ''
		       OR ($2 <> '' AND hts_10digit = $2))
		ORDER BY COALESCE(hts_10digit,'') DESC`,
		hts8, hts10, date.Time())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Section232Material
	for rows.Next() {
		var m models.Section232Material
		var start time.Time
		var end *time.Time
		if err := rows.Scan(&m.ID, &m.HTS8, &m.HTS10, &m.Material, &m.ClaimCode, &m.DisclaimCode,
			&m.Rate, &m.MinPercent, &m.SplitPolicy, &m.SplitThresholdPct, &m.ContentBasis,
			&m.QuantityUnit, &start, &end); err != nil {
			return nil, err
		}
		m.EffectiveStart = models.DateFromTime(start)
		if end != nil {
			d := models.DateFromTime(*end)
			m.EffectiveEnd = &d
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CountryCode(ctx context.Context, name string) (string, error) {
	var code string
	err := s.pool.QueryRow(ctx, `
		SELECT code FROM countries WHERE LOWER(name) = LOWER($1) OR code = UPPER($1) LIMIT 1`, name).
		Scan(&code)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return code, nil
}

func (s *Store) GroupForCountry(ctx context.Context, code string) (string, error) {
	var group string
	err := s.pool.QueryRow(ctx, `
		SELECT group_name FROM country_group_members WHERE country_code = $1 LIMIT 1`, code).
		Scan(&group)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return group, nil
}

func (s *Store) ProgramRate(ctx context.Context, programID, countryOrGroup string, date models.Date) (*models.ProgramRate, error) {
	var pr models.ProgramRate
	var start time.Time
	var end *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT program_id, country_or_group, COALESCE(chapter_99_code,''), rate, COALESCE(formula,''),
		       effective_start, effective_end
		FROM program_rates
		WHERE program_id = $1 AND country_or_group = $2
		  AND effective_start <= $3 AND (effective_end IS NULL OR effective_end > $3)
		ORDER BY effective_start DESC LIMIT 1`,
		programID, countryOrGroup, date.Time()).
		Scan(&pr.ProgramID, &pr.CountryOrGroup, &pr.Chapter99Code, &pr.Rate, &pr.Formula, &start, &end)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pr.EffectiveStart = models.DateFromTime(start)
	if end != nil {
		d := models.DateFromTime(*end)
		pr.EffectiveEnd = &d
	}
	return &pr, nil
}

func (s *Store) MFNRate(ctx context.Context, hts8 string, date models.Date) (float64, bool, error) {
	var rate float64
	err := s.pool.QueryRow(ctx, `
		SELECT rate FROM mfn_rates
		WHERE hts_8digit = $1 AND effective_start <= $2
		  AND (effective_end IS NULL OR effective_end > $2)
		ORDER BY effective_start DESC LIMIT 1`, hts8, date.Time()).
		Scan(&rate)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rate, true, nil
}

func (s *Store) AnnexIIListed(ctx context.Context, hts8 string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM annex_ii_codes WHERE hts_8digit = $1`, hts8).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ProgramRowCounts reports committed row counts per program for the
// health surface.
func (s *Store) ProgramRowCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT program_id, COUNT(*) FROM rate_rows WHERE NOT is_archived GROUP BY program_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

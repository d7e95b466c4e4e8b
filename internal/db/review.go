package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rawblock/tariff-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Candidate changes and the review queue.
// ──────────────────────────────────────────────────────────────────────

const candidateColumns = `id, program_id, COALESCE(hts_8digit,''), COALESCE(hts_10digit,''),
	COALESCE(country_code,''), COALESCE(country_group,''), COALESCE(material,''), COALESCE(variant,''),
	role, chapter_99_code, rate, COALESCE(formula,''), effective_start, effective_end,
	document_id, evidence_id, COALESCE(job_id,''), COALESCE(run_id,''),
	status, COALESCE(block_reason,''), priority, created_at, updated_at`

func scanCandidate(row pgx.Row) (*models.CandidateChange, error) {
	var c models.CandidateChange
	var start time.Time
	var end *time.Time
	err := row.Scan(&c.ID, &c.ProgramID, &c.Keys.HTS8, &c.Keys.HTS10,
		&c.Keys.Country, &c.Keys.CountryGroup, &c.Keys.Material, &c.Keys.Variant,
		&c.Role, &c.Chapter99Code, &c.Rate, &c.Formula, &start, &end,
		&c.DocumentID, &c.EvidenceID, &c.JobID, &c.RunID,
		&c.Status, &c.BlockReason, &c.Priority, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.EffectiveStart = models.DateFromTime(start)
	if end != nil {
		d := models.DateFromTime(*end)
		c.EffectiveEnd = &d
	}
	return &c, nil
}

// InsertCandidate stores a pipeline-produced candidate change.
func (s *Store) InsertCandidate(ctx context.Context, c models.CandidateChange) error {
	var end any
	if c.EffectiveEnd != nil {
		end = c.EffectiveEnd.Time()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO candidate_changes
		(id, program_id, hts_8digit, hts_10digit, country_code, country_group, material, variant,
		 role, chapter_99_code, rate, formula, effective_start, effective_end,
		 document_id, evidence_id, job_id, run_id, status, block_reason, priority, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,NOW(),NOW())`,
		c.ID, c.ProgramID, c.Keys.HTS8, c.Keys.HTS10, c.Keys.Country, c.Keys.CountryGroup,
		c.Keys.Material, c.Keys.Variant, c.Role, c.Chapter99Code, c.Rate, c.Formula,
		c.EffectiveStart.Time(), end, c.DocumentID, c.EvidenceID, c.JobID, c.RunID,
		c.Status, c.BlockReason, c.Priority)
	return err
}

// Candidate fetches one candidate by id.
func (s *Store) Candidate(ctx context.Context, id string) (*models.CandidateChange, error) {
	c, err := scanCandidate(s.pool.QueryRow(ctx, `
		SELECT `+candidateColumns+` FROM candidate_changes WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// Candidates lists candidates, optionally filtered by status, newest
// first.
func (s *Store) Candidates(ctx context.Context, status models.CandidateStatus, limit int) ([]models.CandidateChange, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT `+candidateColumns+` FROM candidate_changes
			ORDER BY priority DESC, created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+candidateColumns+` FROM candidate_changes WHERE status = $1
			ORDER BY priority DESC, created_at DESC LIMIT $2`, status, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CandidateChange
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ApproveCandidate transitions a pending candidate to approved,
// applying optional field overrides supplied by the operator.
func (s *Store) ApproveCandidate(ctx context.Context, id string, overrides map[string]any) (*models.CandidateChange, error) {
	cand, err := s.Candidate(ctx, id)
	if err != nil {
		return nil, err
	}
	if cand == nil {
		return nil, nil
	}
	if cand.Status != models.CandidatePending {
		return nil, fmt.Errorf("candidate %s is %s, not pending", id, cand.Status)
	}

	for field, v := range overrides {
		switch field {
		case "rate":
			if f, ok := v.(float64); ok {
				cand.Rate = &f
			}
		case "chapter_99_code":
			if str, ok := v.(string); ok {
				cand.Chapter99Code = str
			}
		case "effective_start":
			if str, ok := v.(string); ok {
				d, err := models.ParseDate(str)
				if err != nil {
					return nil, err
				}
				cand.EffectiveStart = d
			}
		default:
			return nil, fmt.Errorf("field %q is not overridable", field)
		}
	}

	var end any
	if cand.EffectiveEnd != nil {
		end = cand.EffectiveEnd.Time()
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE candidate_changes
		SET status = 'approved', block_reason = NULL, rate = $2, chapter_99_code = $3,
		    effective_start = $4, effective_end = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`,
		id, cand.Rate, cand.Chapter99Code, cand.EffectiveStart.Time(), end)
	if err != nil {
		return nil, err
	}
	cand.Status = models.CandidateApproved
	cand.BlockReason = ""
	return cand, nil
}

// RejectCandidate marks a candidate rejected with a reason. Rejects
// are retained for audit.
func (s *Store) RejectCandidate(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE candidate_changes SET status = 'rejected', block_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending','approved')`, id, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("candidate %s not in a rejectable state", id)
	}
	return nil
}

// InsertExclusionClaim records an advisory exclusion claim. Claims
// stay in "candidate" status until the external description-match
// verification decides acceptance.
func (s *Store) InsertExclusionClaim(ctx context.Context, e models.ExclusionClaim) error {
	var end any
	if e.EffectiveEnd != nil {
		end = e.EffectiveEnd.Time()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO exclusion_claims (id, hts_8digit, description, claim_code, effective_start, effective_end, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.HTS8, e.Description, e.ClaimCode, e.EffectiveStart.Time(), end, e.Status)
	return err
}

// ExclusionClaims lists advisory claims for an HTS-8 code.
func (s *Store) ExclusionClaims(ctx context.Context, hts8 string) ([]models.ExclusionClaim, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, hts_8digit, description, claim_code, effective_start, effective_end, status
		FROM exclusion_claims WHERE hts_8digit = $1 ORDER BY effective_start DESC`, hts8)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ExclusionClaim
	for rows.Next() {
		var e models.ExclusionClaim
		var start time.Time
		var end *time.Time
		if err := rows.Scan(&e.ID, &e.HTS8, &e.Description, &e.ClaimCode, &start, &end, &e.Status); err != nil {
			return nil, err
		}
		e.EffectiveStart = models.DateFromTime(start)
		if end != nil {
			d := models.DateFromTime(*end)
			e.EffectiveEnd = &d
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// OverdueReviewCount counts pending candidates older than the SLA.
func (s *Store) OverdueReviewCount(ctx context.Context, sla time.Duration) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM candidate_changes
		WHERE status = 'pending' AND created_at < NOW() - $1::interval`,
		fmt.Sprintf("%d seconds", int(sla.Seconds()))).Scan(&n)
	return n, err
}

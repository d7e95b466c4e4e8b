package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rawblock/tariff-engine/internal/commit"
	"github.com/rawblock/tariff-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// commit.Store / commit.Tx over pgx transactions. Per subject key,
// commits serialize on the row locks taken by the overlap query, so a
// supersession chain is always linear.
// ──────────────────────────────────────────────────────────────────────

type pgTx struct {
	tx pgx.Tx
}

// InTx runs fn inside one database transaction, rolling back on error.
func (s *Store) InTx(ctx context.Context, fn func(tx commit.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (t *pgTx) ActiveOverlapping(ctx context.Context, programID string, keys models.SubjectKeys, role models.RowRole, start models.Date, end *models.Date) ([]models.RateRow, error) {
	query := `
		SELECT ` + rateRowColumns + `
		FROM rate_rows
		WHERE program_id = $1 AND role = $2 AND NOT is_archived
		  AND COALESCE(hts_8digit,'')  = $3 AND COALESCE(hts_10digit,'') = $4
		  AND COALESCE(country_code,'') = $5 AND COALESCE(country_group,'') = $6
		  AND COALESCE(material,'') = $7 AND COALESCE(variant,'') = $8
		  AND effective_start < COALESCE($10::date, 'infinity'::date)
		  AND (effective_end IS NULL OR effective_end > $9)
		FOR UPDATE`

	var endTime any
	if end != nil {
		endTime = end.Time()
	}
	rows, err := t.tx.Query(ctx, query, programID, role,
		keys.HTS8, keys.HTS10, keys.Country, keys.CountryGroup, keys.Material, keys.Variant,
		start.Time(), endTime)
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

func (t *pgTx) CloseWindow(ctx context.Context, rowID string, end models.Date, supersededBy string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE rate_rows SET effective_end = $2, superseded_by_id = $3 WHERE id = $1`,
		rowID, end.Time(), supersededBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("rate row %s not found", rowID)
	}
	return nil
}

func (t *pgTx) InsertRateRow(ctx context.Context, r models.RateRow) error {
	var end any
	if r.EffectiveEnd != nil {
		end = r.EffectiveEnd.Time()
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO rate_rows
		(id, program_id, hts_8digit, hts_10digit, country_code, country_group, material, variant,
		 chapter_99_code, rate, formula, role, effective_start, effective_end,
		 source_document_id, evidence_id, supersedes_id, superseded_by_id, dataset_tag, is_archived)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		r.ID, r.ProgramID, r.Keys.HTS8, r.Keys.HTS10, r.Keys.Country, r.Keys.CountryGroup,
		r.Keys.Material, r.Keys.Variant, r.Chapter99Code, r.Rate, r.Formula, r.Role,
		r.EffectiveStart.Time(), end, r.SourceDocumentID, r.EvidenceID,
		r.SupersedesID, r.SupersededByID, r.DatasetTag, r.IsArchived)
	return err
}

func (t *pgTx) UpdateCandidate(ctx context.Context, id string, status models.CandidateStatus, blockReason string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE candidate_changes SET status = $2, block_reason = $3, updated_at = NOW() WHERE id = $1`,
		id, status, blockReason)
	return err
}

func (t *pgTx) AppendAudit(ctx context.Context, e models.AuditLogEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO audit_log (id, ts, actor, action, table_name, row_id, before, after)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.Timestamp, e.Actor, e.Action, e.Table, e.RowID, e.Before, e.After)
	return err
}

func (t *pgTx) AppendRunChange(ctx context.Context, rc models.RunChange) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO run_changes (run_id, candidate_id, rate_row_id, program_id, committed_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (run_id, candidate_id) DO NOTHING`,
		rc.RunID, rc.CandidateID, rc.RateRowID, rc.ProgramID, rc.CommittedAt)
	return err
}

func (t *pgTx) DocumentTier(ctx context.Context, documentID string) (models.SourceTier, error) {
	var tier models.SourceTier
	err := t.tx.QueryRow(ctx, `SELECT tier FROM official_documents WHERE id = $1`, documentID).Scan(&tier)
	if err == pgx.ErrNoRows {
		return "", fmt.Errorf("document %s not found", documentID)
	}
	return tier, err
}

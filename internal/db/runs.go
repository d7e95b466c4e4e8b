package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rawblock/tariff-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Regulatory runs and the audit log reads.
// ──────────────────────────────────────────────────────────────────────

// OpenRun opens a RegulatoryRun for one polling cycle.
func (s *Store) OpenRun(ctx context.Context, source string, since models.Date) (*models.RegulatoryRun, error) {
	run := &models.RegulatoryRun{
		ID:        uuid.NewString(),
		Source:    source,
		Status:    models.RunRunning,
		StartedAt: time.Now().UTC(),
		SinceDate: since,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO regulatory_runs (id, source, status, started_at, since_date)
		VALUES ($1,$2,$3,$4,$5)`,
		run.ID, run.Source, run.Status, run.StartedAt, since.Time())
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CloseRun finalizes a run with its counters.
func (s *Store) CloseRun(ctx context.Context, runID string, status models.RunStatus, found, enqueued int, runErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE regulatory_runs
		SET status = $2, finished_at = NOW(), docs_found = $3, docs_enqueued = $4, error = $5
		WHERE id = $1`, runID, status, found, enqueued, runErr)
	return err
}

// AddRunDocument links a discovered document to its run.
func (s *Store) AddRunDocument(ctx context.Context, rd models.RunDocument) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_documents (run_id, source, external_id, url, deduped)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (run_id, source, external_id) DO NOTHING`,
		rd.RunID, rd.Source, rd.ExternalID, rd.URL, rd.Deduped)
	return err
}

const runColumns = `id, source, status, started_at, finished_at, since_date,
	docs_found, docs_enqueued, COALESCE(error,'')`

func scanRun(row pgx.Row) (*models.RegulatoryRun, error) {
	var r models.RegulatoryRun
	var since *time.Time
	err := row.Scan(&r.ID, &r.Source, &r.Status, &r.StartedAt, &r.FinishedAt, &since,
		&r.DocsFound, &r.DocsEnqueued, &r.Error)
	if err != nil {
		return nil, err
	}
	if since != nil {
		r.SinceDate = models.DateFromTime(*since)
	}
	return &r, nil
}

// Run fetches one run by id.
func (s *Store) Run(ctx context.Context, id string) (*models.RegulatoryRun, error) {
	r, err := scanRun(s.pool.QueryRow(ctx, `
		SELECT `+runColumns+` FROM regulatory_runs WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// Runs lists recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]models.RegulatoryRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+` FROM regulatory_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RegulatoryRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// RunDocuments lists the documents a run discovered.
func (s *Store) RunDocuments(ctx context.Context, runID string) ([]models.RunDocument, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, source, external_id, url, deduped FROM run_documents WHERE run_id = $1`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RunDocument
	for rows.Next() {
		var rd models.RunDocument
		if err := rows.Scan(&rd.RunID, &rd.Source, &rd.ExternalID, &rd.URL, &rd.Deduped); err != nil {
			return nil, err
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}

// RunChangesFor lists the rate-row commits attributed to a run.
func (s *Store) RunChangesFor(ctx context.Context, runID string) ([]models.RunChange, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, candidate_id, rate_row_id, program_id, committed_at
		FROM run_changes WHERE run_id = $1 ORDER BY committed_at`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RunChange
	for rows.Next() {
		var rc models.RunChange
		if err := rows.Scan(&rc.RunID, &rc.CandidateID, &rc.RateRowID, &rc.ProgramID, &rc.CommittedAt); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// LastSuccessfulRuns reports the most recent succeeded run per source.
func (s *Store) LastSuccessfulRuns(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source, MAX(finished_at) FROM regulatory_runs
		WHERE status = 'succeeded' GROUP BY source`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var source string
		var ts *time.Time
		if err := rows.Scan(&source, &ts); err != nil {
			return nil, err
		}
		if ts != nil {
			out[source] = *ts
		}
	}
	return out, rows.Err()
}

// AuditEntries lists recent audit-log entries, newest first.
func (s *Store) AuditEntries(ctx context.Context, limit int) ([]models.AuditLogEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, ts, actor, action, table_name, row_id, COALESCE(before,''), COALESCE(after,'')
		FROM audit_log ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.Action, &e.Table, &e.RowID, &e.Before, &e.After); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

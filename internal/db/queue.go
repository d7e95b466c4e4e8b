package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rawblock/tariff-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Ingest work queue. Claiming uses FOR UPDATE SKIP LOCKED so each job
// is owned by at most one worker across the fleet.
// ──────────────────────────────────────────────────────────────────────

const jobColumns = `id, source, external_id, url, tier, COALESCE(run_id,''), COALESCE(document_id,''),
	status, attempts, COALESCE(last_error,''), COALESCE(claimed_by,''), created_at, updated_at`

func scanJob(row pgx.Row) (*models.IngestJob, error) {
	var j models.IngestJob
	err := row.Scan(&j.ID, &j.Source, &j.ExternalID, &j.URL, &j.Tier, &j.RunID, &j.DocumentID,
		&j.Status, &j.Attempts, &j.LastError, &j.ClaimedBy, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// EnqueueJob inserts a job, deduplicating on (source, external_id).
// Returns true when a new job was created.
func (s *Store) EnqueueJob(ctx context.Context, doc models.DiscoveredDocument, runID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_jobs (id, source, external_id, url, tier, run_id, status)
		VALUES ($1,$2,$3,$4,$5,$6,'queued')
		ON CONFLICT (source, external_id) DO NOTHING`,
		uuid.NewString(), doc.Source, doc.ExternalID, doc.URL, doc.Tier, runID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimJob atomically claims the oldest queued job for a worker.
// Returns nil when the queue is empty.
func (s *Store) ClaimJob(ctx context.Context, workerID string) (*models.IngestJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM ingest_jobs
		WHERE status = 'queued'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1`)
	job, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE ingest_jobs SET status = 'fetching', claimed_by = $2, attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1`, job.ID, workerID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	job.Status = models.JobFetching
	job.ClaimedBy = workerID
	job.Attempts++
	return job, nil
}

// AdvanceJob moves a job to the next stage status. The transition is
// guarded so a stale worker cannot move a job it no longer owns.
func (s *Store) AdvanceJob(ctx context.Context, jobID, workerID string, from, to models.JobStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ingest_jobs SET status = $4, updated_at = NOW()
		WHERE id = $1 AND claimed_by = $2 AND status = $3`,
		jobID, workerID, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("job %s not in state %s for worker %s", jobID, from, workerID)
	}
	return nil
}

// SetJobDocument records the document a fetch produced.
func (s *Store) SetJobDocument(ctx context.Context, jobID, documentID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ingest_jobs SET document_id = $2, updated_at = NOW() WHERE id = $1`, jobID, documentID)
	return err
}

// RequeueJob returns a job to the queue after a transient failure or a
// stage timeout. The claim is released; attempts were already counted
// at claim time.
func (s *Store) RequeueJob(ctx context.Context, jobID, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ingest_jobs SET status = 'queued', claimed_by = NULL, last_error = $2, updated_at = NOW()
		WHERE id = $1`, jobID, lastError)
	return err
}

// FinishJob moves a job to a terminal or review status.
func (s *Store) FinishJob(ctx context.Context, jobID string, status models.JobStatus, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ingest_jobs SET status = $2, claimed_by = NULL, last_error = $3, updated_at = NOW()
		WHERE id = $1`, jobID, status, lastError)
	return err
}

// QueueDepths reports job counts by status for the health surface.
func (s *Store) QueueDepths(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM ingest_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	depths := map[models.JobStatus]int{}
	for rows.Next() {
		var st models.JobStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		depths[st] = n
	}
	return depths, rows.Err()
}

// StuckJobs returns jobs sitting in a processing state longer than the
// bound.
func (s *Store) StuckJobs(ctx context.Context, bound time.Duration) ([]models.IngestJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM ingest_jobs
		WHERE status = ANY($1) AND updated_at < NOW() - $2::interval
		ORDER BY updated_at`,
		statusList(models.ProcessingStatuses), fmt.Sprintf("%d seconds", int(bound.Seconds())))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.IngestJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func statusList(statuses []models.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

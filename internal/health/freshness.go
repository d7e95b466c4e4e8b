package health

import (
	"context"
	"time"

	"github.com/rawblock/tariff-engine/internal/pipeline"
	"github.com/rawblock/tariff-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Freshness / health surface: derived reads over runs, the ingest
// queue, the audit log and the rate store. Everything here is a
// snapshot; nothing mutates.
// ──────────────────────────────────────────────────────────────────────

// Store is the read surface the reporter needs.
type Store interface {
	LastSuccessfulRuns(ctx context.Context) (map[string]time.Time, error)
	QueueDepths(ctx context.Context) (map[models.JobStatus]int, error)
	StuckJobs(ctx context.Context, bound time.Duration) ([]models.IngestJob, error)
	OverdueReviewCount(ctx context.Context, sla time.Duration) (int, error)
	CheckInvariants(ctx context.Context) []error
	ProgramRowCounts(ctx context.Context) (map[string]int, error)
}

// Reporter produces freshness and readiness snapshots.
type Reporter struct {
	store         Store
	workers       []*pipeline.Worker
	reviewSLA     time.Duration
	stuckJobBound time.Duration
}

func NewReporter(store Store, workers []*pipeline.Worker, reviewSLA, stuckJobBound time.Duration) *Reporter {
	return &Reporter{store: store, workers: workers, reviewSLA: reviewSLA, stuckJobBound: stuckJobBound}
}

// Freshness is the full operator snapshot.
type Freshness struct {
	LastSuccessfulRun map[string]time.Time     `json:"lastSuccessfulRun"`
	QueueDepth        map[models.JobStatus]int `json:"queueDepth"`
	StuckJobs         []models.IngestJob       `json:"stuckJobs"`
	OverdueReviews    int                      `json:"overdueReviews"`
	InvariantErrors   []string                 `json:"invariantErrors"`
	ProgramRowCounts  map[string]int           `json:"programRowCounts"`
	Workers           []pipeline.Progress      `json:"workers"`
	GeneratedAt       time.Time                `json:"generatedAt"`
}

// Snapshot assembles the freshness report. Partial failures degrade to
// empty sections rather than failing the whole report.
func (r *Reporter) Snapshot(ctx context.Context) Freshness {
	f := Freshness{
		LastSuccessfulRun: map[string]time.Time{},
		QueueDepth:        map[models.JobStatus]int{},
		StuckJobs:         []models.IngestJob{},
		InvariantErrors:   []string{},
		ProgramRowCounts:  map[string]int{},
		GeneratedAt:       time.Now().UTC(),
	}
	if last, err := r.store.LastSuccessfulRuns(ctx); err == nil {
		f.LastSuccessfulRun = last
	}
	if depths, err := r.store.QueueDepths(ctx); err == nil {
		f.QueueDepth = depths
	}
	if stuck, err := r.store.StuckJobs(ctx, r.stuckJobBound); err == nil && stuck != nil {
		f.StuckJobs = stuck
	}
	if overdue, err := r.store.OverdueReviewCount(ctx, r.reviewSLA); err == nil {
		f.OverdueReviews = overdue
	}
	for _, err := range r.store.CheckInvariants(ctx) {
		f.InvariantErrors = append(f.InvariantErrors, err.Error())
	}
	if counts, err := r.store.ProgramRowCounts(ctx); err == nil {
		f.ProgramRowCounts = counts
	}
	for _, w := range r.workers {
		f.Workers = append(f.Workers, w.GetProgress())
	}
	return f
}

// Ready is the load-balancer readiness check: the store answers and no
// invariant is currently violated.
func (r *Reporter) Ready(ctx context.Context) bool {
	if _, err := r.store.QueueDepths(ctx); err != nil {
		return false
	}
	return len(r.store.CheckInvariants(ctx)) == 0
}

// Metrics is the lightweight counter view for scrapers.
func (r *Reporter) Metrics(ctx context.Context) map[string]any {
	m := map[string]any{}
	if depths, err := r.store.QueueDepths(ctx); err == nil {
		for status, n := range depths {
			m["queue_"+string(status)] = n
		}
	}
	if counts, err := r.store.ProgramRowCounts(ctx); err == nil {
		for program, n := range counts {
			m["rate_rows_"+program] = n
		}
	}
	var processed, committed, review, failed int64
	for _, w := range r.workers {
		p := w.GetProgress()
		processed += p.JobsProcessed
		committed += p.JobsCommitted
		review += p.JobsToReview
		failed += p.JobsFailed
	}
	m["jobs_processed"] = processed
	m["jobs_committed"] = committed
	m["jobs_needs_review"] = review
	m["jobs_failed"] = failed
	return m
}

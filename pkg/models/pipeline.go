package models

import "time"

// ──────────────────────────────────────────────────────────────────────
// Regulatory ingestion records: discovered documents, ingest jobs,
// candidate changes, runs, and the audit log.
// ──────────────────────────────────────────────────────────────────────

// DiscoveredDocument is what a watcher emits: enough to dedup and to
// enqueue a fetch, nothing more. Watchers never mutate rate tables.
type DiscoveredDocument struct {
	Source          string     `json:"source"`
	ExternalID      string     `json:"externalId"`
	URL             string     `json:"url"`
	Title           string     `json:"title,omitempty"`
	Tier            SourceTier `json:"tier"`
	PublicationDate Date       `json:"publicationDate"`
}

// JobStatus is the ingest pipeline stage machine. Stages execute
// strictly in order and at most once concurrently across the fleet.
type JobStatus string

const (
	JobQueued      JobStatus = "queued"
	JobFetching    JobStatus = "fetching"
	JobRendering   JobStatus = "rendering"
	JobChunking    JobStatus = "chunking"
	JobExtracting  JobStatus = "extracting"
	JobValidating  JobStatus = "validating"
	JobCommitting  JobStatus = "committing"
	JobCommitted   JobStatus = "committed"
	JobNeedsReview JobStatus = "needs_review"
	JobFailed      JobStatus = "failed"
)

// ProcessingStatuses are the in-flight states a worker owns a job in.
// A job stuck in one of these beyond the configured bound is reported
// by the health surface. Only the worker holding a job returns it to
// queued (transient failure or stage timeout); nothing requeues a job
// whose worker has stopped.
var ProcessingStatuses = []JobStatus{
	JobFetching, JobRendering, JobChunking, JobExtracting, JobValidating, JobCommitting,
}

// IngestJob is a work-queue row, owned by at most one worker at a time.
type IngestJob struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	ExternalID string    `json:"externalId"`
	URL        string    `json:"url"`
	Tier       SourceTier `json:"tier"`
	RunID      string    `json:"runId,omitempty"`
	DocumentID string    `json:"documentId,omitempty"` // set after fetch
	Status     JobStatus `json:"status"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"lastError,omitempty"`
	ClaimedBy  string    `json:"claimedBy,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// CandidateStatus is the monotonic candidate-change lifecycle.
type CandidateStatus string

const (
	CandidatePending   CandidateStatus = "pending"
	CandidateApproved  CandidateStatus = "approved"
	CandidateRejected  CandidateStatus = "rejected"
	CandidateCommitted CandidateStatus = "committed"
)

// CandidateChange is a proposed rate mutation produced by the pipeline.
// It carries everything the commit engine needs plus the evidence link
// the write gate verified.
type CandidateChange struct {
	ID             string          `json:"id"`
	ProgramID      string          `json:"programId"`
	Keys           SubjectKeys     `json:"keys"`
	Role           RowRole         `json:"role"`
	Chapter99Code  string          `json:"chapter99Code"`
	Rate           *float64        `json:"rate"`
	Formula        string          `json:"formula,omitempty"`
	EffectiveStart Date            `json:"effectiveStart"`
	EffectiveEnd   *Date           `json:"effectiveEnd,omitempty"`
	DocumentID     string          `json:"documentId"`
	EvidenceID     string          `json:"evidenceId"`
	JobID          string          `json:"jobId,omitempty"`
	RunID          string          `json:"runId,omitempty"`
	Status         CandidateStatus `json:"status"`
	BlockReason    string          `json:"blockReason,omitempty"`
	Priority       int             `json:"priority"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// RunStatus is the lifecycle of one polling cycle.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RegulatoryRun pins one polling cycle of one watcher.
type RegulatoryRun struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Status      RunStatus `json:"status"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	SinceDate   Date      `json:"sinceDate"`
	DocsFound   int       `json:"docsFound"`
	DocsEnqueued int      `json:"docsEnqueued"`
	Error       string    `json:"error,omitempty"`
}

// RunDocument links a run to a document it discovered.
type RunDocument struct {
	RunID      string `json:"runId"`
	Source     string `json:"source"`
	ExternalID string `json:"externalId"`
	URL        string `json:"url"`
	Deduped    bool   `json:"deduped"` // an ingest job already existed
}

// RunChange links a committed rate row back to the run that produced it.
type RunChange struct {
	RunID       string    `json:"runId"`
	CandidateID string    `json:"candidateId"`
	RateRowID   string    `json:"rateRowId"`
	ProgramID   string    `json:"programId"`
	CommittedAt time.Time `json:"committedAt"`
}

// AuditAction labels what a store mutation did.
type AuditAction string

const (
	AuditInsert    AuditAction = "INSERT"
	AuditUpdate    AuditAction = "UPDATE"
	AuditSupersede AuditAction = "SUPERSEDE"
)

// AuditLogEntry records every rate-store mutation with before/after
// snapshots. The log is append-only.
type AuditLogEntry struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Actor     string      `json:"actor"` // commit_engine / operator:<name>
	Action    AuditAction `json:"action"`
	Table     string      `json:"table"`
	RowID     string      `json:"rowId"`
	Before    string      `json:"before,omitempty"` // JSON snapshot
	After     string      `json:"after,omitempty"`  // JSON snapshot
}

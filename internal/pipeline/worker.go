package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/tariff-engine/internal/commit"
	"github.com/rawblock/tariff-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Ingest worker: claims queue jobs and drives them through the stage
// machine. Stages execute strictly in order, each under its own
// timeout; a timeout or transient error returns the job to the queue
// until the attempt ceiling, and every content-level failure routes to
// the review queue instead of failing the job.
// ──────────────────────────────────────────────────────────────────────

// Store is the persistence surface the worker needs.
type Store interface {
	ClaimJob(ctx context.Context, workerID string) (*models.IngestJob, error)
	AdvanceJob(ctx context.Context, jobID, workerID string, from, to models.JobStatus) error
	SetJobDocument(ctx context.Context, jobID, documentID string) error
	RequeueJob(ctx context.Context, jobID, lastError string) error
	FinishJob(ctx context.Context, jobID string, status models.JobStatus, lastError string) error

	InsertDocument(ctx context.Context, d models.OfficialDocument) (models.OfficialDocument, bool, error)
	UpdateRenderedText(ctx context.Context, documentID, text string, lineCount int) error
	Document(ctx context.Context, id string) (*models.OfficialDocument, error)
	InsertChunks(ctx context.Context, chunks []models.DocumentChunk) error
	ChunksForDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)
	InsertEvidence(ctx context.Context, e models.EvidencePacket) error
	InsertCandidate(ctx context.Context, c models.CandidateChange) error
	InsertExclusionClaim(ctx context.Context, e models.ExclusionClaim) error
}

// Notifier pushes pipeline events to the operator surface. Optional.
type Notifier interface {
	Notify(event string, payload any)
}

// Config bounds the worker's behavior.
type Config struct {
	WorkerID     string
	PollInterval time.Duration
	StageTimeout time.Duration
	MaxAttempts  int
}

// Progress is the worker's state snapshot for the health surface.
type Progress struct {
	JobsProcessed  int64 `json:"jobsProcessed"`
	JobsCommitted  int64 `json:"jobsCommitted"`
	JobsToReview   int64 `json:"jobsToReview"`
	JobsFailed     int64 `json:"jobsFailed"`
	CandidatesSeen int64 `json:"candidatesSeen"`
}

type Worker struct {
	cfg       Config
	store     Store
	fetcher   *Fetcher
	engine    *commit.Engine
	narrative NarrativeExtractor // nil in the default build
	notifier  Notifier

	jobsProcessed  atomic.Int64
	jobsCommitted  atomic.Int64
	jobsToReview   atomic.Int64
	jobsFailed     atomic.Int64
	candidatesSeen atomic.Int64
}

func NewWorker(cfg Config, store Store, fetcher *Fetcher, engine *commit.Engine, narrative NarrativeExtractor, notifier Notifier) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 2 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Worker{cfg: cfg, store: store, fetcher: fetcher, engine: engine, narrative: narrative, notifier: notifier}
}

// GetProgress returns the worker's counters (thread-safe).
func (w *Worker) GetProgress() Progress {
	return Progress{
		JobsProcessed:  w.jobsProcessed.Load(),
		JobsCommitted:  w.jobsCommitted.Load(),
		JobsToReview:   w.jobsToReview.Load(),
		JobsFailed:     w.jobsFailed.Load(),
		CandidatesSeen: w.candidatesSeen.Load(),
	}
}

// Run consumes the queue until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("[Pipeline:%s] worker started (poll %s)", w.cfg.WorkerID, w.cfg.PollInterval)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Pipeline:%s] worker stopped", w.cfg.WorkerID)
			return
		case <-ticker.C:
			for {
				processed, err := w.ProcessOne(ctx)
				if err != nil {
					log.Printf("[Pipeline:%s] queue error: %v", w.cfg.WorkerID, err)
					break
				}
				if !processed {
					break
				}
			}
		}
	}
}

// ProcessOne claims and runs a single job. Returns false when the
// queue is empty.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimJob(ctx, w.cfg.WorkerID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.jobsProcessed.Add(1)
	w.runJob(ctx, job)
	return true, nil
}

func (w *Worker) runJob(ctx context.Context, job *models.IngestJob) {
	log.Printf("[Pipeline:%s] job %s (%s/%s) attempt %d", w.cfg.WorkerID, job.ID, job.Source, job.ExternalID, job.Attempts)

	doc, contentType, done := w.stageFetch(ctx, job)
	if done {
		return
	}
	if !w.stageRender(ctx, job, doc, contentType) {
		return
	}
	chunks, ok := w.stageChunk(ctx, job, doc)
	if !ok {
		return
	}
	extractions, ok := w.stageExtract(ctx, job, doc, chunks)
	if !ok {
		return
	}
	w.stageValidateAndCommit(ctx, job, doc, extractions)
}

func (w *Worker) stageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, w.cfg.StageTimeout)
}

// transientFail requeues the job or fails it past the attempt ceiling.
func (w *Worker) transientFail(ctx context.Context, job *models.IngestJob, err error) {
	if job.Attempts >= w.cfg.MaxAttempts {
		log.Printf("[Pipeline:%s] job %s exhausted %d attempts: %v", w.cfg.WorkerID, job.ID, job.Attempts, err)
		_ = w.store.FinishJob(ctx, job.ID, models.JobFailed, err.Error())
		w.jobsFailed.Add(1)
		w.notify("job_failed", map[string]string{"jobId": job.ID, "error": err.Error()})
		return
	}
	log.Printf("[Pipeline:%s] job %s requeued: %v", w.cfg.WorkerID, job.ID, err)
	_ = w.store.RequeueJob(ctx, job.ID, err.Error())
}

// reviewFail routes content-level failures to the review queue.
func (w *Worker) reviewFail(ctx context.Context, job *models.IngestJob, reason string) {
	log.Printf("[Pipeline:%s] job %s to review: %s", w.cfg.WorkerID, job.ID, reason)
	_ = w.store.FinishJob(ctx, job.ID, models.JobNeedsReview, reason)
	w.jobsToReview.Add(1)
	w.notify("job_needs_review", map[string]string{"jobId": job.ID, "reason": reason})
}

// stageFetch downloads and stores the document. done=true means this
// stage already settled the job: a terminal state or a requeue.
func (w *Worker) stageFetch(ctx context.Context, job *models.IngestJob) (*models.OfficialDocument, string, bool) {
	sctx, cancel := w.stageCtx(ctx)
	defer cancel()

	res, err := w.fetcher.Fetch(sctx, job.Source, job.URL)
	if err != nil {
		if strings.Contains(err.Error(), "allowlist") || strings.Contains(err.Error(), "non-https") {
			w.reviewFail(ctx, job, err.Error())
		} else {
			w.transientFail(ctx, job, err)
		}
		return nil, "", true
	}

	doc := models.OfficialDocument{
		ID:         uuid.NewString(),
		Source:     job.Source,
		ExternalID: job.ExternalID,
		Tier:       job.Tier,
		CanonicalURL: job.URL,
		FetchedAt:  time.Now().UTC(),
		RawSHA256:  res.SHA256,
		RawBytes:   res.Body,
	}
	stored, existed, err := w.store.InsertDocument(sctx, doc)
	if err != nil {
		w.transientFail(ctx, job, err)
		return nil, "", true
	}
	if existed {
		if stored.RawSHA256 == res.SHA256 {
			// Unchanged refetch: zero new candidates by contract.
			_ = w.store.FinishJob(ctx, job.ID, models.JobCommitted, "document sha unchanged, nothing to do")
			w.jobsCommitted.Add(1)
			return nil, "", true
		}
		w.reviewFail(ctx, job, fmt.Sprintf("sha mismatch on refetch: stored %s fetched %s", stored.RawSHA256, res.SHA256))
		return nil, "", true
	}

	if err := w.store.SetJobDocument(ctx, job.ID, doc.ID); err != nil {
		w.transientFail(ctx, job, err)
		return nil, "", true
	}
	if err := w.store.AdvanceJob(ctx, job.ID, w.cfg.WorkerID, models.JobFetching, models.JobRendering); err != nil {
		w.transientFail(ctx, job, err)
		return nil, "", true
	}
	job.DocumentID = doc.ID
	w.notify("document_fetched", map[string]string{"documentId": doc.ID, "source": doc.Source})
	return &doc, res.ContentType, false
}

func (w *Worker) stageRender(ctx context.Context, job *models.IngestJob, doc *models.OfficialDocument, contentType string) bool {
	sctx, cancel := w.stageCtx(ctx)
	defer cancel()

	text, lineCount, err := Render(contentType, doc.RawBytes)
	if err != nil {
		w.reviewFail(ctx, job, fmt.Sprintf("render failed: %v", err))
		return false
	}
	if err := w.store.UpdateRenderedText(sctx, doc.ID, text, lineCount); err != nil {
		w.transientFail(ctx, job, err)
		return false
	}
	doc.RenderedText = text
	doc.LineCount = lineCount

	if err := w.store.AdvanceJob(ctx, job.ID, w.cfg.WorkerID, models.JobRendering, models.JobChunking); err != nil {
		w.transientFail(ctx, job, err)
		return false
	}
	return true
}

func (w *Worker) stageChunk(ctx context.Context, job *models.IngestJob, doc *models.OfficialDocument) ([]models.DocumentChunk, bool) {
	sctx, cancel := w.stageCtx(ctx)
	defer cancel()

	chunks := Chunk(doc.ID, doc.RenderedText)
	if len(chunks) == 0 {
		w.reviewFail(ctx, job, "chunking produced no chunks")
		return nil, false
	}
	if err := w.store.InsertChunks(sctx, chunks); err != nil {
		w.transientFail(ctx, job, err)
		return nil, false
	}
	if err := w.store.AdvanceJob(ctx, job.ID, w.cfg.WorkerID, models.JobChunking, models.JobExtracting); err != nil {
		w.transientFail(ctx, job, err)
		return nil, false
	}
	return chunks, true
}

func (w *Worker) stageExtract(ctx context.Context, job *models.IngestJob, doc *models.OfficialDocument, chunks []models.DocumentChunk) ([]Extraction, bool) {
	sctx, cancel := w.stageCtx(ctx)
	defer cancel()

	extractions := ExtractTabular(*doc, chunks)

	// Narrative documents go through the external reasoning step when
	// one is wired; without it, a document with no tabular rows simply
	// yields zero candidates.
	if len(extractions) == 0 && w.narrative != nil {
		for _, chunk := range chunks {
			if chunk.ChunkType != models.ChunkNarrative {
				continue
			}
			got, err := w.narrative.Extract(sctx, *doc, chunk)
			if err != nil {
				w.reviewFail(ctx, job, fmt.Sprintf("narrative extraction failed: %v", err))
				return nil, false
			}
			extractions = append(extractions, got...)
		}
	}

	if err := w.store.AdvanceJob(ctx, job.ID, w.cfg.WorkerID, models.JobExtracting, models.JobValidating); err != nil {
		w.transientFail(ctx, job, err)
		return nil, false
	}
	w.candidatesSeen.Add(int64(len(extractions)))
	return extractions, true
}

// stageValidateAndCommit validates every extraction, writes its
// evidence packet and candidate, and commits the ones that pass every
// gate. Any gated or blocked candidate sends the job to review.
func (w *Worker) stageValidateAndCommit(ctx context.Context, job *models.IngestJob, doc *models.OfficialDocument, extractions []Extraction) {
	sctx, cancel := w.stageCtx(ctx)
	defer cancel()

	chunksByID := map[string]*models.DocumentChunk{}
	chunks, err := w.store.ChunksForDocument(sctx, doc.ID)
	if err != nil {
		w.transientFail(ctx, job, err)
		return
	}
	for i := range chunks {
		chunksByID[chunks[i].ID] = &chunks[i]
	}

	var approved []*models.CandidateChange
	anyPending := false

	for i := range extractions {
		ext := &extractions[i]
		reasons := Validate(*ext, doc.RenderedText)

		gateFailures := WriteGate(GateInput{
			Document:      doc,
			Chunk:         chunksByID[ext.ChunkID],
			Quote:         ext.Quote,
			ValidatorPass: len(reasons) == 0,
			ValidatorNotes: reasons,
		})

		packet := models.EvidencePacket{
			ID:              uuid.NewString(),
			DocumentID:      doc.ID,
			ChunkID:         ext.ChunkID,
			Quote:           ext.Quote,
			QuoteSHA256:     QuoteHash(ext.Quote),
			WriteGatePassed: len(gateFailures) == 0,
			GateFailures:    gateFailures,
			CreatedAt:       time.Now().UTC(),
		}
		if err := w.store.InsertEvidence(sctx, packet); err != nil {
			w.transientFail(ctx, job, err)
			return
		}

		cand := ext.Candidate
		cand.EvidenceID = packet.ID
		cand.JobID = job.ID
		cand.RunID = job.RunID
		if len(gateFailures) == 0 {
			cand.Status = models.CandidateApproved
		} else {
			cand.Status = models.CandidatePending
			cand.BlockReason = strings.Join(gateFailures, "; ")
			anyPending = true
		}
		if err := w.store.InsertCandidate(sctx, cand); err != nil {
			w.transientFail(ctx, job, err)
			return
		}
		if cand.Role == models.RoleExclude {
			// Exclusions also land as advisory claims; the external
			// description-match verification decides acceptance.
			claim := models.ExclusionClaim{
				ID: uuid.NewString(), HTS8: cand.Keys.HTS8, Description: ext.Quote,
				ClaimCode: cand.Chapter99Code, EffectiveStart: cand.EffectiveStart,
				EffectiveEnd: cand.EffectiveEnd, Status: "candidate",
			}
			if err := w.store.InsertExclusionClaim(sctx, claim); err != nil {
				log.Printf("[Pipeline:%s] exclusion claim insert failed: %v", w.cfg.WorkerID, err)
			}
		}
		if cand.Status == models.CandidateApproved {
			approved = append(approved, &cand)
		}
	}

	if err := w.store.AdvanceJob(ctx, job.ID, w.cfg.WorkerID, models.JobValidating, models.JobCommitting); err != nil {
		w.transientFail(ctx, job, err)
		return
	}

	for _, cand := range approved {
		if _, err := w.engine.Commit(sctx, cand); err != nil {
			// The engine already recorded the block reason; the job
			// surfaces it through review.
			log.Printf("[Pipeline:%s] commit blocked for candidate %s: %v", w.cfg.WorkerID, cand.ID, err)
			anyPending = true
		}
	}

	if anyPending {
		w.reviewFail(ctx, job, "one or more candidates require review")
		return
	}
	_ = w.store.FinishJob(ctx, job.ID, models.JobCommitted, "")
	w.jobsCommitted.Add(1)
	w.notify("job_committed", map[string]string{"jobId": job.ID, "documentId": doc.ID})
}

func (w *Worker) notify(event string, payload any) {
	if w.notifier != nil {
		w.notifier.Notify(event, payload)
	}
}

package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/tariff-engine/internal/commit"
	"github.com/rawblock/tariff-engine/internal/evaluator"
	"github.com/rawblock/tariff-engine/internal/watcher"
	"github.com/rawblock/tariff-engine/pkg/models"
)

// POST /api/v1/evaluate
// The hot path: filing lines and duty breakdown for one import.
func (h *APIHandler) handleEvaluate(c *gin.Context) {
	var req models.EvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "MISSING_INPUT", "invalid request: "+err.Error())
		return
	}

	res, err := h.evaluator.Evaluate(c.Request.Context(), req)
	if err != nil {
		var inputErr *evaluator.InputError
		if errors.As(err, &inputErr) {
			apiError(c, http.StatusBadRequest, "MISSING_INPUT", inputErr.Msg)
			return
		}
		log.Printf("[API] evaluate failed: %v", err)
		apiError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "evaluation failed")
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /api/v1/health
func (h *APIHandler) handleHealth(c *gin.Context) {
	if h.reporter != nil && !h.reporter.Ready(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "tariff-engine"})
}

// GET /api/v1/metrics
func (h *APIHandler) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.reporter.Metrics(c.Request.Context()))
}

// GET /api/v1/freshness
func (h *APIHandler) handleFreshness(c *gin.Context) {
	c.JSON(http.StatusOK, h.reporter.Snapshot(c.Request.Context()))
}

// GET /api/v1/runs
func (h *APIHandler) handleListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.store.Runs(c.Request.Context(), limit)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if runs == nil {
		runs = []models.RegulatoryRun{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GET /api/v1/runs/:id
func (h *APIHandler) handleGetRun(c *gin.Context) {
	ctx := c.Request.Context()
	run, err := h.store.Run(ctx, c.Param("id"))
	if err != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if run == nil {
		apiError(c, http.StatusNotFound, "NOT_FOUND", "run not found")
		return
	}
	docs, _ := h.store.RunDocuments(ctx, run.ID)
	changes, _ := h.store.RunChangesFor(ctx, run.ID)
	c.JSON(http.StatusOK, gin.H{"run": run, "documents": docs, "changes": changes})
}

// GET /api/v1/needs-review[?status=pending]
func (h *APIHandler) handleListReview(c *gin.Context) {
	status := models.CandidateStatus(c.DefaultQuery("status", string(models.CandidatePending)))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	cands, err := h.store.Candidates(c.Request.Context(), status, limit)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if cands == nil {
		cands = []models.CandidateChange{}
	}
	c.JSON(http.StatusOK, gin.H{"candidates": cands})
}

// GET /api/v1/needs-review/:id
// The inspect view bundles the candidate with its evidence packet and
// the document chunk, so a reviewer sees the quote in context.
func (h *APIHandler) handleGetReview(c *gin.Context) {
	ctx := c.Request.Context()
	cand, err := h.store.Candidate(ctx, c.Param("id"))
	if err != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if cand == nil {
		apiError(c, http.StatusNotFound, "NOT_FOUND", "candidate not found")
		return
	}
	resp := gin.H{"candidate": cand}
	if ev, err := h.store.Evidence(ctx, cand.EvidenceID); err == nil && ev != nil {
		resp["evidence"] = ev
		if chunk, err := h.store.Chunk(ctx, ev.ChunkID); err == nil && chunk != nil {
			resp["chunk"] = chunk
		}
	}
	if doc, err := h.store.Document(ctx, cand.DocumentID); err == nil && doc != nil {
		doc.RawBytes = nil // keep the inspect payload light
		resp["document"] = doc
	}
	c.JSON(http.StatusOK, resp)
}

// POST /api/v1/needs-review/:id/approve
// Body: {"overrides": {"rate": 0.25, "effective_start": "2026-01-01"}}
func (h *APIHandler) handleApprove(c *gin.Context) {
	var req struct {
		Overrides map[string]any `json:"overrides"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		apiError(c, http.StatusBadRequest, "MISSING_INPUT", "invalid request: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	cand, err := h.store.ApproveCandidate(ctx, c.Param("id"), req.Overrides)
	if err != nil {
		apiError(c, http.StatusConflict, "INVALID_STATE", err.Error())
		return
	}
	if cand == nil {
		apiError(c, http.StatusNotFound, "NOT_FOUND", "candidate not found")
		return
	}

	row, err := h.engine.Commit(ctx, cand)
	if err != nil {
		if errors.Is(err, commit.ErrInvariantViolation) || errors.Is(err, commit.ErrNotTierA) {
			apiError(c, http.StatusConflict, "INVALID_STATE", err.Error())
			return
		}
		apiError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "committed", "rateRow": row})
}

// POST /api/v1/needs-review/:id/reject
// Body: {"reason": "..."}
func (h *APIHandler) handleReject(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "MISSING_INPUT", "reason is required")
		return
	}
	if err := h.store.RejectCandidate(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		apiError(c, http.StatusConflict, "INVALID_STATE", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

// GET /api/v1/audit-log
func (h *APIHandler) handleAuditLog(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	entries, err := h.store.AuditEntries(c.Request.Context(), limit)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if entries == nil {
		entries = []models.AuditLogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// GET /api/v1/events
func (h *APIHandler) handleRecentEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	c.JSON(http.StatusOK, gin.H{"events": h.notifier.RecentEvents(limit)})
}

// POST /api/v1/pipeline/trigger-watcher
// Body: {"source": "federal_register"}
func (h *APIHandler) handleTriggerWatcher(c *gin.Context) {
	var req struct {
		Source string `json:"source" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "MISSING_INPUT", "source is required")
		return
	}

	run, err := h.runner.RunOnce(c.Request.Context(), req.Source)
	if err != nil {
		var unknown *watcher.UnknownSourceError
		if errors.As(err, &unknown) {
			apiError(c, http.StatusNotFound, "NOT_FOUND", unknown.Error())
			return
		}
		status := http.StatusInternalServerError
		c.JSON(status, gin.H{"error": gin.H{"code": "INTERNAL_ERROR", "message": err.Error()}, "run": run})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

// POST /api/v1/pipeline/process-queue
// Drains up to `max` jobs synchronously with the first worker. The
// background fleet keeps consuming regardless; this endpoint exists
// for operators who want an immediate pass.
func (h *APIHandler) handleProcessQueue(c *gin.Context) {
	if len(h.workers) == 0 {
		apiError(c, http.StatusConflict, "INVALID_STATE", "no pipeline workers are running")
		return
	}
	max, _ := strconv.Atoi(c.DefaultQuery("max", "10"))
	if max <= 0 || max > 100 {
		max = 10
	}

	processed := 0
	for i := 0; i < max; i++ {
		ok, err := h.workers[0].ProcessOne(c.Request.Context())
		if err != nil {
			apiError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}
		if !ok {
			break
		}
		processed++
	}
	c.JSON(http.StatusOK, gin.H{"processed": processed})
}

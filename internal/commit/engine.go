package commit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/tariff-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Commit Engine
//
// The only writer of rate rows. Every commit runs in one transaction:
// overlapping active predecessors are closed at the new row's start,
// the new row is inserted with its supersession link and provenance,
// and an audit entry plus a run-change link are appended. Any write
// that would break a store invariant is refused; the candidate stays
// pending with a block reason.
// ──────────────────────────────────────────────────────────────────────

var (
	// ErrInvariantViolation marks a refused write (overlap, broken
	// chain, missing evidence).
	ErrInvariantViolation = errors.New("rate store invariant violation")
	// ErrNotTierA marks a candidate backed by a non-authoritative source.
	ErrNotTierA = errors.New("source document is not tier A")
)

// Tx is the transactional write surface the engine drives. The
// PostgreSQL store and the in-memory catalog both implement it.
type Tx interface {
	// ActiveOverlapping returns non-archived rows for the same
	// (program, subject-key, role) whose windows intersect the given one.
	ActiveOverlapping(ctx context.Context, programID string, keys models.SubjectKeys, role models.RowRole, start models.Date, end *models.Date) ([]models.RateRow, error)
	CloseWindow(ctx context.Context, rowID string, end models.Date, supersededBy string) error
	InsertRateRow(ctx context.Context, row models.RateRow) error
	UpdateCandidate(ctx context.Context, id string, status models.CandidateStatus, blockReason string) error
	AppendAudit(ctx context.Context, entry models.AuditLogEntry) error
	AppendRunChange(ctx context.Context, rc models.RunChange) error
	DocumentTier(ctx context.Context, documentID string) (models.SourceTier, error)
}

// Store opens transactions for the engine.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Notifier receives commit events for the operator surface. Optional.
type Notifier interface {
	Notify(event string, payload any)
}

type Engine struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

func NewEngine(store Store, notifier Notifier) *Engine {
	return &Engine{store: store, notifier: notifier, now: time.Now}
}

// Commit applies one approved candidate change. On success the
// candidate transitions to committed and the inserted row is returned.
// On an invariant violation the candidate is left pending with a block
// reason and ErrInvariantViolation is returned.
func (e *Engine) Commit(ctx context.Context, cand *models.CandidateChange) (*models.RateRow, error) {
	row, err := e.tryCommit(ctx, cand)
	if err == nil {
		if e.notifier != nil {
			e.notifier.Notify("rate_committed", row)
		}
		return row, nil
	}

	if errors.Is(err, ErrInvariantViolation) || errors.Is(err, ErrNotTierA) {
		blockErr := e.store.InTx(ctx, func(tx Tx) error {
			return tx.UpdateCandidate(ctx, cand.ID, models.CandidatePending, err.Error())
		})
		if blockErr != nil {
			log.Printf("[CommitEngine] failed to record block reason for %s: %v", cand.ID, blockErr)
		}
		if e.notifier != nil {
			e.notifier.Notify("commit_blocked", map[string]string{"candidateId": cand.ID, "reason": err.Error()})
		}
	}
	return nil, err
}

func (e *Engine) tryCommit(ctx context.Context, cand *models.CandidateChange) (*models.RateRow, error) {
	if cand.DocumentID == "" || cand.EvidenceID == "" {
		return nil, fmt.Errorf("%w: candidate %s missing provenance", ErrInvariantViolation, cand.ID)
	}

	newRow := models.RateRow{
		ID:               uuid.NewString(),
		ProgramID:        cand.ProgramID,
		Keys:             cand.Keys,
		Chapter99Code:    cand.Chapter99Code,
		Rate:             cand.Rate,
		Formula:          cand.Formula,
		Role:             cand.Role,
		EffectiveStart:   cand.EffectiveStart,
		EffectiveEnd:     cand.EffectiveEnd,
		SourceDocumentID: cand.DocumentID,
		EvidenceID:       cand.EvidenceID,
		DatasetTag:       "pipeline",
	}

	err := e.store.InTx(ctx, func(tx Tx) error {
		tier, err := tx.DocumentTier(ctx, cand.DocumentID)
		if err != nil {
			return err
		}
		if tier != models.TierA {
			return fmt.Errorf("%w: document %s has tier %s", ErrNotTierA, cand.DocumentID, tier)
		}

		overlaps, err := tx.ActiveOverlapping(ctx, cand.ProgramID, cand.Keys, cand.Role, cand.EffectiveStart, cand.EffectiveEnd)
		if err != nil {
			return err
		}
		var latest *models.RateRow
		for i := range overlaps {
			pred := overlaps[i]
			// A predecessor starting at or after the new row would be
			// closed into an empty or inverted window. Applying the same
			// approved candidate twice lands here and aborts.
			if !pred.EffectiveStart.Before(cand.EffectiveStart) {
				return fmt.Errorf("%w: row %s starts %s, not before new start %s",
					ErrInvariantViolation, pred.ID, pred.EffectiveStart, cand.EffectiveStart)
			}
			if latest == nil || pred.EffectiveStart.After(latest.EffectiveStart) {
				latest = &overlaps[i]
			}
		}

		for i := range overlaps {
			pred := overlaps[i]
			before := snapshot(pred)
			if err := tx.CloseWindow(ctx, pred.ID, cand.EffectiveStart, newRow.ID); err != nil {
				return err
			}
			end := cand.EffectiveStart
			pred.EffectiveEnd = &end
			pred.SupersededByID = newRow.ID
			if err := tx.AppendAudit(ctx, models.AuditLogEntry{
				ID: uuid.NewString(), Timestamp: e.now(), Actor: "commit_engine",
				Action: models.AuditSupersede, Table: "rate_rows", RowID: pred.ID,
				Before: before, After: snapshot(pred),
			}); err != nil {
				return err
			}
		}
		if latest != nil {
			newRow.SupersedesID = latest.ID
		}

		if err := tx.InsertRateRow(ctx, newRow); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, models.AuditLogEntry{
			ID: uuid.NewString(), Timestamp: e.now(), Actor: "commit_engine",
			Action: models.AuditInsert, Table: "rate_rows", RowID: newRow.ID,
			After: snapshot(newRow),
		}); err != nil {
			return err
		}
		if err := tx.UpdateCandidate(ctx, cand.ID, models.CandidateCommitted, ""); err != nil {
			return err
		}
		if cand.RunID != "" {
			if err := tx.AppendRunChange(ctx, models.RunChange{
				RunID: cand.RunID, CandidateID: cand.ID, RateRowID: newRow.ID,
				ProgramID: cand.ProgramID, CommittedAt: e.now(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[CommitEngine] committed %s %s %s -> row %s", cand.ProgramID, cand.Keys.Canonical(), cand.Chapter99Code, newRow.ID)
	return &newRow, nil
}

// ScheduleEntry is one anchor of a schedule commit.
type ScheduleEntry struct {
	EffectiveStart models.Date
	Chapter99Code  string
	Rate           *float64
	Formula        string
}

// CommitSchedule writes an ordered chain of rows for one subject key in
// a single transaction: each row's end is the next row's start, the
// final row is open-ended, and each row supersedes its predecessor.
func (e *Engine) CommitSchedule(ctx context.Context, programID string, keys models.SubjectKeys, role models.RowRole, entries []ScheduleEntry, documentID, evidenceID string) ([]models.RateRow, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("empty schedule")
	}
	for i := 1; i < len(entries); i++ {
		if !entries[i-1].EffectiveStart.Before(entries[i].EffectiveStart) {
			return nil, fmt.Errorf("%w: schedule anchors must be strictly increasing", ErrInvariantViolation)
		}
	}
	if documentID == "" || evidenceID == "" {
		return nil, fmt.Errorf("%w: schedule missing provenance", ErrInvariantViolation)
	}

	rows := make([]models.RateRow, len(entries))
	for i, entry := range entries {
		rows[i] = models.RateRow{
			ID: uuid.NewString(), ProgramID: programID, Keys: keys, Role: role,
			Chapter99Code: entry.Chapter99Code, Rate: entry.Rate, Formula: entry.Formula,
			EffectiveStart: entry.EffectiveStart,
			SourceDocumentID: documentID, EvidenceID: evidenceID, DatasetTag: "pipeline",
		}
		if i+1 < len(entries) {
			end := entries[i+1].EffectiveStart
			rows[i].EffectiveEnd = &end
		}
		if i > 0 {
			rows[i].SupersedesID = rows[i-1].ID
			rows[i-1].SupersededByID = rows[i].ID
		}
	}

	err := e.store.InTx(ctx, func(tx Tx) error {
		overlaps, err := tx.ActiveOverlapping(ctx, programID, keys, role, entries[0].EffectiveStart, nil)
		if err != nil {
			return err
		}
		var latest *models.RateRow
		for i := range overlaps {
			if !overlaps[i].EffectiveStart.Before(entries[0].EffectiveStart) {
				return fmt.Errorf("%w: existing row %s overlaps schedule head", ErrInvariantViolation, overlaps[i].ID)
			}
			if latest == nil || overlaps[i].EffectiveStart.After(latest.EffectiveStart) {
				latest = &overlaps[i]
			}
		}
		if latest != nil {
			rows[0].SupersedesID = latest.ID
		}
		for i := range overlaps {
			pred := overlaps[i]
			before := snapshot(pred)
			if err := tx.CloseWindow(ctx, pred.ID, entries[0].EffectiveStart, rows[0].ID); err != nil {
				return err
			}
			end := entries[0].EffectiveStart
			pred.EffectiveEnd = &end
			pred.SupersededByID = rows[0].ID
			if err := tx.AppendAudit(ctx, models.AuditLogEntry{
				ID: uuid.NewString(), Timestamp: e.now(), Actor: "commit_engine",
				Action: models.AuditSupersede, Table: "rate_rows", RowID: pred.ID,
				Before: before, After: snapshot(pred),
			}); err != nil {
				return err
			}
		}
		for _, row := range rows {
			if err := tx.InsertRateRow(ctx, row); err != nil {
				return err
			}
			if err := tx.AppendAudit(ctx, models.AuditLogEntry{
				ID: uuid.NewString(), Timestamp: e.now(), Actor: "commit_engine",
				Action: models.AuditInsert, Table: "rate_rows", RowID: row.ID,
				After: snapshot(row),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func snapshot(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}

package watcher

import (
	"context"
	"log"
	"time"

	"github.com/rawblock/tariff-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Watcher layer. Watchers only discover: they emit DiscoveredDocument
// and never touch rate tables. A Runner wraps one polling cycle in a
// RegulatoryRun, records each discovered document, and enqueues ingest
// jobs deduplicated by (source, external_id).
// ──────────────────────────────────────────────────────────────────────

// Watcher polls one official source for documents published since a
// date.
type Watcher interface {
	Source() string
	Poll(ctx context.Context, since models.Date) ([]models.DiscoveredDocument, error)
}

// Store is the run/queue persistence the runner needs.
type Store interface {
	OpenRun(ctx context.Context, source string, since models.Date) (*models.RegulatoryRun, error)
	CloseRun(ctx context.Context, runID string, status models.RunStatus, found, enqueued int, runErr string) error
	AddRunDocument(ctx context.Context, rd models.RunDocument) error
	EnqueueJob(ctx context.Context, doc models.DiscoveredDocument, runID string) (bool, error)
	LastSuccessfulRuns(ctx context.Context) (map[string]time.Time, error)
}

// Notifier pushes watcher events to the operator surface. Optional.
type Notifier interface {
	Notify(event string, payload any)
}

// Archiver persists a run manifest after a cycle completes. Optional.
type Archiver interface {
	ArchiveRun(ctx context.Context, run models.RegulatoryRun)
}

// Runner executes polling cycles for a set of watchers.
type Runner struct {
	store    Store
	watchers map[string]Watcher
	notifier Notifier
	archiver Archiver
}

func NewRunner(store Store, notifier Notifier, watchers ...Watcher) *Runner {
	byName := make(map[string]Watcher, len(watchers))
	for _, w := range watchers {
		byName[w.Source()] = w
	}
	return &Runner{store: store, watchers: byName, notifier: notifier}
}

// Sources lists the registered watcher sources.
func (r *Runner) Sources() []string {
	out := make([]string, 0, len(r.watchers))
	for name := range r.watchers {
		out = append(out, name)
	}
	return out
}

// RunOnce polls one source and records the cycle. The since date
// defaults to the last successful run for the source, falling back to
// a 30-day lookback.
func (r *Runner) RunOnce(ctx context.Context, source string) (*models.RegulatoryRun, error) {
	w, ok := r.watchers[source]
	if !ok {
		return nil, &UnknownSourceError{Source: source}
	}

	since := models.Today().AddDays(-30)
	if lasts, err := r.store.LastSuccessfulRuns(ctx); err == nil {
		if ts, ok := lasts[source]; ok {
			since = models.DateFromTime(ts).AddDays(-1)
		}
	}

	run, err := r.store.OpenRun(ctx, source, since)
	if err != nil {
		return nil, err
	}
	log.Printf("[Watcher:%s] run %s polling since %s", source, run.ID, since)

	docs, err := w.Poll(ctx, since)
	if err != nil {
		_ = r.store.CloseRun(ctx, run.ID, models.RunFailed, 0, 0, err.Error())
		run.Status = models.RunFailed
		run.Error = err.Error()
		return run, err
	}

	enqueued := 0
	for _, doc := range docs {
		created, err := r.store.EnqueueJob(ctx, doc, run.ID)
		if err != nil {
			log.Printf("[Watcher:%s] enqueue %s failed: %v", source, doc.ExternalID, err)
			continue
		}
		if created {
			enqueued++
		}
		_ = r.store.AddRunDocument(ctx, models.RunDocument{
			RunID: run.ID, Source: doc.Source, ExternalID: doc.ExternalID,
			URL: doc.URL, Deduped: !created,
		})
	}

	if err := r.store.CloseRun(ctx, run.ID, models.RunSucceeded, len(docs), enqueued, ""); err != nil {
		return run, err
	}
	run.Status = models.RunSucceeded
	run.DocsFound = len(docs)
	run.DocsEnqueued = enqueued
	log.Printf("[Watcher:%s] run %s done: %d discovered, %d enqueued", source, run.ID, len(docs), enqueued)
	if r.notifier != nil {
		r.notifier.Notify("watcher_run_finished", run)
	}
	if r.archiver != nil {
		r.archiver.ArchiveRun(ctx, *run)
	}
	return run, nil
}

// SetArchiver installs the manifest archiver.
func (r *Runner) SetArchiver(a Archiver) {
	r.archiver = a
}

// UnknownSourceError marks a trigger for an unregistered watcher.
type UnknownSourceError struct {
	Source string
}

func (e *UnknownSourceError) Error() string {
	return "unknown watcher source: " + e.Source
}

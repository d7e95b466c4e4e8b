package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rawblock/tariff-engine/pkg/models"
)

// fakeStore records runner activity in memory.
type fakeStore struct {
	runs     map[string]*models.RegulatoryRun
	runDocs  []models.RunDocument
	enqueued map[string]bool // source/external_id -> exists
	lastRuns map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs:     map[string]*models.RegulatoryRun{},
		enqueued: map[string]bool{},
		lastRuns: map[string]time.Time{},
	}
}

func (s *fakeStore) OpenRun(ctx context.Context, source string, since models.Date) (*models.RegulatoryRun, error) {
	run := &models.RegulatoryRun{
		ID: "run-" + source, Source: source, Status: models.RunRunning,
		StartedAt: time.Now(), SinceDate: since,
	}
	s.runs[run.ID] = run
	return run, nil
}

func (s *fakeStore) CloseRun(ctx context.Context, runID string, status models.RunStatus, found, enqueued int, runErr string) error {
	run, ok := s.runs[runID]
	if !ok {
		return errors.New("unknown run")
	}
	run.Status = status
	run.DocsFound = found
	run.DocsEnqueued = enqueued
	run.Error = runErr
	return nil
}

func (s *fakeStore) AddRunDocument(ctx context.Context, rd models.RunDocument) error {
	s.runDocs = append(s.runDocs, rd)
	return nil
}

func (s *fakeStore) EnqueueJob(ctx context.Context, doc models.DiscoveredDocument, runID string) (bool, error) {
	key := doc.Source + "/" + doc.ExternalID
	if s.enqueued[key] {
		return false, nil
	}
	s.enqueued[key] = true
	return true, nil
}

func (s *fakeStore) LastSuccessfulRuns(ctx context.Context) (map[string]time.Time, error) {
	return s.lastRuns, nil
}

// fakeWatcher emits a fixed document list.
type fakeWatcher struct {
	source string
	docs   []models.DiscoveredDocument
	err    error
}

func (w *fakeWatcher) Source() string { return w.source }
func (w *fakeWatcher) Poll(ctx context.Context, since models.Date) ([]models.DiscoveredDocument, error) {
	return w.docs, w.err
}

func TestRunner_RunOnce(t *testing.T) {
	store := newFakeStore()
	docs := []models.DiscoveredDocument{
		{Source: "federal_register", ExternalID: "2026-00001", URL: "https://www.federalregister.gov/a", Tier: models.TierA},
		{Source: "federal_register", ExternalID: "2026-00002", URL: "https://www.federalregister.gov/b", Tier: models.TierA},
	}
	runner := NewRunner(store, nil, &fakeWatcher{source: "federal_register", docs: docs})

	run, err := runner.RunOnce(context.Background(), "federal_register")
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if run.Status != models.RunSucceeded {
		t.Errorf("run status = %s, want succeeded", run.Status)
	}
	if run.DocsFound != 2 || run.DocsEnqueued != 2 {
		t.Errorf("run counters = %d/%d, want 2/2", run.DocsFound, run.DocsEnqueued)
	}
	if len(store.runDocs) != 2 {
		t.Errorf("expected 2 run documents, got %d", len(store.runDocs))
	}
}

func TestRunner_DedupsJobs(t *testing.T) {
	store := newFakeStore()
	docs := []models.DiscoveredDocument{
		{Source: "federal_register", ExternalID: "2026-00001", URL: "https://www.federalregister.gov/a", Tier: models.TierA},
	}
	runner := NewRunner(store, nil, &fakeWatcher{source: "federal_register", docs: docs})

	if _, err := runner.RunOnce(context.Background(), "federal_register"); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	run, err := runner.RunOnce(context.Background(), "federal_register")
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if run.DocsEnqueued != 0 {
		t.Errorf("second run enqueued %d jobs, want 0 (dedup)", run.DocsEnqueued)
	}
	// The rediscovery is still recorded against the run, flagged deduped.
	var deduped int
	for _, rd := range store.runDocs {
		if rd.Deduped {
			deduped++
		}
	}
	if deduped != 1 {
		t.Errorf("expected 1 deduped run document, got %d", deduped)
	}
}

func TestRunner_PollFailureClosesRunFailed(t *testing.T) {
	store := newFakeStore()
	runner := NewRunner(store, nil, &fakeWatcher{source: "usitc", err: errors.New("boom")})

	run, err := runner.RunOnce(context.Background(), "usitc")
	if err == nil {
		t.Fatal("expected poll error to propagate")
	}
	if run == nil || run.Status != models.RunFailed {
		t.Fatalf("run = %+v, want failed status", run)
	}
}

func TestRunner_UnknownSource(t *testing.T) {
	runner := NewRunner(newFakeStore(), nil)
	_, err := runner.RunOnce(context.Background(), "nope")
	var unknown *UnknownSourceError
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %v, want UnknownSourceError", err)
	}
}

func TestCSMSParseArchive(t *testing.T) {
	html := `
	<ul>
	<li><a href="/accounts/USDHSCBP/bulletins/3a1b2c">CSMS # 65432109 - GUIDANCE: Section 301 Duties on Certain Products</a></li>
	<li><a href="/accounts/USDHSCBP/bulletins/3a1b2d">CSMS # 65432110 - Reminder: Holiday Processing Hours</a></li>
	<li><a href="/accounts/USDHSCBP/bulletins/3a1b2e">CSMS # 65432111 - UPDATE: IEEPA Reciprocal Tariff FAQ</a></li>
	</ul>`

	w := NewCSMSWatcher()
	docs := w.parseArchive(html)
	if len(docs) != 2 {
		t.Fatalf("expected 2 tariff-relevant bulletins, got %d: %+v", len(docs), docs)
	}
	if docs[0].ExternalID != "65432109" {
		t.Errorf("first bulletin id = %s, want 65432109", docs[0].ExternalID)
	}
	if docs[0].Tier != models.TierB {
		t.Errorf("csms tier = %s, want B", docs[0].Tier)
	}
	if docs[1].ExternalID != "65432111" {
		t.Errorf("second bulletin id = %s, want 65432111", docs[1].ExternalID)
	}
}

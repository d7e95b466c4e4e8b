package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/rawblock/tariff-engine/internal/api"
	"github.com/rawblock/tariff-engine/internal/commit"
	"github.com/rawblock/tariff-engine/internal/config"
	"github.com/rawblock/tariff-engine/internal/db"
	"github.com/rawblock/tariff-engine/internal/evaluator"
	"github.com/rawblock/tariff-engine/internal/health"
	"github.com/rawblock/tariff-engine/internal/manifest"
	"github.com/rawblock/tariff-engine/internal/pipeline"
	"github.com/rawblock/tariff-engine/internal/refdata"
	"github.com/rawblock/tariff-engine/internal/watcher"
	"github.com/rawblock/tariff-engine/pkg/models"
)

func main() {
	log.Println("Starting Tariff Stacking Engine (evaluator + regulatory ingestion)...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("FATAL: database connection failed: %v", err)
	}
	defer store.Close()
	if err := store.InitSchema(ctx); err != nil {
		log.Fatalf("FATAL: schema init failed: %v", err)
	}

	// The static reference catalog is mirrored into the database so
	// the temporal tables are authoritative from the first request.
	catalog := refdata.Seed()
	if err := store.SeedReference(ctx, catalog); err != nil {
		log.Printf("Warning: reference seed failed: %v", err)
	}

	// Evaluator reads. The Annex II feature flag decides whether the
	// exemption list comes from the database or the static catalog.
	var evalStore evaluator.Store = store
	if !cfg.AnnexIIFromDB {
		evalStore = refdata.StaticAnnexII{Store: store, Static: catalog}
	}
	eval := evaluator.New(evalStore)

	// Event fan-out: websocket hub for dashboards plus webhooks.
	wsHub := api.NewHub()
	go wsHub.Run()
	notifier := api.NewNotifier(wsHub)

	engine := commit.NewEngine(store, notifier)

	// Pipeline worker fleet.
	fetcher := pipeline.NewFetcher(cfg.Allowlists())
	var workers []*pipeline.Worker
	for i := 0; i < cfg.WorkerCount; i++ {
		w := pipeline.NewWorker(pipeline.Config{
			WorkerID:     fmt.Sprintf("worker-%d", i+1),
			PollInterval: cfg.WorkerPollInterval,
			StageTimeout: cfg.StageTimeout,
			MaxAttempts:  cfg.MaxAttempts,
		}, store, fetcher, engine, nil, notifier)
		workers = append(workers, w)
		go w.Run(ctx)
	}

	// Watchers, run archival, scheduler.
	runner := watcher.NewRunner(store, notifier,
		watcher.NewFederalRegisterWatcher(),
		watcher.NewCSMSWatcher(),
		watcher.NewUSITCWatcher(),
	)
	manifestWriter, err := manifest.NewWriter(ctx, cfg.ManifestDir, cfg.ManifestS3Bucket)
	if err != nil {
		log.Printf("Warning: manifest writer disabled: %v", err)
	} else {
		runner.SetArchiver(&runArchiver{store: store, writer: manifestWriter})
	}
	scheduler := watcher.NewScheduler(runner, cfg.Cadences())
	go scheduler.Run(ctx)

	reporter := health.NewReporter(store, workers, cfg.ReviewSLA, cfg.StuckJobBound)

	r := api.SetupRouter(api.Deps{
		Store:     store,
		Evaluator: eval,
		Engine:    engine,
		Runner:    runner,
		Workers:   workers,
		Reporter:  reporter,
		Notifier:  notifier,
		Hub:            wsHub,
		AuthToken:      cfg.APIAuthToken,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	log.Printf("Engine running on :%s (%d pipeline workers)", cfg.Port, cfg.WorkerCount)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// runArchiver loads a finished run's documents and changes and writes
// the archival manifest.
type runArchiver struct {
	store  *db.Store
	writer *manifest.Writer
}

func (a *runArchiver) ArchiveRun(ctx context.Context, run models.RegulatoryRun) {
	docs, err := a.store.RunDocuments(ctx, run.ID)
	if err != nil {
		log.Printf("[Manifest] run %s documents load failed: %v", run.ID, err)
	}
	changes, err := a.store.RunChangesFor(ctx, run.ID)
	if err != nil {
		log.Printf("[Manifest] run %s changes load failed: %v", run.ID, err)
	}
	path, err := a.writer.Write(ctx, manifest.RunManifest{Run: run, Documents: docs, Changes: changes})
	if err != nil {
		log.Printf("[Manifest] run %s write failed: %v", run.ID, err)
		return
	}
	log.Printf("[Manifest] run %s archived to %s", run.ID, path)
}

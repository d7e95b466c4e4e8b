package watcher

import (
	"context"
	"log"
	"time"
)

// Scheduler drives each watcher on its own cadence: Federal Register
// daily, CSMS monthly, USITC annually by default, all overridable from
// configuration.
type Scheduler struct {
	runner   *Runner
	cadences map[string]time.Duration
}

func NewScheduler(runner *Runner, cadences map[string]time.Duration) *Scheduler {
	return &Scheduler{runner: runner, cadences: cadences}
}

// Run starts one ticker goroutine per source and blocks until the
// context is cancelled. Each source fires once shortly after startup
// so a fresh deployment does not wait a full cadence.
func (s *Scheduler) Run(ctx context.Context) {
	for _, source := range s.runner.Sources() {
		cadence, ok := s.cadences[source]
		if !ok || cadence <= 0 {
			log.Printf("[Scheduler] source %s has no cadence, skipping", source)
			continue
		}
		go s.loop(ctx, source, cadence)
	}
	<-ctx.Done()
	log.Println("[Scheduler] stopped")
}

func (s *Scheduler) loop(ctx context.Context, source string, cadence time.Duration) {
	log.Printf("[Scheduler] %s every %s", source, cadence)

	initial := time.NewTimer(30 * time.Second)
	defer initial.Stop()
	select {
	case <-ctx.Done():
		return
	case <-initial.C:
	}
	s.poll(ctx, source)

	ticker := time.NewTicker(cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx, source)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context, source string) {
	if _, err := s.runner.RunOnce(ctx, source); err != nil {
		log.Printf("[Scheduler] %s poll failed: %v", source, err)
	}
}

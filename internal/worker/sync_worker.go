package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rughaus/feedsync/internal/models"
	"github.com/rughaus/feedsync/internal/sync"
)

// SyncWorker periodically runs the feed sync engine.
type SyncWorker struct {
	engine   *sync.Engine
	interval time.Duration
}

// NewSyncWorker constructs a SyncWorker.
func NewSyncWorker(engine *sync.Engine, interval time.Duration) *SyncWorker {
	return &SyncWorker{engine: engine, interval: interval}
}

// Start begins the periodic sync loop and listens for context cancellation.
func (w *SyncWorker) Start(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Msg("Starting sync worker")

	// Run immediately on start
	w.run(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.run(ctx)
		case <-ctx.Done():
			log.Info().Msg("Sync worker stopped")
			return
		}
	}
}

func (w *SyncWorker) run(ctx context.Context) {
	start := time.Now()
	run := w.engine.Run(ctx)

	if run.Status != models.RunStatusSuccess {
		log.Error().
			Str("run", run.ID.String()).
			Str("status", string(run.Status)).
			Str("summary", run.Summary).
			Msg("Scheduled sync did not succeed")
		return
	}
	log.Info().Dur("duration", time.Since(start)).Str("run", run.ID.String()).Msg("Scheduled sync completed")
}

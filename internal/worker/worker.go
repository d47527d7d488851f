// Package worker leases queued jobs, runs their crawls, and keeps the
// lifecycle honest: heartbeats, stuck-job detection, cancellation, and
// expiry sweeps.
package worker

import (
	"context"
	"log/slog"
	"time"

	"skrapp/internal/config"
	"skrapp/internal/finalize"
	"skrapp/internal/store"
)

type Worker struct {
	cfg       *config.Config
	store     *store.Store
	finalizer *finalize.Finalizer
	logger    *slog.Logger
}

func New(cfg *config.Config, st *store.Store, logger *slog.Logger) *Worker {
	return &Worker{
		cfg:       cfg,
		store:     st,
		finalizer: finalize.New(st, cfg.Storage.DataDir, logger),
		logger:    logger,
	}
}

// Run polls for work until the context is cancelled, then waits for
// in-flight jobs to wind down.
func (w *Worker) Run(ctx context.Context) {
	maxJobs := w.cfg.Worker.MaxConcurrentJobs
	sem := make(chan struct{}, maxJobs)

	ticker := time.NewTicker(time.Duration(w.cfg.Worker.PollIntervalSeconds) * time.Second)
	defer ticker.Stop()

	w.logger.Info("worker started", "max_concurrent_jobs", maxJobs,
		"poll_interval_s", w.cfg.Worker.PollIntervalSeconds)

	for {
		select {
		case <-ctx.Done():
			// drain: acquire every slot so running jobs have returned
			for i := 0; i < maxJobs; i++ {
				sem <- struct{}{}
			}
			w.logger.Info("worker stopped")
			return
		case <-ticker.C:
		}

		w.sweep(ctx)

		capacity := maxJobs - len(sem)
		for i := 0; i < capacity; i++ {
			job, err := w.store.LeaseNextQueued(ctx)
			if err != nil {
				w.logger.Error("lease failed", "error", err)
				break
			}
			if job == nil {
				break
			}

			sem <- struct{}{}
			go func() {
				defer func() { <-sem }()
				w.runJob(ctx, job)
			}()
		}
	}
}

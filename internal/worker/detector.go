package worker

import (
	"context"
	"os"
	"time"

	"skrapp/internal/finalize"
	"skrapp/internal/metrics"
	"skrapp/internal/model"
	"skrapp/internal/store"
)

func blockedStatus(siteStatus string) bool {
	switch siteStatus {
	case model.SiteBlocked, model.SiteThrottled, model.SiteLoginRequired:
		return true
	}
	return false
}

// needsPartialFinalize reports whether a cancelled job still has fetched
// pages awaiting export. Anything else only needs its slot released.
func needsPartialFinalize(job *model.Job) bool {
	return job.PagesFetched > 0 && job.PagesExported == 0
}

func blockReason(siteStatus string) string {
	switch siteStatus {
	case model.SiteBlocked:
		return model.ReasonBlocked
	case model.SiteThrottled:
		return model.ReasonRateLimited
	case model.SiteLoginRequired:
		return model.ReasonLoginRequired
	}
	return model.ReasonUnknown
}

// sweep runs once per poll tick: rescue or fail stuck jobs, finalize
// cancelled ones, and expire jobs past their deadline.
func (w *Worker) sweep(ctx context.Context) {
	now := time.Now().UTC()
	handled := make(map[string]struct{})

	hardCutoff := now.Add(-time.Duration(w.cfg.Worker.HardStalledThresholdSeconds) * time.Second)
	if jobs, err := w.store.FindHardStalled(ctx, hardCutoff); err == nil {
		for _, job := range jobs {
			handled[job.ID] = struct{}{}
			w.logger.Error("job hard-stalled, failing", "job_id", job.ID)
			w.failStuck(ctx, job, model.ReasonHardStalled)
		}
	} else {
		w.logger.Error("hard-stall sweep failed", "error", err)
	}

	orphanCutoff := now.Add(-time.Duration(w.cfg.Worker.OrphanedThresholdSeconds) * time.Second)
	if jobs, err := w.store.FindOrphaned(ctx, orphanCutoff); err == nil {
		for _, job := range jobs {
			if _, ok := handled[job.ID]; ok {
				continue
			}
			handled[job.ID] = struct{}{}
			w.rescueOrFail(ctx, job, model.ReasonOrphaned)
		}
	} else {
		w.logger.Error("orphan sweep failed", "error", err)
	}

	stallCutoff := now.Add(-time.Duration(w.cfg.Worker.StalledThresholdSeconds) * time.Second)
	if jobs, err := w.store.FindStalled(ctx, orphanCutoff, stallCutoff); err == nil {
		for _, job := range jobs {
			if _, ok := handled[job.ID]; ok {
				continue
			}
			handled[job.ID] = struct{}{}
			w.rescueOrFail(ctx, job, model.ReasonStalled)
		}
	} else {
		w.logger.Error("stall sweep failed", "error", err)
	}

	if jobs, err := w.store.FindCancelled(ctx); err == nil {
		for _, job := range jobs {
			if needsPartialFinalize(job) {
				w.logger.Info("finalizing cancelled job", "job_id", job.ID)
				w.finalizer.Run(ctx, job)
				continue
			}
			w.store.ReleaseIPForJob(ctx, job.ID)
		}
	} else {
		w.logger.Error("cancelled sweep failed", "error", err)
	}

	w.expire(ctx, now)
}

// rescueOrFail re-queues a stuck job while it has restarts left, otherwise
// fails it.
func (w *Worker) rescueOrFail(ctx context.Context, job *model.Job, reason string) {
	if job.RestartCount < model.MaxRestarts {
		ok, err := w.store.Transition(ctx, job.ID, model.StateQueued, store.JobUpdate{
			IncrementRestart: true,
			LastError:        &model.LastError{Reason: reason, Message: "re-queued by stuck-job sweep"},
		}, model.StateRunning)
		if err != nil {
			w.logger.Error("restart transition failed", "job_id", job.ID, "error", err)
			return
		}
		if ok {
			w.logger.Warn("restarting stuck job", "job_id", job.ID,
				"reason", reason, "restart", job.RestartCount+1)
			w.store.InsertEvent(ctx, job.ID, model.EventWarn, model.EventRestart,
				map[string]any{"reason": reason, "restart_count": job.RestartCount + 1})
			metrics.RecordRestart()
		}
		return
	}
	w.logger.Error("stuck job out of restarts, failing", "job_id", job.ID, "reason", reason)
	w.failStuck(ctx, job, reason)
}

func (w *Worker) failStuck(ctx context.Context, job *model.Job, reason string) {
	ok, err := w.store.Transition(ctx, job.ID, model.StateFailed, store.JobUpdate{
		LastError:   &model.LastError{Reason: reason, Message: "failed by stuck-job sweep"},
		FinishedNow: true,
	}, model.StateRunning)
	if err != nil {
		w.logger.Error("stuck-fail transition failed", "job_id", job.ID, "error", err)
		return
	}
	if ok {
		w.store.ReleaseIPForJob(ctx, job.ID)
		metrics.RecordJobState(model.StateFailed)
	}
}

// expire moves jobs past their deadline to expired, releases their
// concurrency slot, and deletes their output directory.
func (w *Worker) expire(ctx context.Context, now time.Time) {
	jobs, err := w.store.ExpireJobs(ctx, now)
	if err != nil {
		w.logger.Error("expiry sweep failed", "error", err)
		return
	}
	for _, job := range jobs {
		w.logger.Info("job expired", "job_id", job.ID)
		w.store.ReleaseIPForJob(ctx, job.ID)
		if dir := finalize.JobDir(w.cfg.Storage.DataDir, job.ID); dir != "" {
			if err := os.RemoveAll(dir); err != nil {
				w.logger.Warn("could not remove expired job dir", "job_id", job.ID, "error", err)
			}
		}
		metrics.RecordJobState(model.StateExpired)
	}
	metrics.RecordExpired(int64(len(jobs)))

	// done and expired rows past their deadline have no artifacts left
	if _, err := w.store.DeleteExpired(ctx, now.Add(-24*time.Hour)); err != nil {
		w.logger.Warn("expired-row cleanup failed", "error", err)
	}
}

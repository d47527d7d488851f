package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"skrapp/internal/blocking"
	"skrapp/internal/fetcher"
	"skrapp/internal/finalize"
	"skrapp/internal/metrics"
	"skrapp/internal/model"
	"skrapp/internal/pipeline"
	"skrapp/internal/store"
	"skrapp/internal/strategy"
)

// runJob drives one leased job from running to a terminal state.
func (w *Worker) runJob(ctx context.Context, job *model.Job) {
	dir := finalize.JobDir(w.cfg.Storage.DataDir, job.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.failJob(ctx, job, model.ReasonDiskFull, err.Error())
		return
	}

	logFile, err := os.OpenFile(filepath.Join(dir, finalize.RunnerLogFile),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		w.failJob(ctx, job, model.ReasonDiskFull, err.Error())
		return
	}
	defer logFile.Close()
	logger := slog.New(slog.NewTextHandler(logFile, nil)).With("job_id", job.ID)

	jobCtx, cancel := context.WithTimeout(ctx, time.Duration(job.TimeoutSeconds)*time.Second)
	defer cancel()

	tracker := blocking.NewTracker()
	pipe, err := pipeline.New(job, w.cfg.Crawler.MinTextLength, w.store, tracker,
		filepath.Join(dir, finalize.RawPagesFile), logger)
	if err != nil {
		w.failJob(ctx, job, model.ReasonDiskFull, err.Error())
		return
	}

	stopHeartbeat := w.startHeartbeat(ctx, job, pipe, cancel)
	defer stopHeartbeat()

	sel := strategy.Select(job, w.cfg.Strategy.ExtraJSHostPatterns)
	strat := sel.Strategy
	w.store.UpdateJobFields(ctx, job.ID, store.JobUpdate{CrawlerStrategy: &strat})
	logger.Info("strategy selected", "strategy", sel.Strategy, "reason", sel.Reason)
	if sel.Strategy == model.StrategyJSPreemptive {
		w.store.InsertEvent(ctx, job.ID, model.EventInfo, model.EventJSDomainDetected,
			map[string]any{"host": job.AllowedHost, "pattern": sel.Reason})
	}

	res, runErr := w.fetch(jobCtx, job, pipe, tracker, sel.UseJS, logger)
	if runErr != nil && jobCtx.Err() == nil {
		pipe.Close()
		logger.Error("crawl failed", "error", runErr)
		w.failJob(ctx, job, model.ReasonConnectionError, runErr.Error())
		return
	}

	tracker.WriteEvidence(filepath.Join(dir, finalize.EvidenceFile))
	analysis := blocking.Classify(tracker.Evidence(), blocking.Thresholds{
		Rate429:        w.cfg.Blocking.Threshold429,
		Rate403:        w.cfg.Blocking.Threshold403,
		DuplicateRatio: w.cfg.Blocking.DuplicateHashThreshold,
	})
	w.recordAnalysis(ctx, job, analysis)

	fellBack := false
	if w.shouldFallback(job, res, analysis, sel.UseJS) {
		fellBack = true
		res = w.runFallback(ctx, jobCtx, job, pipe, tracker, analysis, logger)
		analysis = blocking.Classify(tracker.Evidence(), blocking.Thresholds{
			Rate429:        w.cfg.Blocking.Threshold429,
			Rate403:        w.cfg.Blocking.Threshold403,
			DuplicateRatio: w.cfg.Blocking.DuplicateHashThreshold,
		})
		w.recordAnalysis(ctx, job, analysis)
	}

	pipe.Close()
	stopHeartbeat()

	// pages_fetched is the raw record count; the quality budget is a
	// separate counter inside the pipeline
	fetched := pipe.PagesEmitted()
	errorsCount := pipe.ErrorCount()
	w.store.UpdateJobFields(ctx, job.ID, store.JobUpdate{
		PagesFetched: &fetched,
		ErrorsCount:  &errorsCount,
	})

	// refresh state: cancellation or a detector sweep may have moved the job
	current, err := w.store.GetJob(ctx, job.ID)
	if err != nil {
		w.logger.Error("job reload failed", "job_id", job.ID, "error", err)
		return
	}

	switch current.State {
	case model.StateCancelled:
		logger.Info("job cancelled, exporting partial results")
		w.finalizer.Run(ctx, current)
		metrics.RecordJobState(model.StateDone)
	case model.StateRunning:
		if fetched == 0 {
			reason := zeroPageFailReason(analysis, fellBack)
			logger.Error("crawl produced no pages", "site_status", analysis.SiteStatus, "reason", reason)
			if blockedStatus(analysis.SiteStatus) {
				w.store.InsertEvent(ctx, job.ID, model.EventError, model.EventBlockedDetected,
					map[string]any{"site_status": analysis.SiteStatus})
			}
			w.failJob(ctx, job, reason, "no pages could be fetched")
			return
		}
		if err := w.finalizer.Run(ctx, current); err == nil {
			metrics.RecordJobState(model.StateDone)
		} else {
			metrics.RecordJobState(model.StateFailed)
		}
	default:
		// detector already moved the job to a terminal state
		logger.Info("job left running state during crawl", "state", current.State)
	}
}

// fetch runs the selected engine. Browser crawls need rod enabled; when it
// is not, the job falls back to the static engine.
func (w *Worker) fetch(ctx context.Context, job *model.Job, pipe *pipeline.Pipeline, tracker *blocking.Tracker, useJS bool, logger *slog.Logger) (*fetcher.Result, error) {
	if useJS && w.cfg.Rod.Enabled {
		return fetcher.NewRod(w.cfg, tracker, logger).Run(ctx, job, pipe)
	}
	if useJS {
		logger.Warn("browser rendering requested but disabled, using static fetcher")
	}
	return fetcher.NewStatic(w.cfg, tracker, logger).Run(ctx, job, pipe)
}

// zeroPageFailReason picks the failure reason for a crawl that ended with
// nothing fetched. A crawl that already burned its browser fallback and
// still produced zero pages is treated as blocked even without explicit
// evidence.
func zeroPageFailReason(analysis blocking.Analysis, fellBack bool) string {
	if blockedStatus(analysis.SiteStatus) {
		return blockReason(analysis.SiteStatus)
	}
	if fellBack {
		return model.ReasonBlocked
	}
	return model.ReasonUnknown
}

func (w *Worker) shouldFallback(job *model.Job, res *fetcher.Result, analysis blocking.Analysis, usedJS bool) bool {
	if usedJS || !w.cfg.Rod.Enabled || job.FallbackRetryCount >= 1 {
		return false
	}
	if res == nil {
		return false
	}
	return res.PagesFetched == 0 || blocking.ShouldFallback(analysis.SiteStatus)
}

func (w *Worker) runFallback(ctx, jobCtx context.Context, job *model.Job, pipe *pipeline.Pipeline, tracker *blocking.Tracker, analysis blocking.Analysis, logger *slog.Logger) *fetcher.Result {
	reason := analysis.SiteStatus
	if !blocking.ShouldFallback(reason) {
		reason = "zero_pages"
	}

	strat := model.StrategyStaticThenJS
	w.store.UpdateJobFields(ctx, job.ID, store.JobUpdate{
		CrawlerStrategy:   &strat,
		IncrementFallback: true,
	})
	w.store.InsertEvent(ctx, job.ID, model.EventWarn, model.EventFallbackTriggered,
		map[string]any{"reason": reason, "from": model.StrategyStatic, "to": model.StrategyStaticThenJS})
	metrics.RecordFallback()
	logger.Warn("falling back to browser rendering", "reason", reason)

	res, err := fetcher.NewRod(w.cfg, tracker, logger).Run(jobCtx, job, pipe)
	if err != nil {
		logger.Error("fallback crawl failed", "error", err)
		return &fetcher.Result{}
	}
	return res
}

func (w *Worker) recordAnalysis(ctx context.Context, job *model.Job, analysis blocking.Analysis) {
	evidence, err := json.Marshal(analysis)
	if err != nil {
		return
	}
	status := analysis.SiteStatus
	w.store.UpdateJobFields(ctx, job.ID, store.JobUpdate{
		SiteStatus:    &status,
		BlockEvidence: evidence,
	})
	if blockedStatus(status) {
		w.store.InsertEvent(ctx, job.ID, model.EventWarn, model.EventBlockedDetected,
			map[string]any{"site_status": status, "signals": analysis.SignalsDetected})
	}
}

func (w *Worker) failJob(ctx context.Context, job *model.Job, reason, message string) {
	ok, err := w.store.Transition(ctx, job.ID, model.StateFailed, store.JobUpdate{
		LastError:   &model.LastError{Reason: reason, Message: message},
		FinishedNow: true,
	}, model.StateRunning)
	if err != nil {
		w.logger.Error("fail transition error", "job_id", job.ID, "error", err)
		return
	}
	if ok {
		w.store.ReleaseIPForJob(ctx, job.ID)
		metrics.RecordJobState(model.StateFailed)
	}
}

// startHeartbeat reports liveness and progress while the crawl runs and
// cancels the crawl context when the job is cancelled out from under it.
func (w *Worker) startHeartbeat(ctx context.Context, job *model.Job, pipe *pipeline.Pipeline, cancelJob context.CancelFunc) func() {
	done := make(chan struct{})
	var once func()

	go func() {
		ticker := time.NewTicker(time.Duration(w.cfg.Worker.HeartbeatIntervalSeconds) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			state, err := w.store.Heartbeat(ctx, job.ID, pipe.PagesEmitted())
			if err != nil {
				w.logger.Warn("heartbeat failed", "job_id", job.ID, "error", err)
				continue
			}
			if state == model.StateCancelled || model.Terminal(state) {
				cancelJob()
				return
			}
		}
	}()

	closed := false
	once = func() {
		if !closed {
			closed = true
			close(done)
		}
	}
	return once
}

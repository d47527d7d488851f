package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"

	"skrapp/internal/admission"
	"skrapp/internal/config"
	"skrapp/internal/finalize"
	"skrapp/internal/metrics"
	"skrapp/internal/model"
	"skrapp/internal/store"
)

// createJobHandler admits a new crawl job: validate the seed URL, clamp
// the numeric limits, enforce the per-address concurrency cap, and mint
// the job id plus its one-time access token.
func createJobHandler(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	st := c.Locals("store").(*store.Store)

	var req CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, fiber.StatusBadRequest, "Invalid request body", err.Error())
	}

	host, err := admission.ValidateStartURL(req.StartURL)
	if err != nil {
		return respondError(c, fiber.StatusBadRequest, "Invalid URL", err.Error())
	}

	maxPages := admission.ClampInt(req.MaxPages, cfg.Jobs.DefaultMaxPages, cfg.Jobs.MinPages, cfg.Jobs.MaxPages)
	timeoutSeconds := admission.ClampInt(req.TimeoutSeconds, cfg.Jobs.DefaultTimeoutSeconds, cfg.Jobs.MinTimeoutSeconds, cfg.Jobs.MaxTimeoutSeconds)

	ipHash := admission.HashIP(clientIP(c))
	current, err := st.GetIPCount(c.Context(), ipHash)
	if err != nil {
		return respondError(c, fiber.StatusInternalServerError, "Internal error", "admission check failed")
	}
	if current >= cfg.Admission.ConcurrentJobsPerIP {
		return c.Status(fiber.StatusTooManyRequests).JSON(RateLimitResponse{
			Error:       "Rate limit exceeded",
			Message:     fmt.Sprintf("At most %d concurrent jobs per address", cfg.Admission.ConcurrentJobsPerIP),
			CurrentJobs: current,
		})
	}

	token := admission.NewToken()
	job := &model.Job{
		ID:              admission.NewJobID(),
		TokenHash:       admission.HashToken(token),
		RequesterIPHash: ipHash,
		StartURL:        req.StartURL,
		AllowedHost:     host,
		MaxPages:        maxPages,
		TimeoutSeconds:  timeoutSeconds,
		IgnorePrefixes:  admission.NormalizeIgnorePrefixes(req.IgnorePathPrefixes),
		UseJS:           req.UseJS,
		State:           model.StateQueued,
		ExpiresAt:       time.Now().UTC().Add(time.Duration(cfg.Jobs.ExpiryHours) * time.Hour),
	}

	if err := st.CreateJob(c.Context(), job); err != nil {
		return respondError(c, fiber.StatusInternalServerError, "Internal error", "could not create job")
	}
	metrics.RecordJobState(model.StateQueued)

	return c.Status(fiber.StatusCreated).JSON(CreateJobResponse{
		JobID:          job.ID,
		Token:          token,
		StatusURL:      "/v1/jobs/" + job.ID,
		State:          job.State,
		MaxPages:       job.MaxPages,
		TimeoutSeconds: job.TimeoutSeconds,
		UseJS:          job.UseJS,
	})
}

// requireJob authenticates a job-scoped request. A missing token is 401;
// a wrong token and an unknown job are both 404 so tokens cannot be
// probed. On failure the response is already written and job is nil.
func requireJob(c *fiber.Ctx) (*model.Job, error) {
	st := c.Locals("store").(*store.Store)

	token := jobToken(c)
	if token == "" {
		return nil, respondError(c, fiber.StatusUnauthorized, "Unauthorized", "missing access token")
	}

	job, err := st.GetJobByToken(c.Context(), c.Params("id"), admission.HashToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return nil, respondError(c, fiber.StatusNotFound, "Not found", "unknown job")
	}
	if err != nil {
		return nil, respondError(c, fiber.StatusInternalServerError, "Internal error", "job lookup failed")
	}
	return job, nil
}

// expireIfDue lazily expires a job whose deadline passed before the sweep
// got to it. Returns true when the job is (now) expired.
func expireIfDue(c *fiber.Ctx, job *model.Job) bool {
	if job.State == model.StateExpired {
		return true
	}
	if model.Terminal(job.State) || time.Now().UTC().Before(job.ExpiresAt) {
		return false
	}

	st := c.Locals("store").(*store.Store)
	ok, err := st.Transition(c.Context(), job.ID, model.StateExpired,
		store.JobUpdate{FinishedNow: true}, job.State)
	if err == nil && ok {
		st.ReleaseIPForJob(c.Context(), job.ID)
		metrics.RecordJobState(model.StateExpired)
	}
	job.State = model.StateExpired
	return true
}

func jobStatusHandler(c *fiber.Ctx) error {
	job, err := requireJob(c)
	if job == nil {
		return err
	}
	if expireIfDue(c, job) {
		return respondError(c, fiber.StatusGone, "Gone", "job has expired")
	}

	resp := StatusResponse{
		JobID:         job.ID,
		State:         job.State,
		PagesFetched:  job.PagesFetched,
		PagesExported: job.PagesExported,
		ErrorsCount:   job.ErrorsCount,
		RestartCount:  job.RestartCount,
		CreatedAt:     job.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:     job.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if job.CrawlerStrategy.Valid {
		resp.CrawlerStrategy = job.CrawlerStrategy.String
	}
	if job.SiteStatus.Valid {
		resp.SiteStatus = job.SiteStatus.String
	}
	if job.StartedAt.Valid {
		started := job.StartedAt.Time.UTC().Format(time.RFC3339)
		resp.StartedAt = &started

		end := time.Now().UTC()
		if job.FinishedAt.Valid {
			end = job.FinishedAt.Time.UTC()
		}
		elapsed := end.Sub(job.StartedAt.Time).Seconds()
		resp.ElapsedSeconds = &elapsed
	}
	if job.FinishedAt.Valid {
		finished := job.FinishedAt.Time.UTC().Format(time.RFC3339)
		resp.FinishedAt = &finished
	}
	if job.State == model.StateDone {
		resp.DownloadURL = "/v1/jobs/" + job.ID + "/download/pages.jsonl"
	}
	if job.LastError.Valid {
		var lastErr any
		if json.Unmarshal(job.LastError.RawMessage, &lastErr) == nil {
			resp.LastError = lastErr
		}
	}
	if job.BlockEvidence.Valid {
		var evidence any
		if json.Unmarshal(job.BlockEvidence.RawMessage, &evidence) == nil {
			resp.BlockEvidence = evidence
		}
	}

	return c.JSON(resp)
}

func cancelJobHandler(c *fiber.Ctx) error {
	job, err := requireJob(c)
	if job == nil {
		return err
	}
	if expireIfDue(c, job) {
		return respondError(c, fiber.StatusGone, "Gone", "job has expired")
	}

	st := c.Locals("store").(*store.Store)
	ok, err := st.Transition(c.Context(), job.ID, model.StateCancelled,
		store.JobUpdate{}, model.StateRunning)
	if err != nil {
		return respondError(c, fiber.StatusInternalServerError, "Internal error", "cancel failed")
	}
	if !ok {
		return respondError(c, fiber.StatusConflict, "Invalid state",
			fmt.Sprintf("job in state %q cannot be cancelled", job.State))
	}
	metrics.RecordJobState(model.StateCancelled)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id": job.ID,
		"state":  model.StateCancelled,
	})
}

func jobPagesHandler(c *fiber.Ctx) error {
	job, err := requireJob(c)
	if job == nil {
		return err
	}
	if expireIfDue(c, job) {
		return respondError(c, fiber.StatusGone, "Gone", "job has expired")
	}

	cfg := c.Locals("config").(*config.Config)
	records, err := finalize.ReadRecords(filepath.Join(finalize.JobDir(cfg.Storage.DataDir, job.ID), finalize.RawPagesFile))
	if err != nil {
		return respondError(c, fiber.StatusInternalServerError, "Internal error", "could not read pages")
	}

	resp := PagesResponse{
		JobID:      job.ID,
		State:      job.State,
		TotalPages: len(records),
		Pages:      make([]PageListItem, 0, len(records)),
	}
	for _, rec := range records {
		resp.Pages = append(resp.Pages, PageListItem{
			URL:            rec.URL,
			Title:          rec.Title,
			StatusCode:     rec.StatusCode,
			Depth:          rec.Depth,
			ExtractionMode: rec.ExtractionMode,
			TextLength:     len(rec.Text),
			OutlinksCount:  rec.OutlinksCount,
		})
	}

	return c.JSON(resp)
}

func downloadPagesHandler(c *fiber.Ctx) error {
	return downloadArtifact(c, finalize.FinalPagesFile)
}

func downloadSummaryHandler(c *fiber.Ctx) error {
	return downloadArtifact(c, finalize.SummaryFile)
}

func downloadArtifact(c *fiber.Ctx, name string) error {
	job, err := requireJob(c)
	if job == nil {
		return err
	}
	if expireIfDue(c, job) {
		return respondError(c, fiber.StatusGone, "Gone", "job has expired")
	}
	if job.State != model.StateDone {
		return respondError(c, fiber.StatusBadRequest, "Job not finished",
			fmt.Sprintf("downloads are available once the job is done, current state is %q", job.State))
	}

	cfg := c.Locals("config").(*config.Config)
	path := filepath.Join(finalize.JobDir(cfg.Storage.DataDir, job.ID), name)
	return c.Download(path, name)
}

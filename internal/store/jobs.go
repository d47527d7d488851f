package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"skrapp/internal/model"
)

// ErrNotFound is returned when a job lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// CreateJob inserts a job, bumps the requester's concurrency counter, and
// records the initial state event in one transaction.
func (s *Store) CreateJob(ctx context.Context, job *model.Job) error {
	prefixes, err := json.Marshal(job.IgnorePrefixes)
	if err != nil {
		return err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, token_hash, requester_ip_hash, start_url, allowed_host,
			max_pages, timeout_seconds, ignore_prefixes, use_js, state, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.TokenHash, job.RequesterIPHash, job.StartURL, job.AllowedHost,
		job.MaxPages, job.TimeoutSeconds, prefixes, job.UseJS, model.StateQueued, job.ExpiresAt,
	)
	if err != nil {
		return err
	}

	if err := incrIP(ctx, tx, job.RequesterIPHash); err != nil {
		return err
	}

	if err := insertEvent(ctx, tx, job.ID, model.EventInfo, model.EventStateChange,
		map[string]any{"from": "", "to": model.StateQueued}); err != nil {
		return err
	}

	return tx.Commit()
}

// GetJob fetches one job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// GetJobByToken fetches a job only when the caller presents the matching
// token hash. A wrong token is indistinguishable from a missing job.
func (s *Store) GetJobByToken(ctx context.Context, id, tokenHash string) (*model.Job, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND token_hash = $2`, id, tokenHash)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// LeaseNextQueued atomically claims the oldest queued job for a worker.
// Returns nil when the queue is empty.
func (s *Store) LeaseNextQueued(ctx context.Context) (*model.Job, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		UPDATE jobs SET
			state = 'running',
			started_at = COALESCE(started_at, now()),
			runner_heartbeat_at = now(),
			last_progress_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE state = 'queued'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, err
	}

	if err := insertEvent(ctx, tx, job.ID, model.EventInfo, model.EventStateChange,
		map[string]any{"from": model.StateQueued, "to": model.StateRunning}); err != nil {
		return nil, err
	}

	return job, tx.Commit()
}

// nonTerminalGuard keeps worker writes off rows that already reached a
// terminal state. Terminal rows may only change through Transition.
const nonTerminalGuard = `state NOT IN ('done', 'failed', 'expired', 'cancelled')`

// Stuck-job scan predicates: a stall needs progress made and then lost,
// a hard stall means nothing was fetched at all since the run began.
const (
	stalledCond     = `state = 'running' AND pages_fetched > 0`
	hardStalledCond = `state = 'running' AND pages_fetched = 0`
)

// Heartbeat refreshes the runner liveness timestamp and page counter.
// last_progress_at only advances when the page count grew. The job's
// current state is returned so the runner can observe cancellation;
// terminal rows are left untouched but still reported.
func (s *Store) Heartbeat(ctx context.Context, jobID string, pagesFetched int) (string, error) {
	var state string
	err := s.DB.QueryRowContext(ctx, `
		UPDATE jobs SET
			runner_heartbeat_at = now(),
			last_progress_at = CASE WHEN pages_fetched < $2 THEN now() ELSE last_progress_at END,
			pages_fetched = GREATEST(pages_fetched, $2)
		WHERE id = $1 AND `+nonTerminalGuard+`
		RETURNING state`, jobID, pagesFetched).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.DB.QueryRowContext(ctx,
			`SELECT state FROM jobs WHERE id = $1`, jobID).Scan(&state)
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
	}
	return state, err
}

// JobUpdate carries the optional field changes applied alongside a state
// transition or a mid-run progress update.
type JobUpdate struct {
	CrawlerStrategy   *string
	SiteStatus        *string
	LastError         *model.LastError
	BlockEvidence     json.RawMessage
	PagesFetched      *int
	PagesExported     *int
	ErrorsCount       *int
	IncrementRestart  bool
	IncrementFallback bool
	FinishedNow       bool
}

func (u JobUpdate) apply(set *[]string, args *[]any) error {
	add := func(expr string, val any) {
		*args = append(*args, val)
		*set = append(*set, fmt.Sprintf(expr, len(*args)))
	}

	if u.CrawlerStrategy != nil {
		add("crawler_strategy = $%d", *u.CrawlerStrategy)
	}
	if u.SiteStatus != nil {
		add("site_status = $%d", *u.SiteStatus)
	}
	if u.LastError != nil {
		payload, err := json.Marshal(u.LastError)
		if err != nil {
			return err
		}
		add("last_error = $%d", payload)
	}
	if u.BlockEvidence != nil {
		add("block_evidence = $%d", []byte(u.BlockEvidence))
	}
	if u.PagesFetched != nil {
		add("pages_fetched = $%d", *u.PagesFetched)
	}
	if u.PagesExported != nil {
		add("pages_exported = $%d", *u.PagesExported)
	}
	if u.ErrorsCount != nil {
		add("errors_count = $%d", *u.ErrorsCount)
	}
	if u.IncrementRestart {
		*set = append(*set, "restart_count = restart_count + 1")
	}
	if u.IncrementFallback {
		*set = append(*set, "fallback_retry_count = fallback_retry_count + 1")
	}
	if u.FinishedNow {
		*set = append(*set, "finished_at = now()")
	}
	return nil
}

// Transition moves a job to a new state if it is currently in one of the
// expected states, applying the update and logging a state_change event
// atomically. Returns false when the job was not in an expected state.
func (s *Store) Transition(ctx context.Context, jobID, to string, upd JobUpdate, expectedFrom ...string) (bool, error) {
	if len(expectedFrom) == 0 {
		return false, errors.New("store: transition requires expected source states")
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	args := []any{to}
	set := []string{"state = $1"}
	if err := upd.apply(&set, &args); err != nil {
		return false, err
	}

	placeholders := make([]string, len(expectedFrom))
	for i, from := range expectedFrom {
		args = append(args, from)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}
	args = append(args, jobID)

	query := fmt.Sprintf(
		`UPDATE jobs SET %s WHERE state IN (%s) AND id = $%d RETURNING state`,
		strings.Join(set, ", "), strings.Join(placeholders, ", "), len(args))

	var newState string
	err = tx.QueryRowContext(ctx, query, args...).Scan(&newState)
	if errors.Is(err, sql.ErrNoRows) {
		return false, tx.Commit()
	}
	if err != nil {
		return false, err
	}

	payload := map[string]any{"to": to}
	if len(expectedFrom) == 1 {
		payload["from"] = expectedFrom[0]
	}
	level := model.EventInfo
	if to == model.StateFailed || to == model.StateExpired {
		level = model.EventError
	}
	if err := insertEvent(ctx, tx, jobID, level, model.EventStateChange, payload); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

// UpdateJobFields applies a mid-run update without changing state. Rows
// that reached a terminal state in the meantime are not touched.
func (s *Store) UpdateJobFields(ctx context.Context, jobID string, upd JobUpdate) error {
	var args []any
	var set []string
	if err := upd.apply(&set, &args); err != nil {
		return err
	}
	if len(set) == 0 {
		return nil
	}
	args = append(args, jobID)

	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = $%d AND %s`,
		strings.Join(set, ", "), len(args), nonTerminalGuard)
	_, err := s.DB.ExecContext(ctx, query, args...)
	return err
}

// FindOrphaned returns running jobs whose runner heartbeat is older than
// the cutoff, meaning the worker likely died.
func (s *Store) FindOrphaned(ctx context.Context, cutoff time.Time) ([]*model.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE state = 'running'
		  AND COALESCE(runner_heartbeat_at, started_at, created_at) < $1
		ORDER BY created_at`, cutoff)
}

// FindStalled returns running jobs that fetched pages, still heartbeat,
// but made no page progress since the cutoff.
func (s *Store) FindStalled(ctx context.Context, heartbeatAfter, progressCutoff time.Time) ([]*model.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE `+stalledCond+`
		  AND runner_heartbeat_at >= $1
		  AND COALESCE(last_progress_at, started_at, created_at) < $2
		ORDER BY created_at`, heartbeatAfter, progressCutoff)
}

// FindHardStalled returns running jobs that never fetched a page and have
// been running since before the cutoff.
func (s *Store) FindHardStalled(ctx context.Context, startedCutoff time.Time) ([]*model.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE `+hardStalledCond+`
		  AND COALESCE(started_at, created_at) < $1
		ORDER BY created_at`, startedCutoff)
}

// FindCancelled returns cancelled jobs that still need the sweep: a
// partial export pending or an unreleased concurrency slot.
func (s *Store) FindCancelled(ctx context.Context) ([]*model.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE state = 'cancelled'
		  AND (NOT ip_released OR (pages_fetched > 0 AND pages_exported = 0))
		ORDER BY created_at`)
}

// ExpireJobs moves every non-terminal job past its expiry to expired and
// returns the affected rows so the caller can release resources.
func (s *Store) ExpireJobs(ctx context.Context, now time.Time) ([]*model.Job, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		UPDATE jobs SET state = 'expired', finished_at = COALESCE(finished_at, now())
		WHERE expires_at < $1
		  AND state NOT IN ('done', 'failed', 'expired', 'cancelled')
		RETURNING `+jobColumns, now)
	if err != nil {
		return nil, err
	}

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}

	for _, job := range jobs {
		if err := insertEvent(ctx, tx, job.ID, model.EventError, model.EventStateChange,
			map[string]any{"to": model.StateExpired}); err != nil {
			return nil, err
		}
	}

	return jobs, tx.Commit()
}

// DeleteExpired removes done and expired rows whose expiry passed long
// enough ago that their artifacts were already swept.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM jobs WHERE state IN ('done', 'expired') AND expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*model.Job, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]*model.Job, error) {
	defer rows.Close()
	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

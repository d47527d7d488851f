// Package store is the persistence layer. It wraps a shared *sql.DB with
// typed accessors for jobs, events, artifacts, documents, and IP usage.
package store

import (
	"database/sql"
	"encoding/json"

	_ "github.com/jackc/pgx/v5/stdlib"

	"skrapp/internal/model"
)

// Store wraps access to the database.
type Store struct {
	DB *sql.DB
}

// New creates a new Store that uses a shared *sql.DB with pooling.
func New(database *sql.DB) *Store {
	return &Store{DB: database}
}

// jobColumns is the canonical select list; scanJob must match its order.
const jobColumns = `id, token_hash, requester_ip_hash, start_url, allowed_host,
	max_pages, timeout_seconds, ignore_prefixes, use_js, state,
	pages_fetched, pages_exported, errors_count, restart_count, fallback_retry_count,
	crawler_strategy, site_status, last_error, block_evidence, ip_released,
	runner_heartbeat_at, last_progress_at, created_at, started_at, finished_at, expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var job model.Job
	var prefixes []byte

	err := row.Scan(
		&job.ID, &job.TokenHash, &job.RequesterIPHash, &job.StartURL, &job.AllowedHost,
		&job.MaxPages, &job.TimeoutSeconds, &prefixes, &job.UseJS, &job.State,
		&job.PagesFetched, &job.PagesExported, &job.ErrorsCount, &job.RestartCount, &job.FallbackRetryCount,
		&job.CrawlerStrategy, &job.SiteStatus, &job.LastError, &job.BlockEvidence, &job.IPReleased,
		&job.RunnerHeartbeatAt, &job.LastProgressAt, &job.CreatedAt, &job.StartedAt, &job.FinishedAt, &job.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	if len(prefixes) > 0 {
		if err := json.Unmarshal(prefixes, &job.IgnorePrefixes); err != nil {
			return nil, err
		}
	}
	return &job, nil
}

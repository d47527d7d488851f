package store

import (
	"context"
	"database/sql"
	"errors"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func incrIP(ctx context.Context, ex execer, ipHash string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO ip_usage (ip_hash, concurrent_count, updated_at)
		VALUES ($1, 1, now())
		ON CONFLICT (ip_hash) DO UPDATE
		SET concurrent_count = ip_usage.concurrent_count + 1, updated_at = now()`,
		ipHash)
	return err
}

// GetIPCount returns how many live jobs the hashed requester address holds.
func (s *Store) GetIPCount(ctx context.Context, ipHash string) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx,
		`SELECT concurrent_count FROM ip_usage WHERE ip_hash = $1`, ipHash).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

// ReleaseIPForJob decrements the requester's concurrency counter exactly
// once per job. The ip_released flag on the job row makes repeated calls
// from different sweeps harmless.
func (s *Store) ReleaseIPForJob(ctx context.Context, jobID string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var ipHash string
	err = tx.QueryRowContext(ctx, `
		UPDATE jobs SET ip_released = TRUE
		WHERE id = $1 AND NOT ip_released
		RETURNING requester_ip_hash`, jobID).Scan(&ipHash)
	if errors.Is(err, sql.ErrNoRows) {
		// already released by an earlier sweep
		return nil
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE ip_usage
		SET concurrent_count = GREATEST(concurrent_count - 1, 0), updated_at = now()
		WHERE ip_hash = $1`, ipHash)
	if err != nil {
		return err
	}

	return tx.Commit()
}

package store

import (
	"context"

	"skrapp/internal/model"
)

// CreateArtifact registers one output file of a job.
func (s *Store) CreateArtifact(ctx context.Context, a model.Artifact) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO artifacts (job_id, kind, path, byte_size, sha256)
		VALUES ($1, $2, $3, $4, $5)`,
		a.JobID, a.Kind, a.Path, a.ByteSize, a.SHA256)
	return err
}

// ListArtifacts returns a job's registered output files.
func (s *Store) ListArtifacts(ctx context.Context, jobID string) ([]model.Artifact, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, job_id, kind, path, byte_size, sha256, created_at
		FROM artifacts WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []model.Artifact
	for rows.Next() {
		var a model.Artifact
		if err := rows.Scan(&a.ID, &a.JobID, &a.Kind, &a.Path, &a.ByteSize, &a.SHA256, &a.CreatedAt); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

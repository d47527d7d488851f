package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// URL match reasons recorded on document aliases.
const (
	MatchFirstSeen   = "first_seen"
	MatchContentHash = "content_hash"
)

// Identify resolves a content hash to a stable document id within a job,
// creating the document on first sight. The second return value reports
// whether the hash was already known, meaning this URL is a duplicate.
func (s *Store) Identify(ctx context.Context, jobID, contentHash, url string) (string, bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", false, err
	}
	defer tx.Rollback()

	docID := "doc_" + uuid.NewString()
	duplicate := false

	err = tx.QueryRowContext(ctx, `
		INSERT INTO documents (id, job_id, content_hash, primary_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id, content_hash) DO NOTHING
		RETURNING id`,
		docID, jobID, contentHash, url).Scan(&docID)
	if errors.Is(err, sql.ErrNoRows) {
		duplicate = true
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM documents WHERE job_id = $1 AND content_hash = $2`,
			jobID, contentHash).Scan(&docID)
	}
	if err != nil {
		return "", false, err
	}

	reason := MatchFirstSeen
	if duplicate {
		reason = MatchContentHash
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO document_urls (document_id, url, match_reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (document_id, url) DO NOTHING`,
		docID, url, reason)
	if err != nil {
		return "", false, err
	}

	return docID, duplicate, tx.Commit()
}

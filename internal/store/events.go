package store

import (
	"context"
	"encoding/json"

	"skrapp/internal/model"
)

func insertEvent(ctx context.Context, ex execer, jobID, level, eventType string, payload any) error {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO job_events (job_id, level, event_type, payload)
		VALUES ($1, $2, $3, $4)`,
		jobID, level, eventType, data)
	return err
}

// InsertEvent appends one entry to a job's audit trail.
func (s *Store) InsertEvent(ctx context.Context, jobID, level, eventType string, payload any) error {
	return insertEvent(ctx, s.DB, jobID, level, eventType, payload)
}

// ListEvents returns a job's audit trail in chronological order.
func (s *Store) ListEvents(ctx context.Context, jobID string) ([]model.JobEvent, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, job_id, at, level, event_type, payload
		FROM job_events WHERE job_id = $1 ORDER BY at, id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.JobEvent
	for rows.Next() {
		var ev model.JobEvent
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.At, &ev.Level, &ev.Type, &ev.Payload); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Run statuses written to ingest_runs.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunSummary closes out an ingest run.
type RunSummary struct {
	Status string
	Found  int
	Saved  int
	Errors int
}

// RunRecord is one row of the ingest run log.
type RunRecord struct {
	ID          uuid.UUID  `json:"run_id"`
	SourceID    string     `json:"source_id"`
	Status      string     `json:"status"`
	Found       int        `json:"items_found"`
	Saved       int        `json:"items_saved"`
	Errors      int        `json:"errors"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Duration is zero while the run is still open.
func (r RunRecord) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

func (s *PostgresStore) StartRun(ctx context.Context, sourceID string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.q.Exec(ctx,
		"INSERT INTO ingest_runs (run_id, source_id, status, started_at) VALUES ($1, $2, $3, NOW())",
		id, sourceID, RunStatusRunning)
	if err != nil {
		return uuid.Nil, eris.Wrapf(err, "db: start run for %s", sourceID)
	}
	return id, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, id uuid.UUID, sum RunSummary) error {
	_, err := s.q.Exec(ctx, `
		UPDATE ingest_runs
		SET status = $2, items_found = $3, items_saved = $4, errors = $5, completed_at = NOW()
		WHERE run_id = $1`,
		id, sum.Status, sum.Found, sum.Saved, sum.Errors)
	if err != nil {
		return eris.Wrapf(err, "db: finish run %s", id)
	}
	return nil
}

// RecentRuns returns the newest runs first.
func (s *PostgresStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.q.Query(ctx, `
		SELECT run_id::text, source_id, status, items_found, items_saved, errors, started_at, completed_at
		FROM ingest_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "db: query runs")
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			r     RunRecord
			rawID string
		)
		if err := rows.Scan(&rawID, &r.SourceID, &r.Status, &r.Found, &r.Saved, &r.Errors, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "db: scan run")
		}
		if r.ID, err = uuid.Parse(rawID); err != nil {
			return nil, eris.Wrap(err, "db: parse run id")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "db: iterate runs")
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/appgallery-ingest/internal/store"
)

const (
	upsertRunSQL = `
INSERT INTO ingest_runs (
	id, source, status, started_at, finished_at,
	processed, inserted, skipped, failed, batches, error_message
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	finished_at = EXCLUDED.finished_at,
	processed = EXCLUDED.processed,
	inserted = EXCLUDED.inserted,
	skipped = EXCLUDED.skipped,
	failed = EXCLUDED.failed,
	batches = EXCLUDED.batches,
	error_message = EXCLUDED.error_message`

	listRunsSQL = `
SELECT id, source, status, started_at, finished_at,
	processed, inserted, skipped, failed, batches, error_message
FROM ingest_runs
ORDER BY started_at DESC
LIMIT $1`

	defaultRunLimit = 50
)

// RecordRun implements store.RunRepository.
func (s *Store) RecordRun(ctx context.Context, run store.RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	_, err := s.pool.Exec(ctx, upsertRunSQL,
		run.ID, run.Source, string(run.Status), run.StartedAt, run.FinishedAt,
		run.Processed, run.Inserted, run.Skipped, run.Failed, run.Batches, run.Error,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// ListRuns implements store.RunRepository.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]store.RunRecord, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.pool.Query(ctx, listRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.RunRecord, error) {
		var run store.RunRecord
		var status string
		err := row.Scan(
			&run.ID, &run.Source, &status, &run.StartedAt, &run.FinishedAt,
			&run.Processed, &run.Inserted, &run.Skipped, &run.Failed, &run.Batches, &run.Error,
		)
		run.Status = store.RunStatus(status)
		return run, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan runs: %w", err)
	}
	return runs, nil
}

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/david/govbid-leads/internal/models"
)

// RunStats is what a job reports when it finishes.
type RunStats struct {
	Found  int
	Saved  int
	Errors int
}

func (s *Store) StartRun(ctx context.Context, job string) (uuid.UUID, error) {
	id := uuid.New()
	if _, err := s.pool.Exec(ctx, "INSERT INTO pipeline_runs (run_id, job, status) VALUES ($1, $2, 'running')", id, job); err != nil {
		return uuid.Nil, fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// FinishRun marks the run completed, or failed when runErr is set or every
// found item errored.
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, stats RunStats, durationMs int64, runErr error) error {
	status := "completed"
	if runErr != nil || (stats.Saved == 0 && stats.Found > 0 && stats.Errors > 0) {
		status = "failed"
	}
	details := map[string]interface{}{"duration_ms": durationMs}
	if runErr != nil {
		details["error"] = runErr.Error()
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE pipeline_runs SET
			status = $2, items_found = $3, items_saved = $4, errors = $5,
			completed_at = NOW(), details = $6
		WHERE run_id = $1`, id, status, stats.Found, stats.Saved, stats.Errors, details)
	return err
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, job, status, items_found, items_saved, errors, started_at, completed_at
		FROM pipeline_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.PipelineRun
	for rows.Next() {
		var r models.PipelineRun
		if err := rows.Scan(&r.RunID, &r.Job, &r.Status, &r.ItemsFound, &r.ItemsSaved, &r.Errors, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// TrackRun records fn as a pipeline run named job. A failure to write the run
// record never masks fn's own result.
func (s *Store) TrackRun(ctx context.Context, job string, fn func(context.Context) (RunStats, error)) (RunStats, error) {
	runID, startErr := s.StartRun(ctx, job)
	start := time.Now()

	stats, runErr := fn(ctx)
	if startErr != nil {
		return stats, errors.Join(runErr, startErr)
	}
	if err := s.FinishRun(context.WithoutCancel(ctx), runID, stats, time.Since(start).Milliseconds(), runErr); err != nil && runErr == nil {
		return stats, fmt.Errorf("finish run %s: %w", runID, err)
	}
	return stats, runErr
}

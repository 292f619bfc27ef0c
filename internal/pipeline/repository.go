package pipeline

import (
	"context"
	"database/sql"
	"time"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// Repository handles database operations for run tracking
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new run repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the run tracking table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS forecast_runs (
			id               BIGSERIAL PRIMARY KEY,
			name             TEXT NOT NULL,
			status           TEXT NOT NULL,
			input_rows       INTEGER NOT NULL DEFAULT 0,
			cleaned_rows     INTEGER NOT NULL DEFAULT 0,
			seasonal_periods INTEGER NOT NULL DEFAULT 0,
			started_at       TIMESTAMPTZ NOT NULL,
			completed_at     TIMESTAMPTZ,
			error_message    TEXT NOT NULL DEFAULT ''
		)
	`

	_, err := r.db.ExecContext(ctx, query)
	return err
}

// CreateRun creates a new run record
func (r *Repository) CreateRun(ctx context.Context, run *domain.ForecastRun) error {
	query := `
		INSERT INTO forecast_runs (
			name, status, input_rows, cleaned_rows,
			seasonal_periods, started_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	return r.db.QueryRowContext(
		ctx, query,
		run.Name, run.Status, run.InputRows, run.CleanedRows,
		run.SeasonalPeriods, run.StartedAt,
	).Scan(&run.ID)
}

// UpdateRun updates an existing run
func (r *Repository) UpdateRun(ctx context.Context, run *domain.ForecastRun) error {
	query := `
		UPDATE forecast_runs
		SET status = $1, cleaned_rows = $2, completed_at = $3, error_message = $4
		WHERE id = $5
	`

	_, err := r.db.ExecContext(
		ctx, query,
		run.Status, run.CleanedRows, run.CompletedAt, run.ErrorMessage, run.ID,
	)

	return err
}

// GetRun retrieves a run by ID
func (r *Repository) GetRun(ctx context.Context, id int64) (*domain.ForecastRun, error) {
	query := `
		SELECT id, name, status, input_rows, cleaned_rows, seasonal_periods,
		       started_at, completed_at, error_message
		FROM forecast_runs
		WHERE id = $1
	`

	run := &domain.ForecastRun{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.Name, &run.Status, &run.InputRows, &run.CleanedRows,
		&run.SeasonalPeriods, &run.StartedAt, &run.CompletedAt, &run.ErrorMessage,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return run, nil
}

// ListRuns retrieves the most recent runs, newest first
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]*domain.ForecastRun, error) {
	query := `
		SELECT id, name, status, input_rows, cleaned_rows, seasonal_periods,
		       started_at, completed_at, error_message
		FROM forecast_runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.ForecastRun
	for rows.Next() {
		run := &domain.ForecastRun{}
		err := rows.Scan(
			&run.ID, &run.Name, &run.Status, &run.InputRows, &run.CleanedRows,
			&run.SeasonalPeriods, &run.StartedAt, &run.CompletedAt, &run.ErrorMessage,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// RunStats summarises runs started since a point in time
type RunStats struct {
	Total           int64      `json:"total"`
	Failed          int64      `json:"failed"`
	RowsProcessed   int64      `json:"rows_processed"`
	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
}

// GetRunStats retrieves statistics for runs started since the given time
func (r *Repository) GetRunStats(ctx context.Context, since time.Time) (*RunStats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(CASE WHEN status = $1 THEN 1 END) AS failed,
			COALESCE(SUM(input_rows), 0) AS rows_processed,
			MAX(completed_at) AS last_completed_at
		FROM forecast_runs
		WHERE started_at >= $2
	`

	stats := &RunStats{}
	err := r.db.QueryRowContext(ctx, query, domain.RunFailed, since).Scan(
		&stats.Total,
		&stats.Failed,
		&stats.RowsProcessed,
		&stats.LastCompletedAt,
	)
	if err == sql.ErrNoRows {
		return &RunStats{}, nil
	}

	return stats, err
}

var _ RunRecorder = (*Repository)(nil)

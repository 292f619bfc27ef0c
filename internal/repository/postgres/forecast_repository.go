package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

type forecastRepository struct {
	db *DB
}

func NewForecastRepository(db *DB) repository.ForecastRepository {
	return &forecastRepository{db: db}
}

// EnsureForecastSchema creates the result tables when missing. The
// forecast_runs table must already exist.
func EnsureForecastSchema(ctx context.Context, db *DB) error {
	statements := []string{`
		CREATE TABLE IF NOT EXISTS forecast_metrics (
			run_id            BIGINT PRIMARY KEY REFERENCES forecast_runs(id) ON DELETE CASCADE,
			mae               DOUBLE PRECISION NOT NULL,
			rmse              DOUBLE PRECISION NOT NULL,
			average_inventory DOUBLE PRECISION NOT NULL,
			stockout_rate     DOUBLE PRECISION NOT NULL,
			turnover_rate     DOUBLE PRECISION NOT NULL,
			holding_cost      DOUBLE PRECISION NOT NULL,
			confidence_level  DOUBLE PRECISION NOT NULL,
			z_score           DOUBLE PRECISION NOT NULL,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, `
		CREATE TABLE IF NOT EXISTS forecast_band_points (
			run_id      BIGINT NOT NULL REFERENCES forecast_runs(id) ON DELETE CASCADE,
			step        INTEGER NOT NULL,
			date        DATE,
			forecast    DOUBLE PRECISION NOT NULL,
			lower_bound DOUBLE PRECISION NOT NULL,
			upper_bound DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (run_id, step)
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create forecast tables: %w", err)
		}
	}
	return nil
}

// runRow is the flattened join of a run and its metrics.
type runRow struct {
	ID               int64            `db:"id"`
	Name             string           `db:"name"`
	Status           domain.RunStatus `db:"status"`
	InputRows        int              `db:"input_rows"`
	CleanedRows      int              `db:"cleaned_rows"`
	SeasonalPeriods  int              `db:"seasonal_periods"`
	StartedAt        time.Time        `db:"started_at"`
	CompletedAt      *time.Time       `db:"completed_at"`
	ErrorMessage     string           `db:"error_message"`
	MAE              sql.NullFloat64  `db:"mae"`
	RMSE             sql.NullFloat64  `db:"rmse"`
	AverageInventory sql.NullFloat64  `db:"average_inventory"`
	StockoutRate     sql.NullFloat64  `db:"stockout_rate"`
	TurnoverRate     sql.NullFloat64  `db:"turnover_rate"`
	HoldingCost      sql.NullFloat64  `db:"holding_cost"`
	ConfidenceLevel  sql.NullFloat64  `db:"confidence_level"`
	ZScore           sql.NullFloat64  `db:"z_score"`
}

func (r runRow) toDomain() *domain.ForecastRun {
	return &domain.ForecastRun{
		ID:              r.ID,
		Name:            r.Name,
		Status:          r.Status,
		InputRows:       r.InputRows,
		CleanedRows:     r.CleanedRows,
		SeasonalPeriods: r.SeasonalPeriods,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
		ErrorMessage:    r.ErrorMessage,
		Evaluation: domain.EvaluationMetrics{
			MAE:  r.MAE.Float64,
			RMSE: r.RMSE.Float64,
		},
		Inventory: domain.InventoryMetrics{
			AverageInventory: r.AverageInventory.Float64,
			StockoutRate:     r.StockoutRate.Float64,
			TurnoverRate:     r.TurnoverRate.Float64,
			HoldingCost:      r.HoldingCost.Float64,
		},
		Band: domain.ConfidenceBand{
			Level:  r.ConfidenceLevel.Float64,
			ZScore: r.ZScore.Float64,
		},
	}
}

const selectRuns = `
	SELECT r.id, r.name, r.status, r.input_rows, r.cleaned_rows, r.seasonal_periods,
	       r.started_at, r.completed_at, r.error_message,
	       m.mae, m.rmse, m.average_inventory, m.stockout_rate, m.turnover_rate,
	       m.holding_cost, m.confidence_level, m.z_score
	FROM forecast_runs r
	LEFT JOIN forecast_metrics m ON m.run_id = r.id
`

func (r *forecastRepository) SaveResult(ctx context.Context, run *domain.ForecastRun) error {
	if run.ID == 0 {
		return fmt.Errorf("run %q has no id: record it before saving results", run.Name)
	}

	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		// 1. Metrics, one row per run
		metrics := `
			INSERT INTO forecast_metrics (
				run_id, mae, rmse, average_inventory, stockout_rate,
				turnover_rate, holding_cost, confidence_level, z_score
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (run_id)
			DO UPDATE SET
				mae = EXCLUDED.mae,
				rmse = EXCLUDED.rmse,
				average_inventory = EXCLUDED.average_inventory,
				stockout_rate = EXCLUDED.stockout_rate,
				turnover_rate = EXCLUDED.turnover_rate,
				holding_cost = EXCLUDED.holding_cost,
				confidence_level = EXCLUDED.confidence_level,
				z_score = EXCLUDED.z_score
		`
		_, err := tx.ExecContext(ctx, metrics,
			run.ID,
			run.Evaluation.MAE,
			run.Evaluation.RMSE,
			run.Inventory.AverageInventory,
			run.Inventory.StockoutRate,
			run.Inventory.TurnoverRate,
			run.Inventory.HoldingCost,
			run.Band.Level,
			run.Band.ZScore,
		)
		if err != nil {
			return fmt.Errorf("failed to save forecast metrics: %w", err)
		}

		// 2. Band points replace any previous band of the run
		if _, err := tx.ExecContext(ctx, `DELETE FROM forecast_band_points WHERE run_id = $1`, run.ID); err != nil {
			return fmt.Errorf("failed to clear band points: %w", err)
		}
		if len(run.Band.Points) == 0 {
			return nil
		}

		type pointRow struct {
			RunID int64 `db:"run_id"`
			domain.BandPoint
		}
		rows := make([]pointRow, len(run.Band.Points))
		for i, p := range run.Band.Points {
			rows[i] = pointRow{RunID: run.ID, BandPoint: p}
		}

		insert := `
			INSERT INTO forecast_band_points (run_id, step, date, forecast, lower_bound, upper_bound)
			VALUES (:run_id, :step, :date, :forecast, :lower_bound, :upper_bound)
		`
		if _, err := tx.NamedExecContext(ctx, insert, rows); err != nil {
			return fmt.Errorf("failed to save band points: %w", err)
		}
		return nil
	})
}

func (r *forecastRepository) GetRun(ctx context.Context, id int64) (*domain.ForecastRun, error) {
	var row runRow
	if err := r.db.GetContext(ctx, &row, selectRuns+` WHERE r.id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error getting forecast run %d: %w", id, err)
	}

	run := row.toDomain()

	query := `
		SELECT step, date, forecast, lower_bound, upper_bound
		FROM forecast_band_points
		WHERE run_id = $1
		ORDER BY step
	`
	if err := r.db.SelectContext(ctx, &run.Band.Points, query, id); err != nil {
		return nil, fmt.Errorf("error getting band points for run %d: %w", id, err)
	}

	return run, nil
}

func (r *forecastRepository) ListRuns(ctx context.Context, limit, offset int) ([]*domain.ForecastRun, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var rows []runRow
	query := selectRuns + ` ORDER BY r.started_at DESC LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &rows, query, limit, offset); err != nil {
		return nil, fmt.Errorf("error listing forecast runs: %w", err)
	}

	runs := make([]*domain.ForecastRun, len(rows))
	for i, row := range rows {
		runs[i] = row.toDomain()
	}
	return runs, nil
}

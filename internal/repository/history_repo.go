package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// HistoryRepository stores raw sales history per named series.
type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// EnsureSchema creates the sales_history table when missing.
func (r *HistoryRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS sales_history (
			series          TEXT NOT NULL,
			date            DATE NOT NULL,
			sales           DOUBLE PRECISION,
			inventory_level DOUBLE PRECISION NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (series, date)
		)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create sales_history: %w", err)
	}
	return nil
}

// UpsertObservations writes rows of a series, replacing rows with the same date.
func (r *HistoryRepository) UpsertObservations(ctx context.Context, series string, rows []domain.RawObservation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO sales_history (series, date, sales, inventory_level, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (series, date)
		DO UPDATE SET
			sales = EXCLUDED.sales,
			inventory_level = EXCLUDED.inventory_level,
			updated_at = NOW()
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		var sales sql.NullFloat64
		if row.Sales != nil {
			sales = sql.NullFloat64{Float64: *row.Sales, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, series, row.Date, sales, row.InventoryLevel); err != nil {
			return fmt.Errorf("failed to upsert %s on %s: %w", series, row.Date.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

// LoadObservations returns the rows of a series in date order.
func (r *HistoryRepository) LoadObservations(ctx context.Context, series string) ([]domain.RawObservation, error) {
	query := `
		SELECT date, sales, inventory_level
		FROM sales_history
		WHERE series = $1
		ORDER BY date
	`

	rows, err := r.db.QueryContext(ctx, query, series)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales history: %w", err)
	}
	defer rows.Close()

	var out []domain.RawObservation
	for rows.Next() {
		var (
			obs   domain.RawObservation
			sales sql.NullFloat64
		)
		if err := rows.Scan(&obs.Date, &sales, &obs.InventoryLevel); err != nil {
			return nil, fmt.Errorf("failed to scan sales history: %w", err)
		}
		if sales.Valid {
			obs.Sales = domain.Float(sales.Float64)
		}
		out = append(out, obs)
	}

	return out, rows.Err()
}

// ListSeries returns the distinct series names.
func (r *HistoryRepository) ListSeries(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT series FROM sales_history ORDER BY series`)
	if err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

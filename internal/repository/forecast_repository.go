package repository

import (
	"context"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// ForecastRepository persists the metrics and confidence band of runs.
type ForecastRepository interface {
	SaveResult(ctx context.Context, run *domain.ForecastRun) error
	GetRun(ctx context.Context, id int64) (*domain.ForecastRun, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*domain.ForecastRun, error)
}

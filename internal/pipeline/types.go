package pipeline

import (
	"context"

	"github.com/andresuchdata/autopo-forecast/internal/cleaning"
	"github.com/andresuchdata/autopo-forecast/internal/config"
	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/features"
	"github.com/andresuchdata/autopo-forecast/internal/forecast"
)

// RunRecorder persists the lifecycle of a pipeline run.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *domain.ForecastRun) error
	UpdateRun(ctx context.Context, run *domain.ForecastRun) error
}

// RunObserver is notified once per run, after it completed or failed.
type RunObserver interface {
	ObserveRun(run *domain.ForecastRun)
}

// Exporter ships the result of a completed run to an external sink.
type Exporter interface {
	Export(ctx context.Context, res *Result) error
}

// Config holds the parameters of a forecasting run
type Config struct {
	SeasonalPeriods int
	Horizon         int     // Out-of-sample steps forecast after refitting on the full series; 0 disables
	TrainRatio      float64 // Leading share of the cleaned series used for training
	ConfidenceLevel float64
	ZScoreMode      forecast.ZScoreMode
	HoldingCostRate float64
	OutputDir       string // Report directory; empty disables reports
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		SeasonalPeriods: forecast.DefaultSeasonalPeriods,
		TrainRatio:      0.8,
		ConfidenceLevel: 0.95,
		ZScoreMode:      forecast.ZScoreExact,
		HoldingCostRate: 0.2,
		OutputDir:       "data/output",
	}
}

// ConfigFrom maps the forecast section of the process configuration.
func ConfigFrom(fc config.ForecastConfig) (Config, error) {
	mode, err := forecast.ParseZScoreMode(fc.ZScoreMode)
	if err != nil {
		return Config{}, err
	}
	return Config{
		SeasonalPeriods: fc.SeasonalPeriods,
		Horizon:         fc.Horizon,
		TrainRatio:      fc.TrainRatio,
		ConfidenceLevel: fc.ConfidenceLevel,
		ZScoreMode:      mode,
		HoldingCostRate: fc.HoldingCostRate,
		OutputDir:       fc.OutputDir,
	}, nil
}

func (c Config) validate() error {
	if !(c.TrainRatio > 0 && c.TrainRatio < 1) {
		return domain.DataErrorf("train ratio must be in (0,1), got %v", c.TrainRatio)
	}
	if c.Horizon < 0 {
		return domain.DataErrorf("horizon must not be negative, got %d", c.Horizon)
	}
	return nil
}

// Result is everything a completed run produced.
type Result struct {
	Run      *domain.ForecastRun
	Cleaning cleaning.Summary
	Features features.FeatureMatrix
	Target   []float64
	Params   forecast.Params

	// Holdout is the forecast over the test window and Actual the
	// observed values it is evaluated against.
	Holdout domain.ForecastResult
	Actual  []float64

	// Outlook is set when Config.Horizon > 0.
	Outlook     *domain.ForecastResult
	OutlookBand *domain.ConfidenceBand

	Reports []string
}

// Split returns the index of the first test observation for n rows.
func Split(n int, ratio float64) (int, error) {
	cut := int(float64(n) * ratio)
	if cut < 1 || cut >= n {
		return 0, domain.DataErrorf("train ratio %v leaves an empty split of %d rows", ratio, n)
	}
	return cut, nil
}

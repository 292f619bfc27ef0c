package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/autopo-forecast/internal/cleaning"
	"github.com/andresuchdata/autopo-forecast/internal/dataset"
	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/features"
	"github.com/andresuchdata/autopo-forecast/internal/forecast"
	"github.com/andresuchdata/autopo-forecast/internal/inventory"
)

// Runner executes the forecasting pipeline over one dataset at a time:
// clean, build features, compute inventory metrics, split chronologically,
// train, forecast the test window, evaluate and build the confidence band.
type Runner struct {
	cfg       Config
	recorder  RunRecorder
	observers []RunObserver
	exporter  Exporter
	reports   *ReportWriter
	log       zerolog.Logger
	now       func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRecorder tracks every run through rec.
func WithRecorder(rec RunRecorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// WithObserver reports every finished run to each of obs.
func WithObserver(obs ...RunObserver) RunnerOption {
	return func(r *Runner) { r.observers = append(r.observers, obs...) }
}

// WithExporter exports every completed run. Export failures are logged and
// do not fail the run.
func WithExporter(e Exporter) RunnerOption {
	return func(r *Runner) { r.exporter = e }
}

// WithReportWriter writes reports of completed runs.
func WithReportWriter(w *ReportWriter) RunnerOption {
	return func(r *Runner) { r.reports = w }
}

// WithLogger sets the pipeline logger.
func WithLogger(log zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.log = log }
}

// NewRunner creates a new Runner.
func NewRunner(cfg Config, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg: cfg,
		log: zerolog.Nop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the run parameters.
func (r *Runner) Config() Config { return r.cfg }

// Run executes the pipeline. On failure the run is recorded as failed and
// no partial result is returned.
func (r *Runner) Run(ctx context.Context, name string, raw []domain.RawObservation) (*Result, error) {
	run := &domain.ForecastRun{
		Name:            name,
		Status:          domain.RunPending,
		InputRows:       len(raw),
		SeasonalPeriods: r.seasonalPeriods(),
		StartedAt:       r.now(),
	}
	log := r.log.With().Str("run", name).Logger()

	if r.recorder != nil {
		if err := r.recorder.CreateRun(ctx, run); err != nil {
			log.Warn().Err(err).Msg("failed to record run start")
		}
	}

	run.Status = domain.RunProcessing
	r.record(ctx, log, run)

	res, err := r.execute(ctx, log, run, raw)
	if err != nil {
		run.Status = domain.RunFailed
		run.ErrorMessage = err.Error()
		completed := r.now()
		run.CompletedAt = &completed
		r.record(ctx, log, run)
		r.observe(run)

		log.Error().Err(err).Str("kind", domain.ErrorKind(err)).Msg("pipeline run failed")
		return nil, err
	}

	run.Status = domain.RunCompleted
	completed := r.now()
	run.CompletedAt = &completed
	r.record(ctx, log, run)
	r.observe(run)

	log.Info().
		Int("input_rows", run.InputRows).
		Int("cleaned_rows", run.CleanedRows).
		Float64(domain.KeyMAE, run.Evaluation.MAE).
		Float64(domain.KeyRMSE, run.Evaluation.RMSE).
		Dur("elapsed", completed.Sub(run.StartedAt)).
		Msg("pipeline run completed")
	return res, nil
}

func (r *Runner) execute(ctx context.Context, log zerolog.Logger, run *domain.ForecastRun, raw []domain.RawObservation) (*Result, error) {
	if err := r.cfg.validate(); err != nil {
		return nil, err
	}
	res := &Result{Run: run}

	// 1. Clean: impute missing sales, drop IQR outliers
	cleaned, summary, err := cleaning.CleanWithSummary(raw)
	if err != nil {
		return nil, err
	}
	run.CleanedRows = len(cleaned)
	res.Cleaning = summary
	log.Debug().Int("imputed", summary.Imputed).Int("dropped", summary.Dropped).Msg("data cleaned")

	// 2. Calendar features and scaled target
	matrix, target, err := features.NewBuilder().Build(cleaned)
	if err != nil {
		return nil, err
	}
	res.Features, res.Target = matrix, target

	// 3. Inventory metrics over the whole cleaned series
	calc := inventory.NewInventoryCalculator(r.cfg.HoldingCostRate)
	run.Inventory, err = calc.Calculate(cleaned)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 4. Chronological split, train, forecast the test window
	series := dataset.ToSeries(cleaned)
	cut, err := Split(series.Len(), r.cfg.TrainRatio)
	if err != nil {
		return nil, err
	}
	train, test := series.Slice(0, cut), series.Slice(cut, series.Len())

	fc := forecast.New(
		forecast.WithLogger(log),
		forecast.WithZScoreMode(r.cfg.ZScoreMode),
	)
	if err := fc.Train(train, run.SeasonalPeriods); err != nil {
		return nil, err
	}
	res.Params = fc.Model().Params()

	holdout, err := fc.Forecast(test.Len())
	if err != nil {
		return nil, err
	}
	res.Holdout, res.Actual = holdout, test.Values

	// 5. Evaluate and build the band
	run.Evaluation, err = fc.Evaluate(test.Values, holdout.Values)
	if err != nil {
		return nil, err
	}
	run.Band, err = fc.ConfidenceInterval(holdout, r.confidenceLevel())
	if err != nil {
		return nil, err
	}

	// 6. Optional outlook from a model refitted on the full series
	if r.cfg.Horizon > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		model, err := forecast.Fit(series, run.SeasonalPeriods)
		if err != nil {
			return nil, err
		}
		outlook, err := model.Forecast(r.cfg.Horizon)
		if err != nil {
			return nil, err
		}
		band, err := forecast.Band(outlook, run.Evaluation.RMSE, r.confidenceLevel(), r.cfg.ZScoreMode)
		if err != nil {
			return nil, err
		}
		res.Outlook, res.OutlookBand = &outlook, &band
	}

	// 7. Reports and export
	if r.reports != nil {
		res.Reports, err = r.reports.Write(ctx, res)
		if err != nil {
			return nil, err
		}
	}
	if r.exporter != nil {
		if err := r.exporter.Export(ctx, res); err != nil {
			log.Warn().Err(err).Msg("failed to export run")
		}
	}

	return res, nil
}

func (r *Runner) record(ctx context.Context, log zerolog.Logger, run *domain.ForecastRun) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.UpdateRun(ctx, run); err != nil {
		log.Warn().Err(err).Str("status", string(run.Status)).Msg("failed to record run status")
	}
}

func (r *Runner) observe(run *domain.ForecastRun) {
	for _, obs := range r.observers {
		obs.ObserveRun(run)
	}
}

func (r *Runner) seasonalPeriods() int {
	if r.cfg.SeasonalPeriods == 0 {
		return forecast.DefaultSeasonalPeriods
	}
	return r.cfg.SeasonalPeriods
}

func (r *Runner) confidenceLevel() float64 {
	if r.cfg.ConfidenceLevel == 0 {
		return 0.95
	}
	return r.cfg.ConfidenceLevel
}

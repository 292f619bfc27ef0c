package forecast

import (
	"github.com/rs/zerolog"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// State is the lifecycle position of a Forecaster.
type State int

const (
	StateUntrained State = iota
	StateTrained
	StateEvaluated
)

func (s State) String() string {
	switch s {
	case StateTrained:
		return "trained"
	case StateEvaluated:
		return "evaluated"
	default:
		return "untrained"
	}
}

// Option configures a Forecaster.
type Option func(*Forecaster)

// WithLogger sets the logger used for training and evaluation events.
func WithLogger(log zerolog.Logger) Option {
	return func(f *Forecaster) {
		f.log = log
	}
}

// WithZScoreMode sets how confidence multipliers are derived.
func WithZScoreMode(mode ZScoreMode) Option {
	return func(f *Forecaster) {
		f.zMode = mode
	}
}

// Forecaster wraps a Model and its Evaluation behind a stateful API:
// train, then forecast and evaluate, then build confidence intervals.
// Retraining discards the previous evaluation. A Forecaster is not safe
// for concurrent use.
type Forecaster struct {
	log        zerolog.Logger
	zMode      ZScoreMode
	model      *Model
	evaluation *Evaluation
}

// New creates an untrained Forecaster.
func New(opts ...Option) *Forecaster {
	f := &Forecaster{
		log:   zerolog.Nop(),
		zMode: ZScoreExact,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State reports the lifecycle position.
func (f *Forecaster) State() State {
	switch {
	case f.evaluation != nil:
		return StateEvaluated
	case f.model != nil:
		return StateTrained
	default:
		return StateUntrained
	}
}

// ZScoreMode returns the configured multiplier mode.
func (f *Forecaster) ZScoreMode() ZScoreMode { return f.zMode }

// Model returns the fitted model, or nil before training.
func (f *Forecaster) Model() *Model { return f.model }

// Train fits a model on series. On failure the previous model, if any,
// is kept.
func (f *Forecaster) Train(series Series, seasonalPeriods int) error {
	model, err := Fit(series, seasonalPeriods)
	if err != nil {
		f.log.Error().Err(err).Int("observations", series.Len()).Msg("model training failed")
		return err
	}

	f.model = model
	f.evaluation = nil

	p := model.Params()
	f.log.Info().
		Int("observations", model.Observations()).
		Int("seasonal_periods", model.SeasonalPeriods()).
		Float64("alpha", p.Alpha).
		Float64("beta", p.Beta).
		Float64("gamma", p.Gamma).
		Float64("sse", model.SSE()).
		Msg("model training completed")
	return nil
}

// Forecast predicts steps values after the training series.
func (f *Forecaster) Forecast(steps int) (domain.ForecastResult, error) {
	if f.model == nil {
		return domain.ForecastResult{}, domain.StateErrorf("model not trained")
	}
	return f.model.Forecast(steps)
}

// Evaluate computes MAE and RMSE and stores RMSE for ConfidenceInterval.
func (f *Forecaster) Evaluate(actual, predicted []float64) (domain.EvaluationMetrics, error) {
	if f.model == nil {
		return domain.EvaluationMetrics{}, domain.StateErrorf("model not trained")
	}
	eval, err := f.model.Evaluate(actual, predicted)
	if err != nil {
		return domain.EvaluationMetrics{}, err
	}

	f.evaluation = eval
	m := eval.Metrics()
	f.log.Info().
		Float64(domain.KeyMAE, m.MAE).
		Float64(domain.KeyRMSE, m.RMSE).
		Int("points", len(actual)).
		Msg("forecast evaluation computed")
	return m, nil
}

// RMSE returns the stored error scale and whether an evaluation exists.
func (f *Forecaster) RMSE() (float64, bool) {
	if f.evaluation == nil {
		return 0, false
	}
	return f.evaluation.Metrics().RMSE, true
}

// ConfidenceInterval builds a symmetric band around fc using the stored RMSE.
func (f *Forecaster) ConfidenceInterval(fc domain.ForecastResult, level float64) (domain.ConfidenceBand, error) {
	if f.evaluation == nil {
		return domain.ConfidenceBand{}, domain.StateErrorf("model not evaluated")
	}
	return f.evaluation.ConfidenceInterval(fc, level, f.zMode)
}

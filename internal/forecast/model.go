package forecast

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// DefaultSeasonalPeriods is used when Fit is given zero periods.
const DefaultSeasonalPeriods = 12

// Model is a fitted additive Holt-Winters model. It is immutable.
type Model struct {
	periods int
	params  Params
	state   components
	n       int
	next    func(k int) time.Time
	fitted  []float64
	sse     float64
}

// Fit trains a model on series, searching the smoothing weights that
// minimise the one-step-ahead squared error.
func Fit(series Series, seasonalPeriods int) (*Model, error) {
	y, m, err := prepare(series, seasonalPeriods)
	if err != nil {
		return nil, err
	}
	init := initialComponents(y, m)
	return build(series, y, m, searchParams(y, m, init), init), nil
}

// FitWithParams trains a model with fixed smoothing weights.
func FitWithParams(series Series, seasonalPeriods int, p Params) (*Model, error) {
	if !validParams(p) {
		return nil, domain.TrainingErrorf("smoothing weights must be in (0,1), got %+v", p)
	}
	y, m, err := prepare(series, seasonalPeriods)
	if err != nil {
		return nil, err
	}
	return build(series, y, m, p, initialComponents(y, m)), nil
}

func prepare(series Series, seasonalPeriods int) ([]float64, int, error) {
	if seasonalPeriods == 0 {
		seasonalPeriods = DefaultSeasonalPeriods
	}
	if seasonalPeriods < 2 {
		return nil, 0, domain.TrainingErrorf("seasonal periods must be at least 2, got %d", seasonalPeriods)
	}
	if err := series.validate(); err != nil {
		return nil, 0, err
	}
	if series.Len() < 2*seasonalPeriods {
		return nil, 0, domain.TrainingErrorf("need at least %d observations for %d seasonal periods, got %d",
			2*seasonalPeriods, seasonalPeriods, series.Len())
	}

	y := make([]float64, series.Len())
	copy(y, series.Values)
	return y, seasonalPeriods, nil
}

func build(series Series, y []float64, m int, p Params, init components) *Model {
	final, fitted, sse := smooth(y, m, p, init)
	return &Model{
		periods: m,
		params:  p,
		state:   final,
		n:       len(y),
		next:    stepper(series.Index),
		fitted:  fitted,
		sse:     sse,
	}
}

// SeasonalPeriods returns the season length.
func (m *Model) SeasonalPeriods() int { return m.periods }

// Params returns the smoothing weights.
func (m *Model) Params() Params { return m.params }

// Observations returns the training length.
func (m *Model) Observations() int { return m.n }

// SSE returns the in-sample one-step-ahead sum of squared errors.
func (m *Model) SSE() float64 { return m.sse }

// Fitted returns the one-step-ahead predictions for the observations
// after the first season.
func (m *Model) Fitted() []float64 {
	out := make([]float64, len(m.fitted))
	copy(out, m.fitted)
	return out
}

// Forecast projects steps values past the end of the training series.
func (m *Model) Forecast(steps int) (domain.ForecastResult, error) {
	if steps < 1 {
		return domain.ForecastResult{}, domain.DataErrorf("forecast steps must be positive, got %d", steps)
	}

	result := domain.ForecastResult{
		StartIndex: m.n,
		Values:     make([]float64, steps),
	}
	if m.next != nil {
		result.Dates = make([]time.Time, steps)
	}

	for h := 1; h <= steps; h++ {
		phase := (m.n - 1 + h) % m.periods
		result.Values[h-1] = m.state.level + float64(h)*m.state.trend + m.state.seasonal[phase]
		if m.next != nil {
			result.Dates[h-1] = m.next(h)
		}
	}
	return result, nil
}

// Evaluation holds the accuracy of a model against held-out data.
type Evaluation struct {
	metrics domain.EvaluationMetrics
}

// Evaluate compares actual values with predictions made by this model.
func (m *Model) Evaluate(actual, predicted []float64) (*Evaluation, error) {
	metrics, err := Evaluate(actual, predicted)
	if err != nil {
		return nil, err
	}
	return &Evaluation{metrics: metrics}, nil
}

// Metrics returns MAE and RMSE.
func (e *Evaluation) Metrics() domain.EvaluationMetrics { return e.metrics }

// ConfidenceInterval builds a symmetric band of z × RMSE around fc.
func (e *Evaluation) ConfidenceInterval(fc domain.ForecastResult, level float64, mode ZScoreMode) (domain.ConfidenceBand, error) {
	return Band(fc, e.metrics.RMSE, level, mode)
}

// Evaluate computes MAE and RMSE between two equal-length sequences.
func Evaluate(actual, predicted []float64) (domain.EvaluationMetrics, error) {
	if len(actual) != len(predicted) {
		return domain.EvaluationMetrics{}, domain.ShapeErrorf("actual has %d values, predicted has %d", len(actual), len(predicted))
	}
	if len(actual) == 0 {
		return domain.EvaluationMetrics{}, domain.ShapeErrorf("cannot evaluate empty sequences")
	}

	n := float64(len(actual))
	return domain.EvaluationMetrics{
		MAE:  floats.Distance(actual, predicted, 1) / n,
		RMSE: floats.Distance(actual, predicted, 2) / math.Sqrt(n),
	}, nil
}

// Band builds the confidence band for fc given an error scale.
func Band(fc domain.ForecastResult, rmse, level float64, mode ZScoreMode) (domain.ConfidenceBand, error) {
	z, err := ZScore(level, mode)
	if err != nil {
		return domain.ConfidenceBand{}, err
	}

	half := z * rmse
	band := domain.ConfidenceBand{
		Level:  level,
		ZScore: z,
		Points: make([]domain.BandPoint, len(fc.Values)),
	}
	for i, v := range fc.Values {
		p := domain.BandPoint{
			Step:       fc.StartIndex + i,
			Forecast:   v,
			LowerBound: v - half,
			UpperBound: v + half,
		}
		if i < len(fc.Dates) {
			d := fc.Dates[i]
			p.Date = &d
		}
		band.Points[i] = p
	}
	return band, nil
}

package forecast

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

var pattern = []float64{12, -4, 7, 3, -9, 15, -2, 6, -11, 4, 1, -8}

// seasonal returns n values of a noiseless linear trend plus a period-12
// pattern, with a monthly index starting in January 2021.
func seasonal(n int) Series {
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Series{Index: make([]time.Time, n), Values: make([]float64, n)}
	for t := 0; t < n; t++ {
		s.Index[t] = start.AddDate(0, t, 0)
		s.Values[t] = 200 + 1.5*float64(t) + pattern[t%12]
	}
	return s
}

func TestFit_ReproducesNoiselessSeason(t *testing.T) {
	full := seasonal(48)

	model, err := Fit(full.Slice(0, 36), 12)
	require.NoError(t, err)

	fc, err := model.Forecast(12)
	require.NoError(t, err)
	require.Equal(t, 12, fc.Len())
	assert.Equal(t, 36, fc.StartIndex)
	assert.InDeltaSlice(t, full.Values[36:], fc.Values, 1e-6)

	p := model.Params()
	assert.True(t, validParams(p), "params out of range: %+v", p)
}

func TestFit_DefaultSeasonalPeriods(t *testing.T) {
	model, err := Fit(seasonal(24), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultSeasonalPeriods, model.SeasonalPeriods())
}

func TestFit_SearchNeverWorseThanDefaults(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := seasonal(60)
	for i := range s.Values {
		s.Values[i] += rng.NormFloat64() * 5
	}

	searched, err := Fit(s, 12)
	require.NoError(t, err)
	fixed, err := FitWithParams(s, 12, DefaultParams)
	require.NoError(t, err)

	assert.LessOrEqual(t, searched.SSE(), fixed.SSE())
	assert.Len(t, searched.Fitted(), 48)
}

func TestFit_TrainingErrors(t *testing.T) {
	nonFinite := seasonal(36)
	nonFinite.Values[5] = math.NaN()

	infinite := seasonal(36)
	infinite.Values[30] = math.Inf(1)

	tests := []struct {
		name    string
		series  Series
		periods int
	}{
		{"too short", seasonal(23), 12},
		{"empty", Series{}, 12},
		{"nan", nonFinite, 12},
		{"inf", infinite, 12},
		{"period of one", seasonal(36), 1},
		{"negative period", seasonal(36), -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fit(tt.series, tt.periods)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrTraining), "got %v", err)
		})
	}
}

func TestFit_IndexLengthMismatch(t *testing.T) {
	s := seasonal(36)
	s.Index = s.Index[:30]

	_, err := Fit(s, 12)
	assert.True(t, errors.Is(err, domain.ErrShape))
}

func TestFitWithParams_RejectsOutOfRange(t *testing.T) {
	_, err := FitWithParams(seasonal(36), 12, Params{Alpha: 1, Beta: 0.1, Gamma: 0.1})
	assert.True(t, errors.Is(err, domain.ErrTraining))
}

func TestModelForecast_Dates(t *testing.T) {
	model, err := Fit(seasonal(36), 12)
	require.NoError(t, err)

	fc, err := model.Forecast(3)
	require.NoError(t, err)
	require.Len(t, fc.Dates, 3)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), fc.Dates[0])
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), fc.Dates[2])
}

func TestModelForecast_MonthEndDates(t *testing.T) {
	s := seasonal(36)
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range s.Index {
		s.Index[i] = start.AddDate(0, i+1, -1)
	}
	require.Equal(t, time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), s.Index[35])

	model, err := Fit(s, 12)
	require.NoError(t, err)
	fc, err := model.Forecast(4)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC),
	}, fc.Dates)
}

func TestStepper_Quarterly(t *testing.T) {
	step := stepper([]time.Time{
		time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 9, 30, 0, 0, 0, 0, time.UTC),
	})
	require.NotNil(t, step)
	assert.Equal(t, time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), step(1))
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), step(2))

	step = stepper([]time.Time{
		time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC), step(2))
}

func TestModelForecast_DailyAndUnindexed(t *testing.T) {
	s := seasonal(28)
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := range s.Index {
		s.Index[i] = start.AddDate(0, 0, i)
	}

	model, err := Fit(s, 7)
	require.NoError(t, err)
	fc, err := model.Forecast(2)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), fc.Dates[0])
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), fc.Dates[1])

	model, err = Fit(Series{Values: s.Values}, 7)
	require.NoError(t, err)
	fc, err = model.Forecast(2)
	require.NoError(t, err)
	assert.Nil(t, fc.Dates)
	assert.Equal(t, 28, fc.StartIndex)
}

func TestModelForecast_InvalidSteps(t *testing.T) {
	model, err := Fit(seasonal(24), 12)
	require.NoError(t, err)

	_, err = model.Forecast(0)
	assert.True(t, errors.Is(err, domain.ErrData))
}

func TestEvaluate(t *testing.T) {
	m, err := Evaluate([]float64{1, 2, 3}, []float64{1, 2, 5})
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, m.MAE, 1e-12)
	assert.InDelta(t, math.Sqrt(4.0/3.0), m.RMSE, 1e-12)

	m, err = Evaluate([]float64{4, 5}, []float64{4, 5})
	require.NoError(t, err)
	assert.Zero(t, m.MAE)
	assert.Zero(t, m.RMSE)
}

func TestEvaluate_ShapeErrors(t *testing.T) {
	_, err := Evaluate(make([]float64, 10), make([]float64, 8))
	assert.True(t, errors.Is(err, domain.ErrShape))

	_, err = Evaluate(nil, nil)
	assert.True(t, errors.Is(err, domain.ErrShape))
}

func TestEvaluate_MAENotAboveRMSE(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		n := 1 + rng.Intn(30)
		a, p := make([]float64, n), make([]float64, n)
		for j := range a {
			a[j] = rng.Float64() * 100
			p[j] = rng.Float64() * 100
		}
		m, err := Evaluate(a, p)
		require.NoError(t, err)
		assert.LessOrEqual(t, m.MAE, m.RMSE+1e-12)
	}
}

func TestZScore(t *testing.T) {
	z, err := ZScore(0.95, ZScoreExact)
	require.NoError(t, err)
	assert.InDelta(t, 1.959964, z, 1e-5)

	z, err = ZScore(0.80, ZScoreExact)
	require.NoError(t, err)
	assert.InDelta(t, 1.281552, z, 1e-5)

	z, err = ZScore(0.80, ZScoreFixed)
	require.NoError(t, err)
	assert.Equal(t, FixedZScore, z)

	for _, level := range []float64{0, 1, -0.5, 1.5, math.NaN()} {
		_, err := ZScore(level, ZScoreExact)
		assert.True(t, errors.Is(err, domain.ErrData), "level %v", level)
	}
}

func TestParseZScoreMode(t *testing.T) {
	m, err := ParseZScoreMode("")
	require.NoError(t, err)
	assert.Equal(t, ZScoreExact, m)

	m, err = ParseZScoreMode(" Fixed ")
	require.NoError(t, err)
	assert.Equal(t, ZScoreFixed, m)

	_, err = ParseZScoreMode("student-t")
	assert.True(t, errors.Is(err, domain.ErrData))
}

func TestForecaster_Lifecycle(t *testing.T) {
	f := New()
	assert.Equal(t, StateUntrained, f.State())
	assert.Equal(t, ZScoreExact, f.ZScoreMode())

	_, err := f.Forecast(5)
	assert.True(t, errors.Is(err, domain.ErrState))
	assert.Equal(t, "model not trained: state error", err.Error())

	_, err = f.Evaluate([]float64{1}, []float64{1})
	assert.True(t, errors.Is(err, domain.ErrState))

	full := seasonal(48)
	require.NoError(t, f.Train(full.Slice(0, 36), 12))
	assert.Equal(t, StateTrained, f.State())

	fc, err := f.Forecast(12)
	require.NoError(t, err)

	_, err = f.ConfidenceInterval(fc, 0.95)
	assert.True(t, errors.Is(err, domain.ErrState))

	_, err = f.Evaluate(full.Values[36:], fc.Values[:8])
	assert.True(t, errors.Is(err, domain.ErrShape))
	assert.Equal(t, StateTrained, f.State())

	metrics, err := f.Evaluate(full.Values[36:], fc.Values)
	require.NoError(t, err)
	assert.Equal(t, StateEvaluated, f.State())
	assert.InDelta(t, 0, metrics.RMSE, 1e-6)

	rmse, ok := f.RMSE()
	assert.True(t, ok)
	assert.Equal(t, metrics.RMSE, rmse)

	require.NoError(t, f.Train(full, 12))
	assert.Equal(t, StateTrained, f.State())
	_, ok = f.RMSE()
	assert.False(t, ok)
	_, err = f.ConfidenceInterval(fc, 0.95)
	assert.True(t, errors.Is(err, domain.ErrState))
}

func TestForecaster_FailedTrainKeepsModel(t *testing.T) {
	f := New()
	require.NoError(t, f.Train(seasonal(36), 12))
	model := f.Model()

	err := f.Train(seasonal(10), 12)
	assert.True(t, errors.Is(err, domain.ErrTraining))
	assert.Same(t, model, f.Model())
	assert.Equal(t, StateTrained, f.State())
}

func evaluated(t *testing.T, mode ZScoreMode) (*Forecaster, domain.ForecastResult) {
	t.Helper()
	f := New(WithZScoreMode(mode))
	require.NoError(t, f.Train(seasonal(36), 12))

	fc, err := f.Forecast(6)
	require.NoError(t, err)
	_, err = f.Evaluate([]float64{1, 2, 3, 4}, []float64{2, 2, 5, 1})
	require.NoError(t, err)
	return f, fc
}

func TestForecaster_ConfidenceBand(t *testing.T) {
	f, fc := evaluated(t, ZScoreExact)
	rmse, _ := f.RMSE()
	require.Greater(t, rmse, 0.0)

	band, err := f.ConfidenceInterval(fc, 0.95)
	require.NoError(t, err)
	require.Len(t, band.Points, 6)
	assert.Equal(t, 0.95, band.Level)

	for i, p := range band.Points {
		assert.LessOrEqual(t, p.LowerBound, p.Forecast)
		assert.LessOrEqual(t, p.Forecast, p.UpperBound)
		assert.InDelta(t, band.Width(), p.UpperBound-p.LowerBound, 1e-9)
		assert.Equal(t, fc.Values[i], p.Forecast)
		assert.Equal(t, 36+i, p.Step)
		require.NotNil(t, p.Date)
		assert.Equal(t, fc.Dates[i], *p.Date)
	}
	assert.InDelta(t, 2*1.96*rmse, band.Width(), 1e-4*rmse)

	_, err = f.ConfidenceInterval(fc, 1.2)
	assert.True(t, errors.Is(err, domain.ErrData))
}

func TestForecaster_ZScoreModeInEffect(t *testing.T) {
	exact, fc := evaluated(t, ZScoreExact)
	fixed, _ := evaluated(t, ZScoreFixed)
	rmse, _ := exact.RMSE()

	exactBand, err := exact.ConfidenceInterval(fc, 0.80)
	require.NoError(t, err)
	fixedBand, err := fixed.ConfidenceInterval(fc, 0.80)
	require.NoError(t, err)

	assert.InDelta(t, 2*1.281552*rmse, exactBand.Width(), 1e-4)
	assert.InDelta(t, 2*FixedZScore*rmse, fixedBand.Width(), 1e-9)
	assert.Greater(t, fixedBand.Width(), exactBand.Width())
}

func TestForecaster_Logs(t *testing.T) {
	var buf bytes.Buffer
	f := New(WithLogger(zerolog.New(&buf)))

	require.NoError(t, f.Train(seasonal(24), 12))
	_, err := f.Evaluate([]float64{1, 2}, []float64{1, 3})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "model training completed")
	assert.Contains(t, out, "forecast evaluation computed")
	assert.Contains(t, out, `"RMSE":`)
}

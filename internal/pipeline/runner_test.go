package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/autopo-forecast/internal/config"
	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/forecast"
)

type fakeRecorder struct {
	created  int
	statuses []domain.RunStatus
	last     domain.ForecastRun
}

func (f *fakeRecorder) CreateRun(_ context.Context, run *domain.ForecastRun) error {
	f.created++
	run.ID = 42
	return nil
}

func (f *fakeRecorder) UpdateRun(_ context.Context, run *domain.ForecastRun) error {
	f.statuses = append(f.statuses, run.Status)
	f.last = *run
	return nil
}

type fakeObserver struct {
	runs []domain.ForecastRun
}

func (f *fakeObserver) ObserveRun(run *domain.ForecastRun) {
	f.runs = append(f.runs, *run)
}

type fakeExporter struct {
	exported int
	err      error
}

func (f *fakeExporter) Export(_ context.Context, res *Result) error {
	f.exported++
	return f.err
}

type fakeUploader struct {
	keys []string
}

func (f *fakeUploader) UploadObject(_ context.Context, key string, _ []byte) error {
	f.keys = append(f.keys, key)
	return nil
}

var pattern = []float64{12, -4, 7, 3, -9, 15, -2, 6, -11, 4, 1, -8}

func monthly(n int) []domain.RawObservation {
	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.RawObservation, n)
	for t := 0; t < n; t++ {
		level := 80.0
		if t%10 == 0 {
			level = 0
		}
		out[t] = domain.RawObservation{
			Date:           start.AddDate(0, t, 0),
			Sales:          domain.Float(200 + 1.5*float64(t) + pattern[t%12]),
			InventoryLevel: level,
		}
	}
	return out
}

func fixedClock() time.Time {
	return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
}

func TestRunner_Run(t *testing.T) {
	rec := &fakeRecorder{}
	obs := &fakeObserver{}
	r := NewRunner(DefaultConfig(), WithRecorder(rec), WithObserver(obs))

	res, err := r.Run(context.Background(), "store-1", monthly(60))
	require.NoError(t, err)

	require.Len(t, obs.runs, 1)
	assert.Equal(t, domain.RunCompleted, obs.runs[0].Status)

	assert.Equal(t, 1, rec.created)
	assert.Equal(t, []domain.RunStatus{domain.RunProcessing, domain.RunCompleted}, rec.statuses)
	assert.Equal(t, int64(42), res.Run.ID)
	assert.Equal(t, 60, res.Run.InputRows)
	assert.Equal(t, 60, res.Run.CleanedRows)
	require.NotNil(t, res.Run.CompletedAt)

	assert.Len(t, res.Features, 60)
	assert.Len(t, res.Target, 60)

	require.Equal(t, 12, res.Holdout.Len())
	assert.Equal(t, 48, res.Holdout.StartIndex)
	assert.InDeltaSlice(t, res.Actual, res.Holdout.Values, 1e-6)
	assert.InDelta(t, 0, res.Run.Evaluation.RMSE, 1e-6)

	assert.InDelta(t, 0.1, res.Run.Inventory.StockoutRate, 1e-12)
	assert.InDelta(t, 72.0, res.Run.Inventory.AverageInventory, 1e-12)

	require.Len(t, res.Run.Band.Points, 12)
	assert.Equal(t, 0.95, res.Run.Band.Level)
	assert.Nil(t, res.Outlook)
	assert.Empty(t, res.Reports)
}

func TestRunner_Outlook(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Horizon = 6
	r := NewRunner(cfg)

	res, err := r.Run(context.Background(), "outlook", monthly(48))
	require.NoError(t, err)

	require.NotNil(t, res.Outlook)
	require.NotNil(t, res.OutlookBand)
	assert.Equal(t, 6, res.Outlook.Len())
	assert.Equal(t, 48, res.Outlook.StartIndex)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), res.Outlook.Dates[0])

	// the 49th value of the generating process
	assert.InDelta(t, 200+1.5*48+pattern[0], res.Outlook.Values[0], 1e-6)
}

func TestRunner_Reports(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{}
	cfg := DefaultConfig()
	cfg.Horizon = 3

	r := NewRunner(cfg, WithReportWriter(NewReportWriter(dir, up, "reports", zerolog.Nop())))
	r.now = fixedClock

	res, err := r.Run(context.Background(), "store 7/A", monthly(48))
	require.NoError(t, err)

	runDir := filepath.Join(dir, "store_7_A-20250304T050607")
	assert.Equal(t, []string{
		filepath.Join(runDir, BandFile),
		filepath.Join(runDir, OutlookFile),
		filepath.Join(runDir, MetricsFile),
	}, res.Reports)
	assert.Equal(t, []string{
		"reports/store_7_A-20250304T050607/band.csv",
		"reports/store_7_A-20250304T050607/outlook.csv",
		"reports/store_7_A-20250304T050607/metrics.json",
	}, up.keys)

	band, err := os.ReadFile(filepath.Join(runDir, BandFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(band)), "\n")
	require.Len(t, lines, 11)
	assert.Equal(t, "step,date,forecast,lower_bound,upper_bound,actual", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "38,2022-03-01,"), lines[1])

	raw, err := os.ReadFile(filepath.Join(runDir, MetricsFile))
	require.NoError(t, err)
	var report MetricsReport
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Equal(t, "store 7/A", report.Run)
	assert.Contains(t, report.Evaluation, domain.KeyRMSE)
	assert.Contains(t, report.Inventory, domain.KeyHoldingCost)
	require.NotNil(t, report.Outlook)
	assert.Len(t, report.Outlook.Points, 3)
}

func TestRunner_ExportFailureDoesNotFailRun(t *testing.T) {
	exp := &fakeExporter{err: errors.New("influx down")}
	r := NewRunner(DefaultConfig(), WithExporter(exp))

	res, err := r.Run(context.Background(), "export", monthly(48))
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, res.Run.Status)
	assert.Equal(t, 1, exp.exported)

	_, err = r.Run(context.Background(), "short", monthly(20))
	require.Error(t, err)
	assert.Equal(t, 1, exp.exported)
}

func TestRunner_FailureIsRecorded(t *testing.T) {
	rec := &fakeRecorder{}
	obs := &fakeObserver{}
	r := NewRunner(DefaultConfig(), WithRecorder(rec), WithObserver(obs))

	res, err := r.Run(context.Background(), "short", monthly(20))
	require.Error(t, err)
	assert.Nil(t, res)
	require.Len(t, obs.runs, 1)
	assert.Equal(t, domain.RunFailed, obs.runs[0].Status)
	assert.True(t, errors.Is(err, domain.ErrTraining))

	assert.Equal(t, []domain.RunStatus{domain.RunProcessing, domain.RunFailed}, rec.statuses)
	assert.Equal(t, err.Error(), rec.last.ErrorMessage)
	assert.NotNil(t, rec.last.CompletedAt)
}

func TestRunner_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrainRatio = 1.5

	_, err := NewRunner(cfg).Run(context.Background(), "bad", monthly(48))
	assert.True(t, errors.Is(err, domain.ErrData))
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(DefaultConfig()).Run(ctx, "cancelled", monthly(48))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSplit(t *testing.T) {
	cut, err := Split(60, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 48, cut)

	cut, err = Split(7, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 5, cut)

	_, err = Split(1, 0.8)
	assert.True(t, errors.Is(err, domain.ErrData))
}

func TestConfigFrom(t *testing.T) {
	cfg, err := ConfigFrom(config.ForecastConfig{
		SeasonalPeriods: 4,
		TrainRatio:      0.75,
		ConfidenceLevel: 0.9,
		ZScoreMode:      "fixed",
		OutputDir:       "out",
	})
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.SeasonalPeriods)
	assert.Equal(t, forecast.ZScoreFixed, cfg.ZScoreMode)
	assert.Equal(t, "out", cfg.OutputDir)

	_, err = ConfigFrom(config.ForecastConfig{ZScoreMode: "bogus"})
	assert.True(t, errors.Is(err, domain.ErrData))
}

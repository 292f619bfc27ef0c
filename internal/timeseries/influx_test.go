package timeseries

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/autopo-forecast/internal/config"
	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/pipeline"
)

func date(month int) *time.Time {
	d := time.Date(2024, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return &d
}

func testResult() *pipeline.Result {
	run := &domain.ForecastRun{
		Name:        "sku-1",
		Status:      domain.RunCompleted,
		InputRows:   24,
		CleanedRows: 24,
		StartedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Evaluation:  domain.EvaluationMetrics{MAE: 1, RMSE: 2},
		Band: domain.ConfidenceBand{
			Level:  0.95,
			ZScore: 1.96,
			Points: []domain.BandPoint{
				{Step: 20, Date: date(9), Forecast: 10, LowerBound: 6, UpperBound: 14},
				{Step: 21, Date: date(10), Forecast: 11, LowerBound: 7, UpperBound: 15},
				{Step: 22, Forecast: 12, LowerBound: 8, UpperBound: 16},
			},
		},
	}
	return &pipeline.Result{
		Run:    run,
		Actual: []float64{9, 12, 12},
		OutlookBand: &domain.ConfidenceBand{
			Points: []domain.BandPoint{{Step: 24, Date: date(12), Forecast: 13, LowerBound: 9, UpperBound: 17}},
		},
	}
}

func TestPoints(t *testing.T) {
	points := Points(testResult())

	// two dated holdout points, one outlook point, one metrics point
	require.Len(t, points, 4)
	assert.Equal(t, BandMeasurement, points[0].Name())
	assert.Equal(t, MetricsMeasurement, points[3].Name())

	fields := map[string]interface{}{}
	for _, f := range points[0].FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 9.0, fields["actual"])
	assert.Equal(t, 10.0, fields["forecast"])

	tags := map[string]string{}
	for _, tag := range points[2].TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, KindOutlook, tags["kind"])
	assert.Equal(t, "sku-1", tags["run"])
}

func TestInfluxExporter_Export(t *testing.T) {
	var (
		mu    sync.Mutex
		body  string
		query string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		body, query = string(raw), r.URL.RawQuery
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	exp, err := NewInfluxExporter(config.TimeSeriesConfig{URL: srv.URL, Org: "acme", Bucket: "forecasts"})
	require.NoError(t, err)
	defer exp.Close()

	require.NoError(t, exp.Export(context.Background(), testResult()))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, query, "bucket=forecasts")
	assert.Contains(t, query, "org=acme")

	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "forecast_band,kind=holdout,run=sku-1 "), lines[0])
	assert.True(t, strings.HasPrefix(lines[3], "forecast_metrics,run=sku-1 "), lines[3])
}

func TestInfluxExporter_WriteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"invalid","message":"bad line"}`))
	}))
	defer srv.Close()

	exp, err := NewInfluxExporter(config.TimeSeriesConfig{URL: srv.URL, Org: "acme", Bucket: "forecasts"})
	require.NoError(t, err)
	defer exp.Close()

	assert.Error(t, exp.Export(context.Background(), testResult()))
}

func TestNewInfluxExporter_Validation(t *testing.T) {
	_, err := NewInfluxExporter(config.TimeSeriesConfig{URL: "http://localhost:8086"})
	assert.Error(t, err)
}

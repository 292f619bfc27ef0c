// Package timeseries exports forecast bands and run metrics to InfluxDB so
// they can be charted next to the observed series.
package timeseries

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/andresuchdata/autopo-forecast/internal/config"
	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/pipeline"
)

const (
	BandMeasurement    = "forecast_band"
	MetricsMeasurement = "forecast_metrics"

	KindHoldout = "holdout"
	KindOutlook = "outlook"
)

// InfluxExporter writes the points of a run synchronously.
type InfluxExporter struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
}

func NewInfluxExporter(cfg config.TimeSeriesConfig) (*InfluxExporter, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx url, org and bucket are required")
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetHTTPRequestTimeout(30).
			SetPrecision(time.Second))

	return &InfluxExporter{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Export writes the holdout band (with the observed values), the outlook
// band when present and one metrics point stamped with the run start.
func (e *InfluxExporter) Export(ctx context.Context, res *pipeline.Result) error {
	points := Points(res)
	if len(points) == 0 {
		return nil
	}
	if err := e.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write %d points to influx: %w", len(points), err)
	}
	return nil
}

func (e *InfluxExporter) Close() {
	e.client.Close()
}

// Points converts a result to line-protocol points. Band points without a
// date are skipped.
func Points(res *pipeline.Result) []*write.Point {
	run := res.Run
	var points []*write.Point

	for i, bp := range run.Band.Points {
		p := bandPoint(run.Name, KindHoldout, bp)
		if p == nil {
			continue
		}
		if i < len(res.Actual) {
			p.AddField("actual", res.Actual[i])
		}
		points = append(points, p)
	}

	if res.OutlookBand != nil {
		for _, bp := range res.OutlookBand.Points {
			if p := bandPoint(run.Name, KindOutlook, bp); p != nil {
				points = append(points, p)
			}
		}
	}

	fields := map[string]interface{}{
		"input_rows":       run.InputRows,
		"cleaned_rows":     run.CleanedRows,
		"confidence_level": run.Band.Level,
		"z_score":          run.Band.ZScore,
	}
	for k, v := range run.Evaluation.ToMap() {
		fields[k] = v
	}
	for k, v := range run.Inventory.ToMap() {
		fields[k] = v
	}
	points = append(points, influxdb2.NewPoint(MetricsMeasurement,
		map[string]string{"run": run.Name}, fields, run.StartedAt))

	return points
}

func bandPoint(run, kind string, bp domain.BandPoint) *write.Point {
	if bp.Date == nil {
		return nil
	}
	return influxdb2.NewPoint(BandMeasurement,
		map[string]string{"run": run, "kind": kind},
		map[string]interface{}{
			"step":        bp.Step,
			"forecast":    bp.Forecast,
			"lower_bound": bp.LowerBound,
			"upper_bound": bp.UpperBound,
		},
		*bp.Date)
}

var _ pipeline.Exporter = (*InfluxExporter)(nil)

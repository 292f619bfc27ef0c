package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/autopo-forecast/internal/cleaning"
	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/forecast"
)

// Report file names inside a run directory.
const (
	BandFile    = "band.csv"
	OutlookFile = "outlook.csv"
	MetricsFile = "metrics.json"
)

// Uploader stores report files remotely.
type Uploader interface {
	UploadObject(ctx context.Context, key string, data []byte) error
}

// ReportWriter writes run reports to disk and optionally uploads them.
type ReportWriter struct {
	outputDir string
	uploader  Uploader
	prefix    string
	log       zerolog.Logger
}

// NewReportWriter creates a writer rooted at outputDir. uploader may be nil.
func NewReportWriter(outputDir string, uploader Uploader, prefix string, log zerolog.Logger) *ReportWriter {
	return &ReportWriter{
		outputDir: outputDir,
		uploader:  uploader,
		prefix:    prefix,
		log:       log,
	}
}

// MetricsReport is the content of metrics.json.
type MetricsReport struct {
	Run             string                 `json:"run"`
	SeasonalPeriods int                    `json:"seasonal_periods"`
	Params          forecast.Params        `json:"params"`
	Cleaning        cleaning.Summary       `json:"cleaning"`
	Evaluation      map[string]float64     `json:"evaluation"`
	Inventory       map[string]float64     `json:"inventory"`
	ConfidenceLevel float64                `json:"confidence_level"`
	ZScore          float64                `json:"z_score"`
	Outlook         *domain.ConfidenceBand `json:"outlook,omitempty"`
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// RunDir returns the directory name used for a run.
func RunDir(run *domain.ForecastRun) string {
	name := unsafeChars.ReplaceAllString(run.Name, "_")
	if name == "" {
		name = "run"
	}
	return fmt.Sprintf("%s-%s", name, run.StartedAt.UTC().Format("20060102T150405"))
}

// Write renders the reports of res and returns the local paths written.
func (w *ReportWriter) Write(ctx context.Context, res *Result) ([]string, error) {
	dir := filepath.Join(w.outputDir, RunDir(res.Run))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	files := []string{filepath.Join(dir, BandFile)}
	if err := writeBandCSV(files[0], res.Run.Band, res.Actual); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", BandFile, err)
	}

	if res.OutlookBand != nil {
		p := filepath.Join(dir, OutlookFile)
		if err := writeBandCSV(p, *res.OutlookBand, nil); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", OutlookFile, err)
		}
		files = append(files, p)
	}

	metricsPath := filepath.Join(dir, MetricsFile)
	if err := writeMetricsJSON(metricsPath, res); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", MetricsFile, err)
	}
	files = append(files, metricsPath)

	w.log.Info().Str("dir", dir).Int("files", len(files)).Msg("reports written")

	if w.uploader != nil {
		if err := w.upload(ctx, RunDir(res.Run), files); err != nil {
			return files, err
		}
	}
	return files, nil
}

func (w *ReportWriter) upload(ctx context.Context, runDir string, files []string) error {
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", f, err)
		}
		key := path.Join(w.prefix, runDir, filepath.Base(f))
		if err := w.uploader.UploadObject(ctx, key, data); err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
		w.log.Debug().Str("key", key).Int("bytes", len(data)).Msg("report uploaded")
	}
	return nil
}

// writeBandCSV writes one row per band point. actual is optional.
func writeBandCSV(p string, band domain.ConfidenceBand, actual []float64) error {
	file, err := os.Create(p)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	headers := []string{"step", "date", "forecast", "lower_bound", "upper_bound"}
	if actual != nil {
		headers = append(headers, "actual")
	}
	if err := writer.Write(headers); err != nil {
		return err
	}

	for i, pt := range band.Points {
		date := ""
		if pt.Date != nil {
			date = pt.Date.Format("2006-01-02")
		}
		record := []string{
			strconv.Itoa(pt.Step),
			date,
			formatFloat(pt.Forecast),
			formatFloat(pt.LowerBound),
			formatFloat(pt.UpperBound),
		}
		if actual != nil {
			v := ""
			if i < len(actual) {
				v = formatFloat(actual[i])
			}
			record = append(record, v)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeMetricsJSON(p string, res *Result) error {
	report := MetricsReport{
		Run:             res.Run.Name,
		SeasonalPeriods: res.Run.SeasonalPeriods,
		Params:          res.Params,
		Cleaning:        res.Cleaning,
		Evaluation:      res.Run.Evaluation.ToMap(),
		Inventory:       res.Run.Inventory.ToMap(),
		ConfidenceLevel: res.Run.Band.Level,
		ZScore:          res.Run.Band.ZScore,
		Outlook:         res.OutlookBand,
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

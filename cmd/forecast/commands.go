package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/autopo-forecast/internal/app"
	"github.com/andresuchdata/autopo-forecast/internal/cleaning"
	"github.com/andresuchdata/autopo-forecast/internal/dataset"
	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/drive"
	"github.com/andresuchdata/autopo-forecast/internal/forecast"
	"github.com/andresuchdata/autopo-forecast/internal/inventory"
	"github.com/andresuchdata/autopo-forecast/internal/pipeline"
	"github.com/andresuchdata/autopo-forecast/internal/storage"
)

// pipelineConfig applies the forecast flags that were set on top of the
// process configuration.
func pipelineConfig(c *cli.Context, a *app.App) (pipeline.Config, error) {
	cfg := a.Pipeline
	if c.IsSet("seasonal-periods") {
		cfg.SeasonalPeriods = c.Int("seasonal-periods")
	}
	if c.IsSet("horizon") {
		cfg.Horizon = c.Int("horizon")
	}
	if c.IsSet("train-ratio") {
		cfg.TrainRatio = c.Float64("train-ratio")
	}
	if c.IsSet("confidence-level") {
		cfg.ConfidenceLevel = c.Float64("confidence-level")
	}
	if c.IsSet("zscore-mode") {
		mode, err := forecast.ParseZScoreMode(c.String("zscore-mode"))
		if err != nil {
			return cfg, err
		}
		cfg.ZScoreMode = mode
	}
	if c.IsSet("output-dir") {
		cfg.OutputDir = c.String("output-dir")
	}
	return cfg, nil
}

func runForecast(c *cli.Context) error {
	a := appFrom(c)
	cfg, err := pipelineConfig(c, a)
	if err != nil {
		return err
	}

	name, raw, err := loadInput(c, a)
	if err != nil {
		return err
	}
	if c.String("name") != "" {
		name = c.String("name")
	}

	res, err := a.Runner(cfg).Run(c.Context, name, raw)
	if err != nil {
		return err
	}

	if a.Results != nil && res.Run.ID != 0 {
		if err := a.Results.SaveResult(c.Context, res.Run); err != nil {
			return fmt.Errorf("failed to save forecast result: %w", err)
		}
	}

	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Run)
	}
	printResult(c.App.Writer, res)
	return nil
}

func runBatch(c *cli.Context) error {
	a := appFrom(c)
	cfg, err := pipelineConfig(c, a)
	if err != nil {
		return err
	}

	files, err := batchInputs(c, a)
	if err != nil {
		return err
	}

	worker := pipeline.NewWorker(a.Runner(cfg), c.Int("workers"), a.Config.Forecast.DateLayout)
	jobs, runErr := worker.ProcessFiles(c.Context, files)

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSTATUS\tMAE\tRMSE\tDURATION")
	for _, job := range jobs {
		if job.Err != nil {
			fmt.Fprintf(tw, "%s\t%s (%s)\t-\t-\t%s\n", job.Name, domain.RunFailed, job.Err, job.Duration.Round(time.Millisecond))
			continue
		}
		if job.Result == nil {
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t-\n", job.Name, domain.RunPending)
			continue
		}
		if a.Results != nil && job.Result.Run.ID != 0 {
			if err := a.Results.SaveResult(c.Context, job.Result.Run); err != nil {
				return fmt.Errorf("failed to save forecast result: %w", err)
			}
		}
		ev := job.Result.Run.Evaluation
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.4f\t%s\n", job.Name, domain.RunCompleted, ev.MAE, ev.RMSE, job.Duration.Round(time.Millisecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return runErr
}

func batchInputs(c *cli.Context, a *app.App) ([]string, error) {
	switch {
	case c.String("input-dir") != "":
		var files []string
		for _, ext := range storage.InputExtensions {
			matches, err := filepath.Glob(filepath.Join(c.String("input-dir"), "*"+ext))
			if err != nil {
				return nil, err
			}
			files = append(files, matches...)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no csv or xlsx files in %s", c.String("input-dir"))
		}
		sort.Strings(files)
		return files, nil

	case c.String("prefix") != "":
		if a.Storage == nil {
			return nil, fmt.Errorf("--prefix needs STORAGE_ENABLED=true")
		}
		downloader, err := storage.NewDownloader(a.Storage, c.String("download-dir"))
		if err != nil {
			return nil, err
		}
		return downloader.Download(c.Context, c.String("prefix"), "")

	case c.String("drive-folder") != "":
		if a.Drive == nil {
			return nil, fmt.Errorf("--drive-folder needs GOOGLE_DRIVE_CREDENTIALS_JSON")
		}
		return drive.NewDownloader(a.Drive).DownloadFolder(c.Context, drive.DownloadOptions{
			FolderPath:  c.String("drive-folder"),
			DownloadDir: c.String("download-dir"),
		})
	}
	return nil, fmt.Errorf("one of --input-dir, --prefix or --drive-folder is required")
}

func runMetrics(c *cli.Context) error {
	a := appFrom(c)
	_, raw, err := loadInput(c, a)
	if err != nil {
		return err
	}

	cleaned, summary, err := cleaning.CleanWithSummary(raw)
	if err != nil {
		return err
	}

	rate := a.Pipeline.HoldingCostRate
	if c.IsSet("holding-cost-rate") {
		rate = c.Float64("holding-cost-rate")
	}
	metrics, err := inventory.NewInventoryCalculator(rate).Calculate(cleaned)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "rows: %d in, %d imputed, %d dropped\n", summary.Input, summary.Imputed, summary.Dropped)
	printMetrics(c.App.Writer, metrics.ToMap())
	return nil
}

func runClean(c *cli.Context) error {
	a := appFrom(c)
	_, raw, err := loadInput(c, a)
	if err != nil {
		return err
	}

	cleaned, err := cleaning.Clean(raw)
	if err != nil {
		return err
	}

	var w io.Writer = c.App.Writer
	if out := c.String("output"); out != "" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", out, err)
		}
		defer f.Close()
		w = f
	}

	return dataset.ToDataFrame(cleaned, a.Config.Forecast.DateLayout).WriteCSV(w)
}

func runImport(c *cli.Context) error {
	a := appFrom(c)
	if a.History == nil {
		return fmt.Errorf("import needs a database (--db-url)")
	}

	_, raw, err := loadInput(c, a)
	if err != nil {
		return err
	}

	if err := a.History.UpsertObservations(c.Context, c.String("as"), raw); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "imported %d rows into %s\n", len(raw), c.String("as"))
	return nil
}

func listRuns(c *cli.Context) error {
	a := appFrom(c)
	if a.Runs == nil {
		return fmt.Errorf("runs needs a database (--db-url)")
	}

	if c.IsSet("id") {
		return showRun(c, a.Runs, c.Int64("id"))
	}

	var status domain.RunStatus
	if c.IsSet("status") {
		parsed, ok := domain.ParseRunStatus(c.String("status"))
		if !ok {
			return domain.DataErrorf("unknown run status %q", c.String("status"))
		}
		status = parsed
	}

	runs, err := a.Runs.ListRuns(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tROWS\tSTARTED")
	for _, run := range runs {
		if status != "" && run.Status != status {
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n",
			run.ID, run.Name, domain.RunStatusLabel(run.Status), run.CleanedRows, run.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !c.IsSet("since") {
		return nil
	}
	since := time.Now().Add(-c.Duration("since"))
	stats, err := a.Runs.GetRunStats(c.Context, since)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "\nsince %s: %d runs, %d failed, %d rows processed\n",
		since.Format(time.RFC3339), stats.Total, stats.Failed, stats.RowsProcessed)
	if stats.LastCompletedAt != nil {
		fmt.Fprintf(c.App.Writer, "last completed: %s\n", stats.LastCompletedAt.Format(time.RFC3339))
	}
	return nil
}

func showRun(c *cli.Context, runs *pipeline.Repository, id int64) error {
	run, err := runs.GetRun(c.Context, id)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %d not found", id)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "run %d %s: %s\n", run.ID, run.Name, domain.RunStatusLabel(run.Status))
	fmt.Fprintf(w, "rows: %d in, %d after cleaning (m=%d)\n", run.InputRows, run.CleanedRows, run.SeasonalPeriods)
	fmt.Fprintf(w, "started: %s\n", run.StartedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "completed: %s (%s)\n", run.CompletedAt.Format(time.RFC3339), run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.ErrorMessage != "" {
		fmt.Fprintf(w, "error: %s\n", run.ErrorMessage)
	}
	return nil
}

func listSeries(c *cli.Context) error {
	a := appFrom(c)
	if a.History == nil {
		return fmt.Errorf("series needs a database (--db-url)")
	}

	names, err := a.History.ListSeries(c.Context)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(c.App.Writer, name)
	}
	return nil
}

func printResult(w io.Writer, res *pipeline.Result) {
	run := res.Run
	fmt.Fprintf(w, "run %s: %d rows in, %d after cleaning\n", run.Name, run.InputRows, run.CleanedRows)
	fmt.Fprintf(w, "params: alpha=%.4f beta=%.4f gamma=%.4f (m=%d)\n",
		res.Params.Alpha, res.Params.Beta, res.Params.Gamma, run.SeasonalPeriods)
	printMetrics(w, run.Evaluation.ToMap())
	printMetrics(w, run.Inventory.ToMap())

	fmt.Fprintf(w, "\n%.0f%% band (z=%.4f)\n", run.Band.Level*100, run.Band.ZScore)
	printBand(w, run.Band, res.Actual)

	if res.OutlookBand != nil {
		fmt.Fprintf(w, "\noutlook\n")
		printBand(w, *res.OutlookBand, nil)
	}

	for _, r := range res.Reports {
		fmt.Fprintf(w, "report: %s\n", r)
	}
}

func printBand(w io.Writer, band domain.ConfidenceBand, actual []float64) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "STEP\tDATE\tFORECAST\tLOWER\tUPPER\tACTUAL\t")
	for i, p := range band.Points {
		date := "-"
		if p.Date != nil {
			date = p.Date.Format("2006-01-02")
		}
		act := "-"
		if i < len(actual) {
			act = fmt.Sprintf("%.2f", actual[i])
		}
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%.2f\t%.2f\t%s\t\n", p.Step, date, p.Forecast, p.LowerBound, p.UpperBound, act)
	}
	tw.Flush()
}

func printMetrics(w io.Writer, m map[string]float64) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%.4f", k, m[k])
	}
	fmt.Fprintln(w, strings.Join(parts, " "))
}

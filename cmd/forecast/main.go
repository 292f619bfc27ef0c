package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/autopo-forecast/internal/app"
	"github.com/andresuchdata/autopo-forecast/internal/config"
	"github.com/andresuchdata/autopo-forecast/pkg/logger"
)

type appKey struct{}

func newDBURLFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "db-url",
		Usage:   "Database connection string; enables run tracking and history",
		EnvVars: []string{"DATABASE_URL"},
	}
}

func inputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "input",
			Aliases: []string{"i"},
			Usage:   "Local csv or xlsx file",
		},
		&cli.StringFlag{
			Name:  "object-key",
			Usage: "Object key in the configured bucket, relative to STORAGE_PREFIX",
		},
		&cli.StringFlag{
			Name:  "drive-file",
			Usage: "Google Drive file ID",
		},
		&cli.StringFlag{
			Name:  "series",
			Usage: "Series name stored in the sales history table",
		},
		&cli.StringFlag{
			Name:    "download-dir",
			Usage:   "Local directory for downloaded inputs",
			Value:   "./data/tmp/inputs",
			EnvVars: []string{"DOWNLOAD_DIR"},
		},
	}
}

func forecastFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "name", Usage: "Run name (defaults to the input name)"},
		&cli.IntFlag{Name: "seasonal-periods", Usage: "Season length", EnvVars: []string{"FORECAST_SEASONAL_PERIODS"}},
		&cli.IntFlag{Name: "horizon", Usage: "Out-of-sample steps after refitting on the full series", EnvVars: []string{"FORECAST_HORIZON"}},
		&cli.Float64Flag{Name: "train-ratio", Usage: "Leading share of rows used for training", EnvVars: []string{"FORECAST_TRAIN_RATIO"}},
		&cli.Float64Flag{Name: "confidence-level", Usage: "Confidence level of the band", EnvVars: []string{"FORECAST_CONFIDENCE_LEVEL"}},
		&cli.StringFlag{Name: "zscore-mode", Usage: "exact or fixed", EnvVars: []string{"FORECAST_ZSCORE_MODE"}},
		&cli.StringFlag{Name: "output-dir", Usage: "Report directory; empty disables reports", EnvVars: []string{"FORECAST_OUTPUT_DIR"}},
	}
}

func initApp(c *cli.Context) error {
	cfg := config.Load()
	if url := c.String("db-url"); url != "" {
		cfg.Database.Enabled = true
		cfg.Database.URL = url
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	logger.SetLevel(cfg.LogLevel)

	a, err := app.New(c.Context, cfg, logger.Component("pipeline"))
	if err != nil {
		return err
	}

	c.Context = context.WithValue(c.Context, appKey{}, a)
	return nil
}

func closeApp(c *cli.Context) error {
	if a, ok := c.Context.Value(appKey{}).(*app.App); ok && a != nil {
		return a.Close()
	}
	return nil
}

func appFrom(c *cli.Context) *app.App {
	return c.Context.Value(appKey{}).(*app.App)
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "forecast",
		Usage: "Clean sales history, forecast demand and report inventory metrics",
		Flags: []cli.Flag{
			newDBURLFlag(),
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Before: initApp,
		After:  closeApp,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the forecasting pipeline on one input",
				Flags:  append(append(inputFlags(), forecastFlags()...), &cli.BoolFlag{Name: "json", Usage: "Print the result as JSON"}),
				Action: runForecast,
			},
			{
				Name:  "batch",
				Usage: "Run the pipeline on every input of a directory, bucket prefix or Drive folder",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "input-dir", Usage: "Local directory of csv/xlsx files"},
					&cli.StringFlag{Name: "prefix", Usage: "Bucket prefix to download inputs from"},
					&cli.StringFlag{Name: "drive-folder", Usage: "Google Drive folder path", EnvVars: []string{"GOOGLE_DRIVE_FOLDER_PATH"}},
					&cli.StringFlag{Name: "download-dir", Value: "./data/tmp/inputs", EnvVars: []string{"DOWNLOAD_DIR"}},
					&cli.IntFlag{Name: "workers", Value: 4, Usage: "Concurrent runs"},
				}, forecastFlags()...),
				Action: runBatch,
			},
			{
				Name:  "metrics",
				Usage: "Print inventory metrics of an input",
				Flags: append(inputFlags(),
					&cli.Float64Flag{Name: "holding-cost-rate", Usage: "Share of average inventory charged as holding cost", EnvVars: []string{"FORECAST_HOLDING_COST_RATE"}},
				),
				Action: runMetrics,
			},
			{
				Name:  "clean",
				Usage: "Write the cleaned series of an input as csv",
				Flags: append(inputFlags(),
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Destination file; stdout when empty"},
				),
				Action: runClean,
			},
			{
				Name:  "import",
				Usage: "Store an input in the sales history table",
				Flags: append(inputFlags(),
					&cli.StringFlag{Name: "as", Usage: "Series name to store under", Required: true},
				),
				Action: runImport,
			},
			{
				Name:  "runs",
				Usage: "List recorded runs",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20},
					&cli.Int64Flag{Name: "id", Usage: "Show a single run"},
					&cli.StringFlag{Name: "status", Usage: "Only show runs with this status (pending, processing, completed, failed)"},
					&cli.DurationFlag{Name: "since", Usage: "Also print totals for runs started within this window, e.g. 24h"},
				},
				Action: listRuns,
			},
			{
				Name:   "series",
				Usage:  "List imported series",
				Action: listSeries,
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

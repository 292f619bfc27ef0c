// Package app wires the process dependencies shared by the server and the
// command line tool.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/autopo-forecast/internal/cache"
	"github.com/andresuchdata/autopo-forecast/internal/config"
	"github.com/andresuchdata/autopo-forecast/internal/drive"
	"github.com/andresuchdata/autopo-forecast/internal/events"
	"github.com/andresuchdata/autopo-forecast/internal/metrics"
	"github.com/andresuchdata/autopo-forecast/internal/pipeline"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
	"github.com/andresuchdata/autopo-forecast/internal/repository/postgres"
	"github.com/andresuchdata/autopo-forecast/internal/service"
	"github.com/andresuchdata/autopo-forecast/internal/storage"
	"github.com/andresuchdata/autopo-forecast/internal/timeseries"
)

// App holds the optional backends enabled by configuration. Disabled
// backends are nil.
type App struct {
	Config   *config.Config
	Pipeline pipeline.Config
	Log      zerolog.Logger
	Metrics  *metrics.Metrics
	Events   *events.Hub // serves subscribers only once started with Run

	DB      *postgres.DB
	Runs    *pipeline.Repository
	Results repository.ForecastRepository
	History *repository.HistoryRepository

	Cache   cache.ForecastCache
	Storage storage.ObjectStorage
	Drive   *drive.Service
	Export  *timeseries.InfluxExporter

	Forecast *service.ForecastService
}

// New connects every enabled backend and builds the forecast service.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	pcfg, err := pipeline.ConfigFrom(cfg.Forecast)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Pipeline: pcfg,
		Log:      log,
		Metrics:  metrics.New(),
		Events:   events.NewHub(log),
	}

	if cfg.Database.Enabled {
		if err := a.connectDB(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Cache, err = cache.NewForecastCache(cfg.Cache)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	if cfg.Storage.Enabled {
		a.Storage, err = storage.New(cfg.Storage)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
	}

	if cfg.TimeSeries.Enabled {
		a.Export, err = timeseries.NewInfluxExporter(cfg.TimeSeries)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize influx exporter: %w", err)
		}
	}

	if cfg.Drive.CredentialsJSON != "" {
		a.Drive, err = drive.NewService(ctx, cfg.Drive.CredentialsJSON)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Forecast = service.NewForecastService(pcfg, a.Cache, a.Results, a.RunnerOptions()...)
	a.Forecast.SetCacheObserver(a.Metrics)
	return a, nil
}

func (a *App) connectDB(ctx context.Context) error {
	db, err := postgres.NewDB(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	a.DB = db
	a.Runs = pipeline.NewRepository(db.DB.DB)
	a.Results = postgres.NewForecastRepository(db)
	a.History = repository.NewHistoryRepository(db.DB.DB)

	if err := a.Runs.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := postgres.EnsureForecastSchema(ctx, db); err != nil {
		return err
	}
	return a.History.EnsureSchema(ctx)
}

// RunnerOptions returns the options every Runner of this process uses.
func (a *App) RunnerOptions() []pipeline.RunnerOption {
	return a.runnerOptions(a.Pipeline.OutputDir)
}

func (a *App) runnerOptions(outputDir string) []pipeline.RunnerOption {
	opts := []pipeline.RunnerOption{pipeline.WithLogger(a.Log), pipeline.WithObserver(a.Metrics, a.Events)}
	if a.Runs != nil {
		opts = append(opts, pipeline.WithRecorder(a.Runs))
	}
	if a.Export != nil {
		opts = append(opts, pipeline.WithExporter(a.Export))
	}
	if outputDir != "" {
		var uploader pipeline.Uploader
		if a.Storage != nil {
			uploader = a.Storage
		}
		opts = append(opts, pipeline.WithReportWriter(
			pipeline.NewReportWriter(outputDir, uploader, a.Config.Storage.Prefix, a.Log),
		))
	}
	return opts
}

// Runner builds a Runner for cfg with the process backends attached.
func (a *App) Runner(cfg pipeline.Config) *pipeline.Runner {
	return pipeline.NewRunner(cfg, a.runnerOptions(cfg.OutputDir)...)
}

// Close releases the database pool and the influx client.
func (a *App) Close() error {
	if a.Export != nil {
		a.Export.Close()
	}
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}

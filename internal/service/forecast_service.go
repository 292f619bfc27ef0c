package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/cache"
	"github.com/andresuchdata/autopo-forecast/internal/cleaning"
	"github.com/andresuchdata/autopo-forecast/internal/dataset"
	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/forecast"
	"github.com/andresuchdata/autopo-forecast/internal/inventory"
	"github.com/andresuchdata/autopo-forecast/internal/pipeline"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

// ErrNoRepository is returned by lookups when no database is configured.
var ErrNoRepository = errors.New("forecast repository not configured")

// ForecastRequest is one forecasting job. Zero-valued parameters fall back
// to the service defaults.
type ForecastRequest struct {
	Name            string                  `json:"name"`
	Observations    []domain.RawObservation `json:"observations"`
	SeasonalPeriods int                     `json:"seasonal_periods,omitempty"`
	Horizon         int                     `json:"horizon,omitempty"`
	TrainRatio      float64                 `json:"train_ratio,omitempty"`
	ConfidenceLevel float64                 `json:"confidence_level,omitempty"`
}

// ForecastResponse is the outcome of a forecasting job.
type ForecastResponse struct {
	Run      *domain.ForecastRun    `json:"run"`
	Params   forecast.Params        `json:"params"`
	Cleaning cleaning.Summary       `json:"cleaning"`
	Holdout  domain.ForecastResult  `json:"holdout"`
	Actual   []float64              `json:"actual"`
	Outlook  *domain.ConfidenceBand `json:"outlook,omitempty"`
	Reports  []string               `json:"reports,omitempty"`
	Cached   bool                   `json:"cached"`
}

// InventoryResponse holds inventory metrics of a cleaned series.
type InventoryResponse struct {
	Metrics  map[string]float64 `json:"metrics"`
	Cleaning cleaning.Summary   `json:"cleaning"`
}

// CacheObserver counts cache lookups.
type CacheObserver interface {
	RecordCacheLookup(hit bool)
}

// ForecastService runs the pipeline for API and CLI callers. Runs are
// serialised: a fitted model is never shared between requests.
type ForecastService struct {
	mu         sync.Mutex
	base       pipeline.Config
	runnerOpts []pipeline.RunnerOption
	cache      cache.ForecastCache
	repo       repository.ForecastRepository
	lookups    CacheObserver
}

// NewForecastService creates the service. cacheImpl and repo may be nil.
func NewForecastService(base pipeline.Config, cacheImpl cache.ForecastCache, repo repository.ForecastRepository, opts ...pipeline.RunnerOption) *ForecastService {
	if cacheImpl == nil {
		cacheImpl = cache.NewNoopForecastCache()
	}
	return &ForecastService{
		base:       base,
		runnerOpts: opts,
		cache:      cacheImpl,
		repo:       repo,
	}
}

// SetCacheObserver reports every cache lookup to o.
func (s *ForecastService) SetCacheObserver(o CacheObserver) {
	s.lookups = o
}

// Defaults returns the base pipeline configuration.
func (s *ForecastService) Defaults() pipeline.Config {
	return s.base
}

// RunForecast executes the pipeline for req, answering from cache when the
// same input and parameters were already forecast.
func (s *ForecastService) RunForecast(ctx context.Context, req ForecastRequest) (*ForecastResponse, error) {
	if len(req.Observations) == 0 {
		return nil, domain.DataErrorf("request has no observations")
	}
	cfg := s.configFor(req)
	key := cache.ForecastKey(dataset.Records(req.Observations, ""), cacheParams(cfg))

	var cached ForecastResponse
	ok, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		log.Warn().Err(err).Msg("forecast: cache get failed")
	} else if s.lookups != nil {
		s.lookups.RecordCacheLookup(ok)
	}
	if ok && err == nil {
		cached.Cached = true
		return &cached, nil
	}

	name := req.Name
	if name == "" {
		name = "forecast-" + time.Now().UTC().Format("20060102T150405")
	}

	s.mu.Lock()
	res, err := pipeline.NewRunner(cfg, s.runnerOpts...).Run(ctx, name, req.Observations)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if s.repo != nil && res.Run.ID != 0 {
		if err := s.repo.SaveResult(ctx, res.Run); err != nil {
			return nil, fmt.Errorf("failed to save forecast result: %w", err)
		}
	}

	resp := &ForecastResponse{
		Run:      res.Run,
		Params:   res.Params,
		Cleaning: res.Cleaning,
		Holdout:  res.Holdout,
		Actual:   res.Actual,
		Outlook:  res.OutlookBand,
		Reports:  res.Reports,
	}

	if err := s.cache.Set(ctx, key, resp); err != nil {
		log.Warn().Err(err).Msg("forecast: cache set failed")
	}

	return resp, nil
}

// InventoryMetrics cleans raw and computes its inventory metrics. A
// non-positive rate uses the service default.
func (s *ForecastService) InventoryMetrics(ctx context.Context, raw []domain.RawObservation, holdingCostRate float64) (*InventoryResponse, error) {
	if holdingCostRate <= 0 {
		holdingCostRate = s.base.HoldingCostRate
	}

	cleaned, summary, err := cleaning.CleanWithSummary(raw)
	if err != nil {
		return nil, err
	}

	metrics, err := inventory.NewInventoryCalculator(holdingCostRate).Calculate(cleaned)
	if err != nil {
		return nil, err
	}

	return &InventoryResponse{Metrics: metrics.ToMap(), Cleaning: summary}, nil
}

// GetRun returns a stored run with its band, or nil when unknown.
func (s *ForecastService) GetRun(ctx context.Context, id int64) (*domain.ForecastRun, error) {
	if s.repo == nil {
		return nil, ErrNoRepository
	}
	return s.repo.GetRun(ctx, id)
}

// ListRuns returns stored runs, newest first.
func (s *ForecastService) ListRuns(ctx context.Context, limit, offset int) ([]*domain.ForecastRun, error) {
	if s.repo == nil {
		return nil, ErrNoRepository
	}
	return s.repo.ListRuns(ctx, limit, offset)
}

// InvalidateCache drops every cached forecast.
func (s *ForecastService) InvalidateCache(ctx context.Context) error {
	return s.cache.InvalidateAll(ctx)
}

func (s *ForecastService) configFor(req ForecastRequest) pipeline.Config {
	cfg := s.base
	if req.SeasonalPeriods != 0 {
		cfg.SeasonalPeriods = req.SeasonalPeriods
	}
	if req.Horizon != 0 {
		cfg.Horizon = req.Horizon
	}
	if req.TrainRatio != 0 {
		cfg.TrainRatio = req.TrainRatio
	}
	if req.ConfidenceLevel != 0 {
		cfg.ConfidenceLevel = req.ConfidenceLevel
	}
	return cfg
}

func cacheParams(cfg pipeline.Config) map[string]string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return map[string]string{
		"seasonal_periods":  strconv.Itoa(cfg.SeasonalPeriods),
		"horizon":           strconv.Itoa(cfg.Horizon),
		"train_ratio":       f(cfg.TrainRatio),
		"confidence_level":  f(cfg.ConfidenceLevel),
		"zscore_mode":       string(cfg.ZScoreMode),
		"holding_cost_rate": f(cfg.HoldingCostRate),
	}
}

package drive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/autopo-forecast/internal/dataset"
	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// HistoryStore receives imported rows; satisfied by repository.HistoryRepository.
type HistoryStore interface {
	UpsertObservations(ctx context.Context, series string, rows []domain.RawObservation) error
}

// Loader reads sales history tables stored in Drive.
type Loader struct {
	source  Source
	history HistoryStore
	layout  string
	log     zerolog.Logger
}

// NewLoader creates a Loader. history may be nil, in which case Import fails.
func NewLoader(source Source, history HistoryStore, layout string, log zerolog.Logger) *Loader {
	return &Loader{
		source:  source,
		history: history,
		layout:  layout,
		log:     log.With().Str("component", "drive_loader").Logger(),
	}
}

// Load downloads a csv or xlsx file and parses it into raw observations.
func (l *Loader) Load(ctx context.Context, fileID string) ([]domain.RawObservation, *File, error) {
	file, err := l.source.GetFile(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}

	format, err := dataset.FormatFromPath(file.Name)
	if err != nil {
		return nil, file, err
	}

	var buf bytes.Buffer
	if err := l.source.DownloadFile(ctx, fileID, &buf); err != nil {
		return nil, file, fmt.Errorf("failed to download %s: %w", file.Name, err)
	}

	rows, err := dataset.Read(&buf, format, l.layout)
	if err != nil {
		return nil, file, fmt.Errorf("failed to parse %s: %w", file.Name, err)
	}

	l.log.Info().
		Str("file", file.Name).
		Int("rows", len(rows)).
		Msg("loaded sales history from drive")

	return rows, file, nil
}

// Import loads a file and stores its rows under series. An empty series
// uses the file name.
func (l *Loader) Import(ctx context.Context, fileID, series string) (int, error) {
	if l.history == nil {
		return 0, fmt.Errorf("history store not configured")
	}

	rows, file, err := l.Load(ctx, fileID)
	if err != nil {
		return 0, err
	}
	if series == "" {
		series = file.Name
	}

	if err := l.history.UpsertObservations(ctx, series, rows); err != nil {
		return 0, fmt.Errorf("failed to import %s: %w", file.Name, err)
	}
	return len(rows), nil
}

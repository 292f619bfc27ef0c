package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/autopo-forecast/internal/app"
	"github.com/andresuchdata/autopo-forecast/internal/dataset"
	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/drive"
	"github.com/andresuchdata/autopo-forecast/internal/storage"
	"github.com/andresuchdata/autopo-forecast/pkg/logger"
)

// loadInput reads the rows selected by the input flags and returns them
// with a display name.
func loadInput(c *cli.Context, a *app.App) (string, []domain.RawObservation, error) {
	layout := a.Config.Forecast.DateLayout

	switch {
	case c.String("series") != "":
		if a.History == nil {
			return "", nil, fmt.Errorf("--series needs a database (--db-url)")
		}
		series := c.String("series")
		rows, err := a.History.LoadObservations(c.Context, series)
		if err != nil {
			return "", nil, err
		}
		if len(rows) == 0 {
			return "", nil, fmt.Errorf("series %q has no stored rows", series)
		}
		return series, rows, nil

	case c.String("drive-file") != "":
		if a.Drive == nil {
			return "", nil, fmt.Errorf("--drive-file needs GOOGLE_DRIVE_CREDENTIALS_JSON")
		}
		loader := drive.NewLoader(a.Drive, nil, layout, logger.Component("drive"))
		rows, file, err := loader.Load(c.Context, c.String("drive-file"))
		if err != nil {
			return "", nil, err
		}
		return baseName(file.Name), rows, nil

	case c.String("object-key") != "":
		if a.Storage == nil {
			return "", nil, fmt.Errorf("--object-key needs STORAGE_ENABLED=true")
		}
		downloader, err := storage.NewDownloader(a.Storage, c.String("download-dir"))
		if err != nil {
			return "", nil, err
		}
		paths, err := downloader.Download(c.Context, a.Config.Storage.Prefix, c.String("object-key"))
		if err != nil {
			return "", nil, err
		}
		rows, err := dataset.Load(paths[0], layout)
		return baseName(paths[0]), rows, err

	case c.String("input") != "":
		rows, err := dataset.Load(c.String("input"), layout)
		return baseName(c.String("input")), rows, err
	}

	return "", nil, fmt.Errorf("one of --input, --object-key, --drive-file or --series is required")
}

func baseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

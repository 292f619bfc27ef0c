package dataset

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/xuri/excelize/v2"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// Format is a supported tabular file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", domain.DataErrorf("unsupported input file %s: expected .csv or .xlsx", filepath.Base(path))
	}
}

// Load reads a csv or xlsx file into raw observations.
func Load(path, layout string) ([]domain.RawObservation, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return Read(f, format, layout)
}

// Read parses a table in the given format into raw observations.
func Read(r io.Reader, format Format, layout string) ([]domain.RawObservation, error) {
	df, err := ReadFrame(r, format)
	if err != nil {
		return nil, err
	}
	return FromDataFrame(df, layout)
}

// ReadFrame parses a table into a dataframe with every column kept as
// text, so that typing happens in FromDataFrame.
func ReadFrame(r io.Reader, format Format) (dataframe.DataFrame, error) {
	switch format {
	case FormatCSV:
		df := dataframe.ReadCSV(r, loadOptions()...)
		if df.Err != nil {
			return df, domain.DataErrorf("failed to parse csv: %v", df.Err)
		}
		return df, nil
	case FormatXLSX:
		records, err := readXLSX(r)
		if err != nil {
			return dataframe.DataFrame{}, err
		}
		df := dataframe.LoadRecords(records, loadOptions()...)
		if df.Err != nil {
			return df, domain.DataErrorf("failed to parse xlsx: %v", df.Err)
		}
		return df, nil
	default:
		return dataframe.DataFrame{}, domain.DataErrorf("unsupported format %q", format)
	}
}

func loadOptions() []dataframe.LoadOption {
	return []dataframe.LoadOption{
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
	}
}

// readXLSX returns the rows of the first sheet, padded to the header width.
func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, domain.DataErrorf("failed to open xlsx: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, domain.DataErrorf("xlsx has no sheets")
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, domain.DataErrorf("failed to read rows from sheet %s: %v", sheet, err)
	}
	if len(rows) == 0 {
		return nil, domain.DataErrorf("sheet %s is empty", sheet)
	}

	width := len(rows[0])
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		if blank(row) {
			continue
		}
		if len(row) < width {
			row = append(row, make([]string, width-len(row))...)
		}
		records = append(records, row[:width])
	}
	return records, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

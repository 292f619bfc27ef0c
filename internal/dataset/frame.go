package dataset

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/forecast"
)

// FromDataFrame converts a table carrying the date, sales and
// inventory_level columns into raw observations. Row order is kept. Sales
// may be missing; every other cell must hold a valid value.
func FromDataFrame(df dataframe.DataFrame, layout string) ([]domain.RawObservation, error) {
	if df.Err != nil {
		return nil, domain.DataErrorf("invalid table: %v", df.Err)
	}
	if err := ValidateColumns(df.Names()); err != nil {
		return nil, err
	}
	df, err := trimHeaders(df)
	if err != nil {
		return nil, err
	}

	col, err := column(df, ColumnDate)
	if err != nil {
		return nil, err
	}
	dates, err := dateColumn(col, layout)
	if err != nil {
		return nil, err
	}
	if col, err = column(df, ColumnSales); err != nil {
		return nil, err
	}
	sales, err := floatColumn(col, true)
	if err != nil {
		return nil, err
	}
	if col, err = column(df, ColumnInventoryLevel); err != nil {
		return nil, err
	}
	levels, err := floatColumn(col, false)
	if err != nil {
		return nil, err
	}

	out := make([]domain.RawObservation, df.Nrow())
	for i := range out {
		out[i] = domain.RawObservation{
			Date:           dates[i],
			Sales:          sales[i],
			InventoryLevel: *levels[i],
		}
	}
	return out, nil
}

// trimHeaders renames columns whose header carries surrounding whitespace.
func trimHeaders(df dataframe.DataFrame) (dataframe.DataFrame, error) {
	seen := make(map[string]bool, df.Ncol())
	for _, name := range df.Names() {
		trimmed := strings.TrimSpace(name)
		if seen[trimmed] {
			return df, domain.DataErrorf("duplicate column %q", trimmed)
		}
		seen[trimmed] = true
		if trimmed == name {
			continue
		}
		df = df.Rename(trimmed, name)
		if df.Err != nil {
			return df, domain.DataErrorf("column %q: %v", trimmed, df.Err)
		}
	}
	return df, nil
}

func column(df dataframe.DataFrame, name string) (series.Series, error) {
	col := df.Col(name)
	if col.Err != nil {
		return col, domain.DataErrorf("column %q: %v", name, col.Err)
	}
	return col, nil
}

func dateColumn(col series.Series, layout string) ([]time.Time, error) {
	records := col.Records()
	out := make([]time.Time, len(records))
	for i, r := range records {
		t, err := ParseDate(r, layout)
		if err != nil {
			return nil, domain.DataErrorf("column %q row %d: unparseable date %q", ColumnDate, i+1, r)
		}
		out[i] = t
	}
	return out, nil
}

// floatColumn reads a numeric column. Missing cells become nil when
// nullable is set and fail otherwise. Negative values always fail.
func floatColumn(col series.Series, nullable bool) ([]*float64, error) {
	name := col.Name
	out := make([]*float64, col.Len())

	set := func(i int, v float64) error {
		switch {
		case math.IsNaN(v):
			if !nullable {
				return domain.DataErrorf("column %q row %d: missing value", name, i+1)
			}
			return nil
		case math.IsInf(v, 0) || v < 0:
			return domain.DataErrorf("column %q row %d: expected a non-negative finite number, got %v", name, i+1, v)
		}
		out[i] = domain.Float(v)
		return nil
	}

	switch col.Type() {
	case series.Float, series.Int:
		for i, v := range col.Float() {
			if err := set(i, v); err != nil {
				return nil, err
			}
		}
	case series.String:
		for i, r := range col.Records() {
			v := math.NaN()
			if !isNull(r) {
				parsed, err := strconv.ParseFloat(strings.TrimSpace(r), 64)
				if err != nil {
					return nil, domain.DataErrorf("column %q row %d: %q is not a number", name, i+1, r)
				}
				v = parsed
			}
			if err := set(i, v); err != nil {
				return nil, err
			}
		}
	default:
		return nil, domain.DataErrorf("column %q has unsupported type %s", name, col.Type())
	}
	return out, nil
}

// ToDataFrame renders cleaned observations as a table with the input
// column names.
func ToDataFrame(obs []domain.Observation, layout string) dataframe.DataFrame {
	if layout == "" {
		layout = DefaultDateLayout
	}
	dates := make([]string, len(obs))
	sales := make([]float64, len(obs))
	levels := make([]float64, len(obs))
	for i, o := range obs {
		dates[i] = o.Date.Format(layout)
		sales[i] = o.Sales
		levels[i] = o.InventoryLevel
	}
	return dataframe.New(
		series.New(dates, series.String, ColumnDate),
		series.New(sales, series.Float, ColumnSales),
		series.New(levels, series.Float, ColumnInventoryLevel),
	)
}

// ToSeries extracts the date-indexed sales signal.
func ToSeries(obs []domain.Observation) forecast.Series {
	s := forecast.Series{
		Index:  make([]time.Time, len(obs)),
		Values: make([]float64, len(obs)),
	}
	for i, o := range obs {
		s.Index[i] = o.Date
		s.Values[i] = o.Sales
	}
	return s
}

// Records converts raw observations into a string table, the shape both
// loaders and HTTP payloads reduce to.
func Records(raw []domain.RawObservation, layout string) [][]string {
	if layout == "" {
		layout = DefaultDateLayout
	}
	records := make([][]string, 0, len(raw)+1)
	records = append(records, append([]string(nil), RequiredColumns...))
	for _, r := range raw {
		sales := ""
		if r.Sales != nil {
			sales = strconv.FormatFloat(*r.Sales, 'g', -1, 64)
		}
		records = append(records, []string{
			r.Date.Format(layout),
			sales,
			strconv.FormatFloat(r.InventoryLevel, 'g', -1, 64),
		})
	}
	return records
}

// Package features derives calendar features and a scaled target from a
// cleaned series.
package features

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// Column names of the feature matrix, in order.
var Columns = []string{"year", "month", "day", "day_of_week"}

// FeatureRow holds the calendar features of one observation.
type FeatureRow struct {
	Year      int `json:"year"`
	Month     int `json:"month"`
	Day       int `json:"day"`
	DayOfWeek int `json:"day_of_week"` // 0 = Monday, 6 = Sunday
}

// FeatureMatrix has one row per cleaned observation.
type FeatureMatrix []FeatureRow

// Dense returns the matrix as a rows x len(Columns) gonum matrix.
func (m FeatureMatrix) Dense() *mat.Dense {
	if len(m) == 0 {
		return nil
	}
	data := make([]float64, 0, len(m)*len(Columns))
	for _, r := range m {
		data = append(data, float64(r.Year), float64(r.Month), float64(r.Day), float64(r.DayOfWeek))
	}
	return mat.NewDense(len(m), len(Columns), data)
}

// Builder turns a cleaned series into features and a scaled target. The
// scaler fitted by the last Build is kept for inverse transforms.
type Builder struct {
	Scaler MinMaxScaler
}

// NewBuilder creates a feature builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build derives {year, month, day, day_of_week} per row and min-max scales
// sales over the whole series.
func (b *Builder) Build(series []domain.Observation) (FeatureMatrix, []float64, error) {
	if len(series) == 0 {
		return nil, nil, domain.DataErrorf("cannot build features from an empty series")
	}

	matrix := make(FeatureMatrix, len(series))
	sales := make([]float64, len(series))
	for i, o := range series {
		matrix[i] = CalendarFeatures(o.Date)
		sales[i] = o.Sales
	}

	var scaler MinMaxScaler
	target, err := scaler.FitTransform(sales)
	if err != nil {
		return nil, nil, err
	}
	b.Scaler = scaler

	return matrix, target, nil
}

// CalendarFeatures extracts the calendar features of a date.
func CalendarFeatures(t time.Time) FeatureRow {
	return FeatureRow{
		Year:      t.Year(),
		Month:     int(t.Month()),
		Day:       t.Day(),
		DayOfWeek: MondayIndex(t.Weekday()),
	}
}

// MondayIndex converts Go's Sunday-based weekday into 0 = Monday.
func MondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// Package cleaning removes missing values and statistical outliers from the
// sales signal before it reaches feature building or the forecaster.
package cleaning

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// IQRMultiplier scales the interquartile range into the outlier fences.
const IQRMultiplier = 1.5

// Summary describes what a cleaning pass did.
type Summary struct {
	Input   int     `json:"input"`
	Imputed int     `json:"imputed"`
	Dropped int     `json:"dropped"`
	Mean    float64 `json:"mean"`
	Q1      float64 `json:"q1"`
	Q3      float64 `json:"q3"`
	Lower   float64 `json:"lower"`
	Upper   float64 `json:"upper"`
}

// Clean imputes missing sales with the mean of the present values and then
// drops rows whose sales fall outside [Q1 - 1.5*IQR, Q3 + 1.5*IQR].
func Clean(raw []domain.RawObservation) ([]domain.Observation, error) {
	cleaned, _, err := CleanWithSummary(raw)
	return cleaned, err
}

// CleanWithSummary is Clean plus the statistics used for the decision.
func CleanWithSummary(raw []domain.RawObservation) ([]domain.Observation, Summary, error) {
	summary := Summary{Input: len(raw)}

	present := make([]float64, 0, len(raw))
	for _, r := range raw {
		if isPresent(r.Sales) {
			present = append(present, *r.Sales)
		}
	}
	if len(present) == 0 {
		return nil, summary, domain.DataErrorf("cannot impute sales: all %d values are missing", len(raw))
	}

	// Mean is fixed before any row is filtered.
	mean := stat.Mean(present, nil)
	summary.Mean = mean

	imputed := make([]domain.Observation, len(raw))
	values := make([]float64, len(raw))
	for i, r := range raw {
		sales := mean
		if isPresent(r.Sales) {
			sales = *r.Sales
		} else {
			summary.Imputed++
		}
		imputed[i] = domain.Observation{
			Date:           r.Date,
			Sales:          sales,
			InventoryLevel: r.InventoryLevel,
		}
		values[i] = sales
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	q1 := Quantile(sorted, 0.25)
	q3 := Quantile(sorted, 0.75)
	iqr := q3 - q1
	lower := q1 - IQRMultiplier*iqr
	upper := q3 + IQRMultiplier*iqr
	summary.Q1, summary.Q3 = q1, q3
	summary.Lower, summary.Upper = lower, upper

	cleaned := make([]domain.Observation, 0, len(imputed))
	for _, o := range imputed {
		if o.Sales < lower || o.Sales > upper {
			summary.Dropped++
			continue
		}
		cleaned = append(cleaned, o)
	}

	return cleaned, summary, nil
}

// Quantile returns the p-quantile of sorted data, interpolating linearly
// between the order statistics around rank (n-1)*p. sorted must be in
// ascending order and non-empty.
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 || p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	rank := p * float64(n-1)
	lo := int(math.Floor(rank))
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func isPresent(v *float64) bool {
	return v != nil && !math.IsNaN(*v)
}

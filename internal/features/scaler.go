package features

import (
	"gonum.org/v1/gonum/floats"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// MinMaxScaler maps values into [0,1] using the range seen by Fit.
type MinMaxScaler struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	fitted bool
}

// Fit records the range of values.
func (s *MinMaxScaler) Fit(values []float64) error {
	if len(values) == 0 {
		return domain.DataErrorf("cannot fit scaler on an empty series")
	}
	s.Min = floats.Min(values)
	s.Max = floats.Max(values)
	s.fitted = true
	return nil
}

// Fitted reports whether Fit has been called successfully.
func (s *MinMaxScaler) Fitted() bool {
	return s.fitted
}

// Transform scales values with the fitted range. A constant series scales
// to all zeros.
func (s *MinMaxScaler) Transform(values []float64) ([]float64, error) {
	if !s.fitted {
		return nil, domain.StateErrorf("scaler not fitted")
	}
	out := make([]float64, len(values))
	span := s.Max - s.Min
	if span == 0 {
		return out, nil
	}
	for i, v := range values {
		out[i] = (v - s.Min) / span
	}
	return out, nil
}

// FitTransform is Fit followed by Transform.
func (s *MinMaxScaler) FitTransform(values []float64) ([]float64, error) {
	if err := s.Fit(values); err != nil {
		return nil, err
	}
	return s.Transform(values)
}

// InverseTransform maps scaled values back to the original units.
func (s *MinMaxScaler) InverseTransform(scaled []float64) ([]float64, error) {
	if !s.fitted {
		return nil, domain.StateErrorf("scaler not fitted")
	}
	out := make([]float64, len(scaled))
	span := s.Max - s.Min
	for i, v := range scaled {
		out[i] = v*span + s.Min
	}
	return out, nil
}

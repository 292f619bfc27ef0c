package forecast

import (
	"math"
	"time"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// Series is a time-indexed real sequence. Index may be nil, in which case
// forecasts carry positions only.
type Series struct {
	Index  []time.Time
	Values []float64
}

// NewSeries builds a Series from values and an optional index.
func NewSeries(values []float64, index []time.Time) Series {
	return Series{Index: index, Values: values}
}

// Len returns the number of observations.
func (s Series) Len() int {
	return len(s.Values)
}

// Slice returns the sub-series [from, to).
func (s Series) Slice(from, to int) Series {
	out := Series{Values: s.Values[from:to]}
	if s.Index != nil {
		out.Index = s.Index[from:to]
	}
	return out
}

func (s Series) validate() error {
	if s.Index != nil && len(s.Index) != len(s.Values) {
		return domain.ShapeErrorf("series index has %d entries for %d values", len(s.Index), len(s.Values))
	}
	for i, v := range s.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.TrainingErrorf("series contains a non-finite value at position %d", i)
		}
	}
	return nil
}

// stepper returns a function producing the date k steps after the last
// index entry, or nil when no cadence can be inferred.
func stepper(index []time.Time) func(k int) time.Time {
	n := len(index)
	if n < 2 {
		return nil
	}
	prev, last := index[n-2], index[n-1]

	months := (last.Year()-prev.Year())*12 + int(last.Month()) - int(prev.Month())
	sameClock := prev.Hour() == last.Hour() && prev.Minute() == last.Minute() && prev.Second() == last.Second()
	if months > 0 && sameClock {
		switch {
		case monthEnd(prev) && monthEnd(last):
			first := time.Date(last.Year(), last.Month(), 1,
				last.Hour(), last.Minute(), last.Second(), last.Nanosecond(), last.Location())
			return func(k int) time.Time {
				return first.AddDate(0, k*months+1, -1)
			}
		case prev.Day() == last.Day():
			return func(k int) time.Time {
				return last.AddDate(0, k*months, 0)
			}
		}
	}

	delta := last.Sub(prev)
	if delta <= 0 {
		return nil
	}
	return func(k int) time.Time {
		return last.Add(time.Duration(k) * delta)
	}
}

func monthEnd(t time.Time) bool {
	return t.AddDate(0, 0, 1).Month() != t.Month()
}

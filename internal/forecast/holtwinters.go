package forecast

import (
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// Params are the smoothing weights of the level, trend and seasonal
// components. Each lies in (0,1).
type Params struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Gamma float64 `json:"gamma"`
}

// DefaultParams is the starting point of the parameter search.
var DefaultParams = Params{Alpha: 0.3, Beta: 0.1, Gamma: 0.1}

const maxFuncEvaluations = 4000

// components is the additive Holt-Winters state after observation t.
// seasonal[i] holds the latest index for phase i (time t with t%m == i).
type components struct {
	level    float64
	trend    float64
	seasonal []float64
}

func (c components) clone() components {
	s := make([]float64, len(c.seasonal))
	copy(s, c.seasonal)
	return components{level: c.level, trend: c.trend, seasonal: s}
}

// initialComponents derives the state at t = m-1 from the first two
// seasons. The difference of the season means gives the trend, and the
// first season with the trend removed gives the seasonal indices, which
// then sum to zero. A noiseless linear-trend-plus-season series is
// reproduced exactly from this state.
func initialComponents(y []float64, m int) components {
	mean1 := stat.Mean(y[:m], nil)
	mean2 := stat.Mean(y[m:2*m], nil)
	trend := (mean2 - mean1) / float64(m)
	center := float64(m-1) / 2

	seasonal := make([]float64, m)
	for i := 0; i < m; i++ {
		seasonal[i] = y[i] - (mean1 + trend*(float64(i)-center))
	}

	return components{
		level:    mean1 + trend*center,
		trend:    trend,
		seasonal: seasonal,
	}
}

// smooth runs the additive recursions over y[m:] starting from init. It
// returns the final state, the one-step-ahead predictions for t >= m and
// their sum of squared errors.
func smooth(y []float64, m int, p Params, init components) (components, []float64, float64) {
	c := init.clone()
	fitted := make([]float64, 0, len(y)-m)
	var sse float64

	for t := m; t < len(y); t++ {
		phase := t % m
		pred := c.level + c.trend + c.seasonal[phase]
		fitted = append(fitted, pred)
		e := y[t] - pred
		sse += e * e

		prevLevel := c.level
		c.level = p.Alpha*(y[t]-c.seasonal[phase]) + (1-p.Alpha)*(c.level+c.trend)
		c.trend = p.Beta*(c.level-prevLevel) + (1-p.Beta)*c.trend
		c.seasonal[phase] = p.Gamma*(y[t]-c.level) + (1-p.Gamma)*c.seasonal[phase]
	}

	return c, fitted, sse
}

// searchParams picks the smoothing weights minimising the one-step SSE
// with a Nelder-Mead search over logit-transformed weights.
func searchParams(y []float64, m int, init components) Params {
	objective := func(x []float64) float64 {
		_, _, sse := smooth(y, m, fromUnbounded(x), init)
		if math.IsNaN(sse) || math.IsInf(sse, 0) {
			return math.MaxFloat64
		}
		return sse
	}

	x0 := toUnbounded(DefaultParams)
	best, bestSSE := DefaultParams, objective(x0)

	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{FuncEvaluations: maxFuncEvaluations}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if result == nil || (err != nil && len(result.X) == 0) {
		return best
	}
	if result.F < bestSSE {
		best = fromUnbounded(result.X)
	}
	return best
}

func toUnbounded(p Params) []float64 {
	return []float64{logit(p.Alpha), logit(p.Beta), logit(p.Gamma)}
}

func fromUnbounded(x []float64) Params {
	return Params{Alpha: sigmoid(x[0]), Beta: sigmoid(x[1]), Gamma: sigmoid(x[2])}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

func validParams(p Params) bool {
	in := func(v float64) bool { return v > 0 && v < 1 }
	return in(p.Alpha) && in(p.Beta) && in(p.Gamma)
}

package domain

import "time"

// Stable key names used when metrics are reported as key/value mappings.
const (
	KeyMAE              = "MAE"
	KeyRMSE             = "RMSE"
	KeyAverageInventory = "average_inventory"
	KeyStockoutRate     = "stockout_rate"
	KeyTurnoverRate     = "turnover_rate"
	KeyHoldingCost      = "holding_cost"
)

// RawObservation is one input row before cleaning. Sales is nil when the
// source cell was empty.
type RawObservation struct {
	Date           time.Time `json:"date"`
	Sales          *float64  `json:"sales"`
	InventoryLevel float64   `json:"inventory_level"`
}

// Observation is a cleaned row: sales is always present.
type Observation struct {
	Date           time.Time `json:"date" db:"date"`
	Sales          float64   `json:"sales" db:"sales"`
	InventoryLevel float64   `json:"inventory_level" db:"inventory_level"`
}

// Float returns a pointer to v, for building RawObservation literals.
func Float(v float64) *float64 {
	return &v
}

// ForecastResult holds predicted values continuing the training series.
// StartIndex is the position of the first prediction relative to the
// training series (its length). Dates is nil when the series had no index.
type ForecastResult struct {
	StartIndex int         `json:"start_index"`
	Dates      []time.Time `json:"dates,omitempty"`
	Values     []float64   `json:"values"`
}

// Len returns the forecast horizon.
func (f ForecastResult) Len() int {
	return len(f.Values)
}

// EvaluationMetrics are the accuracy measures of a forecast.
type EvaluationMetrics struct {
	MAE  float64 `json:"MAE" db:"mae"`
	RMSE float64 `json:"RMSE" db:"rmse"`
}

// ToMap reports the metrics under their stable key names.
func (m EvaluationMetrics) ToMap() map[string]float64 {
	return map[string]float64{
		KeyMAE:  m.MAE,
		KeyRMSE: m.RMSE,
	}
}

// BandPoint is the interval for a single forecast step.
type BandPoint struct {
	Step       int        `json:"step" db:"step"`
	Date       *time.Time `json:"date,omitempty" db:"date"`
	Forecast   float64    `json:"forecast" db:"forecast"`
	LowerBound float64    `json:"lower_bound" db:"lower_bound"`
	UpperBound float64    `json:"upper_bound" db:"upper_bound"`
}

// ConfidenceBand is the per-step interval around a forecast.
type ConfidenceBand struct {
	Level  float64     `json:"confidence_level"`
	ZScore float64     `json:"z_score"`
	Points []BandPoint `json:"points"`
}

// Width returns the (uniform) distance between the bounds.
func (b ConfidenceBand) Width() float64 {
	if len(b.Points) == 0 {
		return 0
	}
	return b.Points[0].UpperBound - b.Points[0].LowerBound
}

// InventoryMetrics summarises inventory levels over a cleaned series.
type InventoryMetrics struct {
	AverageInventory float64 `json:"average_inventory" db:"average_inventory"`
	StockoutRate     float64 `json:"stockout_rate" db:"stockout_rate"`
	TurnoverRate     float64 `json:"turnover_rate" db:"turnover_rate"`
	HoldingCost      float64 `json:"holding_cost" db:"holding_cost"`
}

// ToMap reports the metrics under their stable key names.
func (m InventoryMetrics) ToMap() map[string]float64 {
	return map[string]float64{
		KeyAverageInventory: m.AverageInventory,
		KeyStockoutRate:     m.StockoutRate,
		KeyTurnoverRate:     m.TurnoverRate,
		KeyHoldingCost:      m.HoldingCost,
	}
}

// ForecastRun is the persisted outcome of a pipeline run.
type ForecastRun struct {
	ID              int64             `json:"id" db:"id"`
	Name            string            `json:"name" db:"name"`
	Status          RunStatus         `json:"status" db:"status"`
	InputRows       int               `json:"input_rows" db:"input_rows"`
	CleanedRows     int               `json:"cleaned_rows" db:"cleaned_rows"`
	SeasonalPeriods int               `json:"seasonal_periods" db:"seasonal_periods"`
	Evaluation      EvaluationMetrics `json:"evaluation"`
	Inventory       InventoryMetrics  `json:"inventory"`
	Band            ConfidenceBand    `json:"band"`
	ErrorMessage    string            `json:"error_message,omitempty" db:"error_message"`
	StartedAt       time.Time         `json:"started_at" db:"started_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
}

package inventory

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// DefaultHoldingCostRate is the share of average inventory charged as
// holding cost.
const DefaultHoldingCostRate = 0.2

// InventoryCalculator computes aggregate inventory metrics over a cleaned series.
type InventoryCalculator struct {
	holdingCostRate float64
}

// NewInventoryCalculator creates a calculator. A non-positive rate falls
// back to DefaultHoldingCostRate.
func NewInventoryCalculator(holdingCostRate float64) *InventoryCalculator {
	if holdingCostRate <= 0 {
		holdingCostRate = DefaultHoldingCostRate
	}
	return &InventoryCalculator{
		holdingCostRate: holdingCostRate,
	}
}

// HoldingCostRate returns the rate in use.
func (ic *InventoryCalculator) HoldingCostRate() float64 {
	return ic.holdingCostRate
}

// Calculate computes all inventory metrics for a cleaned series.
func (ic *InventoryCalculator) Calculate(series []domain.Observation) (domain.InventoryMetrics, error) {
	metrics := domain.InventoryMetrics{}
	if len(series) == 0 {
		return metrics, domain.DataErrorf("cannot compute inventory metrics on an empty series")
	}

	levels := make([]float64, len(series))
	sales := make([]float64, len(series))
	stockouts := 0
	for i, o := range series {
		levels[i] = o.InventoryLevel
		sales[i] = o.Sales
		if o.InventoryLevel == 0 {
			stockouts++
		}
	}

	// 1. Average inventory = mean(inventory_level)
	metrics.AverageInventory = stat.Mean(levels, nil)

	// 2. Stockout rate = share of periods with nothing on hand
	metrics.StockoutRate = float64(stockouts) / float64(len(series))

	// 3. Turnover = total sales / average inventory
	if metrics.AverageInventory == 0 {
		return domain.InventoryMetrics{}, domain.DivisionErrorf("turnover rate undefined: average inventory is zero")
	}
	metrics.TurnoverRate = floats.Sum(sales) / metrics.AverageInventory

	// 4. Holding cost = average inventory × holding cost rate
	metrics.HoldingCost = metrics.AverageInventory * ic.holdingCostRate

	return metrics, nil
}

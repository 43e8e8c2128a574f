package planner

import "gridbot/config"

// BuildTakeProfit computes the single exit order closing the net position at
// the configured markup over the average entry price. Deterministic; the only
// transformation besides the markup is precision rounding.
func BuildTakeProfit(avgEntry, filledSize, profitTarget float64, dir config.Direction, prec Precision) OrderIntent {
	markup := 1 + profitTarget
	if dir == config.DirectionShort {
		markup = 1 - profitTarget
	}
	return OrderIntent{
		Side:     entrySide(dir).Opposite(),
		Price:    roundTo(avgEntry*markup, prec.Price),
		Quantity: roundTo(filledSize, prec.Quantity),
	}
}

// Package planner builds grid entry ladders and take-profit orders from a
// reference price and the capital committed to the strategy.
package planner

import "math"

// Side of an order intent.
type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderIntent is one limit order the engine wants resting on the book.
type OrderIntent struct {
	Side     Side
	Price    float64
	Quantity float64
}

// Notional is the order value in quote units.
func (o OrderIntent) Notional() float64 {
	return o.Price * o.Quantity
}

// Plan is an ordered ladder of entry intents, first level closest to the
// reference price. An empty plan means the constraints could not be met and
// nothing should be placed this cycle.
type Plan []OrderIntent

// Precision holds the instrument's decimal precision, derived from exchange
// instrument metadata by the gateway.
type Precision struct {
	Price    int
	Quantity int
}

// roundTo rounds x to the given number of decimal places.
func roundTo(x float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(x*pow) / pow
}

// Package exchange provides the narrow gateway the engine and recorder use
// to act on a single instrument of a live venue.
package exchange

import (
	"fmt"

	"gridbot/config"
	"gridbot/feed"
	"gridbot/planner"
)

// Order is one resting order as reported by the venue.
type Order struct {
	OrderID  string
	Side     planner.Side
	Price    float64
	Quantity float64
}

// Position is the venue-reported net position on the gateway's instrument.
type Position struct {
	Size          float64
	Side          feed.PositionSide
	AvgEntryPrice float64
}

// Gateway executes order-management actions against one instrument. Every
// call is a synchronous network round trip; callers classify failures as
// transient and retry on the next cycle.
type Gateway interface {
	// Name identifies the venue for logs.
	Name() string

	// PlaceLimitOrder rests a GTC limit order and returns its order ID.
	PlaceLimitOrder(side planner.Side, price, quantity float64) (string, error)

	// PlaceMarketOrder crosses the book immediately (IOC).
	PlaceMarketOrder(side planner.Side, quantity float64) error

	// CancelAllOrders removes every resting order on the instrument.
	CancelAllOrders() error

	// CancelOrdersBySide removes resting orders on one side only.
	CancelOrdersBySide(side planner.Side) error

	// AccountEquity returns total account equity in quote units.
	AccountEquity() (float64, error)

	// InstrumentPrecision returns the instrument's price/quantity precision.
	InstrumentPrecision() (planner.Precision, error)

	// Position returns the current net position.
	Position() (*Position, error)

	// OpenOrders lists resting orders on the instrument.
	OpenOrders() ([]Order, error)

	// MarkPrice returns the venue mark price.
	MarkPrice() (float64, error)
}

// New builds the gateway for one bot on one account.
func New(acc *config.AccountConfig, bot *config.BotConfig) (Gateway, error) {
	switch acc.Exchange {
	case "bybit":
		return NewBybitGateway(acc.APIKey, acc.APISecret, bot.Symbol, bot.Category), nil
	case "binance":
		return NewBinanceGateway(acc.APIKey, acc.APISecret, bot.Symbol), nil
	default:
		return nil, fmt.Errorf("unsupported exchange %q", acc.Exchange)
	}
}

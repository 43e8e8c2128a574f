package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/adshao/go-binance/v2/futures"

	"gridbot/feed"
	"gridbot/logger"
	"gridbot/planner"
)

// BinanceGateway trades one Binance USDT-M perpetual instrument.
type BinanceGateway struct {
	client *futures.Client
	symbol string

	precision      *planner.Precision
	precisionMutex sync.Mutex
}

// NewBinanceGateway creates a gateway for one symbol.
func NewBinanceGateway(apiKey, secretKey, symbol string) *BinanceGateway {
	client := futures.NewClient(apiKey, secretKey)

	logger.Infof("🟡 [Binance] gateway ready for %s", symbol)

	return &BinanceGateway{
		client: client,
		symbol: symbol,
	}
}

func (g *BinanceGateway) Name() string {
	return "binance"
}

func binanceSide(side planner.Side) futures.SideType {
	if side == planner.Sell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

// PlaceLimitOrder rests a GTC limit order.
func (g *BinanceGateway) PlaceLimitOrder(side planner.Side, price, quantity float64) (string, error) {
	prec, err := g.InstrumentPrecision()
	if err != nil {
		return "", err
	}

	order, err := g.client.NewCreateOrderService().
		Symbol(g.symbol).
		Side(binanceSide(side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Price(strconv.FormatFloat(price, 'f', prec.Price, 64)).
		Quantity(strconv.FormatFloat(quantity, 'f', prec.Quantity, 64)).
		Do(context.Background())
	if err != nil {
		return "", fmt.Errorf("binance place limit order: %w", err)
	}
	return strconv.FormatInt(order.OrderID, 10), nil
}

// PlaceMarketOrder crosses the book immediately.
func (g *BinanceGateway) PlaceMarketOrder(side planner.Side, quantity float64) error {
	prec, err := g.InstrumentPrecision()
	if err != nil {
		return err
	}

	_, err = g.client.NewCreateOrderService().
		Symbol(g.symbol).
		Side(binanceSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(strconv.FormatFloat(quantity, 'f', prec.Quantity, 64)).
		Do(context.Background())
	if err != nil {
		return fmt.Errorf("binance place market order: %w", err)
	}
	return nil
}

// CancelAllOrders removes every resting order on the instrument.
func (g *BinanceGateway) CancelAllOrders() error {
	err := g.client.NewCancelAllOpenOrdersService().
		Symbol(g.symbol).
		Do(context.Background())
	if err != nil {
		return fmt.Errorf("binance cancel all orders: %w", err)
	}
	return nil
}

// CancelOrdersBySide removes resting orders on one side only.
func (g *BinanceGateway) CancelOrdersBySide(side planner.Side) error {
	orders, err := g.client.NewListOpenOrdersService().
		Symbol(g.symbol).
		Do(context.Background())
	if err != nil {
		return fmt.Errorf("binance list open orders: %w", err)
	}

	want := binanceSide(side)
	for _, o := range orders {
		if o.Side != want {
			continue
		}
		_, err := g.client.NewCancelOrderService().
			Symbol(g.symbol).
			OrderID(o.OrderID).
			Do(context.Background())
		if err != nil {
			return fmt.Errorf("binance cancel order %d: %w", o.OrderID, err)
		}
	}
	return nil
}

// AccountEquity returns the total margin balance of the futures account.
func (g *BinanceGateway) AccountEquity() (float64, error) {
	account, err := g.client.NewGetAccountService().Do(context.Background())
	if err != nil {
		return 0, fmt.Errorf("binance account: %w", err)
	}
	equity, err := strconv.ParseFloat(account.TotalMarginBalance, 64)
	if err != nil {
		return 0, fmt.Errorf("binance account: parse totalMarginBalance %q: %w", account.TotalMarginBalance, err)
	}
	return equity, nil
}

// InstrumentPrecision reads pricePrecision and quantityPrecision from
// exchange info, cached for the gateway lifetime.
func (g *BinanceGateway) InstrumentPrecision() (planner.Precision, error) {
	g.precisionMutex.Lock()
	defer g.precisionMutex.Unlock()
	if g.precision != nil {
		return *g.precision, nil
	}

	info, err := g.client.NewExchangeInfoService().Do(context.Background())
	if err != nil {
		return planner.Precision{}, fmt.Errorf("binance exchange info: %w", err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != g.symbol {
			continue
		}
		prec := planner.Precision{
			Price:    s.PricePrecision,
			Quantity: s.QuantityPrecision,
		}
		g.precision = &prec
		logger.Infof("🟡 [Binance] %s precision: price=%d qty=%d", g.symbol, prec.Price, prec.Quantity)
		return prec, nil
	}
	return planner.Precision{}, fmt.Errorf("binance exchange info: no instrument %s", g.symbol)
}

// Position returns the current net position on the instrument.
func (g *BinanceGateway) Position() (*Position, error) {
	risks, err := g.client.NewGetPositionRiskService().
		Symbol(g.symbol).
		Do(context.Background())
	if err != nil {
		return nil, fmt.Errorf("binance position risk: %w", err)
	}

	pos := &Position{Side: feed.PositionNone}
	for _, r := range risks {
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)

		if amt < 0 {
			pos.Size = -amt
			pos.Side = feed.PositionShort
		} else {
			pos.Size = amt
			pos.Side = feed.PositionLong
		}
		pos.AvgEntryPrice = entry
		break
	}
	return pos, nil
}

// OpenOrders lists resting orders on the instrument.
func (g *BinanceGateway) OpenOrders() ([]Order, error) {
	raw, err := g.client.NewListOpenOrdersService().
		Symbol(g.symbol).
		Do(context.Background())
	if err != nil {
		return nil, fmt.Errorf("binance list open orders: %w", err)
	}

	var orders []Order
	for _, o := range raw {
		price, _ := strconv.ParseFloat(o.Price, 64)
		qty, _ := strconv.ParseFloat(o.OrigQuantity, 64)

		side := planner.Buy
		if o.Side == futures.SideTypeSell {
			side = planner.Sell
		}
		orders = append(orders, Order{
			OrderID:  strconv.FormatInt(o.OrderID, 10),
			Side:     side,
			Price:    price,
			Quantity: qty,
		})
	}
	return orders, nil
}

// MarkPrice returns the venue mark price from the premium index.
func (g *BinanceGateway) MarkPrice() (float64, error) {
	premiums, err := g.client.NewPremiumIndexService().
		Symbol(g.symbol).
		Do(context.Background())
	if err != nil {
		return 0, fmt.Errorf("binance premium index: %w", err)
	}
	if len(premiums) == 0 {
		return 0, fmt.Errorf("binance premium index: no data for %s", g.symbol)
	}
	mark, err := strconv.ParseFloat(premiums[0].MarkPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("binance premium index: parse markPrice %q: %w", premiums[0].MarkPrice, err)
	}
	return mark, nil
}

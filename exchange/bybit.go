package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	bybit "github.com/bybit-exchange/bybit.go.api"

	"gridbot/feed"
	"gridbot/logger"
	"gridbot/planner"
)

// BybitGateway trades one Bybit USDT perpetual instrument.
type BybitGateway struct {
	client   *bybit.Client
	symbol   string
	category string

	// Instrument precision cache; instrument metadata does not change.
	precision      *planner.Precision
	precisionMutex sync.Mutex
}

// NewBybitGateway creates a gateway for one symbol.
func NewBybitGateway(apiKey, secretKey, symbol, category string) *BybitGateway {
	client := bybit.NewBybitHttpClient(apiKey, secretKey, bybit.WithBaseURL(bybit.MAINNET))

	logger.Infof("🔵 [Bybit] gateway ready for %s (%s)", symbol, category)

	return &BybitGateway{
		client:   client,
		symbol:   symbol,
		category: category,
	}
}

func (g *BybitGateway) Name() string {
	return "bybit"
}

// PlaceLimitOrder rests a GTC limit order.
func (g *BybitGateway) PlaceLimitOrder(side planner.Side, price, quantity float64) (string, error) {
	prec, err := g.InstrumentPrecision()
	if err != nil {
		return "", err
	}

	params := map[string]interface{}{
		"category":    g.category,
		"symbol":      g.symbol,
		"side":        string(side),
		"orderType":   "Limit",
		"qty":         strconv.FormatFloat(quantity, 'f', prec.Quantity, 64),
		"price":       strconv.FormatFloat(price, 'f', prec.Price, 64),
		"timeInForce": "GTC",
		"positionIdx": 0, // one-way position mode
	}

	result, err := g.client.NewUtaBybitServiceWithParams(params).PlaceOrder(context.Background())
	if err != nil {
		return "", fmt.Errorf("bybit place limit order: %w", err)
	}
	if result.RetCode != 0 {
		return "", fmt.Errorf("bybit place limit order: %s", result.RetMsg)
	}

	resultData, ok := result.Result.(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("bybit place limit order: unexpected result shape")
	}
	orderID, _ := resultData["orderId"].(string)
	return orderID, nil
}

// PlaceMarketOrder crosses the book immediately.
func (g *BybitGateway) PlaceMarketOrder(side planner.Side, quantity float64) error {
	prec, err := g.InstrumentPrecision()
	if err != nil {
		return err
	}

	params := map[string]interface{}{
		"category":    g.category,
		"symbol":      g.symbol,
		"side":        string(side),
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(quantity, 'f', prec.Quantity, 64),
		"timeInForce": "IOC",
		"positionIdx": 0,
	}

	result, err := g.client.NewUtaBybitServiceWithParams(params).PlaceOrder(context.Background())
	if err != nil {
		return fmt.Errorf("bybit place market order: %w", err)
	}
	if result.RetCode != 0 {
		return fmt.Errorf("bybit place market order: %s", result.RetMsg)
	}
	return nil
}

// CancelAllOrders removes every resting order on the instrument.
func (g *BybitGateway) CancelAllOrders() error {
	params := map[string]interface{}{
		"category": g.category,
		"symbol":   g.symbol,
	}

	result, err := g.client.NewUtaBybitServiceWithParams(params).CancelAllOrders(context.Background())
	if err != nil {
		return fmt.Errorf("bybit cancel all orders: %w", err)
	}
	if result.RetCode != 0 {
		return fmt.Errorf("bybit cancel all orders: %s", result.RetMsg)
	}
	return nil
}

// CancelOrdersBySide removes resting orders on one side, used to drop the
// old take-profit without disturbing the entry ladder.
func (g *BybitGateway) CancelOrdersBySide(side planner.Side) error {
	orders, err := g.OpenOrders()
	if err != nil {
		return err
	}

	for _, o := range orders {
		if o.Side != side {
			continue
		}
		params := map[string]interface{}{
			"category": g.category,
			"symbol":   g.symbol,
			"orderId":  o.OrderID,
		}
		result, err := g.client.NewUtaBybitServiceWithParams(params).CancelOrder(context.Background())
		if err != nil {
			return fmt.Errorf("bybit cancel order %s: %w", o.OrderID, err)
		}
		if result.RetCode != 0 {
			return fmt.Errorf("bybit cancel order %s: %s", o.OrderID, result.RetMsg)
		}
	}
	return nil
}

// AccountEquity returns totalEquity of the unified account.
func (g *BybitGateway) AccountEquity() (float64, error) {
	params := map[string]interface{}{
		"accountType": "UNIFIED",
	}

	result, err := g.client.NewUtaBybitServiceWithParams(params).GetAccountWallet(context.Background())
	if err != nil {
		return 0, fmt.Errorf("bybit account wallet: %w", err)
	}
	if result.RetCode != 0 {
		return 0, fmt.Errorf("bybit account wallet: %s", result.RetMsg)
	}

	resultData, ok := result.Result.(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("bybit account wallet: unexpected result shape")
	}
	list, _ := resultData["list"].([]interface{})
	if len(list) == 0 {
		return 0, fmt.Errorf("bybit account wallet: empty account list")
	}
	account, _ := list[0].(map[string]interface{})
	equityStr, _ := account["totalEquity"].(string)
	equity, err := strconv.ParseFloat(equityStr, 64)
	if err != nil {
		return 0, fmt.Errorf("bybit account wallet: parse totalEquity %q: %w", equityStr, err)
	}
	return equity, nil
}

// InstrumentPrecision derives decimal precision from the public
// instruments-info endpoint, cached for the gateway lifetime.
func (g *BybitGateway) InstrumentPrecision() (planner.Precision, error) {
	g.precisionMutex.Lock()
	defer g.precisionMutex.Unlock()
	if g.precision != nil {
		return *g.precision, nil
	}

	url := fmt.Sprintf("https://api.bybit.com/v5/market/instruments-info?category=%s&symbol=%s",
		g.category, g.symbol)
	resp, err := http.Get(url)
	if err != nil {
		return planner.Precision{}, fmt.Errorf("bybit instruments-info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return planner.Precision{}, fmt.Errorf("bybit instruments-info: %w", err)
	}

	var result struct {
		RetCode int `json:"retCode"`
		Result  struct {
			List []struct {
				PriceFilter struct {
					TickSize string `json:"tickSize"`
				} `json:"priceFilter"`
				LotSizeFilter struct {
					QtyStep string `json:"qtyStep"`
				} `json:"lotSizeFilter"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return planner.Precision{}, fmt.Errorf("bybit instruments-info: %w", err)
	}
	if result.RetCode != 0 || len(result.Result.List) == 0 {
		return planner.Precision{}, fmt.Errorf("bybit instruments-info: no instrument %s", g.symbol)
	}

	prec := planner.Precision{
		Price:    stepDecimals(result.Result.List[0].PriceFilter.TickSize),
		Quantity: stepDecimals(result.Result.List[0].LotSizeFilter.QtyStep),
	}
	g.precision = &prec
	logger.Infof("🔵 [Bybit] %s precision: price=%d qty=%d", g.symbol, prec.Price, prec.Quantity)
	return prec, nil
}

// Position returns the current net position on the instrument.
func (g *BybitGateway) Position() (*Position, error) {
	params := map[string]interface{}{
		"category": g.category,
		"symbol":   g.symbol,
	}

	result, err := g.client.NewUtaBybitServiceWithParams(params).GetPositionList(context.Background())
	if err != nil {
		return nil, fmt.Errorf("bybit position list: %w", err)
	}
	if result.RetCode != 0 {
		return nil, fmt.Errorf("bybit position list: %s", result.RetMsg)
	}

	resultData, ok := result.Result.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("bybit position list: unexpected result shape")
	}
	list, _ := resultData["list"].([]interface{})

	pos := &Position{Side: feed.PositionNone}
	for _, item := range list {
		p, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		sizeStr, _ := p["size"].(string)
		size, _ := strconv.ParseFloat(sizeStr, 64)
		if size == 0 {
			continue
		}
		avgStr, _ := p["avgPrice"].(string)
		avg, _ := strconv.ParseFloat(avgStr, 64)

		pos.Size = size
		pos.AvgEntryPrice = avg
		if side, _ := p["side"].(string); side == "Sell" {
			pos.Side = feed.PositionShort
		} else {
			pos.Side = feed.PositionLong
		}
		break
	}
	return pos, nil
}

// OpenOrders lists resting orders on the instrument.
func (g *BybitGateway) OpenOrders() ([]Order, error) {
	params := map[string]interface{}{
		"category": g.category,
		"symbol":   g.symbol,
	}

	result, err := g.client.NewUtaBybitServiceWithParams(params).GetOpenOrders(context.Background())
	if err != nil {
		return nil, fmt.Errorf("bybit open orders: %w", err)
	}
	if result.RetCode != 0 {
		return nil, fmt.Errorf("bybit open orders: %s", result.RetMsg)
	}

	resultData, ok := result.Result.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("bybit open orders: unexpected result shape")
	}
	list, _ := resultData["list"].([]interface{})

	var orders []Order
	for _, item := range list {
		o, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		priceStr, _ := o["price"].(string)
		price, _ := strconv.ParseFloat(priceStr, 64)
		qtyStr, _ := o["qty"].(string)
		qty, _ := strconv.ParseFloat(qtyStr, 64)
		orderID, _ := o["orderId"].(string)
		side, _ := o["side"].(string)

		orders = append(orders, Order{
			OrderID:  orderID,
			Side:     planner.Side(side),
			Price:    price,
			Quantity: qty,
		})
	}
	return orders, nil
}

// MarkPrice returns the venue mark price for the instrument.
func (g *BybitGateway) MarkPrice() (float64, error) {
	params := map[string]interface{}{
		"category": g.category,
		"symbol":   g.symbol,
	}

	result, err := g.client.NewUtaBybitServiceWithParams(params).GetMarketTickers(context.Background())
	if err != nil {
		return 0, fmt.Errorf("bybit tickers: %w", err)
	}
	if result.RetCode != 0 {
		return 0, fmt.Errorf("bybit tickers: %s", result.RetMsg)
	}

	resultData, ok := result.Result.(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("bybit tickers: unexpected result shape")
	}
	list, _ := resultData["list"].([]interface{})
	if len(list) == 0 {
		return 0, fmt.Errorf("bybit tickers: no data for %s", g.symbol)
	}
	ticker, _ := list[0].(map[string]interface{})
	markStr, _ := ticker["markPrice"].(string)
	mark, err := strconv.ParseFloat(markStr, 64)
	if err != nil {
		return 0, fmt.Errorf("bybit tickers: parse markPrice %q: %w", markStr, err)
	}
	return mark, nil
}

// stepDecimals counts the decimal places of a step string like "0.001".
func stepDecimals(step string) int {
	step = strings.TrimRight(step, "0")
	if idx := strings.Index(step, "."); idx >= 0 {
		return len(step) - idx - 1
	}
	return 0
}

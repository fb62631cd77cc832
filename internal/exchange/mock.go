package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/rdone4425/trading-ai/internal/market"
)

// Mock is an in-memory Trading implementation for tests and observe
// mode. Orders fill instantly at the configured mark price.
type Mock struct {
	mu sync.Mutex

	Candles    map[string][]market.Candle
	Tickers    map[string]market.Ticker
	Balances   map[string]Balance
	positions  map[string]Position
	Orders     []OrderRequest
	Trades     map[string][]AccountTrade
	Leverage   map[string]int
	MarginMode map[string]MarginType
	Infos      map[string]SymbolInfo

	// Perpetuals overrides the tradable perpetual universe. When empty,
	// every ticker symbol counts as a live perpetual.
	Perpetuals map[string]bool

	orderIDs    []int64
	nextOrderID int64

	// FailOrder makes PlaceOrder fail for the given order type, used to
	// exercise the protective-order failure paths.
	FailOrder map[OrderType]error
}

// NewMock returns an empty mock exchange.
func NewMock() *Mock {
	return &Mock{
		Candles:    map[string][]market.Candle{},
		Tickers:    map[string]market.Ticker{},
		Balances:   map[string]Balance{"USDT": {Asset: "USDT", Balance: 10000, AvailableBalance: 10000}},
		positions:  map[string]Position{},
		Trades:     map[string][]AccountTrade{},
		Leverage:   map[string]int{},
		MarginMode: map[string]MarginType{},
		Infos:      map[string]SymbolInfo{},
		FailOrder:  map[OrderType]error{},
	}
}

func (m *Mock) Klines(_ context.Context, symbol, _ string, limit int) ([]market.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	candles, ok := m.Candles[symbol]
	if !ok {
		return nil, fmt.Errorf("no candles for %s", symbol)
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func (m *Mock) Tickers24h(_ context.Context) ([]market.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]market.Ticker, 0, len(m.Tickers))
	for _, t := range m.Tickers {
		out = append(out, t)
	}
	return out, nil
}

func (m *Mock) Ticker24h(_ context.Context, symbol string) (market.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tickers[symbol]
	if !ok {
		return market.Ticker{}, fmt.Errorf("no ticker for %s", symbol)
	}
	return t, nil
}

func (m *Mock) PerpetualSymbols(_ context.Context) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.Tickers))
	if len(m.Perpetuals) > 0 {
		for symbol, ok := range m.Perpetuals {
			if ok {
				out[symbol] = true
			}
		}
		return out, nil
	}
	for symbol := range m.Tickers {
		out[symbol] = true
	}
	return out, nil
}

func (m *Mock) Balance(_ context.Context, asset string) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Balances[asset]
	if !ok {
		return Balance{}, fmt.Errorf("asset %s not found in balance", asset)
	}
	return b, nil
}

func (m *Mock) Positions(_ context.Context, symbol string) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Position
	for sym, p := range m.positions {
		if symbol != "" && sym != symbol {
			continue
		}
		if p.Side() != 0 {
			out = append(out, p)
		}
	}
	return out, nil
}

// SetPosition seeds an open position.
func (m *Mock) SetPosition(p Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.Symbol] = p
}

func (m *Mock) UserTrades(_ context.Context, symbol string, _ int64, _ int) []AccountTrade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Trades[symbol]
}

func (m *Mock) SymbolInfo(_ context.Context, symbol string) (SymbolInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.Infos[symbol]; ok {
		return info, nil
	}
	return SymbolInfo{
		Symbol:            symbol,
		Status:            "TRADING",
		PricePrecision:    2,
		QuantityPrecision: 3,
		TickSize:          0.01,
		StepSize:          0.001,
		MinQty:            0.001,
		MinNotional:       5,
	}, nil
}

func (m *Mock) SetLeverage(_ context.Context, symbol string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Leverage[symbol] = leverage
	return nil
}

func (m *Mock) SetMarginType(_ context.Context, symbol string, marginType MarginType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MarginMode[symbol] = marginType
	return nil
}

func (m *Mock) PlaceOrder(_ context.Context, req OrderRequest) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.FailOrder[req.Type]; err != nil {
		return nil, err
	}
	// Mirror the live API: closePosition is only valid on trigger orders.
	if req.ClosePosition && req.Type != OrderTypeStopMarket && req.Type != OrderTypeTakeProfitMarket {
		return nil, &APIError{Code: -1106, Message: "Parameter 'closePosition' sent when not required.", HTTPStatus: 400}
	}
	m.Orders = append(m.Orders, req)
	m.nextOrderID++
	m.orderIDs = append(m.orderIDs, m.nextOrderID)

	qty := parseFloat(req.Quantity)
	if req.Type == OrderTypeMarket {
		pos := m.positions[req.Symbol]
		pos.Symbol = req.Symbol
		delta := qty
		if req.Side == OrderSideSell {
			delta = -qty
		}
		next := pos.PositionAmt + delta
		if req.ReduceOnly && pos.PositionAmt*next <= 0 {
			// a reduce-only order never flips the position
			next = 0
		}
		pos.PositionAmt = next
		pos.EntryPrice = m.Tickers[req.Symbol].Price
		m.positions[req.Symbol] = pos
	}

	return &Order{
		OrderID:     m.nextOrderID,
		Symbol:      req.Symbol,
		Side:        string(req.Side),
		Type:        string(req.Type),
		Status:      "FILLED",
		OrigQty:     qty,
		ExecutedQty: qty,
		AvgPrice:    m.Tickers[req.Symbol].Price,
	}, nil
}

func (m *Mock) CancelOrder(_ context.Context, symbol string, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range m.orderIDs {
		if id == orderID && m.Orders[i].Symbol == symbol {
			m.Orders = append(m.Orders[:i], m.Orders[i+1:]...)
			m.orderIDs = append(m.orderIDs[:i], m.orderIDs[i+1:]...)
			return nil
		}
	}
	return &APIError{Code: -2011, Message: "Unknown order sent.", HTTPStatus: 400}
}

func (m *Mock) CancelAllOrders(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	keptOrders := m.Orders[:0]
	keptIDs := m.orderIDs[:0]
	for i, o := range m.Orders {
		if o.Symbol != symbol || o.Type == OrderTypeMarket {
			keptOrders = append(keptOrders, o)
			keptIDs = append(keptIDs, m.orderIDs[i])
		}
	}
	m.Orders = keptOrders
	m.orderIDs = keptIDs
	return nil
}

// OrdersOfType returns the placed orders matching a type.
func (m *Mock) OrdersOfType(orderType OrderType) []OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OrderRequest
	for _, o := range m.Orders {
		if o.Type == orderType {
			out = append(out, o)
		}
	}
	return out
}

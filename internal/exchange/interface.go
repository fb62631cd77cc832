package exchange

import (
	"context"

	"github.com/rdone4425/trading-ai/internal/market"
)

// MarketData is the read-only surface the scanner and advisor use.
type MarketData interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
	Tickers24h(ctx context.Context) ([]market.Ticker, error)
	Ticker24h(ctx context.Context, symbol string) (market.Ticker, error)
	// PerpetualSymbols lists the symbols currently tradable as
	// perpetual contracts.
	PerpetualSymbols(ctx context.Context) (map[string]bool, error)
}

// Trading is the signed surface the trader uses. The real client and
// the mock both implement it.
type Trading interface {
	MarketData

	Balance(ctx context.Context, asset string) (Balance, error)
	Positions(ctx context.Context, symbol string) ([]Position, error)
	UserTrades(ctx context.Context, symbol string, startTime int64, limit int) []AccountTrade
	SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginType(ctx context.Context, symbol string, marginType MarginType) error
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	CancelAllOrders(ctx context.Context, symbol string) error
}

var _ Trading = (*Client)(nil)
var _ Trading = (*Mock)(nil)

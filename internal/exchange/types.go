package exchange

import (
	"encoding/json"
	"strconv"

	"github.com/rdone4425/trading-ai/internal/market"
)

// OrderSide represents buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType is the futures order type as the exchange names it.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// PositionSide for one-way position mode.
type PositionSide string

const (
	PositionSideBoth PositionSide = "BOTH"
)

// MarginType for per-symbol margin configuration.
type MarginType string

const (
	MarginTypeIsolated MarginType = "ISOLATED"
	MarginTypeCrossed  MarginType = "CROSSED"
)

// Order is a placed futures order as reported by the exchange.
type Order struct {
	OrderID       int64   `json:"orderId"`
	ClientOrderID string  `json:"clientOrderId"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Status        string  `json:"status"`
	Price         float64 `json:"price,string"`
	AvgPrice      float64 `json:"avgPrice,string"`
	OrigQty       float64 `json:"origQty,string"`
	ExecutedQty   float64 `json:"executedQty,string"`
	StopPrice     float64 `json:"stopPrice,string"`
	ClosePosition bool    `json:"closePosition"`
	ReduceOnly    bool    `json:"reduceOnly"`
	UpdateTime    int64   `json:"updateTime"`
}

// Position is one row of /fapi/v2/positionRisk.
type Position struct {
	Symbol           string  `json:"symbol"`
	PositionAmt      float64 `json:"positionAmt,string"`
	EntryPrice       float64 `json:"entryPrice,string"`
	MarkPrice        float64 `json:"markPrice,string"`
	UnrealizedProfit float64 `json:"unRealizedProfit,string"`
	Leverage         float64 `json:"leverage,string"`
	MarginType       string  `json:"marginType"`
	LiquidationPrice float64 `json:"liquidationPrice,string"`
	PositionSide     string  `json:"positionSide"`
}

// Side reports the direction of the position: 1 long, -1 short, 0 flat.
func (p Position) Side() int {
	switch {
	case p.PositionAmt > positionEpsilon:
		return 1
	case p.PositionAmt < -positionEpsilon:
		return -1
	default:
		return 0
	}
}

// positionEpsilon filters residual dust amounts the exchange reports
// for closed positions.
const positionEpsilon = 1e-8

// Balance is one asset row of /fapi/v2/balance.
type Balance struct {
	Asset              string  `json:"asset"`
	Balance            float64 `json:"balance,string"`
	AvailableBalance   float64 `json:"availableBalance,string"`
	CrossUnPnl         float64 `json:"crossUnPnl,string"`
	CrossWalletBalance float64 `json:"crossWalletBalance,string"`
}

// AccountTrade is one row of /fapi/v1/userTrades.
type AccountTrade struct {
	Symbol          string  `json:"symbol"`
	OrderID         int64   `json:"orderId"`
	ID              int64   `json:"id"`
	Side            string  `json:"side"`
	Price           float64 `json:"price,string"`
	Qty             float64 `json:"qty,string"`
	QuoteQty        float64 `json:"quoteQty,string"`
	RealizedPnl     float64 `json:"realizedPnl,string"`
	Commission      float64 `json:"commission,string"`
	CommissionAsset string  `json:"commissionAsset"`
	PositionSide    string  `json:"positionSide"`
	Time            int64   `json:"time"`
	Buyer           bool    `json:"buyer"`
	Maker           bool    `json:"maker"`
}

// SymbolInfo carries the per-symbol trading rules the order path needs.
type SymbolInfo struct {
	Symbol            string
	Status            string
	ContractType      string
	PricePrecision    int
	QuantityPrecision int
	TickSize          float64
	StepSize          float64
	MinQty            float64
	MinNotional       float64
}

// exchangeInfoResponse is the subset of /fapi/v1/exchangeInfo we parse.
type exchangeInfoResponse struct {
	ServerTime int64 `json:"serverTime"`
	Symbols    []struct {
		Symbol            string `json:"symbol"`
		Status            string `json:"status"`
		ContractType      string `json:"contractType"`
		PricePrecision    int    `json:"pricePrecision"`
		QuantityPrecision int    `json:"quantityPrecision"`
		Filters           []struct {
			FilterType  string `json:"filterType"`
			TickSize    string `json:"tickSize"`
			StepSize    string `json:"stepSize"`
			MinQty      string `json:"minQty"`
			Notional    string `json:"notional"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

func (r *exchangeInfoResponse) toSymbolInfo() map[string]SymbolInfo {
	out := make(map[string]SymbolInfo, len(r.Symbols))
	for _, s := range r.Symbols {
		info := SymbolInfo{
			Symbol:            s.Symbol,
			Status:            s.Status,
			ContractType:      s.ContractType,
			PricePrecision:    s.PricePrecision,
			QuantityPrecision: s.QuantityPrecision,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				info.TickSize = parseFloat(f.TickSize)
			case "LOT_SIZE":
				info.StepSize = parseFloat(f.StepSize)
				info.MinQty = parseFloat(f.MinQty)
			case "MIN_NOTIONAL":
				if f.Notional != "" {
					info.MinNotional = parseFloat(f.Notional)
				} else {
					info.MinNotional = parseFloat(f.MinNotional)
				}
			}
		}
		out[s.Symbol] = info
	}
	return out
}

// ticker24h is the raw 24h statistics row; Normalize converts it into
// the shared market.Ticker shape.
type ticker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
}

func (t ticker24h) normalize() market.Ticker {
	return market.Ticker{
		Symbol:             t.Symbol,
		Price:              parseFloat(t.LastPrice),
		PriceChangePercent: parseFloat(t.PriceChangePercent),
		High24h:            parseFloat(t.HighPrice),
		Low24h:             parseFloat(t.LowPrice),
		Volume:             parseFloat(t.Volume),
		QuoteVolume:        parseFloat(t.QuoteVolume),
	}
}

// parseKlines decodes the raw kline array-of-arrays payload. Malformed
// rows are skipped.
func parseKlines(data []byte) ([]market.Candle, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	candles := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		var openTime, closeTime int64
		var open, high, low, closePrice, volume string
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			continue
		}
		if err := json.Unmarshal(row[6], &closeTime); err != nil {
			continue
		}
		for i, dst := range []*string{&open, &high, &low, &closePrice, &volume} {
			if err := json.Unmarshal(row[i+1], dst); err != nil {
				continue
			}
		}
		candles = append(candles, market.Candle{
			OpenTime:  openTime,
			Open:      parseFloat(open),
			High:      parseFloat(high),
			Low:       parseFloat(low),
			Close:     parseFloat(closePrice),
			Volume:    parseFloat(volume),
			CloseTime: closeTime,
		})
	}
	return candles, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

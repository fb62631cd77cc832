// Package market holds the data types shared between the exchange
// adapter, the indicator engine and the scanner.
package market

import "github.com/rdone4425/trading-ai/internal/timeutil"

// Candle is a single kline. OpenTime/CloseTime are millisecond unix
// timestamps as the exchange reports them.
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"close_time"`
}

// Ticker is a normalized 24h statistics snapshot for one symbol.
type Ticker struct {
	Symbol             string  `json:"symbol"`
	Price              float64 `json:"price"`
	PriceChangePercent float64 `json:"price_change_percent"`
	High24h            float64 `json:"high_24h"`
	Low24h             float64 `json:"low_24h"`
	Volume             float64 `json:"volume"`       // base asset volume
	QuoteVolume        float64 `json:"quote_volume"` // quote asset volume
}

// Closes extracts the close series from a candle slice.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// TimeString renders the candle open time for logs and prompts.
func (c Candle) TimeString() string {
	return timeutil.FormatTime(timeutil.FromTimestamp(c.OpenTime), "default")
}

package indicators

import (
	"math"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/rdone4425/trading-ai/internal/market"
)

// Engine runs every configured indicator over a candle sequence and
// produces the flat result map the advisor consumes.
type Engine struct {
	config Config
}

// NewEngine creates an engine with the given configuration. A nil
// config yields the default indicator set.
func NewEngine(cfg Config) *Engine {
	if len(cfg) == 0 {
		cfg = Config{
			"ma":     {20},
			"ema":    {12, 26},
			"rsi":    {14},
			"macd":   {12, 26, 9},
			"bbands": {20, 2, 2},
			"kdj":    {9, 3, 3},
			"atr":    {14},
		}
	}
	return &Engine{config: cfg}
}

// Config returns the active configuration.
func (e *Engine) Config() Config { return e.config }

// CalculateAll computes every configured indicator. Result keys follow
// the fixed naming scheme: ma_<n>, ema_<n>, rsi, macd, macd_signal,
// macd_hist, bb_upper, bb_middle, bb_lower, kdj_k, kdj_d, kdj_j, atr.
func (e *Engine) CalculateAll(candles []market.Candle) map[string][]float64 {
	result := make(map[string][]float64)

	for name, params := range e.config {
		switch name {
		case "ma":
			for _, p := range params {
				result["ma_"+itoa(p)] = MA(candles, int(p))
			}
		case "ema":
			for _, p := range params {
				result["ema_"+itoa(p)] = EMA(candles, int(p))
			}
		case "rsi":
			period := paramAt(params, 0, 14)
			result["rsi"] = RSI(candles, period)
		case "macd":
			fast := paramAt(params, 0, 12)
			slow := paramAt(params, 1, 26)
			sig := paramAt(params, 2, 9)
			macd, signal, hist := MACD(candles, fast, slow, sig)
			result["macd"] = macd
			result["macd_signal"] = signal
			result["macd_hist"] = hist
		case "bbands":
			period := paramAt(params, 0, 20)
			up := floatAt(params, 1, 2)
			down := floatAt(params, 2, 2)
			upper, middle, lower := Bollinger(candles, period, up, down)
			result["bb_upper"] = upper
			result["bb_middle"] = middle
			result["bb_lower"] = lower
		case "kdj":
			fastK := paramAt(params, 0, 9)
			slowK := paramAt(params, 1, 3)
			slowD := paramAt(params, 2, 3)
			k, d, j := KDJ(candles, fastK, slowK, slowD)
			result["kdj_k"] = k
			result["kdj_d"] = d
			result["kdj_j"] = j
		case "atr":
			period := paramAt(params, 0, 14)
			result["atr"] = ATR(candles, period)
		default:
			log.Warn().Str("indicator", name).Msg("Unsupported indicator in config")
		}
	}

	log.Debug().Int("indicators", len(result)).Int("candles", len(candles)).Msg("Indicators calculated")
	return result
}

// LatestValues reduces a full result map to the last valid value of
// each series. Series with no valid value are omitted.
func LatestValues(result map[string][]float64) map[string]float64 {
	latest := make(map[string]float64, len(result))
	for key, series := range result {
		if v, ok := LatestValid(series); ok {
			latest[key] = v
		}
	}
	return latest
}

// ValidCount returns how many result series carry at least one finite
// value. The advisor uses this to flag analyses built on thin data.
func ValidCount(result map[string][]float64) int {
	count := 0
	for _, series := range result {
		if _, ok := LatestValid(series); ok {
			count++
		}
	}
	return count
}

func paramAt(params []float64, i int, fallback int) int {
	if i < len(params) && params[i] > 0 {
		return int(params[i])
	}
	return fallback
}

func floatAt(params []float64, i int, fallback float64) float64 {
	if i < len(params) && !math.IsNaN(params[i]) && params[i] > 0 {
		return params[i]
	}
	return fallback
}

func itoa(p float64) string {
	return strconv.Itoa(int(p))
}

// Package indicators computes technical indicators over candle
// sequences. Every calculation returns an output slice parallel to the
// input candles: positions inside the warm-up window are NaN, and
// downstream consumers treat NaN as "not yet defined".
package indicators

import (
	"math"

	"github.com/rdone4425/trading-ai/internal/market"
)

// nanSlice returns a slice of n NaNs.
func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// rollingMean is the simple moving average with an n-1 NaN warm-up.
func rollingMean(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period < 1 || len(values) < period {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// rollingStd is the rolling sample standard deviation (Bessel's
// correction), matching the band math the advisor was tuned against.
func rollingStd(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period < 2 || len(values) < period {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		window := values[i-period+1 : i+1]
		var mean float64
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)
		var ss float64
		for _, v := range window {
			d := v - mean
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(period-1))
	}
	return out
}

// ewma applies y[i] = alpha*x[i] + (1-alpha)*y[i-1], seeding from the
// first finite input. Leading NaNs stay NaN.
func ewma(values []float64, alpha float64) []float64 {
	out := nanSlice(len(values))
	seeded := false
	var prev float64
	for i, v := range values {
		if math.IsNaN(v) {
			if seeded {
				out[i] = prev
			}
			continue
		}
		if !seeded {
			prev = v
			seeded = true
		} else {
			prev = alpha*v + (1-alpha)*prev
		}
		out[i] = prev
	}
	return out
}

// emaRaw is the span-style EWMA (alpha = 2/(n+1)) with every position
// defined from the seed onward. The exported EMA masks the warm-up.
func emaRaw(values []float64, period int) []float64 {
	return ewma(values, 2/float64(period+1))
}

// MA computes the simple moving average of closes.
func MA(candles []market.Candle, period int) []float64 {
	return rollingMean(market.Closes(candles), period)
}

// EMA computes the exponential moving average of closes, alpha =
// 2/(n+1), seeded from the first close. The first n-1 positions are NaN
// to match MA's warm-up convention.
func EMA(candles []market.Candle, period int) []float64 {
	out := emaRaw(market.Closes(candles), period)
	for i := 0; i < period-1 && i < len(out); i++ {
		out[i] = math.NaN()
	}
	return out
}

// RSI computes the relative strength index with Wilder smoothing. The
// first n positions are NaN.
func RSI(candles []market.Candle, period int) []float64 {
	closes := market.Closes(candles)
	out := nanSlice(len(closes))
	if period < 1 || len(closes) <= period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACD computes the macd line (EMA(fast)-EMA(slow)), signal line and
// histogram. Warm-up NaNs propagate: the macd line starts at slow-1 and
// the signal line a further signalPeriod-1 positions later.
func MACD(candles []market.Candle, fast, slow, signalPeriod int) (macd, signal, hist []float64) {
	closes := market.Closes(candles)
	n := len(closes)
	macd = nanSlice(n)
	signal = nanSlice(n)
	hist = nanSlice(n)
	if n == 0 {
		return macd, signal, hist
	}

	fastEMA := emaRaw(closes, fast)
	slowEMA := emaRaw(closes, slow)
	for i := slow - 1; i < n; i++ {
		macd[i] = fastEMA[i] - slowEMA[i]
	}
	signal = ewma(macd, 2/float64(signalPeriod+1))
	for i := slow - 1 + signalPeriod - 1; i < n; i++ {
		hist[i] = macd[i] - signal[i]
	}
	// mask the signal warm-up to match the histogram
	for i := 0; i < slow-1+signalPeriod-1 && i < n; i++ {
		signal[i] = math.NaN()
	}
	return macd, signal, hist
}

// Bollinger computes the Bollinger bands: middle = MA(n), upper/lower =
// middle +/- k*stdev.
func Bollinger(candles []market.Candle, period int, devUp, devDown float64) (upper, middle, lower []float64) {
	closes := market.Closes(candles)
	middle = rollingMean(closes, period)
	std := rollingStd(closes, period)
	upper = nanSlice(len(closes))
	lower = nanSlice(len(closes))
	for i := range closes {
		if !math.IsNaN(middle[i]) && !math.IsNaN(std[i]) {
			upper[i] = middle[i] + std[i]*devUp
			lower[i] = middle[i] - std[i]*devDown
		}
	}
	return upper, middle, lower
}

// KDJ computes the stochastic K/D/J lines: RSV over fastK lows/highs,
// K = EWMA(RSV, 1/slowK), D = EWMA(K, 1/slowD), J = 3K - 2D.
func KDJ(candles []market.Candle, fastK, slowK, slowD int) (k, d, j []float64) {
	n := len(candles)
	rsv := nanSlice(n)
	for i := fastK - 1; i < n; i++ {
		lowest := math.Inf(1)
		highest := math.Inf(-1)
		for w := i - fastK + 1; w <= i; w++ {
			lowest = math.Min(lowest, candles[w].Low)
			highest = math.Max(highest, candles[w].High)
		}
		if highest == lowest {
			rsv[i] = 50
		} else {
			rsv[i] = (candles[i].Close - lowest) / (highest - lowest) * 100
		}
	}

	k = ewma(rsv, 1/float64(slowK))
	d = ewma(k, 1/float64(slowD))
	j = nanSlice(n)
	for i := range j {
		if !math.IsNaN(k[i]) && !math.IsNaN(d[i]) {
			j[i] = 3*k[i] - 2*d[i]
		}
	}
	return k, d, j
}

// ATR computes the average true range as a simple moving mean of the
// true range. TR of the first candle is high-low.
func ATR(candles []market.Candle, period int) []float64 {
	n := len(candles)
	tr := make([]float64, n)
	for i, c := range candles {
		hl := c.High - c.Low
		if i == 0 {
			tr[i] = hl
			continue
		}
		prevClose := candles[i-1].Close
		tr[i] = math.Max(hl, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
	}
	return rollingMean(tr, period)
}

// LatestValid returns the last non-NaN value of a series.
func LatestValid(values []float64) (float64, bool) {
	for i := len(values) - 1; i >= 0; i-- {
		if !math.IsNaN(values[i]) {
			return values[i], true
		}
	}
	return 0, false
}

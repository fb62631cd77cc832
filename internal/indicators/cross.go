package indicators

import (
	"math"

	"github.com/rdone4425/trading-ai/internal/market"
)

// CrossType labels a fast/slow line crossover.
type CrossType string

const (
	CrossNone   CrossType = "none"
	CrossGolden CrossType = "golden" // fast crosses above slow
	CrossDeath  CrossType = "death"  // fast crosses below slow
)

// CrossInfo describes the crossover state of two lines.
type CrossInfo struct {
	Latest        CrossType `json:"latest_cross"`
	CrossIndex    int       `json:"cross_index"`
	GoldenCrosses []int     `json:"golden_crosses"`
	DeathCrosses  []int     `json:"death_crosses"`
	FastAbove     bool      `json:"fast_above"`
	FastValue     float64   `json:"fast_value"`
	SlowValue     float64   `json:"slow_value"`
}

// DetectCross scans two parallel series for sign changes of fast-slow.
// Positions where either line is NaN are skipped.
func DetectCross(fast, slow []float64) CrossInfo {
	info := CrossInfo{Latest: CrossNone, CrossIndex: -1}

	prevDiff := math.NaN()
	for i := 0; i < len(fast) && i < len(slow); i++ {
		if math.IsNaN(fast[i]) || math.IsNaN(slow[i]) {
			continue
		}
		diff := fast[i] - slow[i]
		if !math.IsNaN(prevDiff) {
			if prevDiff < 0 && diff > 0 {
				info.GoldenCrosses = append(info.GoldenCrosses, i)
			} else if prevDiff > 0 && diff < 0 {
				info.DeathCrosses = append(info.DeathCrosses, i)
			}
		}
		prevDiff = diff
		info.FastAbove = diff > 0
		info.FastValue = fast[i]
		info.SlowValue = slow[i]
	}

	lastGolden, lastDeath := -1, -1
	if n := len(info.GoldenCrosses); n > 0 {
		lastGolden = info.GoldenCrosses[n-1]
	}
	if n := len(info.DeathCrosses); n > 0 {
		lastDeath = info.DeathCrosses[n-1]
	}
	switch {
	case lastGolden > lastDeath:
		info.Latest = CrossGolden
		info.CrossIndex = lastGolden
	case lastDeath > lastGolden:
		info.Latest = CrossDeath
		info.CrossIndex = lastDeath
	}
	return info
}

// DetectEMACross computes two EMAs and reports their crossover state.
func DetectEMACross(candles []market.Candle, fastPeriod, slowPeriod int) CrossInfo {
	return DetectCross(EMA(candles, fastPeriod), EMA(candles, slowPeriod))
}

// DetectMACross computes two MAs and reports their crossover state.
func DetectMACross(candles []market.Candle, fastPeriod, slowPeriod int) CrossInfo {
	return DetectCross(MA(candles, fastPeriod), MA(candles, slowPeriod))
}

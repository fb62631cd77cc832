// Package risk derives stop loss, take profit, position size and
// leverage from the account balance and the market's ATR. All prices
// are quote currency, all percentages are fractions unless named Pct.
package risk

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
)

// Trade directions as the advisor emits them.
const (
	ActionLong  = "做多"
	ActionShort = "做空"
	ActionWait  = "观望"
)

// Params holds the tunable inputs of the calculator.
type Params struct {
	ATRMultiplier   float64 // stop distance in ATR units
	RiskRewardRatio float64 // take-profit distance relative to stop distance
	RiskPercent     float64 // percent of balance risked per trade
	MaxLeverage     int

	MaxLossPerTrade float64 // potential loss cap as a fraction of balance
	MaxPositionSize float64 // notional cap as a fraction of balance

	// Fixed Kelly assumptions. Live win-rate feedback is a planned
	// input once the review ledger covers enough closed trades.
	KellyWinRate float64
	KellyPayoff  float64
}

// DefaultParams mirrors the default configuration surface.
func DefaultParams() Params {
	return Params{
		ATRMultiplier:   2.0,
		RiskRewardRatio: 2.0,
		RiskPercent:     1.0,
		MaxLeverage:     10,
		MaxLossPerTrade: 0.02,
		MaxPositionSize: 0.3,
		KellyWinRate:    0.55,
		KellyPayoff:     2.0,
	}
}

// Metrics is the full risk bundle attached to a trade decision.
type Metrics struct {
	Action          string  `json:"action"`
	EntryPrice      float64 `json:"entry_price"`
	StopLoss        float64 `json:"stop_loss"`
	TakeProfit      float64 `json:"take_profit"`
	StopDistance    float64 `json:"stop_distance"`
	StopDistancePct float64 `json:"stop_distance_pct"`
	RiskAmount      float64 `json:"risk_amount"`
	Quantity        float64 `json:"quantity"`
	Notional        float64 `json:"notional"`
	Leverage        int     `json:"leverage"`
	KellyFraction   float64 `json:"kelly_fraction"`
}

// Calculator computes risk metrics with fixed parameters.
type Calculator struct {
	params Params
}

// NewCalculator builds a calculator, falling back to defaults for
// non-positive parameters.
func NewCalculator(params Params) *Calculator {
	def := DefaultParams()
	if params.ATRMultiplier <= 0 {
		params.ATRMultiplier = def.ATRMultiplier
	}
	if params.RiskRewardRatio <= 0 {
		params.RiskRewardRatio = def.RiskRewardRatio
	}
	if params.RiskPercent <= 0 {
		params.RiskPercent = def.RiskPercent
	}
	if params.MaxLeverage <= 0 {
		params.MaxLeverage = def.MaxLeverage
	}
	if params.MaxLossPerTrade <= 0 {
		params.MaxLossPerTrade = def.MaxLossPerTrade
	}
	if params.MaxPositionSize <= 0 {
		params.MaxPositionSize = def.MaxPositionSize
	}
	if params.KellyWinRate <= 0 || params.KellyWinRate >= 1 {
		params.KellyWinRate = def.KellyWinRate
	}
	if params.KellyPayoff <= 0 {
		params.KellyPayoff = def.KellyPayoff
	}
	return &Calculator{params: params}
}

// StopLoss places the stop ATRMultiplier ATRs away from entry, against
// the trade direction. Never negative.
func (c *Calculator) StopLoss(action string, entry, atr float64) float64 {
	distance := atr * c.params.ATRMultiplier
	var stop float64
	if action == ActionShort {
		stop = entry + distance
	} else {
		stop = entry - distance
	}
	return math.Max(stop, 0)
}

// TakeProfit places the target RiskRewardRatio stop-distances from
// entry, with the trade direction.
func (c *Calculator) TakeProfit(action string, entry, stopLoss float64) float64 {
	distance := math.Abs(entry-stopLoss) * c.params.RiskRewardRatio
	if action == ActionShort {
		return math.Max(entry-distance, 0)
	}
	return entry + distance
}

// PositionSize risks RiskPercent of the balance between entry and stop.
// The quantity is additionally capped so the required margin at the
// given leverage never exceeds the balance.
func (c *Calculator) PositionSize(balance, entry, stopLoss float64, leverage int) (quantity, riskAmount float64) {
	if balance <= 0 || entry <= 0 {
		return 0, 0
	}
	stopDistance := math.Abs(entry - stopLoss)
	if stopDistance <= 0 {
		return 0, 0
	}
	riskAmount = balance * c.params.RiskPercent / 100
	quantity = riskAmount / stopDistance

	if leverage < 1 {
		leverage = 1
	}
	maxQuantity := balance * float64(leverage) / entry
	if quantity > maxQuantity {
		log.Debug().Float64("quantity", quantity).Float64("cap", maxQuantity).
			Msg("仓位超出保证金上限，已压缩")
		quantity = maxQuantity
	}
	return quantity, riskAmount
}

// KellyFraction is the half-Kelly bet fraction under the configured
// win rate and payoff, clamped to [0.001, 0.05].
func (c *Calculator) KellyFraction() float64 {
	p := c.params.KellyWinRate
	b := c.params.KellyPayoff
	f := p - (1-p)/b
	f /= 2
	return clamp(f, 0.001, 0.05)
}

// Leverage maps the Kelly fraction and stop distance onto the
// exchange's integer leverage scale. The raw leverage f/stopDistancePct
// is compressed logarithmically so wide stops still get useful
// leverage without the narrow ones maxing out.
func (c *Calculator) Leverage(stopDistancePct float64) int {
	maxLev := c.params.MaxLeverage
	if stopDistancePct <= 0 {
		return 1
	}
	raw := c.KellyFraction() / stopDistancePct
	scaled := 1 + math.Log(raw+1)/math.Log(float64(maxLev)+1)*float64(maxLev-1)
	lev := int(math.Round(scaled))
	if lev < 1 {
		return 1
	}
	if lev > maxLev {
		return maxLev
	}
	return lev
}

// Calculate produces the full metrics bundle for a trade decision.
// Waiting decisions get a zero bundle.
func (c *Calculator) Calculate(action string, entry, atr, balance float64) Metrics {
	if action != ActionLong && action != ActionShort {
		return Metrics{Action: action}
	}

	stopLoss := c.StopLoss(action, entry, atr)
	takeProfit := c.TakeProfit(action, entry, stopLoss)
	stopDistance := math.Abs(entry - stopLoss)
	stopDistancePct := 0.0
	if entry > 0 {
		stopDistancePct = stopDistance / entry
	}
	leverage := c.Leverage(stopDistancePct)
	quantity, riskAmount := c.PositionSize(balance, entry, stopLoss, leverage)

	return Metrics{
		Action:          action,
		EntryPrice:      entry,
		StopLoss:        stopLoss,
		TakeProfit:      takeProfit,
		StopDistance:    stopDistance,
		StopDistancePct: stopDistancePct,
		RiskAmount:      riskAmount,
		Quantity:        quantity,
		Notional:        quantity * entry,
		Leverage:        leverage,
		KellyFraction:   c.KellyFraction(),
	}
}

// CapQuantity shrinks an oversized quantity in 1% steps until the
// potential loss fits MaxLossPerTrade and the required margin fits
// MaxPositionSize, both relative to the balance. Oversized positions
// are reduced, never rejected.
func (c *Calculator) CapQuantity(quantity, entry, stopLoss, balance float64, leverage int) float64 {
	if quantity <= 0 || entry <= 0 || balance <= 0 {
		return quantity
	}
	if leverage < 1 {
		leverage = 1
	}
	stopDistance := math.Abs(entry - stopLoss)
	maxLoss := balance * c.params.MaxLossPerTrade
	maxMargin := balance * c.params.MaxPositionSize

	capped := quantity
	for capped > 0 && (capped*stopDistance > maxLoss || capped*entry/float64(leverage) > maxMargin) {
		capped *= 0.99
	}
	if capped != quantity {
		log.Debug().Float64("quantity", quantity).Float64("capped", capped).
			Msg("仓位超出单笔风险上限，已逐步缩减")
	}
	return capped
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// FormatReport renders the metrics as the Chinese text block embedded
// in analysis output.
func (m Metrics) FormatReport() string {
	if m.Action != ActionLong && m.Action != ActionShort {
		return "风险评估: 观望，不开仓"
	}
	return fmt.Sprintf(
		"风险评估:\n方向: %s\n入场价: %.4f\n止损价: %.4f\n止盈价: %.4f\n仓位数量: %.4f\n名义价值: %.2f\n杠杆: %dx\n单笔风险: %.2f",
		m.Action, m.EntryPrice, m.StopLoss, m.TakeProfit,
		m.Quantity, m.Notional, m.Leverage, m.RiskAmount,
	)
}

// Package trader executes advisor decisions against the exchange. Every
// entry carries a protective stop and target, symbols hold at most one
// direction, and quantities are quantized to the symbol's trading rules
// before submission.
package trader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rdone4425/trading-ai/internal/advisor"
	"github.com/rdone4425/trading-ai/internal/exchange"
	"github.com/rdone4425/trading-ai/internal/risk"
)

const balanceCacheTTL = 60 * time.Second

// Config holds the trader's tunables.
type Config struct {
	ConfidenceThreshold float64 // below this the advice is treated as 观望
	DefaultLeverage     int     // used when the advice carries no leverage
	AccountBalance      float64 // fallback when the live balance is unavailable
	BalanceAsset        string
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.6,
		DefaultLeverage:     10,
		AccountBalance:      10000,
		BalanceAsset:        "USDT",
	}
}

// Result reports the outcome of one execution attempt.
type Result struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	Symbol    string   `json:"symbol"`
	Direction string   `json:"direction,omitempty"`
	Quantity  float64  `json:"quantity,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`

	EntryOrder      *exchange.Order `json:"entry_order,omitempty"`
	StopOrder       *exchange.Order `json:"stop_loss_order,omitempty"`
	TakeProfitOrder *exchange.Order `json:"take_profit_order,omitempty"`
}

// activePosition is the in-memory record guarding against duplicate
// entries for a symbol.
type activePosition struct {
	Direction         string
	EntryOrderID      int64
	StopOrderID       int64
	TakeProfitOrderID int64
	Quantity          float64
	EntryTime         time.Time
}

// Trader turns analyses into protected positions.
type Trader struct {
	exch   exchange.Trading
	calc   *risk.Calculator
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	active map[string]activePosition

	balanceMu     sync.Mutex
	cachedBalance float64
	balanceTime   time.Time
}

// New builds a trader on an exchange connection.
func New(exch exchange.Trading, calc *risk.Calculator, cfg Config, logger zerolog.Logger) *Trader {
	def := DefaultConfig()
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if cfg.DefaultLeverage <= 0 {
		cfg.DefaultLeverage = def.DefaultLeverage
	}
	if cfg.AccountBalance <= 0 {
		cfg.AccountBalance = def.AccountBalance
	}
	if cfg.BalanceAsset == "" {
		cfg.BalanceAsset = def.BalanceAsset
	}
	if calc == nil {
		calc = risk.NewCalculator(risk.DefaultParams())
	}
	return &Trader{
		exch:   exch,
		calc:   calc,
		cfg:    cfg,
		logger: logger.With().Str("component", "trader").Logger(),
		active: make(map[string]activePosition),
	}
}

// ExecuteTrade opens a position from an analysis: market entry, then a
// close-position stop and target. A failed stop placement closes the
// position again so nothing runs unprotected. Symbols with an existing
// position in either the local cache or on the exchange are rejected.
func (t *Trader) ExecuteTrade(ctx context.Context, analysis *advisor.Analysis) (*Result, error) {
	symbol := analysis.Symbol

	if analysis.Action == risk.ActionWait || analysis.Confidence < t.cfg.ConfidenceThreshold {
		return &Result{
			Symbol: symbol,
			Message: fmt.Sprintf("观望建议（置信度: %.1f%% < 阈值: %.1f%%）",
				analysis.Confidence*100, t.cfg.ConfidenceThreshold*100),
		}, nil
	}

	t.mu.Lock()
	cached, inCache := t.active[symbol]
	t.mu.Unlock()
	if inCache {
		t.logger.Warn().Str("symbol", symbol).Str("direction", cached.Direction).
			Msg("本地缓存已有持仓记录，向交易所确认")
	}

	// The exchange is the source of truth. A live position rejects the
	// trade and repairs the cache; a flat exchange clears a stale entry.
	if existing, ok := t.livePosition(ctx, symbol); ok {
		t.mu.Lock()
		t.active[symbol] = activePosition{
			Direction: directionOf(existing),
			Quantity:  existing.PositionAmt,
			EntryTime: time.Now(),
		}
		t.mu.Unlock()
		return &Result{
			Symbol: symbol,
			Message: fmt.Sprintf("已有持仓: %s (数量: %v)，无法重复开仓（单向持仓模式）",
				directionOf(existing), existing.PositionAmt),
		}, nil
	}
	if inCache {
		t.logger.Debug().Str("symbol", symbol).Msg("清除过期持仓缓存")
		t.mu.Lock()
		delete(t.active, symbol)
		t.mu.Unlock()
	}

	if analysis.EntryPrice <= 0 || analysis.StopLoss <= 0 || analysis.TakeProfit <= 0 {
		return &Result{
			Symbol:  symbol,
			Message: "缺少必要的交易参数（入场价、止损价、止盈价）",
		}, nil
	}

	var side, closeSide exchange.OrderSide
	var direction string
	switch analysis.Action {
	case risk.ActionLong:
		side, closeSide, direction = exchange.OrderSideBuy, exchange.OrderSideSell, "LONG"
	case risk.ActionShort:
		side, closeSide, direction = exchange.OrderSideSell, exchange.OrderSideBuy, "SHORT"
	default:
		return &Result{Symbol: symbol, Message: "未知的交易方向: " + analysis.Action}, nil
	}

	// The stop and target must bracket the entry in the trade's
	// direction, otherwise a trigger order would fire immediately.
	ordered := analysis.StopLoss < analysis.EntryPrice && analysis.EntryPrice < analysis.TakeProfit
	rule := "做多要求 止损 < 入场价 < 止盈"
	if direction == "SHORT" {
		ordered = analysis.TakeProfit < analysis.EntryPrice && analysis.EntryPrice < analysis.StopLoss
		rule = "做空要求 止盈 < 入场价 < 止损"
	}
	if !ordered {
		return &Result{
			Symbol:  symbol,
			Message: fmt.Sprintf("价格参数不合法（%s）: 入场=%v 止损=%v 止盈=%v", rule, analysis.EntryPrice, analysis.StopLoss, analysis.TakeProfit),
		}, nil
	}

	leverage := analysis.Leverage
	if leverage <= 0 {
		leverage = t.cfg.DefaultLeverage
	}
	if err := t.exch.SetLeverage(ctx, symbol, leverage); err != nil {
		t.logger.Warn().Str("symbol", symbol).Int("leverage", leverage).Err(err).Msg("设置杠杆失败")
	}
	if err := t.exch.SetMarginType(ctx, symbol, exchange.MarginTypeIsolated); err != nil {
		t.logger.Warn().Str("symbol", symbol).Err(err).Msg("设置逐仓模式失败")
	}

	info, err := t.exch.SymbolInfo(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("trading rules for %s: %w", symbol, err)
	}

	balance := t.accountBalance(ctx)
	quantity := analysis.PositionSize
	if quantity <= 0 {
		quantity, _ = t.calc.PositionSize(balance, analysis.EntryPrice, analysis.StopLoss, leverage)
	}
	quantity = t.calc.CapQuantity(quantity, analysis.EntryPrice, analysis.StopLoss, balance, leverage)
	qtyStr := quantizeQty(quantity, info)
	if parsed, _ := decimal.NewFromString(qtyStr); parsed.IsZero() {
		return &Result{Symbol: symbol, Message: "计算出的仓位大小为0，无法执行交易"}, nil
	}

	entryOrder, err := t.exch.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Type:     exchange.OrderTypeMarket,
		Quantity: qtyStr,
	})
	if err != nil {
		return nil, fmt.Errorf("entry order %s: %w", symbol, err)
	}
	t.logger.Info().Str("symbol", symbol).Str("action", analysis.Action).
		Str("quantity", qtyStr).Msg("入场订单已提交")

	stopOrder, err := t.exch.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:        symbol,
		Side:          closeSide,
		Type:          exchange.OrderTypeStopMarket,
		StopPrice:     quantizePrice(analysis.StopLoss, info),
		ClosePosition: true,
	})
	if err != nil {
		// An unprotected position is worse than no position. Close it
		// immediately and surface the failure. closePosition is only
		// accepted on trigger orders, so the market close is reduce-only
		// with the filled quantity.
		t.logger.Error().Str("symbol", symbol).Err(err).Msg("止损订单失败，执行补偿平仓")
		if _, closeErr := t.exch.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol:     symbol,
			Side:       closeSide,
			Type:       exchange.OrderTypeMarket,
			Quantity:   quantizeQty(entryOrder.ExecutedQty, info),
			ReduceOnly: true,
		}); closeErr != nil {
			t.logger.Error().Str("symbol", symbol).Err(closeErr).Msg("补偿平仓失败，持仓无保护")
		}
		return nil, fmt.Errorf("stop loss order %s: %w", symbol, err)
	}
	t.logger.Info().Str("symbol", symbol).Float64("stop_loss", analysis.StopLoss).Msg("止损订单已设置")

	result := &Result{
		Success:    true,
		Message:    fmt.Sprintf("交易执行成功: %s %s", symbol, analysis.Action),
		Symbol:     symbol,
		Direction:  direction,
		Quantity:   entryOrder.ExecutedQty,
		EntryOrder: entryOrder,
		StopOrder:  stopOrder,
	}

	tpOrder, err := t.exch.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:        symbol,
		Side:          closeSide,
		Type:          exchange.OrderTypeTakeProfitMarket,
		StopPrice:     quantizePrice(analysis.TakeProfit, info),
		ClosePosition: true,
	})
	if err != nil {
		// The stop still protects the position, so keep it open.
		t.logger.Warn().Str("symbol", symbol).Err(err).Msg("止盈订单失败，持仓仅剩止损保护")
		result.Warnings = append(result.Warnings, "止盈订单失败: "+err.Error())
	} else {
		result.TakeProfitOrder = tpOrder
		t.logger.Info().Str("symbol", symbol).Float64("take_profit", analysis.TakeProfit).Msg("止盈订单已设置")
	}

	record := activePosition{
		Direction:    direction,
		EntryOrderID: entryOrder.OrderID,
		StopOrderID:  stopOrder.OrderID,
		Quantity:     entryOrder.ExecutedQty,
		EntryTime:    time.Now(),
	}
	if result.TakeProfitOrder != nil {
		record.TakeProfitOrderID = result.TakeProfitOrder.OrderID
	}
	t.mu.Lock()
	t.active[symbol] = record
	t.mu.Unlock()
	t.logger.Info().Str("symbol", symbol).Str("direction", direction).Msg("已记录持仓到本地缓存")

	return result, nil
}

// ClosePosition market-closes every live position on the symbol, cancels
// its protective orders and clears the cache so the symbol can trade
// again.
func (t *Trader) ClosePosition(ctx context.Context, symbol string) (*Result, error) {
	positions, err := t.exch.Positions(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("positions for %s: %w", symbol, err)
	}

	result := &Result{Symbol: symbol}
	for _, p := range positions {
		if p.Side() == 0 {
			continue
		}
		info, err := t.exch.SymbolInfo(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("trading rules for %s: %w", symbol, err)
		}
		closeSide := exchange.OrderSideSell
		qty := p.PositionAmt
		if p.Side() < 0 {
			closeSide = exchange.OrderSideBuy
			qty = -qty
		}
		order, err := t.exch.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol:     symbol,
			Side:       closeSide,
			Type:       exchange.OrderTypeMarket,
			Quantity:   quantizeQty(qty, info),
			ReduceOnly: true,
		})
		if err != nil {
			return nil, fmt.Errorf("close %s: %w", symbol, err)
		}
		result.EntryOrder = order
		result.Quantity += p.PositionAmt
		t.logger.Info().Str("symbol", symbol).Str("direction", directionOf(p)).Msg("已平仓")
	}

	t.cancelProtectiveOrders(ctx, symbol)

	t.mu.Lock()
	if _, ok := t.active[symbol]; ok {
		delete(t.active, symbol)
		t.logger.Info().Str("symbol", symbol).Msg("已清除持仓缓存，可重新开仓")
	}
	t.mu.Unlock()

	result.Success = true
	result.Message = "已平仓: " + symbol
	return result, nil
}

// cancelProtectiveOrders removes the stop and take-profit orders for a
// symbol. When the cache still holds their order IDs they are cancelled
// individually; otherwise every open order on the symbol is swept.
func (t *Trader) cancelProtectiveOrders(ctx context.Context, symbol string) {
	t.mu.Lock()
	cached, ok := t.active[symbol]
	t.mu.Unlock()

	if ok && (cached.StopOrderID != 0 || cached.TakeProfitOrderID != 0) {
		failed := false
		for _, id := range []int64{cached.StopOrderID, cached.TakeProfitOrderID} {
			if id == 0 {
				continue
			}
			if err := t.exch.CancelOrder(ctx, symbol, id); err != nil {
				t.logger.Warn().Str("symbol", symbol).Int64("order_id", id).Err(err).Msg("撤销保护单失败")
				failed = true
			}
		}
		if !failed {
			return
		}
	}
	if err := t.exch.CancelAllOrders(ctx, symbol); err != nil {
		t.logger.Warn().Str("symbol", symbol).Err(err).Msg("撤销挂单失败")
	}
}

// ActiveSymbols lists the symbols the local cache considers open.
func (t *Trader) ActiveSymbols() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.active))
	for symbol := range t.active {
		out = append(out, symbol)
	}
	return out
}

// Positions returns the exchange's live positions.
func (t *Trader) Positions(ctx context.Context) ([]exchange.Position, error) {
	return t.exch.Positions(ctx, "")
}

// livePosition asks the exchange whether the symbol already holds a
// non-dust position. Lookup failures are treated as flat so a transient
// API error cannot freeze trading.
func (t *Trader) livePosition(ctx context.Context, symbol string) (exchange.Position, bool) {
	positions, err := t.exch.Positions(ctx, symbol)
	if err != nil {
		t.logger.Warn().Str("symbol", symbol).Err(err).Msg("检查持仓失败")
		return exchange.Position{}, false
	}
	for _, p := range positions {
		if p.Symbol == symbol && p.Side() != 0 {
			return p, true
		}
	}
	return exchange.Position{}, false
}

// accountBalance fetches the live balance with a short cache, falling
// back to the configured default.
func (t *Trader) accountBalance(ctx context.Context) float64 {
	t.balanceMu.Lock()
	defer t.balanceMu.Unlock()
	if t.cachedBalance > 0 && time.Since(t.balanceTime) < balanceCacheTTL {
		return t.cachedBalance
	}
	b, err := t.exch.Balance(ctx, t.cfg.BalanceAsset)
	if err != nil || b.Balance <= 0 {
		t.logger.Warn().Err(err).Float64("fallback", t.cfg.AccountBalance).
			Msg("无法获取账户余额，使用配置默认值")
		return t.cfg.AccountBalance
	}
	t.cachedBalance = b.Balance
	t.balanceTime = time.Now()
	return b.Balance
}

func directionOf(p exchange.Position) string {
	if p.Side() < 0 {
		return "SHORT"
	}
	return "LONG"
}

// quantizeQty floors the quantity to the symbol's step size. Flooring
// never rounds an order above the intended risk.
func quantizeQty(quantity float64, info exchange.SymbolInfo) string {
	d := decimal.NewFromFloat(quantity)
	if info.StepSize > 0 {
		step := decimal.NewFromFloat(info.StepSize)
		d = d.Div(step).Floor().Mul(step)
	}
	return d.StringFixed(int32(info.QuantityPrecision))
}

// quantizePrice rounds a trigger price to the symbol's tick size.
func quantizePrice(price float64, info exchange.SymbolInfo) string {
	d := decimal.NewFromFloat(price)
	if info.TickSize > 0 {
		tick := decimal.NewFromFloat(info.TickSize)
		d = d.Div(tick).Round(0).Mul(tick)
	}
	return d.StringFixed(int32(info.PricePrecision))
}

package advisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdone4425/trading-ai/internal/ctxstore"
	"github.com/rdone4425/trading-ai/internal/exchange"
	"github.com/rdone4425/trading-ai/internal/llm"
	"github.com/rdone4425/trading-ai/internal/market"
)

type mockChat struct {
	response string
	err      error
	calls    int32

	mu         sync.Mutex
	lastSystem string
	lastUser   string
}

func (m *mockChat) CompleteText(_ context.Context, system, user string, _ llm.Options) (string, error) {
	atomic.AddInt32(&m.calls, 1)
	m.mu.Lock()
	m.lastSystem = system
	m.lastUser = user
	m.mu.Unlock()
	return m.response, m.err
}

func (m *mockChat) Model() string { return "mock-model" }

type countingBalance struct {
	balance float64
	calls   int32
}

func (c *countingBalance) Balance(_ context.Context, asset string) (exchange.Balance, error) {
	atomic.AddInt32(&c.calls, 1)
	return exchange.Balance{Asset: asset, Balance: c.balance}, nil
}

func testCandles(closePrice float64, n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{
			OpenTime: int64(i) * 3600_000,
			Open:     closePrice,
			High:     closePrice * 1.01,
			Low:      closePrice * 0.99,
			Close:    closePrice,
			Volume:   1000,
		}
	}
	return out
}

func atrSeries(value float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = value
	}
	return out
}

func newTestAnalyzer(chat ChatClient, store *ctxstore.Store, balances BalanceSource) *Analyzer {
	return NewAnalyzer(chat, NewPromptManager(""), store, balances, Config{}, zerolog.Nop())
}

func TestAnalyzeMarketJSONResponse(t *testing.T) {
	chat := &mockChat{response: "```json\n" + `{
		"symbol": "BTCUSDT",
		"trend": "上升",
		"action": "做多",
		"confidence": 0.75,
		"entry_price": 50000,
		"stop_loss": 49000,
		"take_profit": 52000,
		"reason": "均线多头排列"
	}` + "\n```"}

	a := newTestAnalyzer(chat, nil, nil)
	candles := testCandles(50000, 50)
	result := map[string][]float64{"atr": atrSeries(100, 50)}

	analysis, err := a.AnalyzeMarket(context.Background(), "BTCUSDT", candles, result, "1h")
	require.NoError(t, err)

	assert.Equal(t, "做多", analysis.Action)
	assert.Equal(t, 0.75, analysis.Confidence)
	assert.Equal(t, "上升", analysis.Trend)

	// risk overlay replaces the model's stop and target
	assert.InDelta(t, 49800, analysis.StopLoss, 1e-9)
	assert.InDelta(t, 50400, analysis.TakeProfit, 1e-9)
	assert.InDelta(t, 0.5, analysis.PositionSize, 1e-9)
	assert.Equal(t, 10, analysis.Leverage)
	assert.Equal(t, "mock-model", analysis.Provider)
	assert.NotEmpty(t, analysis.AnalyzedAt)
	assert.Contains(t, analysis.Warnings[0], "建议杠杆")
}

func TestAnalyzeMarketTextFallback(t *testing.T) {
	chat := &mockChat{response: "目前趋势强烈向上，建议做多该币种。"}

	a := newTestAnalyzer(chat, nil, nil)
	candles := testCandles(100, 10)

	analysis, err := a.AnalyzeMarket(context.Background(), "ETHUSDT", candles, nil, "1h")
	require.NoError(t, err)

	assert.Equal(t, "做多", analysis.Action)
	assert.Equal(t, 0.8, analysis.Confidence)
	assert.NotEmpty(t, analysis.Warnings)
}

func TestParseAnalysisTextKeywords(t *testing.T) {
	a := newTestAnalyzer(&mockChat{}, nil, nil)

	tests := []struct {
		response   string
		action     string
		confidence float64
	}{
		{"强烈建议做多", "做多", 0.8},
		{"建议谨慎做空", "做空", 0.3},
		{"行情不明朗，建议观望", "观望", 0.5},
		{"it looks very strong, go long", "做多", 0.8},
	}
	for _, tt := range tests {
		got := a.parseAnalysis(tt.response, "BTCUSDT", 100)
		assert.Equal(t, tt.action, got.Action, tt.response)
		assert.Equal(t, tt.confidence, got.Confidence, tt.response)
	}

	// text fallback price levels
	long := a.parseAnalysis("建议做多", "BTCUSDT", 100)
	assert.InDelta(t, 97, long.StopLoss, 1e-9)
	assert.InDelta(t, 105, long.TakeProfit, 1e-9)
	assert.InDelta(t, 97, long.Support, 1e-9)
	assert.InDelta(t, 103, long.Resistance, 1e-9)

	short := a.parseAnalysis("建议做空", "BTCUSDT", 100)
	assert.InDelta(t, 103, short.StopLoss, 1e-9)
	assert.InDelta(t, 95, short.TakeProfit, 1e-9)
}

func TestParseAnalysisJSONDefaults(t *testing.T) {
	a := newTestAnalyzer(&mockChat{}, nil, nil)

	got := a.parseAnalysis(`{"action": "做空"}`, "SOLUSDT", 200)
	assert.Equal(t, "做空", got.Action)
	assert.Equal(t, 0.5, got.Confidence)
	assert.InDelta(t, 200, got.EntryPrice, 1e-9)
	assert.InDelta(t, 190, got.StopLoss, 1e-9)
	assert.InDelta(t, 210, got.TakeProfit, 1e-9)
	assert.InDelta(t, 194, got.Support, 1e-9)
	assert.InDelta(t, 206, got.Resistance, 1e-9)
}

func TestWaitSkipsRiskOverlay(t *testing.T) {
	chat := &mockChat{response: `{"action": "观望", "confidence": 0.9, "reason": "信号矛盾"}`}
	a := newTestAnalyzer(chat, nil, nil)

	analysis, err := a.AnalyzeMarket(context.Background(), "BTCUSDT", testCandles(50000, 20), nil, "4h")
	require.NoError(t, err)
	assert.Equal(t, "观望", analysis.Action)
	assert.Zero(t, analysis.Leverage)
	assert.Zero(t, analysis.PositionSize)
}

func TestMissingATRUsesEstimate(t *testing.T) {
	chat := &mockChat{response: `{"action": "做多", "entry_price": 1000}`}
	a := newTestAnalyzer(chat, nil, nil)

	analysis, err := a.AnalyzeMarket(context.Background(), "BNBUSDT", testCandles(1000, 10), nil, "1h")
	require.NoError(t, err)

	// ATR estimated as 2% of entry: stop 2 ATR away = 4% below entry
	assert.InDelta(t, 960, analysis.StopLoss, 1e-9)
	assert.InDelta(t, 1080, analysis.TakeProfit, 1e-9)
}

func TestBalanceCache(t *testing.T) {
	source := &countingBalance{balance: 5000}
	chat := &mockChat{response: `{"action": "做多"}`}
	a := newTestAnalyzer(chat, nil, source)

	ctx := context.Background()
	assert.Equal(t, 5000.0, a.accountBalance(ctx))
	assert.Equal(t, 5000.0, a.accountBalance(ctx))
	assert.Equal(t, 5000.0, a.accountBalance(ctx))
	assert.EqualValues(t, 1, atomic.LoadInt32(&source.calls))
}

func TestReviewInsightsInPrompt(t *testing.T) {
	store, err := ctxstore.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.AddReview(ctxstore.Review{
		Symbol:       "BTCUSDT",
		Lessons:      []string{"不要逆势开单"},
		Improvements: []string{"突破后等待回踩确认再入场"},
		Weaknesses:   []string{"过早止盈"},
	}))
	require.NoError(t, store.AddStrategy(ctxstore.Strategy{
		Version: "1.0.0",
		Rules:   []string{"严格执行止损"},
	}))

	chat := &mockChat{response: `{"action": "观望"}`}
	a := newTestAnalyzer(chat, store, nil)

	_, err = a.AnalyzeMarket(context.Background(), "BTCUSDT", testCandles(50000, 20), nil, "1h")
	require.NoError(t, err)

	assert.Contains(t, chat.lastUser, "不要逆势开单")
	assert.Contains(t, chat.lastUser, "突破后等待回踩确认再入场")
	assert.Contains(t, chat.lastUser, "过早止盈")
	assert.Contains(t, chat.lastUser, "严格执行止损")
}

func TestFormatIndicators(t *testing.T) {
	nan := func() float64 { var f float64; return f / f }

	text := formatIndicators(map[string][]float64{
		"rsi":   {nan(), 65.4321},
		"ema_5": {nan(), nan()},
	})
	assert.Contains(t, text, "rsi: 65.4321")
	assert.Contains(t, text, "部分指标无效")
	assert.NotContains(t, text, "ema_5:")

	assert.Contains(t, formatIndicators(nil), "无技术指标数据")
	assert.Contains(t, formatIndicators(map[string][]float64{"rsi": {nan()}}), "所有技术指标数据无效")
}

func TestAnalyzeBatch(t *testing.T) {
	chat := &mockChat{response: `{"action": "观望", "confidence": 0.5}`}
	a := newTestAnalyzer(chat, nil, nil)

	items := []BatchItem{
		{Symbol: "BTCUSDT", Candles: testCandles(50000, 30)},
		{Symbol: "ETHUSDT", Candles: testCandles(3000, 30)},
		{Symbol: "EMPTY"},
	}
	results := a.AnalyzeBatch(context.Background(), items, "1h")

	// the empty-candle item fails, the rest succeed in input order
	require.Len(t, results, 2)
	assert.Equal(t, "BTCUSDT", results[0].Symbol)
	assert.Equal(t, "ETHUSDT", results[1].Symbol)
	assert.EqualValues(t, 2, atomic.LoadInt32(&chat.calls))
}

func TestDeriveLearningTopic(t *testing.T) {
	assert.Equal(t, "震荡行情的识别与应对", DeriveLearningTopic(nil))
	assert.Equal(t, "震荡行情的识别与应对", DeriveLearningTopic([]*Analysis{{Action: "观望"}}))
	assert.Equal(t, "如何提高入场信号的确认度", DeriveLearningTopic([]*Analysis{{Action: "做多", Confidence: 0.5}}))
	assert.Equal(t, "趋势行情中的仓位管理", DeriveLearningTopic([]*Analysis{{Action: "做多", Confidence: 0.9}}))
}

func TestProvideLearningStoresResult(t *testing.T) {
	store, err := ctxstore.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	chat := &mockChat{response: "EMA 是指数移动平均线，对近期价格反应更灵敏。"}
	a := newTestAnalyzer(chat, store, nil)

	result, err := a.ProvideLearning(context.Background(), "EMA指标", "", []string{"EMA和MA的区别？"}, "")
	require.NoError(t, err)
	assert.Equal(t, "EMA指标", result.Topic)
	assert.Equal(t, "初级", result.Level)
	assert.Contains(t, chat.lastUser, "EMA和MA的区别？")

	learnings, err := store.Learnings()
	require.NoError(t, err)
	require.Len(t, learnings, 1)
	assert.Equal(t, "EMA指标", learnings[0].Topic)
}

func TestReviewTradeFlow(t *testing.T) {
	store, err := ctxstore.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	chat := &mockChat{response: "```json\n" + `{
		"overall_rating": "良好",
		"decision_quality": {"score": 8, "comment": "信号明确"},
		"weaknesses": ["仓位偏重影响心态"],
		"lessons_learned": ["不要在阻力位附近追多"],
		"improvements": ["入场前确认成交量配合", "止盈分批离场"],
		"summary": "整体执行尚可"
	}` + "\n```"}
	a := newTestAnalyzer(chat, store, nil)

	trade := TradeRecord{
		Symbol: "BTCUSDT", OrderID: 42, Direction: "做多",
		EntryPrice: 50000, ExitPrice: 50500, ProfitLoss: 250, ProfitLossPct: 1.0,
	}
	result, err := a.ReviewTrade(context.Background(), trade)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "良好", result.OverallRating)
	assert.Equal(t, 8, result.DecisionQuality.Score)

	// persisted and registered
	reviews, err := store.Reviews()
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.True(t, store.IsReviewed(ReviewKey("BTCUSDT", 42)))

	// strategy revision derived from the review
	strategies, err := store.Strategies()
	require.NoError(t, err)
	require.Len(t, strategies, 1)
	assert.Equal(t, "1.0.0", strategies[0].Version)
	assert.Contains(t, strategies[0].Entry, "入场前确认成交量配合")
	assert.Contains(t, strategies[0].Exit, "止盈分批离场")
	assert.Contains(t, strategies[0].Rules, "不要在阻力位附近追多")
	assert.Contains(t, strategies[0].Rules, "避免: 仓位偏重影响心态")

	// second review of the same trade is skipped
	again, err := a.ReviewTrade(context.Background(), trade)
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.EqualValues(t, 1, atomic.LoadInt32(&chat.calls))
}

func TestStrategyVersionBumps(t *testing.T) {
	store, err := ctxstore.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	a := newTestAnalyzer(&mockChat{}, store, nil)

	a.OptimizeStrategy(&ReviewResult{LessonsLearned: []string{"严格按计划执行交易"}})
	a.OptimizeStrategy(&ReviewResult{Improvements: []string{"突破入场需放量确认"}})

	strategies, err := store.Strategies()
	require.NoError(t, err)
	require.Len(t, strategies, 2)
	assert.Equal(t, "1.0.0", strategies[0].Version)
	assert.Equal(t, "1.1.0", strategies[1].Version)
}

func TestStrategyNameCarriesTimestamp(t *testing.T) {
	store, err := ctxstore.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	a := newTestAnalyzer(&mockChat{}, store, nil)

	a.OptimizeStrategy(&ReviewResult{LessonsLearned: []string{"严格按计划执行交易"}})

	latest, ok, err := store.LatestStrategy()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Regexp(t, `^优化策略_\d{4}_\d{4}$`, latest.Name)
}

func TestOptimizeStrategyNothingActionable(t *testing.T) {
	store, err := ctxstore.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	a := newTestAnalyzer(&mockChat{}, store, nil)

	a.OptimizeStrategy(&ReviewResult{Summary: "一切正常"})
	strategies, err := store.Strategies()
	require.NoError(t, err)
	assert.Empty(t, strategies)
}

func TestReviewKeyFormat(t *testing.T) {
	assert.Equal(t, "BTCUSDT|12345", ReviewKey("BTCUSDT", 12345))
	assert.Equal(t, fmt.Sprintf("ETHUSDT|%d", int64(9)), ReviewKey("ETHUSDT", 9))
}

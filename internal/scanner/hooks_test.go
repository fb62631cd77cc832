package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdone4425/trading-ai/internal/advisor"
	"github.com/rdone4425/trading-ai/internal/exchange"
)

func TestPairTradesLong(t *testing.T) {
	fills := []exchange.AccountTrade{
		{Symbol: "BTCUSDT", OrderID: 7, Buyer: true, Price: 100, Qty: 1, Commission: 0.1, PositionSide: "LONG", Time: 1_700_000_000_000},
		{Symbol: "BTCUSDT", OrderID: 7, Buyer: true, Price: 110, Qty: 1, Commission: 0.1, PositionSide: "LONG", Time: 1_700_000_060_000},
		{Symbol: "BTCUSDT", OrderID: 7, Buyer: false, Price: 120, Qty: 2, Commission: 0.1, PositionSide: "LONG", Time: 1_700_007_200_000},
	}

	trades := PairTrades(fills)
	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, "BTCUSDT", tr.Symbol)
	assert.Equal(t, int64(7), tr.OrderID)
	assert.Equal(t, "做多", tr.Direction)
	assert.Equal(t, 105.0, tr.EntryPrice)
	assert.Equal(t, 120.0, tr.ExitPrice)
	// (120-105)*2 minus 0.3 in fees
	assert.InDelta(t, 29.7, tr.ProfitLoss, 1e-9)
	assert.InDelta(t, 14.2857, tr.ProfitLossPct, 0.001)
	assert.Equal(t, "2.0小时", tr.Duration)
	// estimated protective levels
	assert.InDelta(t, 105*0.95, tr.StopLoss, 1e-9)
	assert.InDelta(t, 105*1.05, tr.TakeProfit, 1e-9)
}

func TestPairTradesShort(t *testing.T) {
	fills := []exchange.AccountTrade{
		{Symbol: "ETHUSDT", OrderID: 9, Buyer: false, Price: 100, Qty: 3, Commission: 0.2, PositionSide: "SHORT", Time: 1_700_000_000_000},
		{Symbol: "ETHUSDT", OrderID: 9, Buyer: true, Price: 90, Qty: 3, Commission: 0.1, PositionSide: "SHORT", Time: 1_700_090_000_000},
	}

	trades := PairTrades(fills)
	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, "做空", tr.Direction)
	assert.Equal(t, 90.0, tr.EntryPrice)
	assert.Equal(t, 100.0, tr.ExitPrice)
	// short pnl is entry minus exit on the buy quantity
	assert.InDelta(t, (90.0-100.0)*3-0.3, tr.ProfitLoss, 1e-9)
	assert.Equal(t, "1.0天", tr.Duration)
	assert.InDelta(t, 90*1.05, tr.StopLoss, 1e-9)
}

func TestPairTradesDropsIncompleteGroups(t *testing.T) {
	fills := []exchange.AccountTrade{
		// single fill
		{Symbol: "AUSDT", OrderID: 1, Buyer: true, Price: 10, Qty: 1, Time: 1},
		// buys only
		{Symbol: "BUSDT", OrderID: 2, Buyer: true, Price: 10, Qty: 1, Time: 1},
		{Symbol: "BUSDT", OrderID: 2, Buyer: true, Price: 11, Qty: 1, Time: 2},
	}
	assert.Empty(t, PairTrades(fills))
}

func TestPairTradesNewestFirst(t *testing.T) {
	fills := []exchange.AccountTrade{
		{Symbol: "AUSDT", OrderID: 1, Buyer: true, Price: 10, Qty: 1, Time: 1_700_000_000_000},
		{Symbol: "AUSDT", OrderID: 1, Buyer: false, Price: 11, Qty: 1, Time: 1_700_000_100_000},
		{Symbol: "BUSDT", OrderID: 2, Buyer: true, Price: 10, Qty: 1, Time: 1_700_500_000_000},
		{Symbol: "BUSDT", OrderID: 2, Buyer: false, Price: 11, Qty: 1, Time: 1_700_500_100_000},
	}
	trades := PairTrades(fills)
	require.Len(t, trades, 2)
	assert.Equal(t, "BUSDT", trades[0].Symbol)
	assert.Equal(t, "AUSDT", trades[1].Symbol)
}

func TestLearningTopics(t *testing.T) {
	analyses := []*advisor.Analysis{
		{Action: "做多", Confidence: 0.8, Reason: "EMA金叉，RSI回升"},
		{Action: "做多", Confidence: 0.7, Reason: "MACD柱状图转正"},
		{Action: "观望", Confidence: 0.5},
	}
	topics := LearningTopics(analyses, nil)
	require.Len(t, topics, 2)
	assert.Contains(t, topics[0], "技术指标实战")
	assert.Contains(t, topics[0], "RSI")
	assert.Contains(t, topics[0], "MACD")
	assert.Equal(t, "交易信号判断：如何识别做多机会", topics[1])
}

func TestLearningTopicsFallback(t *testing.T) {
	analyses := []*advisor.Analysis{
		{Action: "观望", Confidence: 0.5},
		{Action: "观望", Confidence: 0.4},
	}
	topics := LearningTopics(analyses, nil)
	require.Len(t, topics, 1)
	assert.Equal(t, "震荡行情的识别与应对", topics[0])
}

func TestLearningTopicsConfiguredFallback(t *testing.T) {
	analyses := []*advisor.Analysis{
		{Action: "观望", Confidence: 0.5},
	}
	topics := LearningTopics(analyses, []string{"资金管理", "趋势跟踪", "套利"})
	require.Len(t, topics, 2)
	assert.Equal(t, "资金管理", topics[0])
	assert.Equal(t, "趋势跟踪", topics[1])
}

func TestLearningTopicsIgnoresConfiguredWhenDerived(t *testing.T) {
	analyses := []*advisor.Analysis{
		{Action: "做空", Confidence: 0.8, Reason: "RSI超买"},
	}
	topics := LearningTopics(analyses, []string{"资金管理"})
	require.Len(t, topics, 2)
	assert.Contains(t, topics[0], "RSI")
	assert.NotContains(t, topics, "资金管理")
}

package scanner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rdone4425/trading-ai/internal/advisor"
	"github.com/rdone4425/trading-ai/internal/exchange"
	"github.com/rdone4425/trading-ai/internal/timeutil"
)

const maxReviewsPerScan = 5

// postScan runs the learning and review hooks after a completed batch.
func (s *Scanner) postScan(ctx context.Context, analyses []*advisor.Analysis) {
	if len(analyses) == 0 {
		return
	}
	if s.cfg.AutoLearning {
		s.learnFromScan(ctx, analyses)
	}
	if s.cfg.AutoReview {
		s.reviewHistory(ctx, analyses)
	}
}

// learnFromScan distills the batch into at most two learning topics and
// runs a tutoring session for each.
func (s *Scanner) learnFromScan(ctx context.Context, analyses []*advisor.Analysis) {
	topics := LearningTopics(analyses, s.cfg.LearningTopics)
	for _, topic := range topics {
		_, err := s.analyzer.ProvideLearning(ctx, topic, "中级", []string{
			"如何在实际交易中应用这个策略？",
			"有哪些需要注意的风险点？",
			"如何与本次分析结果结合？",
		}, "提升分析准确性和交易判断能力")
		if err != nil {
			s.logger.Warn().Str("topic", topic).Err(err).Msg("学习主题失败")
		}
	}
}

// indicatorKeywords are the names we look for in analysis reasoning.
var indicatorKeywords = []string{"EMA", "MA", "RSI", "MACD", "KDJ", "BOLL", "ATR"}

// LearningTopics derives up to two topics from a scan: the indicators
// the model reasoned with and the dominant non-wait signal. When
// nothing can be derived the configured topics apply, then a topic
// picked from the batch's overall shape.
func LearningTopics(analyses []*advisor.Analysis, configured []string) []string {
	used := make(map[string]bool)
	actions := make(map[string]int)
	for _, a := range analyses {
		upper := strings.ToUpper(a.Reason)
		for _, kw := range indicatorKeywords {
			if strings.Contains(upper, kw) {
				used[kw] = true
			}
		}
		actions[a.Action]++
	}

	var topics []string
	if len(used) > 0 {
		names := make([]string, 0, len(used))
		for kw := range used {
			names = append(names, kw)
		}
		sort.Strings(names)
		topics = append(topics, "技术指标实战："+strings.Join(names, ", "))
	}

	dominant, count := "", 0
	for action, n := range actions {
		if n > count {
			dominant, count = action, n
		}
	}
	if dominant != "" && dominant != "观望" {
		topics = append(topics, fmt.Sprintf("交易信号判断：如何识别%s机会", dominant))
	}

	if len(topics) == 0 {
		topics = append(topics, configured...)
	}
	if len(topics) == 0 {
		topics = append(topics, advisor.DeriveLearningTopic(analyses))
	}
	if len(topics) > 2 {
		topics = topics[:2]
	}
	return topics
}

// reviewHistory pulls the last day's fills for the scanned symbols,
// pairs them into complete trades and reviews the most recent ones.
// Already-reviewed trades are skipped inside the advisor.
func (s *Scanner) reviewHistory(ctx context.Context, analyses []*advisor.Analysis) {
	since := timeutil.ToMillis(timeutil.NowShanghai().Add(-24 * time.Hour))

	var fills []exchange.AccountTrade
	for _, a := range analyses {
		fills = append(fills, s.exch.UserTrades(ctx, a.Symbol, since, 100)...)
	}
	if len(fills) == 0 {
		return
	}

	trades := PairTrades(fills)
	if len(trades) == 0 {
		s.logger.Info().Msg("无完整交易可复盘")
		return
	}
	if len(trades) > maxReviewsPerScan {
		trades = trades[:maxReviewsPerScan]
	}
	s.logger.Info().Int("trades", len(trades)).Msg("开始复盘历史交易")

	for _, trade := range trades {
		review, err := s.analyzer.ReviewTrade(ctx, trade)
		if err != nil {
			s.logger.Warn().Str("symbol", trade.Symbol).Err(err).Msg("复盘失败")
			continue
		}
		// nil review means the trade was already reviewed
		if review != nil && s.onReview != nil {
			s.onReview(trade)
		}
	}
}

// PairTrades groups fills by symbol and order, matches buys against
// sells and produces complete round-trip trades, newest first. Groups
// missing either side are dropped.
func PairTrades(fills []exchange.AccountTrade) []advisor.TradeRecord {
	groups := make(map[string][]exchange.AccountTrade)
	var order []string
	for _, f := range fills {
		key := advisor.ReviewKey(f.Symbol, f.OrderID)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], f)
	}

	var trades []advisor.TradeRecord
	for _, key := range order {
		group := groups[key]
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].Time < group[j].Time })

		var buys, sells []exchange.AccountTrade
		for _, f := range group {
			if f.Buyer {
				buys = append(buys, f)
			} else {
				sells = append(sells, f)
			}
		}
		if len(buys) == 0 || len(sells) == 0 {
			continue
		}

		entryPrice := vwap(buys)
		exitPrice := vwap(sells)
		entryTime := buys[0].Time
		exitTime := sells[len(sells)-1].Time
		for _, f := range buys {
			if f.Time < entryTime {
				entryTime = f.Time
			}
		}
		for _, f := range sells {
			if f.Time > exitTime {
				exitTime = f.Time
			}
		}

		var quantity, totalFee float64
		for _, f := range buys {
			quantity += f.Qty
		}
		for _, f := range group {
			totalFee += f.Commission
		}

		direction := "做多"
		side := buys[0].PositionSide
		if side != "LONG" && side != "BOTH" && side != "" {
			direction = "做空"
		}

		var pnl, pnlPct float64
		if direction == "做多" {
			pnl = (exitPrice-entryPrice)*quantity - totalFee
			if entryPrice > 0 {
				pnlPct = (exitPrice/entryPrice - 1) * 100
			}
		} else {
			pnl = (entryPrice-exitPrice)*quantity - totalFee
			if exitPrice > 0 {
				pnlPct = (entryPrice/exitPrice - 1) * 100
			}
		}

		stopLoss, takeProfit := entryPrice*0.95, entryPrice*1.05
		if direction == "做空" {
			stopLoss, takeProfit = entryPrice*1.05, entryPrice*0.95
		}

		hours := float64(exitTime-entryTime) / 1000 / 3600
		duration := fmt.Sprintf("%.1f小时", hours)
		if hours >= 24 {
			duration = fmt.Sprintf("%.1f天", hours/24)
		}

		trades = append(trades, advisor.TradeRecord{
			Symbol:        group[0].Symbol,
			OrderID:       group[0].OrderID,
			Direction:     direction,
			TradeTime:     timeutil.FromTimestamp(entryTime).Format("2006-01-02 15:04:05"),
			Duration:      duration,
			EntryPrice:    entryPrice,
			ExitPrice:     exitPrice,
			StopLoss:      stopLoss,
			TakeProfit:    takeProfit,
			ProfitLoss:    pnl,
			ProfitLossPct: pnlPct,
			Reasoning:     "从交易所获取的历史交易",
			ExitReason:    "平仓",
		})
	}

	sort.SliceStable(trades, func(i, j int) bool { return trades[i].TradeTime > trades[j].TradeTime })
	return trades
}

func vwap(fills []exchange.AccountTrade) float64 {
	var notional, qty float64
	for _, f := range fills {
		notional += f.Price * f.Qty
		qty += f.Qty
	}
	if qty == 0 {
		return 0
	}
	return notional / qty
}

// Package advisor turns candles and indicators into structured trading
// advice via an LLM, and closes the loop with learning sessions, trade
// reviews and strategy revisions accumulated in the context store.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rdone4425/trading-ai/internal/ctxstore"
	"github.com/rdone4425/trading-ai/internal/format"
	"github.com/rdone4425/trading-ai/internal/indicators"
	"github.com/rdone4425/trading-ai/internal/llm"
	"github.com/rdone4425/trading-ai/internal/market"
	"github.com/rdone4425/trading-ai/internal/risk"
	"github.com/rdone4425/trading-ai/internal/timeutil"
)

// balanceCacheTTL limits balance API calls during a scan batch.
const balanceCacheTTL = 60 * time.Second

// Config tunes the analyzer.
type Config struct {
	MaxConcurrent  int
	AccountBalance float64 // fallback when no live balance source
	BalanceAsset   string
	RiskParams     risk.Params
}

// Analyzer runs LLM-backed market analysis.
type Analyzer struct {
	chat     ChatClient
	prompts  *PromptManager
	store    *ctxstore.Store
	calc     *risk.Calculator
	balances BalanceSource
	cfg      Config
	logger   zerolog.Logger

	balanceMu     sync.Mutex
	cachedBalance float64
	balanceTime   time.Time
}

// NewAnalyzer wires the analyzer. balances may be nil, in which case
// the configured account balance is used for risk sizing.
func NewAnalyzer(chat ChatClient, prompts *PromptManager, store *ctxstore.Store, balances BalanceSource, cfg Config, logger zerolog.Logger) *Analyzer {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.AccountBalance <= 0 {
		cfg.AccountBalance = 10000
	}
	if cfg.BalanceAsset == "" {
		cfg.BalanceAsset = "USDT"
	}
	return &Analyzer{
		chat:     chat,
		prompts:  prompts,
		store:    store,
		calc:     risk.NewCalculator(cfg.RiskParams),
		balances: balances,
		cfg:      cfg,
		logger:   logger.With().Str("component", "advisor").Logger(),
	}
}

// AnalyzeMarket analyzes one symbol from its candles and computed
// indicator series.
func (a *Analyzer) AnalyzeMarket(ctx context.Context, symbol string, candles []market.Candle, result map[string][]float64, timeframe string) (*Analysis, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles for %s", symbol)
	}

	validCount := indicators.ValidCount(result)
	if validCount == 0 {
		a.logger.Warn().Str("symbol", symbol).Msg("无有效技术指标，分析可靠性受限")
	} else if validCount < len(result) {
		a.logger.Warn().Str("symbol", symbol).
			Int("valid", validCount).Int("total", len(result)).
			Msg("部分技术指标无效")
	}

	data := a.prepareData(symbol, candles, result, timeframe)
	if insights := a.reviewInsights(); insights != "" {
		data["review_insights"] = "\n**复盘经验和优化策略（请严格按照执行）：**\n" + insights
	} else {
		data["review_insights"] = ""
	}

	system, err := a.prompts.System(PromptAnalysis)
	if err != nil {
		return nil, err
	}
	user, err := a.prompts.User(PromptAnalysis, data)
	if err != nil {
		return nil, err
	}
	promptCfg := a.prompts.Config(PromptAnalysis)

	a.logger.Info().Str("symbol", symbol).Str("model", a.chat.Model()).Msg("开始AI分析")
	response, err := a.chat.CompleteText(ctx, system, user, llm.Options{
		Temperature: promptCfg.Temperature,
		MaxTokens:   promptCfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", symbol, err)
	}

	currentPrice := candles[len(candles)-1].Close
	analysis := a.parseAnalysis(response, symbol, currentPrice)
	analysis.Timeframe = timeframe

	if analysis.Action != risk.ActionWait {
		a.applyRisk(ctx, analysis, result)
	}

	analysis.Provider = a.chat.Model()
	analysis.AnalyzedAt = timeutil.NowShanghai().Format("2006-01-02 15:04:05")

	a.logger.Info().Str("symbol", symbol).Str("action", analysis.Action).
		Float64("confidence", analysis.Confidence).Msg("分析完成")
	return analysis, nil
}

// prepareData builds the template fill for the analysis prompt.
func (a *Analyzer) prepareData(symbol string, candles []market.Candle, result map[string][]float64, timeframe string) map[string]string {
	latest := candles[len(candles)-1]

	changePct := 0.0
	if len(candles) > 1 && candles[len(candles)-2].Close != 0 {
		prev := candles[len(candles)-2].Close
		changePct = (latest.Close - prev) / prev * 100
	}

	return map[string]string{
		"symbol":        symbol,
		"timeframe":     timeframe,
		"current_price": format.Price(latest.Close),
		"change_24h":    format.Percent(changePct, true),
		"volume_24h":    format.Volume(latest.Volume),
		"open":          format.Price(latest.Open),
		"high":          format.Price(latest.High),
		"low":           format.Price(latest.Low),
		"close":         format.Price(latest.Close),
		"indicators":    formatIndicators(result),
	}
}

// formatIndicators renders the latest valid value of every series,
// flagging invalid ones so the model knows the data is thin.
func formatIndicators(result map[string][]float64) string {
	if len(result) == 0 {
		return "系统检测：无技术指标数据"
	}

	latest := indicators.LatestValues(result)
	if len(latest) == 0 {
		return "系统检测：所有技术指标数据无效（K线数据可能不足）"
	}

	names := make([]string, 0, len(latest))
	for name := range latest {
		names = append(names, name)
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("- %s: %s", name, format.Smart(latest[name])))
	}

	if len(latest) < len(result) {
		header := fmt.Sprintf("系统检测：部分指标无效（有效: %d/%d）", len(latest), len(result))
		return header + "\n" + strings.Join(lines, "\n")
	}
	return strings.Join(lines, "\n")
}

// reviewInsights assembles accumulated learnings, review lessons and
// strategy revisions into prompt context.
func (a *Analyzer) reviewInsights() string {
	if a.store == nil {
		return ""
	}
	var lines []string

	// recent learnings, at most two shown
	if learnings, err := a.store.Learnings(); err == nil && len(learnings) > 0 {
		recent := tail(learnings, 3)
		var shown []ctxstore.Learning
		for _, l := range recent {
			if len(l.Content) >= 50 {
				shown = append(shown, l)
			}
		}
		if len(shown) > 2 {
			shown = shown[:2]
		}
		if len(shown) > 0 {
			lines = append(lines, "历史学习知识（理论指导）：")
			for _, l := range shown {
				summary := strings.ReplaceAll(l.Content, "\n", " ")
				if runes := []rune(summary); len(runes) > 200 {
					summary = string(runes[:200])
				}
				lines = append(lines, fmt.Sprintf("  【%s】", l.Topic), "  "+summary+"...")
			}
			lines = append(lines, "")
		}
	}

	// lessons from the last five reviews, deduplicated
	if reviews, err := a.store.Reviews(); err == nil && len(reviews) > 0 {
		var lessons, improvements, weaknesses []string
		for _, r := range tail(reviews, 5) {
			lessons = append(lessons, r.Lessons...)
			improvements = append(improvements, r.Improvements...)
			weaknesses = append(weaknesses, r.Weaknesses...)
		}
		if items := dedup(lessons, 5); len(items) > 0 {
			lines = append(lines, "历史复盘经验教训：")
			for _, item := range items {
				lines = append(lines, "  - "+item)
			}
			lines = append(lines, "")
		}
		if items := dedup(improvements, 5); len(items) > 0 {
			lines = append(lines, "改进建议（应用于当前分析）：")
			for _, item := range items {
				lines = append(lines, "  - "+item)
			}
			lines = append(lines, "")
		}
		if items := dedup(weaknesses, 3); len(items) > 0 {
			lines = append(lines, "需要避免的问题：")
			for _, item := range items {
				lines = append(lines, "  - "+item)
			}
			lines = append(lines, "")
		}
	}

	// latest strategy revisions
	if strategies, err := a.store.Strategies(); err == nil && len(strategies) > 0 {
		lines = append(lines, "优化后的交易策略（请严格按照执行）：")
		for _, st := range tail(strategies, 3) {
			lines = append(lines, fmt.Sprintf("\n  【策略 v%s】", st.Version))
			if len(st.Rules) > 0 {
				lines = append(lines, "  核心规则：")
				for _, rule := range head(st.Rules, 3) {
					lines = append(lines, "    - "+rule)
				}
			}
			if len(st.Entry) > 0 {
				lines = append(lines, "  入场条件：")
				for _, cond := range head(st.Entry, 3) {
					lines = append(lines, "    - "+cond)
				}
			}
			if len(st.Exit) > 0 {
				lines = append(lines, "  出场规则：")
				for _, rule := range head(st.Exit, 2) {
					lines = append(lines, "    - "+rule)
				}
			}
		}
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n")
}

// parseAnalysis decodes the model reply, JSON first with a keyword
// fallback for free-text replies.
func (a *Analyzer) parseAnalysis(response, symbol string, currentPrice float64) *Analysis {
	if strings.Contains(response, "{") && strings.Contains(response, "}") {
		body := llm.ExtractJSON(response)
		if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
			body = body[start : end+1]
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(body), &raw); err == nil {
			return &Analysis{
				Symbol:          stringOr(raw["symbol"], symbol),
				Trend:           stringOr(raw["trend"], "未知"),
				Action:          stringOr(raw["action"], risk.ActionWait),
				Confidence:      floatOr(raw["confidence"], 0.5),
				EntryPrice:      floatOr(raw["entry_price"], currentPrice),
				StopLoss:        floatOr(raw["stop_loss"], currentPrice*0.95),
				TakeProfit:      floatOr(raw["take_profit"], currentPrice*1.05),
				Support:         floatOr(raw["support"], currentPrice*0.97),
				Resistance:      floatOr(raw["resistance"], currentPrice*1.03),
				RiskRewardRatio: stringOr(raw["risk_reward_ratio"], "N/A"),
				Reason:          stringOr(raw["reason"], ""),
				Warnings:        stringsOf(raw["warnings"]),
			}
		}
		a.logger.Debug().Str("symbol", symbol).Msg("JSON解析失败，使用文本解析")
	}

	lower := strings.ToLower(response)
	action := risk.ActionWait
	if containsAny(lower, "买入", "buy", "做多", "long") {
		action = risk.ActionLong
	} else if containsAny(lower, "卖出", "sell", "做空", "short") {
		action = risk.ActionShort
	}

	confidence := 0.5
	if containsAny(lower, "强烈", "高度", "very", "strong") {
		confidence = 0.8
	} else if containsAny(lower, "谨慎", "低", "weak") {
		confidence = 0.3
	}

	stopLoss := currentPrice * 1.03
	takeProfit := currentPrice * 0.95
	if action == risk.ActionLong {
		stopLoss = currentPrice * 0.97
		takeProfit = currentPrice * 1.05
	}

	return &Analysis{
		Symbol:          symbol,
		Trend:           "未知",
		Action:          action,
		Confidence:      confidence,
		EntryPrice:      currentPrice,
		StopLoss:        stopLoss,
		TakeProfit:      takeProfit,
		Support:         currentPrice * 0.97,
		Resistance:      currentPrice * 1.03,
		RiskRewardRatio: "N/A",
		Reason:          response,
		Warnings:        []string{"AI 响应未使用 JSON 格式，解析可能不准确"},
	}
}

// applyRisk replaces the model's stop, target and sizing with the
// calculator's ATR-based values. The model proposes, risk disposes.
func (a *Analyzer) applyRisk(ctx context.Context, analysis *Analysis, result map[string][]float64) {
	entry := analysis.EntryPrice
	atr := 0.0
	if series, ok := result["atr"]; ok {
		if v, valid := indicators.LatestValid(series); valid {
			atr = v
		}
	}
	if atr <= 0 {
		atr = entry * 0.02
		a.logger.Debug().Float64("atr", atr).Msg("未找到ATR指标，使用价格2%估算")
	}

	balance := a.accountBalance(ctx)
	metrics := a.calc.Calculate(analysis.Action, entry, atr, balance)

	analysis.StopLoss = metrics.StopLoss
	analysis.TakeProfit = metrics.TakeProfit
	analysis.Leverage = metrics.Leverage
	analysis.PositionSize = metrics.Quantity
	analysis.Notional = metrics.Notional
	analysis.RiskAmount = metrics.RiskAmount
	analysis.RiskRewardRatio = fmt.Sprintf("1:%.1f", riskRewardOf(metrics))

	warnings := []string{
		fmt.Sprintf("建议杠杆: %dx", metrics.Leverage),
		fmt.Sprintf("仓位大小: %.4f 币", metrics.Quantity),
		fmt.Sprintf("单笔风险: %.2f USDT", metrics.RiskAmount),
	}
	analysis.Warnings = append(warnings, analysis.Warnings...)
}

func riskRewardOf(m risk.Metrics) float64 {
	if m.StopDistance == 0 {
		return 0
	}
	return absFloat(m.TakeProfit-m.EntryPrice) / m.StopDistance
}

// accountBalance returns the live balance when a source is wired,
// cached for a minute, falling back to the configured value.
func (a *Analyzer) accountBalance(ctx context.Context) float64 {
	a.balanceMu.Lock()
	defer a.balanceMu.Unlock()

	if a.cachedBalance > 0 && time.Since(a.balanceTime) < balanceCacheTTL {
		return a.cachedBalance
	}
	if a.balances != nil {
		if b, err := a.balances.Balance(ctx, a.cfg.BalanceAsset); err == nil && b.Balance > 0 {
			a.cachedBalance = b.Balance
			a.balanceTime = time.Now()
			return b.Balance
		}
		a.logger.Debug().Msg("获取账户余额失败，使用配置默认值")
	}
	return a.cfg.AccountBalance
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func floatOr(v any, fallback float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%f", &f); err == nil {
			return f
		}
	}
	return fallback
}

func stringsOf(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func tail[T any](items []T, n int) []T {
	if len(items) > n {
		return items[len(items)-n:]
	}
	return items
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}

// dedup keeps first occurrences up to limit.
func dedup(items []string, limit int) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, item := range items {
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	return out
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

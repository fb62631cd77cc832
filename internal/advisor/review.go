package advisor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rdone4425/trading-ai/internal/ctxstore"
	"github.com/rdone4425/trading-ai/internal/llm"
	"github.com/rdone4425/trading-ai/internal/timeutil"
)

// ReviewKey identifies a trade for the reviewed-trades registry.
func ReviewKey(symbol string, orderID int64) string {
	return symbol + "|" + strconv.FormatInt(orderID, 10)
}

// ReviewTrade reviews one closed trade, stores the outcome and derives
// a strategy revision from its lessons. Already-reviewed trades are
// skipped.
func (a *Analyzer) ReviewTrade(ctx context.Context, trade TradeRecord) (*ReviewResult, error) {
	key := ReviewKey(trade.Symbol, trade.OrderID)
	if a.store != nil && a.store.IsReviewed(key) {
		a.logger.Debug().Str("trade", key).Msg("交易已复盘，跳过")
		return nil, nil
	}

	data := map[string]string{
		"symbol":                 trade.Symbol,
		"direction":              trade.Direction,
		"trade_time":             orDefault(trade.TradeTime),
		"duration":               orDefault(trade.Duration),
		"entry_price":            fmt.Sprintf("%.6f", trade.EntryPrice),
		"exit_price":             fmt.Sprintf("%.6f", trade.ExitPrice),
		"stop_loss":              fmt.Sprintf("%.6f", trade.StopLoss),
		"take_profit":            fmt.Sprintf("%.6f", trade.TakeProfit),
		"profit_loss":            fmt.Sprintf("%+.2f", trade.ProfitLoss),
		"profit_loss_percentage": fmt.Sprintf("%+.2f%%", trade.ProfitLossPct),
		"reasoning":              orDefault(trade.Reasoning),
		"exit_reason":            orDefault(trade.ExitReason),
	}

	system, err := a.prompts.System(PromptReview)
	if err != nil {
		return nil, err
	}
	user, err := a.prompts.User(PromptReview, data)
	if err != nil {
		return nil, err
	}
	promptCfg := a.prompts.Config(PromptReview)

	a.logger.Info().Str("symbol", trade.Symbol).Str("direction", trade.Direction).
		Float64("pnl", trade.ProfitLoss).Msg("开始交易复盘")
	response, err := a.chat.CompleteText(ctx, system, user, llm.Options{
		Temperature: promptCfg.Temperature,
		MaxTokens:   promptCfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("review %s: %w", key, err)
	}

	result := parseReview(response)
	result.ReviewedAt = timeutil.NowShanghai().Format("2006-01-02 15:04:05")
	result.Provider = a.chat.Model()

	if a.store != nil {
		err := a.store.AddReview(ctxstore.Review{
			Time:         result.ReviewedAt,
			Symbol:       trade.Symbol,
			Direction:    trade.Direction,
			EntryPrice:   trade.EntryPrice,
			ExitPrice:    trade.ExitPrice,
			Pnl:          trade.ProfitLoss,
			Summary:      result.Summary,
			Lessons:      result.LessonsLearned,
			Improvements: result.Improvements,
			Weaknesses:   result.Weaknesses,
		})
		if err != nil {
			a.logger.Warn().Err(err).Msg("复盘结果保存失败")
		}
		if err := a.store.MarkReviewed(key); err != nil {
			a.logger.Warn().Err(err).Msg("复盘登记失败")
		}
		a.OptimizeStrategy(result)
	}

	a.logger.Info().Str("rating", result.OverallRating).Msg("复盘完成")
	return result, nil
}

// parseReview decodes the review reply, degrading to a text-only
// summary when the model ignored the JSON contract.
func parseReview(response string) *ReviewResult {
	if strings.Contains(response, "{") && strings.Contains(response, "}") {
		body := llm.ExtractJSON(response)
		if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
			body = body[start : end+1]
		}
		var result ReviewResult
		if err := llm.ParseJSON(body, &result); err == nil {
			return &result
		}
	}
	return &ReviewResult{
		OverallRating: "未评分",
		Summary:       response,
	}
}

func orDefault(s string) string {
	if s == "" {
		return "未提供"
	}
	return s
}

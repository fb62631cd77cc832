package advisor

import (
	"context"

	"github.com/rdone4425/trading-ai/internal/exchange"
	"github.com/rdone4425/trading-ai/internal/llm"
)

// Analysis is the structured trading advice for one symbol.
type Analysis struct {
	Symbol          string   `json:"symbol"`
	Timeframe       string   `json:"timeframe"`
	Trend           string   `json:"trend"`
	Action          string   `json:"action"`
	Confidence      float64  `json:"confidence"`
	EntryPrice      float64  `json:"entry_price"`
	StopLoss        float64  `json:"stop_loss"`
	TakeProfit      float64  `json:"take_profit"`
	Support         float64  `json:"support"`
	Resistance      float64  `json:"resistance"`
	RiskRewardRatio string   `json:"risk_reward_ratio"`
	Reason          string   `json:"reason"`
	Warnings        []string `json:"warnings"`

	// Risk overlay, present when Action is a trade.
	Leverage     int     `json:"leverage,omitempty"`
	PositionSize float64 `json:"position_size,omitempty"`
	Notional     float64 `json:"notional,omitempty"`
	RiskAmount   float64 `json:"risk_amount,omitempty"`

	Provider   string `json:"provider"`
	AnalyzedAt string `json:"analyzed_at"`
}

// LearningResult is one completed learning session.
type LearningResult struct {
	Topic     string   `json:"topic"`
	Level     string   `json:"level"`
	Content   string   `json:"content"`
	Questions []string `json:"questions"`
	Goals     string   `json:"goals"`
	LearnedAt string   `json:"learned_at"`
	Provider  string   `json:"provider"`
}

// TradeRecord is the input to a trade review.
type TradeRecord struct {
	Symbol        string  `json:"symbol"`
	OrderID       int64   `json:"order_id"`
	Direction     string  `json:"direction"`
	TradeTime     string  `json:"trade_time"`
	Duration      string  `json:"duration"`
	EntryPrice    float64 `json:"entry_price"`
	ExitPrice     float64 `json:"exit_price"`
	StopLoss      float64 `json:"stop_loss"`
	TakeProfit    float64 `json:"take_profit"`
	ProfitLoss    float64 `json:"profit_loss"`
	ProfitLossPct float64 `json:"profit_loss_percentage"`
	Reasoning     string  `json:"reasoning"`
	ExitReason    string  `json:"exit_reason"`
}

// ReviewResult is the structured outcome of a trade review.
type ReviewResult struct {
	OverallRating    string       `json:"overall_rating"`
	DecisionQuality  ScoredAspect `json:"decision_quality"`
	ExecutionQuality ScoredAspect `json:"execution_quality"`
	RiskManagement   ScoredAspect `json:"risk_management"`
	Strengths        []string     `json:"strengths"`
	Weaknesses       []string     `json:"weaknesses"`
	LessonsLearned   []string     `json:"lessons_learned"`
	Improvements     []string     `json:"improvements"`
	Summary          string       `json:"summary"`
	ReviewedAt       string       `json:"reviewed_at"`
	Provider         string       `json:"provider"`
}

// ScoredAspect is one scored dimension of a review.
type ScoredAspect struct {
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

// ChatClient is the LLM surface the advisor needs. Satisfied by
// llm.Client.
type ChatClient interface {
	CompleteText(ctx context.Context, systemPrompt, userPrompt string, opts llm.Options) (string, error)
	Model() string
}

// BalanceSource provides the live account balance. Satisfied by the
// exchange client and mock.
type BalanceSource interface {
	Balance(ctx context.Context, asset string) (exchange.Balance, error)
}

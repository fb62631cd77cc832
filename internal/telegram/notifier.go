// Package telegram pushes trade executions and scan summaries to a
// Telegram chat. Without a bot token the notifier is a no-op, so the
// daemon wires it unconditionally.
package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/rdone4425/trading-ai/internal/advisor"
	"github.com/rdone4425/trading-ai/internal/format"
	"github.com/rdone4425/trading-ai/internal/scanner"
	"github.com/rdone4425/trading-ai/internal/trader"
)

const parseModeMarkdown = "Markdown"

// sender is the slice of the bot API the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Config holds the notifier settings.
type Config struct {
	BotToken string
	ChatID   int64
	Debug    bool
}

// Notifier sends formatted notifications to one chat.
type Notifier struct {
	api    sender
	chatID int64
	logger zerolog.Logger
}

// New creates a notifier. An empty token returns a disabled notifier
// whose methods do nothing.
func New(cfg Config, logger zerolog.Logger) (*Notifier, error) {
	n := &Notifier{
		chatID: cfg.ChatID,
		logger: logger.With().Str("component", "telegram").Logger(),
	}
	if cfg.BotToken == "" {
		n.logger.Debug().Msg("未配置 Telegram，通知已禁用")
		return n, nil
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create bot API: %w", err)
	}
	api.Debug = cfg.Debug
	n.api = api
	n.logger.Info().Str("username", api.Self.UserName).Msg("Telegram 通知已启用")
	return n, nil
}

// Enabled reports whether notifications will actually be sent.
func (n *Notifier) Enabled() bool {
	return n != nil && n.api != nil && n.chatID != 0
}

// NotifyTrade announces one executed trade.
func (n *Notifier) NotifyTrade(analysis *advisor.Analysis, result *trader.Result) {
	if !n.Enabled() || analysis == nil || result == nil || !result.Success {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*交易执行* %s\n", result.Symbol)
	fmt.Fprintf(&b, "方向: %s  数量: %v\n", result.Direction, result.Quantity)
	fmt.Fprintf(&b, "入场: %s\n", format.Price(analysis.EntryPrice))
	fmt.Fprintf(&b, "止损: %s  止盈: %s\n", format.Price(analysis.StopLoss), format.Price(analysis.TakeProfit))
	fmt.Fprintf(&b, "置信度: %s", format.Percent(analysis.Confidence*100, false))
	for _, w := range result.Warnings {
		fmt.Fprintf(&b, "\n⚠️ %s", w)
	}

	n.send(b.String())
}

// NotifyScan announces one completed scan cycle.
func (n *Notifier) NotifyScan(result *scanner.ScanResult) {
	if !n.Enabled() || result == nil {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*扫描完成* `%s`\n", result.ScanID)
	fmt.Fprintf(&b, "周期: %s  分析: %d/%d\n", result.Timeframe, result.AnalyzedCount, result.TotalSymbols)
	fmt.Fprintf(&b, "高置信度: %d\n", result.Summary.HighConfidenceCount)
	for action, count := range result.Summary.Actions {
		fmt.Fprintf(&b, "%s: %d  ", action, count)
	}
	if len(result.Summary.Top) > 0 {
		b.WriteString("\n\n*重点关注*")
		for _, top := range result.Summary.Top {
			fmt.Fprintf(&b, "\n%s %s %s @ %s",
				top.Symbol, top.Action, format.Percent(top.Confidence*100, false), format.Price(top.EntryPrice))
		}
	}

	n.send(b.String())
}

// NotifyError announces an operational failure.
func (n *Notifier) NotifyError(scope string, err error) {
	if !n.Enabled() || err == nil {
		return
	}
	n.send(fmt.Sprintf("❌ *%s*\n%s", scope, err.Error()))
}

func (n *Notifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = parseModeMarkdown
	if _, err := n.api.Send(msg); err != nil {
		n.logger.Error().Err(err).Msg("发送 Telegram 消息失败")
	}
}

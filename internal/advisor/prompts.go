package advisor

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/rs/zerolog/log"
)

// Prompt kinds.
const (
	PromptAnalysis = "analysis"
	PromptLearning = "learning"
	PromptReview   = "review"
)

// PromptConfig is the per-kind sampling configuration.
type PromptConfig struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// promptEntry is one kind inside prompts.json.
type promptEntry struct {
	System      string  `json:"system"`
	User        string  `json:"user"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// PromptManager loads prompt templates. A prompts.json file next to
// the data directory overrides the built-in defaults per kind.
type PromptManager struct {
	mu      sync.RWMutex
	entries map[string]promptEntry
}

// NewPromptManager builds a manager from the built-in prompts,
// overlaid with path if the file exists. An empty path skips the
// overlay.
func NewPromptManager(path string) *PromptManager {
	pm := &PromptManager{entries: builtinPrompts()}
	if path == "" {
		return pm
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return pm
	}
	if err != nil {
		log.Warn().Str("path", path).Err(err).Msg("提示词文件读取失败，使用内置提示词")
		return pm
	}

	var overrides map[string]promptEntry
	if err := json.Unmarshal(data, &overrides); err != nil {
		log.Warn().Str("path", path).Err(err).Msg("提示词文件格式错误，使用内置提示词")
		return pm
	}
	for kind, entry := range overrides {
		base := pm.entries[kind]
		if entry.System != "" {
			base.System = entry.System
		}
		if entry.User != "" {
			base.User = entry.User
		}
		if entry.Temperature > 0 {
			base.Temperature = entry.Temperature
		}
		if entry.MaxTokens > 0 {
			base.MaxTokens = entry.MaxTokens
		}
		pm.entries[kind] = base
	}
	log.Info().Int("kinds", len(overrides)).Msg("已加载自定义提示词")
	return pm
}

// System returns the system prompt for a kind.
func (pm *PromptManager) System(kind string) (string, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	entry, ok := pm.entries[kind]
	if !ok {
		return "", fmt.Errorf("unsupported prompt kind %q", kind)
	}
	return entry.System, nil
}

// User fills the user template for a kind with data. Placeholders with
// no matching key stay in the text unchanged, so a partially filled
// template is still visible in logs instead of failing silently.
func (pm *PromptManager) User(kind string, data map[string]string) (string, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	entry, ok := pm.entries[kind]
	if !ok {
		return "", fmt.Errorf("unsupported prompt kind %q", kind)
	}
	return fillTemplate(entry.User, data), nil
}

// Config returns the sampling configuration for a kind.
func (pm *PromptManager) Config(kind string) PromptConfig {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	entry, ok := pm.entries[kind]
	if !ok || entry.Temperature <= 0 {
		return PromptConfig{Temperature: 0.7, MaxTokens: 2000}
	}
	return PromptConfig{Temperature: entry.Temperature, MaxTokens: entry.MaxTokens}
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// fillTemplate substitutes {key} placeholders from data, leaving
// unknown keys as-is.
func fillTemplate(template string, data map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		key := match[1 : len(match)-1]
		if value, ok := data[key]; ok {
			return value
		}
		return match
	})
}

func builtinPrompts() map[string]promptEntry {
	return map[string]promptEntry{
		PromptAnalysis: {
			Temperature: 0.3,
			MaxTokens:   2000,
			System: `你是一位专业的加密货币合约交易分析师。你基于K线数据和技术指标进行分析，给出明确的交易建议。

要求：
1. 只能根据提供的数据分析，不要编造数据
2. action 只能是：做多、做空、观望 三者之一
3. 没有明确信号时选择观望，宁可错过不可做错
4. 必须以 JSON 格式输出，不要输出其他内容

输出格式：
` + "```json" + `
{
  "symbol": "交易对",
  "trend": "上升/下降/震荡",
  "action": "做多/做空/观望",
  "confidence": 0.0,
  "entry_price": 0.0,
  "stop_loss": 0.0,
  "take_profit": 0.0,
  "support": 0.0,
  "resistance": 0.0,
  "risk_reward_ratio": "1:2",
  "reason": "分析原因",
  "warnings": ["风险提示"]
}
` + "```",
			User: `请分析以下市场数据：

交易对: {symbol}
时间周期: {timeframe}
当前价格: {current_price}
最近涨跌: {change_24h}
成交量: {volume_24h}
开盘: {open} 最高: {high} 最低: {low} 收盘: {close}

技术指标：
{indicators}
{review_insights}
请给出交易建议。`,
		},
		PromptLearning: {
			Temperature: 0.7,
			MaxTokens:   3000,
			System: `你是一位经验丰富的交易导师，擅长把复杂的交易概念讲解得通俗易懂。
针对学员的水平因材施教，结合加密货币合约市场的实际案例说明。`,
			User: `学习主题: {topic}
学员水平: {level}
学习目标: {goals}

具体问题：
{questions}

请提供系统的讲解。`,
		},
		PromptReview: {
			Temperature: 0.5,
			MaxTokens:   3000,
			System: `你是一位专业的交易复盘教练。你客观分析已完成的交易，指出决策、执行和风控中的优缺点，总结可执行的改进建议。

必须以 JSON 格式输出：
` + "```json" + `
{
  "overall_rating": "优秀/良好/一般/较差",
  "decision_quality": {"score": 0, "comment": ""},
  "execution_quality": {"score": 0, "comment": ""},
  "risk_management": {"score": 0, "comment": ""},
  "strengths": [],
  "weaknesses": [],
  "lessons_learned": [],
  "improvements": [],
  "summary": ""
}
` + "```",
			User: `请复盘以下交易：

交易对: {symbol}
方向: {direction}
交易时间: {trade_time}
持仓时长: {duration}
入场价格: {entry_price}
出场价格: {exit_price}
止损价格: {stop_loss}
止盈价格: {take_profit}
盈亏金额: {profit_loss}
盈亏比例: {profit_loss_percentage}
交易依据: {reasoning}
出场原因: {exit_reason}

请给出复盘结论。`,
		},
	}
}

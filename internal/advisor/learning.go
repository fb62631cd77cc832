package advisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/rdone4425/trading-ai/internal/ctxstore"
	"github.com/rdone4425/trading-ai/internal/llm"
	"github.com/rdone4425/trading-ai/internal/timeutil"
)

// ProvideLearning asks the model for a tutoring session on a topic and
// persists the result to the context store.
func (a *Analyzer) ProvideLearning(ctx context.Context, topic, level string, questions []string, goals string) (*LearningResult, error) {
	if level == "" {
		level = "初级"
	}
	if goals == "" {
		goals = "掌握该主题的基本概念和应用"
	}
	questionText := "无"
	if len(questions) > 0 {
		questionText = strings.Join(questions, "\n")
	}

	data := map[string]string{
		"topic":     topic,
		"level":     level,
		"questions": questionText,
		"goals":     goals,
	}

	system, err := a.prompts.System(PromptLearning)
	if err != nil {
		return nil, err
	}
	user, err := a.prompts.User(PromptLearning, data)
	if err != nil {
		return nil, err
	}
	promptCfg := a.prompts.Config(PromptLearning)

	a.logger.Info().Str("topic", topic).Str("level", level).Msg("开始学习辅导")
	content, err := a.chat.CompleteText(ctx, system, user, llm.Options{
		Temperature: promptCfg.Temperature,
		MaxTokens:   promptCfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("learning session %q: %w", topic, err)
	}

	result := &LearningResult{
		Topic:     topic,
		Level:     level,
		Content:   content,
		Questions: questions,
		Goals:     goals,
		LearnedAt: timeutil.NowShanghai().Format("2006-01-02 15:04:05"),
		Provider:  a.chat.Model(),
	}

	if a.store != nil {
		err := a.store.AddLearning(ctxstore.Learning{
			Time:    result.LearnedAt,
			Topic:   topic,
			Content: content,
		})
		if err != nil {
			a.logger.Warn().Err(err).Msg("学习结果保存失败")
		}
	}
	return result, nil
}

// DeriveLearningTopic picks the next learning topic from the latest
// scan: weak confidence suggests studying the dominant signal, an
// all-wait scan suggests studying ranging markets.
func DeriveLearningTopic(analyses []*Analysis) string {
	if len(analyses) == 0 {
		return "震荡行情的识别与应对"
	}

	trades := 0
	var lowConfidence bool
	for _, a := range analyses {
		if a.Action != "观望" {
			trades++
			if a.Confidence < 0.6 {
				lowConfidence = true
			}
		}
	}
	switch {
	case trades == 0:
		return "震荡行情的识别与应对"
	case lowConfidence:
		return "如何提高入场信号的确认度"
	default:
		return "趋势行情中的仓位管理"
	}
}

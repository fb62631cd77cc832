package advisor

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/rdone4425/trading-ai/internal/ctxstore"
	"github.com/rdone4425/trading-ai/internal/timeutil"
)

// OptimizeStrategy distills a review's improvements, lessons and
// weaknesses into a new strategy revision. Points mentioning entries go
// to entry conditions, exits to exit rules, everything else to core
// rules. Reviews with nothing actionable produce no revision.
func (a *Analyzer) OptimizeStrategy(review *ReviewResult) {
	if a.store == nil || review == nil {
		return
	}

	var rules, entry, exit []string

	for _, improvement := range review.Improvements {
		if len([]rune(improvement)) < 5 {
			continue
		}
		switch classifyPoint(improvement) {
		case "entry":
			entry = append(entry, improvement)
		case "exit":
			exit = append(exit, improvement)
		default:
			rules = append(rules, improvement)
		}
	}
	for _, lesson := range review.LessonsLearned {
		if len([]rune(lesson)) >= 5 {
			rules = append(rules, lesson)
		}
	}
	for _, weakness := range review.Weaknesses {
		if len([]rune(weakness)) >= 5 {
			rules = append(rules, "避免: "+weakness)
		}
	}

	if len(rules) == 0 && len(entry) == 0 {
		return
	}

	now := timeutil.NowShanghai()
	strategy := ctxstore.Strategy{
		Name:      "优化策略_" + now.Format("0102_1504"),
		Version:   a.nextStrategyVersion(),
		CreatedAt: now.Format("2006-01-02 15:04:05"),
		Rules:     head(rules, 5),
		Entry:     head(entry, 3),
		Exit:      head(exit, 3),
		Notes:     fmt.Sprintf("基于 %s 的复盘生成", review.ReviewedAt),
	}
	if err := a.store.AddStrategy(strategy); err != nil {
		a.logger.Warn().Err(err).Msg("策略保存失败")
		return
	}
	a.logger.Info().Str("name", strategy.Name).Str("version", strategy.Version).
		Int("rules", len(strategy.Rules)).Msg("已生成优化策略")
}

// classifyPoint routes an optimization point by keyword.
func classifyPoint(content string) string {
	lower := strings.ToLower(content)
	switch {
	case containsAny(lower, "止损", "stop", "风险"):
		return "rule"
	case containsAny(lower, "入场", "entry", "买入", "卖出"):
		return "entry"
	case containsAny(lower, "出场", "exit", "止盈"):
		return "exit"
	default:
		return "rule"
	}
}

// nextStrategyVersion bumps the minor version of the latest revision.
func (a *Analyzer) nextStrategyVersion() string {
	latest, ok, err := a.store.LatestStrategy()
	if err != nil || !ok {
		return "1.0.0"
	}
	v, err := semver.NewVersion(latest.Version)
	if err != nil {
		return "1.0.0"
	}
	return v.IncMinor().String()
}

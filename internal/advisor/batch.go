package advisor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/rdone4425/trading-ai/internal/market"
)

// BatchItem is one symbol's input to a batch analysis.
type BatchItem struct {
	Symbol     string
	Candles    []market.Candle
	Indicators map[string][]float64
}

// AnalyzeBatch analyzes many symbols concurrently, bounded by the
// configured concurrency limit. Failed symbols are logged and dropped;
// result order follows input order.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, items []BatchItem, timeframe string) []*Analysis {
	if len(items) == 0 {
		return nil
	}
	a.logger.Info().Int("symbols", len(items)).
		Int("max_concurrent", a.cfg.MaxConcurrent).Msg("开始批量分析")

	sem := semaphore.NewWeighted(int64(a.cfg.MaxConcurrent))
	results := make([]*Analysis, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			a.logger.Warn().Err(err).Msg("批量分析被取消")
			break
		}
		wg.Add(1)
		go func(i int, item BatchItem) {
			defer wg.Done()
			defer sem.Release(1)

			analysis, err := a.AnalyzeMarket(ctx, item.Symbol, item.Candles, item.Indicators, timeframe)
			if err != nil {
				a.logger.Error().Str("symbol", item.Symbol).Err(err).Msg("分析失败")
				return
			}
			results[i] = analysis
		}(i, item)
	}
	wg.Wait()

	out := make([]*Analysis, 0, len(items))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	a.logger.Info().Int("succeeded", len(out)).Int("total", len(items)).Msg("批量分析完成")
	return out
}

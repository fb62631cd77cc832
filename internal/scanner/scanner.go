// Package scanner selects the symbols worth looking at, feeds them
// through the indicator engine and the advisor, and drives the
// recurring scan loop.
package scanner

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rdone4425/trading-ai/internal/advisor"
	"github.com/rdone4425/trading-ai/internal/exchange"
	"github.com/rdone4425/trading-ai/internal/indicators"
	"github.com/rdone4425/trading-ai/internal/market"
	"github.com/rdone4425/trading-ai/internal/metrics"
	"github.com/rdone4425/trading-ai/internal/symbols"
	"github.com/rdone4425/trading-ai/internal/timeutil"
	"github.com/rdone4425/trading-ai/internal/trader"
)

// Config holds the scanner's tunables, mirroring the TRADING_* env
// surface.
type Config struct {
	Timeframe     string
	Lookback      int
	TopN          int
	ScanTypes     []string // hot, volume, gainers, losers
	CustomSymbols string   // overrides ScanTypes when set
	DefaultQuote  string
	KlineType     string // closed or open

	MinVolume float64
	MinChange float64
	MaxChange float64

	ConfidenceThreshold float64
	SaveResults         bool
	ResultsDir          string
	AutoLearning        bool
	AutoReview          bool
	LearningTopics      []string // used when no topics can be derived from a scan
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{
		Timeframe:           "1h",
		Lookback:            100,
		TopN:                20,
		ScanTypes:           []string{"hot", "volume", "gainers", "losers"},
		DefaultQuote:        "USDT",
		KlineType:           "closed",
		MinChange:           -100,
		MaxChange:           100,
		ConfidenceThreshold: 0.6,
		ResultsDir:          "data",
	}
}

// TopResult is the simplified per-symbol row in the scan summary.
type TopResult struct {
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Trend      string  `json:"trend"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// Summary aggregates one scan's analyses.
type Summary struct {
	Total               int                 `json:"total"`
	Actions             map[string]int      `json:"actions"`
	HighConfidenceCount int                 `json:"high_confidence_count"`
	HighConfidence      []*advisor.Analysis `json:"high_confidence_results"`
	Top                 []TopResult         `json:"top_results"`
	Threshold           float64             `json:"threshold"`
}

// ScanResult is one complete scan cycle.
type ScanResult struct {
	ScanID        string              `json:"scan_id"`
	ScanTime      string              `json:"scan_time"`
	Timeframe     string              `json:"timeframe"`
	KlineType     string              `json:"kline_type"`
	TotalSymbols  int                 `json:"total_symbols"`
	AnalyzedCount int                 `json:"analyzed_count"`
	Summary       Summary             `json:"summary"`
	Results       []*advisor.Analysis `json:"results"`
}

// Scanner wires market data, indicators, the advisor and the optional
// trader into scan cycles.
type Scanner struct {
	exch     exchange.Trading
	engine   *indicators.Engine
	analyzer *advisor.Analyzer
	trader   *trader.Trader // nil in observe mode
	cfg      Config
	logger   zerolog.Logger

	mu       sync.Mutex
	tickers  map[string]market.Ticker
	last     *ScanResult
	onTrade  func(*advisor.Analysis, *trader.Result)
	onReview func(advisor.TradeRecord)

	loopMu  sync.Mutex
	running bool
	stop    chan struct{}
}

// New builds a scanner. trader may be nil to disable execution.
func New(exch exchange.Trading, engine *indicators.Engine, analyzer *advisor.Analyzer, tr *trader.Trader, cfg Config, logger zerolog.Logger) *Scanner {
	def := DefaultConfig()
	if cfg.Timeframe == "" {
		cfg.Timeframe = def.Timeframe
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	if len(cfg.ScanTypes) == 0 {
		cfg.ScanTypes = def.ScanTypes
	}
	if cfg.DefaultQuote == "" {
		cfg.DefaultQuote = def.DefaultQuote
	}
	if cfg.KlineType != "open" {
		cfg.KlineType = "closed"
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if cfg.ResultsDir == "" {
		cfg.ResultsDir = def.ResultsDir
	}
	if cfg.MinChange == 0 && cfg.MaxChange == 0 {
		cfg.MinChange, cfg.MaxChange = def.MinChange, def.MaxChange
	}
	return &Scanner{
		exch:     exch,
		engine:   engine,
		analyzer: analyzer,
		trader:   tr,
		cfg:      cfg,
		logger:   logger.With().Str("component", "scanner").Logger(),
		tickers:  make(map[string]market.Ticker),
	}
}

// OnTrade registers a callback invoked for every successfully executed
// trade. Must be set before Start.
func (s *Scanner) OnTrade(fn func(*advisor.Analysis, *trader.Result)) {
	s.onTrade = fn
}

// OnReview registers a callback invoked for every round-trip trade the
// review hook finds. Must be set before Start.
func (s *Scanner) OnReview(fn func(advisor.TradeRecord)) {
	s.onReview = fn
}

// ScanSymbols selects the symbol universe: the configured custom list
// when present, otherwise the ranked scan types deduped and truncated
// to TopN. Both paths are restricted to live perpetual contracts, and
// the ranked path additionally honors the volume and change bounds.
func (s *Scanner) ScanSymbols(ctx context.Context) ([]string, error) {
	if s.cfg.CustomSymbols != "" {
		if selected, err := s.customSymbols(ctx); err != nil {
			return nil, err
		} else if len(selected) > 0 {
			return selected, nil
		}
	}

	tickers, err := s.exch.Tickers24h(ctx)
	if err != nil {
		return nil, err
	}
	quoted := filterByQuote(tickers, s.cfg.DefaultQuote)
	quoted = s.tradablePerpetuals(ctx, quoted)
	quoted = FilterTickers(quoted, s.cfg.MinVolume, s.cfg.MinChange, s.cfg.MaxChange)

	var ranked []market.Ticker
	for _, scanType := range s.cfg.ScanTypes {
		switch strings.ToLower(strings.TrimSpace(scanType)) {
		case "hot":
			ranked = append(ranked, HotSymbols(quoted, s.cfg.TopN)...)
		case "volume":
			ranked = append(ranked, TopVolume(quoted, s.cfg.TopN)...)
		case "gainers":
			ranked = append(ranked, TopGainers(quoted, s.cfg.TopN)...)
		case "losers":
			ranked = append(ranked, TopLosers(quoted, s.cfg.TopN)...)
		}
	}

	seen := make(map[string]bool, len(ranked))
	var selected []string
	s.mu.Lock()
	s.tickers = make(map[string]market.Ticker)
	for _, t := range ranked {
		if seen[t.Symbol] {
			continue
		}
		seen[t.Symbol] = true
		selected = append(selected, t.Symbol)
		s.tickers[t.Symbol] = t
		if len(selected) >= s.cfg.TopN {
			break
		}
	}
	s.mu.Unlock()

	s.logger.Info().Int("symbols", len(selected)).Msg("扫描到交易对")
	return selected, nil
}

// customSymbols resolves the configured symbol list against the
// exchange, smart-searching bare currencies like "btc".
func (s *Scanner) customSymbols(ctx context.Context) ([]string, error) {
	parsed := symbols.ParseCustomSymbols(s.cfg.CustomSymbols)
	if len(parsed) == 0 {
		return nil, nil
	}

	tickers, err := s.exch.Tickers24h(ctx)
	if err != nil {
		return nil, err
	}
	tickers = s.tradablePerpetuals(ctx, tickers)
	listed := make(map[string]market.Ticker, len(tickers))
	var universe []string
	for _, t := range tickers {
		listed[t.Symbol] = t
		universe = append(universe, t.Symbol)
	}

	var valid []string
	for _, sym := range parsed {
		if _, ok := listed[sym]; ok {
			valid = append(valid, sym)
			continue
		}
		valid = append(valid, symbols.SmartSearch(sym, universe, s.cfg.DefaultQuote)...)
	}

	seen := make(map[string]bool, len(valid))
	var selected []string
	s.mu.Lock()
	s.tickers = make(map[string]market.Ticker)
	for _, sym := range valid {
		if seen[sym] {
			continue
		}
		seen[sym] = true
		selected = append(selected, sym)
		s.tickers[sym] = listed[sym]
	}
	s.mu.Unlock()

	s.logger.Info().Int("symbols", len(selected)).Msg("使用自定义交易对")
	return selected, nil
}

// tradablePerpetuals keeps only symbols with an active perpetual
// contract. A listing failure degrades to the unfiltered set so a
// transient exchangeInfo error cannot blank a scan.
func (s *Scanner) tradablePerpetuals(ctx context.Context, tickers []market.Ticker) []market.Ticker {
	perps, err := s.exch.PerpetualSymbols(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("获取永续合约列表失败，跳过合约过滤")
		return tickers
	}
	kept := make([]market.Ticker, 0, len(tickers))
	for _, t := range tickers {
		if perps[t.Symbol] {
			kept = append(kept, t)
		}
	}
	return kept
}

// Klines fetches the lookback window for one symbol, dropping the
// still-forming candle when the scanner works on closed klines.
func (s *Scanner) Klines(ctx context.Context, symbol string) ([]market.Candle, error) {
	limit := s.cfg.Lookback
	if s.cfg.KlineType == "closed" {
		limit++
	}
	candles, err := s.exch.Klines(ctx, symbol, s.cfg.Timeframe, limit)
	if err != nil {
		return nil, err
	}
	if s.cfg.KlineType == "closed" && len(candles) > 0 {
		if candles[len(candles)-1].CloseTime > timeutil.ToMillis(timeutil.NowShanghai()) {
			candles = candles[:len(candles)-1]
		}
	}
	if len(candles) > s.cfg.Lookback {
		candles = candles[len(candles)-s.cfg.Lookback:]
	}
	return candles, nil
}

// Scan runs one full cycle: select symbols, analyze them, summarize,
// and hand the batch to the post-scan hooks.
func (s *Scanner) Scan(ctx context.Context) (*ScanResult, error) {
	scanID := uuid.NewString()
	started := time.Now()
	s.logger.Info().Str("scan_id", scanID).Msg("开始扫描")

	selected, err := s.ScanSymbols(ctx)
	if err != nil {
		return nil, err
	}

	var items []advisor.BatchItem
	for _, symbol := range selected {
		candles, err := s.Klines(ctx, symbol)
		if err != nil {
			s.logger.Warn().Str("symbol", symbol).Err(err).Msg("获取K线失败")
			continue
		}
		if len(candles) == 0 {
			continue
		}
		result := s.engine.CalculateAll(candles)
		items = append(items, advisor.BatchItem{Symbol: symbol, Candles: candles, Indicators: result})
	}

	analyses := s.analyzer.AnalyzeBatch(ctx, items, s.cfg.Timeframe)
	s.logger.Info().Int("analyzed", len(analyses)).Int("total", len(selected)).Msg("完成分析")

	result := &ScanResult{
		ScanID:        scanID,
		ScanTime:      timeutil.NowShanghai().Format("2006-01-02T15:04:05+08:00"),
		Timeframe:     s.cfg.Timeframe,
		KlineType:     s.cfg.KlineType,
		TotalSymbols:  len(selected),
		AnalyzedCount: len(analyses),
		Summary:       s.Summarize(analyses),
		Results:       analyses,
	}

	s.mu.Lock()
	s.last = result
	s.mu.Unlock()

	if s.cfg.SaveResults && len(analyses) > 0 {
		if path, err := s.SaveResults(result); err != nil {
			s.logger.Warn().Err(err).Msg("保存分析结果失败")
		} else {
			s.logger.Info().Str("path", path).Msg("分析结果已保存")
		}
	}

	s.executeTrades(ctx, result.Summary.HighConfidence)
	s.postScan(ctx, analyses)

	metrics.RecordScan(time.Since(started), len(analyses))
	for _, a := range analyses {
		metrics.RecordAdvice(a.Action, a.Confidence >= s.cfg.ConfidenceThreshold)
	}
	return result, nil
}

// Summarize builds the action histogram, the high-confidence subset
// and the top five results by confidence.
func (s *Scanner) Summarize(analyses []*advisor.Analysis) Summary {
	summary := Summary{
		Total:     len(analyses),
		Actions:   make(map[string]int),
		Threshold: s.cfg.ConfidenceThreshold,
	}
	for _, a := range analyses {
		summary.Actions[a.Action]++
		if a.Confidence >= s.cfg.ConfidenceThreshold {
			summary.HighConfidence = append(summary.HighConfidence, a)
		}
	}
	summary.HighConfidenceCount = len(summary.HighConfidence)

	sorted := make([]*advisor.Analysis, len(analyses))
	copy(sorted, analyses)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })
	for _, a := range sorted {
		summary.Top = append(summary.Top, TopResult{
			Symbol:     a.Symbol,
			Action:     a.Action,
			Confidence: a.Confidence,
			Trend:      a.Trend,
			EntryPrice: a.EntryPrice,
			StopLoss:   a.StopLoss,
			TakeProfit: a.TakeProfit,
		})
		if len(summary.Top) >= 5 {
			break
		}
	}
	return summary
}

// executeTrades runs the trader over the high-confidence decisions.
func (s *Scanner) executeTrades(ctx context.Context, candidates []*advisor.Analysis) {
	if s.trader == nil {
		return
	}
	executed, skipped := 0, 0
	for _, a := range candidates {
		if a.Action == "观望" {
			continue
		}
		result, err := s.trader.ExecuteTrade(ctx, a)
		if err != nil {
			s.logger.Error().Str("symbol", a.Symbol).Err(err).Msg("交易执行失败")
			metrics.RecordExchangeError(err)
			metrics.RecordTrade(a.Action, false)
			skipped++
			continue
		}
		if result.Success {
			executed++
			metrics.RecordTrade(a.Action, true)
			s.logger.Info().Str("symbol", a.Symbol).Str("action", a.Action).Msg("交易执行成功")
			if s.onTrade != nil {
				s.onTrade(a, result)
			}
		} else {
			skipped++
			metrics.RecordTrade(a.Action, false)
			s.logger.Info().Str("symbol", a.Symbol).Str("reason", result.Message).Msg("跳过交易")
		}
	}
	if executed+skipped > 0 {
		s.logger.Info().Int("executed", executed).Int("skipped", skipped).Msg("交易执行汇总")
	}
}

// LastResult returns the most recent scan, or nil before the first one.
func (s *Scanner) LastResult() *ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Ticker returns the 24h row cached during symbol selection.
func (s *Scanner) Ticker(symbol string) (market.Ticker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickers[symbol]
	return t, ok
}

// HotSymbols ranks by a blend of volume and movement.
func HotSymbols(tickers []market.Ticker, topN int) []market.Ticker {
	scored := make([]market.Ticker, len(tickers))
	copy(scored, tickers)
	sort.SliceStable(scored, func(i, j int) bool {
		return hotScore(scored[i]) > hotScore(scored[j])
	})
	return headTickers(scored, topN)
}

func hotScore(t market.Ticker) float64 {
	volumeScore := 0.0
	if t.Volume > 0 {
		volumeScore = t.Volume / 1e9
	}
	change := t.PriceChangePercent
	if change < 0 {
		change = -change
	}
	return volumeScore*0.7 + change/100*0.3
}

// TopVolume ranks by 24h base volume.
func TopVolume(tickers []market.Ticker, topN int) []market.Ticker {
	scored := make([]market.Ticker, len(tickers))
	copy(scored, tickers)
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Volume > scored[j].Volume })
	return headTickers(scored, topN)
}

// TopGainers ranks by 24h change, descending.
func TopGainers(tickers []market.Ticker, topN int) []market.Ticker {
	scored := make([]market.Ticker, len(tickers))
	copy(scored, tickers)
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].PriceChangePercent > scored[j].PriceChangePercent
	})
	return headTickers(scored, topN)
}

// TopLosers ranks by 24h change, ascending.
func TopLosers(tickers []market.Ticker, topN int) []market.Ticker {
	scored := make([]market.Ticker, len(tickers))
	copy(scored, tickers)
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].PriceChangePercent < scored[j].PriceChangePercent
	})
	return headTickers(scored, topN)
}

// FilterTickers applies the volume, price and change bounds.
func FilterTickers(tickers []market.Ticker, minVolume, minChange, maxChange float64) []market.Ticker {
	var out []market.Ticker
	for _, t := range tickers {
		if t.Volume < minVolume {
			continue
		}
		if t.PriceChangePercent < minChange || t.PriceChangePercent > maxChange {
			continue
		}
		out = append(out, t)
	}
	return out
}

func filterByQuote(tickers []market.Ticker, quote string) []market.Ticker {
	if quote == "" {
		return tickers
	}
	var out []market.Ticker
	for _, t := range tickers {
		if symbols.Quote(t.Symbol) == strings.ToUpper(quote) {
			out = append(out, t)
		}
	}
	return out
}

func headTickers(tickers []market.Ticker, n int) []market.Ticker {
	if n > 0 && len(tickers) > n {
		return tickers[:n]
	}
	return tickers
}

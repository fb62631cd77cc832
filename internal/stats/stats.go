// Package stats keeps the trade ledger and derives win-rate and
// profit figures from it for the dashboard.
package stats

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rdone4425/trading-ai/internal/timeutil"
)

// Trade is one closed trade in the ledger.
type Trade struct {
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   float64   `json:"quantity"`
	Profit     float64   `json:"profit"`
}

// Summary aggregates the ledger over a day window.
type Summary struct {
	TotalTrades     int     `json:"total_trades"`
	WinningTrades   int     `json:"winning_trades"`
	LosingTrades    int     `json:"losing_trades"`
	WinRate         float64 `json:"win_rate"`
	TotalProfit     float64 `json:"total_profit"`
	TotalLoss       float64 `json:"total_loss"`
	ProfitLossRatio float64 `json:"profit_loss_ratio"`
	AvgProfit       float64 `json:"avg_profit"`
	AvgLoss         float64 `json:"avg_loss"`
	NetProfit       float64 `json:"net_profit"`
	ROI             float64 `json:"roi"`
	PeriodDays      int     `json:"period_days"`
}

// roiBaseCapital is the nominal capital ROI is quoted against.
const roiBaseCapital = 1000.0

// Store reads and appends the trades.json ledger under the data
// directory and reads saved scan results for the dashboard.
type Store struct {
	dir    string
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewStore uses dir as the data root.
func NewStore(dir string, logger zerolog.Logger) *Store {
	return &Store{dir: dir, logger: logger.With().Str("component", "stats").Logger()}
}

func (s *Store) tradesPath() string { return filepath.Join(s.dir, "trades.json") }

// Trades loads the full ledger. A missing or corrupt file reads as
// empty.
func (s *Store) Trades() []Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() []Trade {
	data, err := os.ReadFile(s.tradesPath())
	if err != nil {
		return nil
	}
	var trades []Trade
	if err := json.Unmarshal(data, &trades); err != nil {
		s.logger.Warn().Err(err).Msg("交易记录文件损坏，按空处理")
		return nil
	}
	return trades
}

// Append records a closed trade.
func (s *Store) Append(trade Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if trade.Timestamp.IsZero() {
		trade.Timestamp = timeutil.NowShanghai()
	}
	trades := append(s.loadLocked(), trade)

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(trades, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.tradesPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.tradesPath())
}

// Calculate summarizes the trades of the last days.
func (s *Store) Calculate(days int) Summary {
	cutoff := timeutil.NowShanghai().AddDate(0, 0, -days)
	summary := Summary{PeriodDays: days}

	var profits, losses []float64
	for _, t := range s.Trades() {
		if !t.Timestamp.After(cutoff) {
			continue
		}
		summary.TotalTrades++
		switch {
		case t.Profit > 0:
			profits = append(profits, t.Profit)
		case t.Profit < 0:
			losses = append(losses, -t.Profit)
		}
	}
	if summary.TotalTrades == 0 {
		return summary
	}

	summary.WinningTrades = len(profits)
	summary.LosingTrades = len(losses)
	summary.WinRate = round2(float64(len(profits)) / float64(summary.TotalTrades) * 100)
	summary.TotalProfit = round2(sum(profits))
	summary.TotalLoss = round2(sum(losses))
	if len(profits) > 0 {
		summary.AvgProfit = round2(sum(profits) / float64(len(profits)))
	}
	if len(losses) > 0 {
		summary.AvgLoss = round2(sum(losses) / float64(len(losses)))
	}
	if summary.AvgLoss > 0 {
		summary.ProfitLossRatio = round2(summary.AvgProfit / summary.AvgLoss)
	}
	summary.NetProfit = round2(sum(profits) - sum(losses))
	summary.ROI = round2(summary.NetProfit / roiBaseCapital * 100)
	return summary
}

// RecentAnalyses reads saved scan result files, newest first, up to
// limit. Each file decodes into a generic document for the API layer.
func (s *Store) RecentAnalyses(limit int) []map[string]any {
	dateDirs, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	sort.Slice(dateDirs, func(i, j int) bool { return dateDirs[i].Name() > dateDirs[j].Name() })

	var results []map[string]any
	for _, dd := range dateDirs {
		if !dd.IsDir() {
			continue
		}
		files, err := filepath.Glob(filepath.Join(s.dir, dd.Name(), "analysis_*.json"))
		if err != nil {
			continue
		}
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				continue
			}
			var doc map[string]any
			if err := json.Unmarshal(data, &doc); err != nil {
				s.logger.Warn().Str("file", f).Err(err).Msg("读取分析文件失败")
				continue
			}
			results = append(results, doc)
			if len(results) >= limit {
				return results
			}
		}
	}
	return results
}

// Dashboard is the bundle the web layer serves.
type Dashboard struct {
	RecentAnalysis []map[string]any `json:"recent_analysis"`
	Stats7d        Summary          `json:"stats_7d"`
	Stats30d       Summary          `json:"stats_30d"`
	AllTrades      []Trade          `json:"all_trades"`
}

// DashboardData collects recent analyses, the 7 and 30 day summaries
// and the last 50 trades.
func (s *Store) DashboardData() Dashboard {
	trades := s.Trades()
	if len(trades) > 50 {
		trades = trades[len(trades)-50:]
	}
	return Dashboard{
		RecentAnalysis: s.RecentAnalyses(20),
		Stats7d:        s.Calculate(7),
		Stats30d:       s.Calculate(30),
		AllTrades:      trades,
	}
}

func sum(xs []float64) float64 {
	var total float64
	for _, x := range xs {
		total += x
	}
	return total
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

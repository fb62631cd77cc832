package stats

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdone4425/trading-ai/internal/timeutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), zerolog.Nop())
}

func TestAppendAndLoad(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append(Trade{Symbol: "BTCUSDT", Direction: "LONG", Profit: 120.5}))
	require.NoError(t, s.Append(Trade{Symbol: "ETHUSDT", Direction: "SHORT", Profit: -60}))

	trades := s.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, "BTCUSDT", trades[0].Symbol)
	assert.False(t, trades[0].Timestamp.IsZero())
}

func TestCalculate(t *testing.T) {
	s := newTestStore(t)
	now := timeutil.NowShanghai()

	for _, p := range []float64{100, 50, -30, -70, 200} {
		require.NoError(t, s.Append(Trade{Timestamp: now.Add(-time.Hour), Profit: p}))
	}
	// outside the window
	require.NoError(t, s.Append(Trade{Timestamp: now.AddDate(0, 0, -10), Profit: 1000}))

	sum := s.Calculate(7)
	assert.Equal(t, 5, sum.TotalTrades)
	assert.Equal(t, 3, sum.WinningTrades)
	assert.Equal(t, 2, sum.LosingTrades)
	assert.Equal(t, 60.0, sum.WinRate)
	assert.Equal(t, 350.0, sum.TotalProfit)
	assert.Equal(t, 100.0, sum.TotalLoss)
	assert.InDelta(t, 116.67, sum.AvgProfit, 0.001)
	assert.Equal(t, 50.0, sum.AvgLoss)
	assert.InDelta(t, 2.33, sum.ProfitLossRatio, 0.001)
	assert.Equal(t, 250.0, sum.NetProfit)
	assert.Equal(t, 25.0, sum.ROI)
	assert.Equal(t, 7, sum.PeriodDays)

	wide := s.Calculate(30)
	assert.Equal(t, 6, wide.TotalTrades)
}

func TestCalculateEmpty(t *testing.T) {
	s := newTestStore(t)
	sum := s.Calculate(7)
	assert.Equal(t, 0, sum.TotalTrades)
	assert.Equal(t, 0.0, sum.WinRate)
	assert.Equal(t, 0.0, sum.ProfitLossRatio)
}

func TestCorruptLedgerReadsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trades.json"), []byte("{broken"), 0o644))

	s := NewStore(dir, zerolog.Nop())
	assert.Empty(t, s.Trades())
	// appending after corruption starts a fresh ledger
	require.NoError(t, s.Append(Trade{Profit: 5}))
	assert.Len(t, s.Trades(), 1)
}

func TestRecentAnalyses(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "2026-08-23")
	fresh := filepath.Join(dir, "2026-08-24")
	require.NoError(t, os.MkdirAll(old, 0o755))
	require.NoError(t, os.MkdirAll(fresh, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(old, "analysis_090000.json"), []byte(`{"scan_id":"a"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fresh, "analysis_100000.json"), []byte(`{"scan_id":"b"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fresh, "analysis_110000.json"), []byte(`{"scan_id":"c"}`), 0o644))
	// malformed files are skipped
	require.NoError(t, os.WriteFile(filepath.Join(fresh, "analysis_120000.json"), []byte("nope"), 0o644))

	s := NewStore(dir, zerolog.Nop())
	results := s.RecentAnalyses(10)
	require.Len(t, results, 3)
	assert.Equal(t, "c", results[0]["scan_id"])
	assert.Equal(t, "b", results[1]["scan_id"])
	assert.Equal(t, "a", results[2]["scan_id"])

	assert.Len(t, s.RecentAnalyses(1), 1)
}

func TestDashboardData(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append(Trade{Profit: 10}))

	d := s.DashboardData()
	assert.Len(t, d.AllTrades, 1)
	assert.Equal(t, 1, d.Stats7d.TotalTrades)
	assert.Equal(t, 30, d.Stats30d.PeriodDays)
}

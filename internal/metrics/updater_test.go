package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdone4425/trading-ai/internal/stats"
)

type stubScans struct{ running bool }

func (s stubScans) Running() bool { return s.running }

func TestUpdaterRefreshesGauges(t *testing.T) {
	store := stats.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, store.Append(stats.Trade{Symbol: "BTCUSDT", Profit: 100}))
	require.NoError(t, store.Append(stats.Trade{Symbol: "ETHUSDT", Profit: -50}))

	u := NewUpdater(store, stubScans{running: true}, 0, zerolog.Nop())
	u.Update()

	assert.Equal(t, 50.0, testutil.ToFloat64(NetProfit))
	assert.Equal(t, 0.5, testutil.ToFloat64(WinRate))
	assert.Equal(t, 2.0, testutil.ToFloat64(LedgerTrades))
	assert.Equal(t, 1.0, testutil.ToFloat64(ScanRunning))
}

func TestUpdaterNilScanState(t *testing.T) {
	store := stats.NewStore(t.TempDir(), zerolog.Nop())

	u := NewUpdater(store, nil, 0, zerolog.Nop())
	u.Update()

	assert.Equal(t, 0.0, testutil.ToFloat64(NetProfit))
	assert.Equal(t, 0.0, testutil.ToFloat64(LedgerTrades))
}

package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rdone4425/trading-ai/internal/stats"
)

// ScanState reports whether the auto scan loop is running.
type ScanState interface {
	Running() bool
}

// Updater periodically refreshes the ledger gauges from the stats
// store and the scanner state.
type Updater struct {
	stats    *stats.Store
	scans    ScanState
	interval time.Duration
	stopCh   chan struct{}
	log      zerolog.Logger
}

// NewUpdater creates an updater. The scan state may be nil.
func NewUpdater(statsStore *stats.Store, scans ScanState, interval time.Duration, log zerolog.Logger) *Updater {
	return &Updater{
		stats:    statsStore,
		scans:    scans,
		interval: interval,
		stopCh:   make(chan struct{}),
		log:      log.With().Str("component", "metrics_updater").Logger(),
	}
}

// Start runs the update loop until Stop is called or the context ends.
func (u *Updater) Start(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.Update()

	for {
		select {
		case <-ticker.C:
			u.Update()
		case <-u.stopCh:
			u.log.Info().Msg("指标刷新已停止")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the update loop.
func (u *Updater) Stop() {
	close(u.stopCh)
}

// Update refreshes the gauges once.
func (u *Updater) Update() {
	summary := u.stats.Calculate(30)
	NetProfit.Set(summary.NetProfit)
	WinRate.Set(summary.WinRate / 100)
	LedgerTrades.Set(float64(summary.TotalTrades))

	if u.scans != nil {
		if u.scans.Running() {
			ScanRunning.Set(1)
		} else {
			ScanRunning.Set(0)
		}
	}
}

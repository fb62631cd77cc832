package scanner

import (
	"context"
	"time"

	"github.com/rdone4425/trading-ai/internal/metrics"
	"github.com/rdone4425/trading-ai/internal/timeutil"
)

// closeBuffer is added after a kline boundary so the exchange has
// published the closed candle before the next scan reads it.
const closeBuffer = 5 * time.Second

// Start launches the recurring scan loop. Each cycle scans, invokes
// callback with the result, then sleeps to the next timeframe boundary.
// Errors back off 30 seconds; an unparsable timeframe degrades to a
// fixed 60 second cadence.
func (s *Scanner) Start(ctx context.Context, callback func(*ScanResult)) {
	s.loopMu.Lock()
	if s.running {
		s.loopMu.Unlock()
		s.logger.Warn().Msg("自动扫描已在运行中")
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	stop := s.stop
	s.loopMu.Unlock()

	s.logger.Info().Str("timeframe", s.cfg.Timeframe).Str("kline_type", s.cfg.KlineType).Msg("启动自动扫描")

	go s.loop(ctx, callback, stop)
}

// Stop ends the loop. Safe to call when not running.
func (s *Scanner) Stop() {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if !s.running {
		return
	}
	s.logger.Info().Msg("停止自动扫描")
	close(s.stop)
	s.running = false
}

// Running reports whether the auto-scan loop is active.
func (s *Scanner) Running() bool {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	return s.running
}

func (s *Scanner) loop(ctx context.Context, callback func(*ScanResult), stop chan struct{}) {
	defer func() {
		s.loopMu.Lock()
		s.running = false
		s.loopMu.Unlock()
	}()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		result, err := s.Scan(ctx)
		if err != nil {
			metrics.ScanErrors.Inc()
			s.logger.Error().Err(err).Msg("扫描失败，30秒后重试")
			if !s.sleep(ctx, stop, 30*time.Second) {
				return
			}
			continue
		}
		if callback != nil {
			callback(result)
		}

		wait, err := timeutil.UntilNextKline(timeutil.NowShanghai(), s.cfg.Timeframe)
		if err != nil {
			s.logger.Warn().Str("timeframe", s.cfg.Timeframe).Err(err).Msg("周期无法解析，60秒后扫描")
			wait = 60 * time.Second
		} else {
			wait += closeBuffer
			s.logger.Info().Dur("wait", wait).Msg("等待下一根K线")
		}
		if !s.sleep(ctx, stop, wait) {
			return
		}
	}
}

// sleep waits in short slices so Stop takes effect promptly. Returns
// false when the loop should exit.
func (s *Scanner) sleep(ctx context.Context, stop chan struct{}, d time.Duration) bool {
	for remaining := d; remaining > 0; {
		slice := remaining
		if slice > 10*time.Second {
			slice = 10 * time.Second
		}
		select {
		case <-stop:
			return false
		case <-ctx.Done():
			return false
		case <-time.After(slice):
			remaining -= slice
		}
	}
	return true
}

// Package metrics exposes Prometheus metrics for the scan loop, the
// advisor and trade execution.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Exchange API error categories. Labels stay bounded no matter what
// the exchange returns.
const (
	ExchangeErrorTimeout     = "timeout"
	ExchangeErrorRateLimit   = "rate_limit"
	ExchangeErrorAuth        = "authentication"
	ExchangeErrorNetwork     = "network"
	ExchangeErrorInvalidReq  = "invalid_request"
	ExchangeErrorServerError = "server_error"
	ExchangeErrorOther       = "other"
)

// NormalizeExchangeError maps arbitrary error messages to the bounded
// category set.
func NormalizeExchangeError(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return ExchangeErrorTimeout
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "429"):
		return ExchangeErrorRateLimit
	case strings.Contains(errStr, "auth") || strings.Contains(errStr, "401") || strings.Contains(errStr, "403"):
		return ExchangeErrorAuth
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "connection"):
		return ExchangeErrorNetwork
	case strings.Contains(errStr, "400") || strings.Contains(errStr, "invalid"):
		return ExchangeErrorInvalidReq
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") || strings.Contains(errStr, "503"):
		return ExchangeErrorServerError
	default:
		return ExchangeErrorOther
	}
}

// Scan loop metrics
var (
	ScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradingai_scans_total",
		Help: "Total number of completed market scans",
	})

	ScanErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradingai_scan_errors_total",
		Help: "Total number of failed market scans",
	})

	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradingai_scan_duration_seconds",
		Help:    "Wall time of one full scan cycle in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})

	SymbolsAnalyzed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradingai_symbols_analyzed_total",
		Help: "Total number of symbols analyzed across all scans",
	})
)

// Advisor metrics
var (
	AdviceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradingai_advice_total",
		Help: "Advice produced by the analyzer, by action",
	}, []string{"action"})

	HighConfidenceAdvice = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradingai_high_confidence_advice_total",
		Help: "Advice at or above the confidence threshold",
	})

	LLMRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradingai_llm_request_duration_seconds",
		Help:    "LLM chat completion latency in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
	})

	LLMRequestErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradingai_llm_request_errors_total",
		Help: "Total number of failed LLM requests",
	})
)

// Trade execution metrics
var (
	TradesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradingai_trades_executed_total",
		Help: "Trades executed, by direction",
	}, []string{"direction"})

	TradesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradingai_trades_rejected_total",
		Help: "Trade attempts rejected before order placement",
	})

	ExchangeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradingai_exchange_errors_total",
		Help: "Exchange API errors by category",
	}, []string{"category"})
)

// Ledger gauges refreshed by the Updater.
var (
	NetProfit = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradingai_net_profit",
		Help: "Net profit over the 30 day window in quote currency",
	})

	WinRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradingai_win_rate",
		Help: "Win rate over the 30 day window as a ratio (0.0 to 1.0)",
	})

	LedgerTrades = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradingai_ledger_trades",
		Help: "Number of closed trades in the 30 day window",
	})

	ScanRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradingai_scan_running",
		Help: "Whether the auto scan loop is running (0 or 1)",
	})
)

// RecordScan records one completed scan cycle.
func RecordScan(duration time.Duration, analyzed int) {
	ScansTotal.Inc()
	ScanDuration.Observe(duration.Seconds())
	SymbolsAnalyzed.Add(float64(analyzed))
}

// RecordAdvice records one piece of advice from the analyzer.
func RecordAdvice(action string, highConfidence bool) {
	AdviceTotal.WithLabelValues(action).Inc()
	if highConfidence {
		HighConfidenceAdvice.Inc()
	}
}

// RecordTrade records the outcome of one trade attempt.
func RecordTrade(direction string, executed bool) {
	if executed {
		TradesExecuted.WithLabelValues(direction).Inc()
	} else {
		TradesRejected.Inc()
	}
}

// RecordLLMRequest records one LLM round trip.
func RecordLLMRequest(duration time.Duration, err error) {
	LLMRequestDuration.Observe(duration.Seconds())
	if err != nil {
		LLMRequestErrors.Inc()
	}
}

// RecordExchangeError records a categorized exchange API failure.
func RecordExchangeError(err error) {
	if err == nil {
		return
	}
	ExchangeErrors.WithLabelValues(NormalizeExchangeError(err)).Inc()
}

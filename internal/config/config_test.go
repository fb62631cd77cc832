package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, EnvObserve, cfg.Environment)
	assert.True(t, cfg.IsObserve())
	assert.False(t, cfg.IsProduction())

	assert.Equal(t, "1h", cfg.Scan.Timeframe)
	assert.Equal(t, 100, cfg.Scan.Lookback)
	assert.Equal(t, 20, cfg.Scan.TopN)
	assert.Equal(t, []string{"hot", "volume", "gainers", "losers"}, cfg.Scan.ScanTypes())
	assert.Equal(t, "closed", cfg.Scan.KlineType)
	assert.Equal(t, "USDT", cfg.Scan.DefaultQuote)
	assert.False(t, cfg.Scan.AutoScan)

	assert.Equal(t, 10000.0, cfg.Risk.AccountBalance)
	assert.Equal(t, 0.6, cfg.Risk.ConfidenceThreshold)
	assert.Equal(t, 10, cfg.Risk.DefaultLeverage)
	assert.Equal(t, 0.02, cfg.Risk.MaxLossPerTrade)
	assert.Equal(t, 0.3, cfg.Risk.MaxPositionSize)
	assert.Equal(t, 3, cfg.Risk.MaxConcurrentAnalysis)

	assert.True(t, cfg.Learning.AutoLearning)
	assert.True(t, cfg.Learning.AutoReview)

	assert.Equal(t, "0.0.0.0:8080", cfg.Web.Addr())
	assert.Equal(t, 9100, cfg.Monitoring.PrometheusPort)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TIMEFRAME", "15m")
	t.Setenv("SCAN_TOP_N", "5")
	t.Setenv("SCAN_TYPES", "hot, gainers")
	t.Setenv("AI_CONFIDENCE_THRESHOLD", "0.8")
	t.Setenv("CUSTOM_SYMBOLS", "btc,ETHUSDT")
	t.Setenv("AUTO_SCAN", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "15m", cfg.Scan.Timeframe)
	assert.Equal(t, 5, cfg.Scan.TopN)
	assert.Equal(t, []string{"hot", "gainers"}, cfg.Scan.ScanTypes())
	assert.Equal(t, 0.8, cfg.Risk.ConfidenceThreshold)
	assert.Equal(t, "btc,ETHUSDT", cfg.Scan.CustomSymbols)
	assert.True(t, cfg.Scan.AutoScan)
}

func TestLoadMainnetRequiresKeys(t *testing.T) {
	t.Setenv("TRADING_ENVIRONMENT", "mainnet")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BINANCE_API_KEY")

	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_API_SECRET", "secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsTestnet())
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("TRADING_ENVIRONMENT", "paper")
	_, err := Load("")
	assert.Error(t, err)
	t.Setenv("TRADING_ENVIRONMENT", "observe")

	t.Setenv("KLINE_TYPE", "half")
	_, err = Load("")
	assert.Error(t, err)
	t.Setenv("KLINE_TYPE", "open")

	t.Setenv("AI_CONFIDENCE_THRESHOLD", "1.5")
	_, err = Load("")
	assert.Error(t, err)
	t.Setenv("AI_CONFIDENCE_THRESHOLD", "0.6")

	t.Setenv("DEFAULT_LEVERAGE", "20")
	t.Setenv("MAX_LEVERAGE", "10")
	_, err = Load("")
	assert.Error(t, err)
}

func TestIndicatorEnvPassthrough(t *testing.T) {
	t.Setenv("INDICATOR_EMA", "20,120")
	t.Setenv("INDICATOR_ATR", "14")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []float64{20, 120}, cfg.Indicators["ema"])
	assert.Equal(t, []float64{14}, cfg.Indicators["atr"])
}

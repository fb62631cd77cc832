// Package config loads the daemon configuration from an optional YAML
// file overridden by environment variables, and owns logger setup.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rdone4425/trading-ai/internal/indicators"
)

// Trading environments.
const (
	EnvObserve = "observe"
	EnvTestnet = "testnet"
	EnvMainnet = "mainnet"
)

// Config holds all application configuration.
type Config struct {
	Environment       string
	LogLevel          string
	LogFormat         string
	LogDir            string
	LogRetentionHours int

	Exchange   ExchangeConfig
	LLM        LLMConfig
	Scan       ScanConfig
	Risk       RiskConfig
	Learning   LearningConfig
	Web        WebConfig
	Monitoring MonitoringConfig
	Telegram   TelegramConfig

	DataDir    string
	ContextDir string
	Indicators indicators.Config
}

// ExchangeConfig holds exchange credentials and connectivity.
type ExchangeConfig struct {
	Name      string
	APIKey    string
	APISecret string
	UseProxy  bool
	ProxyHost string
	ProxyPort int
}

// LLMConfig holds the AI gateway settings.
type LLMConfig struct {
	UseAI       bool
	Provider    string
	APIKey      string
	APIURL      string
	Model       string
	Temperature float64
	MaxTokens   int
	TimeoutMS   int
}

// GetTimeout returns the LLM timeout as a duration.
func (c LLMConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// ScanConfig holds the symbol-selection and scan-loop settings.
type ScanConfig struct {
	Timeframe     string
	Lookback      int
	TopN          int
	ScanTypesRaw  string
	CustomSymbols string
	DefaultQuote  string
	KlineType     string
	MinVolume     float64
	MinChange     float64
	MaxChange     float64

	AutoScan    bool
	SaveResults bool
	ResultsDir  string
}

// ScanTypes splits the comma-separated scan type list.
func (c ScanConfig) ScanTypes() []string {
	var out []string
	for _, t := range strings.Split(c.ScanTypesRaw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// RiskConfig holds position sizing and execution limits.
type RiskConfig struct {
	AccountBalance        float64
	RiskPercent           float64
	RiskRewardRatio       float64
	ATRMultiplier         float64
	MaxLeverage           int
	DefaultLeverage       int
	MaxLossPerTrade       float64
	MaxPositionSize       float64
	ConfidenceThreshold   float64
	MaxConcurrentAnalysis int
}

// LearningConfig holds the auto-learning and auto-review switches.
type LearningConfig struct {
	AutoLearning bool
	AutoReview   bool
	Topics       []string
}

// WebConfig holds the dashboard API settings.
type WebConfig struct {
	Enabled bool
	Host    string
	Port    int
}

// Addr returns the listen address.
func (c WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MonitoringConfig holds the Prometheus settings.
type MonitoringConfig struct {
	EnableMetrics  bool
	PrometheusPort int
}

// TelegramConfig holds the notifier settings.
type TelegramConfig struct {
	BotToken string
	ChatID   int64
}

// IsObserve reports observe mode, where no orders are placed.
func (c *Config) IsObserve() bool { return c.Environment == EnvObserve }

// IsTestnet reports testnet mode.
func (c *Config) IsTestnet() bool { return c.Environment == EnvTestnet }

// IsProduction reports mainnet mode.
func (c *Config) IsProduction() bool { return c.Environment == EnvMainnet }

// Load reads the optional config file, applies environment overrides
// and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		Environment:       strings.ToLower(v.GetString("trading_environment")),
		LogLevel:          v.GetString("log_level"),
		LogFormat:         v.GetString("log_format"),
		LogDir:            v.GetString("log_dir"),
		LogRetentionHours: v.GetInt("log_retention_hours"),
		Exchange: ExchangeConfig{
			Name:      v.GetString("exchange_name"),
			APIKey:    v.GetString("binance_api_key"),
			APISecret: v.GetString("binance_api_secret"),
			UseProxy:  v.GetBool("use_proxy"),
			ProxyHost: v.GetString("proxy_host"),
			ProxyPort: v.GetInt("proxy_port"),
		},
		LLM: LLMConfig{
			UseAI:       v.GetBool("use_ai_analysis"),
			Provider:    v.GetString("ai_provider"),
			APIKey:      v.GetString("ai_api_key"),
			APIURL:      v.GetString("ai_api_url"),
			Model:       v.GetString("ai_model"),
			Temperature: v.GetFloat64("ai_temperature"),
			MaxTokens:   v.GetInt("ai_max_tokens"),
			TimeoutMS:   v.GetInt("ai_timeout_ms"),
		},
		Scan: ScanConfig{
			Timeframe:     v.GetString("timeframe"),
			Lookback:      v.GetInt("lookback"),
			TopN:          v.GetInt("scan_top_n"),
			ScanTypesRaw:  v.GetString("scan_types"),
			CustomSymbols: v.GetString("custom_symbols"),
			DefaultQuote:  v.GetString("default_quote"),
			KlineType:     strings.ToLower(v.GetString("kline_type")),
			MinVolume:     v.GetFloat64("min_volume"),
			MinChange:     v.GetFloat64("min_change"),
			MaxChange:     v.GetFloat64("max_change"),
			AutoScan:      v.GetBool("auto_scan"),
			SaveResults:   v.GetBool("save_analysis_results"),
			ResultsDir:    v.GetString("analysis_results_dir"),
		},
		Risk: RiskConfig{
			AccountBalance:        v.GetFloat64("account_balance"),
			RiskPercent:           v.GetFloat64("risk_percent"),
			RiskRewardRatio:       v.GetFloat64("risk_reward_ratio"),
			ATRMultiplier:         v.GetFloat64("atr_multiplier"),
			MaxLeverage:           v.GetInt("max_leverage"),
			DefaultLeverage:       v.GetInt("default_leverage"),
			MaxLossPerTrade:       v.GetFloat64("max_loss_per_trade"),
			MaxPositionSize:       v.GetFloat64("max_position_size"),
			ConfidenceThreshold:   v.GetFloat64("ai_confidence_threshold"),
			MaxConcurrentAnalysis: v.GetInt("max_concurrent_analysis"),
		},
		Learning: LearningConfig{
			AutoLearning: v.GetBool("enable_auto_learning"),
			AutoReview:   v.GetBool("enable_auto_review"),
			Topics:       splitList(v.GetString("auto_learning_topics")),
		},
		Web: WebConfig{
			Enabled: v.GetBool("web_enabled"),
			Host:    v.GetString("web_host"),
			Port:    v.GetInt("web_port"),
		},
		Monitoring: MonitoringConfig{
			EnableMetrics:  v.GetBool("enable_metrics"),
			PrometheusPort: v.GetInt("prometheus_port"),
		},
		Telegram: TelegramConfig{
			BotToken: v.GetString("telegram_bot_token"),
			ChatID:   v.GetInt64("telegram_chat_id"),
		},
		DataDir:    v.GetString("data_dir"),
		ContextDir: v.GetString("context_dir"),
		Indicators: indicators.ParseConfigFromEnv("INDICATOR"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading_environment", EnvObserve)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("log_dir", "logs")
	v.SetDefault("log_retention_hours", 3)

	v.SetDefault("exchange_name", "binance")
	v.SetDefault("use_proxy", false)
	v.SetDefault("proxy_host", "127.0.0.1")
	v.SetDefault("proxy_port", 7890)

	v.SetDefault("use_ai_analysis", true)
	v.SetDefault("ai_provider", "mock")
	v.SetDefault("ai_temperature", 0.7)
	v.SetDefault("ai_max_tokens", 2000)
	v.SetDefault("ai_timeout_ms", 60000)

	v.SetDefault("timeframe", "1h")
	v.SetDefault("lookback", 100)
	v.SetDefault("scan_top_n", 20)
	v.SetDefault("scan_types", "hot,volume,gainers,losers")
	v.SetDefault("default_quote", "USDT")
	v.SetDefault("kline_type", "closed")
	v.SetDefault("min_change", -100.0)
	v.SetDefault("max_change", 100.0)
	v.SetDefault("auto_scan", false)
	v.SetDefault("save_analysis_results", false)
	v.SetDefault("analysis_results_dir", "data")

	v.SetDefault("account_balance", 10000.0)
	v.SetDefault("risk_percent", 1.0)
	v.SetDefault("risk_reward_ratio", 2.0)
	v.SetDefault("atr_multiplier", 2.0)
	v.SetDefault("max_leverage", 10)
	v.SetDefault("default_leverage", 10)
	v.SetDefault("max_loss_per_trade", 0.02)
	v.SetDefault("max_position_size", 0.3)
	v.SetDefault("ai_confidence_threshold", 0.6)
	v.SetDefault("max_concurrent_analysis", 3)

	v.SetDefault("enable_auto_learning", true)
	v.SetDefault("enable_auto_review", true)

	v.SetDefault("web_enabled", true)
	v.SetDefault("web_host", "0.0.0.0")
	v.SetDefault("web_port", 8080)

	v.SetDefault("enable_metrics", true)
	v.SetDefault("prometheus_port", 9100)

	v.SetDefault("data_dir", "data")
	v.SetDefault("context_dir", "data/context")
}

// Validate checks the loaded configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvObserve, EnvTestnet, EnvMainnet:
	default:
		return fmt.Errorf("invalid TRADING_ENVIRONMENT %q: must be observe, testnet or mainnet", c.Environment)
	}
	if !c.IsObserve() && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return fmt.Errorf("%s environment requires BINANCE_API_KEY and BINANCE_API_SECRET", c.Environment)
	}
	if c.Scan.KlineType != "closed" && c.Scan.KlineType != "open" {
		return fmt.Errorf("invalid KLINE_TYPE %q: must be closed or open", c.Scan.KlineType)
	}
	if c.Risk.ConfidenceThreshold <= 0 || c.Risk.ConfidenceThreshold > 1 {
		return fmt.Errorf("AI_CONFIDENCE_THRESHOLD must be in (0, 1], got %v", c.Risk.ConfidenceThreshold)
	}
	if c.Risk.DefaultLeverage > c.Risk.MaxLeverage {
		return fmt.Errorf("DEFAULT_LEVERAGE %d exceeds MAX_LEVERAGE %d", c.Risk.DefaultLeverage, c.Risk.MaxLeverage)
	}
	if problems := c.Indicators.Validate(); len(problems) > 0 {
		return fmt.Errorf("invalid indicator config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

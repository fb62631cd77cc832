package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rdone4425/trading-ai/internal/advisor"
	"github.com/rdone4425/trading-ai/internal/config"
	"github.com/rdone4425/trading-ai/internal/ctxstore"
	"github.com/rdone4425/trading-ai/internal/exchange"
	"github.com/rdone4425/trading-ai/internal/indicators"
	"github.com/rdone4425/trading-ai/internal/llm"
	"github.com/rdone4425/trading-ai/internal/metrics"
	"github.com/rdone4425/trading-ai/internal/risk"
	"github.com/rdone4425/trading-ai/internal/scanner"
	"github.com/rdone4425/trading-ai/internal/stats"
	"github.com/rdone4425/trading-ai/internal/telegram"
	"github.com/rdone4425/trading-ai/internal/trader"
	"github.com/rdone4425/trading-ai/internal/web"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional, env vars override)")
	once := flag.Bool("once", false, "run a single scan and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "配置加载失败:", err)
		os.Exit(1)
	}
	config.InitLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogDir, cfg.LogRetentionHours)

	log.Info().
		Str("environment", cfg.Environment).
		Str("timeframe", cfg.Scan.Timeframe).
		Strs("scan_types", cfg.Scan.ScanTypes()).
		Bool("auto_scan", cfg.Scan.AutoScan).
		Msg("启动 trading-ai")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exch := buildExchange(cfg)

	store, err := ctxstore.New(cfg.ContextDir, config.NewLogger("ctxstore"))
	if err != nil {
		log.Fatal().Err(err).Msg("上下文存储初始化失败")
	}
	statsStore := stats.NewStore(cfg.DataDir, config.NewLogger("stats"))

	riskParams := risk.Params{
		ATRMultiplier:   cfg.Risk.ATRMultiplier,
		RiskRewardRatio: cfg.Risk.RiskRewardRatio,
		RiskPercent:     cfg.Risk.RiskPercent,
		MaxLeverage:     cfg.Risk.MaxLeverage,
		MaxLossPerTrade: cfg.Risk.MaxLossPerTrade,
		MaxPositionSize: cfg.Risk.MaxPositionSize,
	}

	analyzer := advisor.NewAnalyzer(
		buildChatClient(cfg),
		advisor.NewPromptManager(cfg.DataDir+"/prompts.json"),
		store,
		exch,
		advisor.Config{
			MaxConcurrent:  cfg.Risk.MaxConcurrentAnalysis,
			AccountBalance: cfg.Risk.AccountBalance,
			BalanceAsset:   cfg.Scan.DefaultQuote,
			RiskParams:     riskParams,
		},
		config.NewLogger("advisor"),
	)

	var tr *trader.Trader
	if !cfg.IsObserve() {
		tr = trader.New(exch, risk.NewCalculator(riskParams), trader.Config{
			ConfidenceThreshold: cfg.Risk.ConfidenceThreshold,
			DefaultLeverage:     cfg.Risk.DefaultLeverage,
			AccountBalance:      cfg.Risk.AccountBalance,
			BalanceAsset:        cfg.Scan.DefaultQuote,
		}, config.NewLogger("trader"))
	} else {
		log.Info().Msg("观察模式，不会下单")
	}

	scan := scanner.New(exch, indicators.NewEngine(cfg.Indicators), analyzer, tr, scanner.Config{
		Timeframe:           cfg.Scan.Timeframe,
		Lookback:            cfg.Scan.Lookback,
		TopN:                cfg.Scan.TopN,
		ScanTypes:           cfg.Scan.ScanTypes(),
		CustomSymbols:       cfg.Scan.CustomSymbols,
		DefaultQuote:        cfg.Scan.DefaultQuote,
		KlineType:           cfg.Scan.KlineType,
		MinVolume:           cfg.Scan.MinVolume,
		MinChange:           cfg.Scan.MinChange,
		MaxChange:           cfg.Scan.MaxChange,
		ConfidenceThreshold: cfg.Risk.ConfidenceThreshold,
		SaveResults:         cfg.Scan.SaveResults,
		ResultsDir:          cfg.Scan.ResultsDir,
		AutoLearning:        cfg.Learning.AutoLearning,
		AutoReview:          cfg.Learning.AutoReview,
		LearningTopics:      cfg.Learning.Topics,
	}, config.NewLogger("scanner"))

	notifier, err := telegram.New(telegram.Config{
		BotToken: cfg.Telegram.BotToken,
		ChatID:   cfg.Telegram.ChatID,
	}, config.NewLogger("telegram"))
	if err != nil {
		log.Fatal().Err(err).Msg("Telegram 初始化失败")
	}

	scan.OnReview(func(trade advisor.TradeRecord) {
		entry := stats.Trade{
			Symbol:     trade.Symbol,
			Direction:  trade.Direction,
			EntryPrice: trade.EntryPrice,
			ExitPrice:  trade.ExitPrice,
			Profit:     trade.ProfitLoss,
		}
		if err := statsStore.Append(entry); err != nil {
			log.Warn().Str("symbol", trade.Symbol).Err(err).Msg("写入交易账本失败")
		}
	})

	if *once {
		result, err := scan.Scan(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("扫描失败")
		}
		notifier.NotifyScan(result)
		log.Info().
			Str("scan_id", result.ScanID).
			Int("analyzed", result.AnalyzedCount).
			Int("high_confidence", result.Summary.HighConfidenceCount).
			Msg("扫描完成")
		return
	}

	var metricsServer *metrics.Server
	var updater *metrics.Updater
	if cfg.Monitoring.EnableMetrics {
		metricsServer = metrics.NewServer(cfg.Monitoring.PrometheusPort, log.Logger)
		if err := metricsServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("指标服务启动失败")
		}
		updater = metrics.NewUpdater(statsStore, scan, 30*time.Second, log.Logger)
		go updater.Start(ctx)
	}

	var webServer *web.Server
	if cfg.Web.Enabled {
		webServer = web.NewServer(web.Config{
			Addr:        cfg.Web.Addr(),
			Environment: cfg.Environment,
			Timeframe:   cfg.Scan.Timeframe,
		}, statsStore, scan, store, log.Logger)
		go webServer.Hub().Run(ctx)
		go func() {
			if err := webServer.Start(); err != nil {
				log.Error().Err(err).Msg("Web 服务出错")
			}
		}()
	}

	scan.OnTrade(func(analysis *advisor.Analysis, result *trader.Result) {
		notifier.NotifyTrade(analysis, result)
		if webServer != nil {
			if err := webServer.Hub().Broadcast(web.MessageTypeTrade, result); err != nil {
				log.Warn().Err(err).Msg("推送交易结果失败")
			}
		}
	})

	onScan := func(result *scanner.ScanResult) {
		notifier.NotifyScan(result)
		if webServer != nil {
			if err := webServer.Hub().Broadcast(web.MessageTypeScanResult, result); err != nil {
				log.Warn().Err(err).Msg("推送扫描结果失败")
			}
		}
	}

	if cfg.Scan.AutoScan {
		scan.Start(ctx, onScan)
	} else {
		go func() {
			result, err := scan.Scan(ctx)
			if err != nil {
				log.Error().Err(err).Msg("扫描失败")
				notifier.NotifyError("扫描", err)
				return
			}
			onScan(result)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("收到退出信号，开始关闭")

	scan.Stop()
	if updater != nil {
		updater.Stop()
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if webServer != nil {
		if err := webServer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Web 服务关闭失败")
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("指标服务关闭失败")
		}
	}

	log.Info().Msg("已退出")
}

// buildExchange returns the live client, or the seeded mock when no
// credentials are configured in observe mode.
func buildExchange(cfg *config.Config) exchange.Trading {
	if cfg.IsObserve() && cfg.Exchange.APIKey == "" {
		log.Info().Msg("未配置交易所密钥，使用公共行情接口")
	}

	proxyURL := ""
	if cfg.Exchange.UseProxy {
		proxyURL = fmt.Sprintf("http://%s:%d", cfg.Exchange.ProxyHost, cfg.Exchange.ProxyPort)
	}
	client := exchange.NewClient(exchange.Options{
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
		Testnet:   cfg.IsTestnet(),
		ProxyURL:  proxyURL,
	}, config.NewLogger("exchange"))

	// Sync the server clock and preload the trading rules before the
	// first scan. Failures are non-fatal: the offset stays 0 and the
	// rules load lazily on first use.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.SyncTime(ctx); err != nil {
		log.Warn().Err(err).Msg("服务器时间同步失败，使用本地时间")
	}
	if err := client.LoadExchangeInfo(ctx); err != nil {
		log.Warn().Err(err).Msg("交易规则预加载失败，首次使用时重试")
	}
	return client
}

// buildChatClient returns the configured LLM client, or the static
// mock when the provider is mock or no key is set.
func buildChatClient(cfg *config.Config) advisor.ChatClient {
	if !cfg.LLM.UseAI || cfg.LLM.Provider == "mock" || cfg.LLM.APIKey == "" {
		log.Info().Msg("使用内置 mock AI，分析结果为默认观望")
		return llm.NewStatic("")
	}

	proxyURL := ""
	if cfg.Exchange.UseProxy {
		proxyURL = fmt.Sprintf("http://%s:%d", cfg.Exchange.ProxyHost, cfg.Exchange.ProxyPort)
	}
	return llm.NewClient(llm.ClientConfig{
		Endpoint:    cfg.LLM.APIURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.GetTimeout(),
		ProxyURL:    proxyURL,
	})
}

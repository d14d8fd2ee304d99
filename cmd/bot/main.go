package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/spot_trend_bot/internal/config"
	"github.com/vitos/spot_trend_bot/internal/domain"
	"github.com/vitos/spot_trend_bot/internal/infrastructure/exchange"
	"github.com/vitos/spot_trend_bot/internal/infrastructure/logger"
	"github.com/vitos/spot_trend_bot/internal/infrastructure/notifier"
	"github.com/vitos/spot_trend_bot/internal/infrastructure/storage"
	"github.com/vitos/spot_trend_bot/internal/usecase"
	"github.com/vitos/spot_trend_bot/internal/web"
	"go.uber.org/zap"
)

const pollInterval = 5 * time.Second

func main() {
	// Secrets may live in a local .env; missing file is fine.
	_ = godotenv.Load()

	// 1. Load Config
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Exchange
	var adapter *exchange.BinanceAdapter
	if cfg.Exchange.Mode == "paper" {
		adapter = exchange.NewPaperAdapter(
			cfg.Exchange.RESTEndpoint, cfg.Exchange.WSEndpoint,
			cfg.Exchange.PaperEquity, cfg.Exchange.FeePct, log)
		log.Info("Running in paper mode", zap.Float64("equity", cfg.Exchange.PaperEquity))
	} else {
		adapter = exchange.NewBinanceAdapter(
			cfg.Exchange.APIKey, cfg.Exchange.APISecret,
			cfg.Exchange.RESTEndpoint, cfg.Exchange.WSEndpoint, log)
		log.Info("Running in live mode")
	}

	// 5. Init Core Services
	loc, err := time.LoadLocation(cfg.Trading.Timezone)
	if err != nil {
		log.Fatal("Invalid timezone", zap.Error(err))
	}

	signals := usecase.NewSignalGenerator(usecase.SignalConfig{
		TrendStrengthFloor: cfg.Strategy.TrendStrengthFloor,
		RSIEntry:           cfg.Strategy.RSIEntry,
		RSIMax:             cfg.Strategy.RSIMax,
		RSIMin:             cfg.Strategy.RSIMin,
		MinATRPct:          cfg.Strategy.MinATRPct,
		AvoidHours:         cfg.Strategy.AvoidHours,
		AvoidWeekdays:      parseWeekdays(cfg.Strategy.AvoidWeekdays),
	})

	// In live mode the real balance arrives through the first equity sync.
	startEquity := cfg.Exchange.PaperEquity
	if cfg.Exchange.Mode == "live" {
		startEquity = 0
	}

	risk := usecase.NewRiskManager(usecase.RiskConfig{
		RiskPerTradePct:      cfg.Risk.RiskPerTradePct,
		DailyLossLimitPct:    cfg.Risk.DailyLossLimitPct,
		StopLossATRMult:      cfg.Risk.StopLossATRMult,
		TakeProfit1ATRMult:   cfg.Risk.TakeProfit1ATRMult,
		TakeProfit2ATRMult:   cfg.Risk.TakeProfit2ATRMult,
		MaxDrawdownPct:       cfg.Risk.MaxDrawdownPct,
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		CooldownDuration:     time.Duration(cfg.Risk.CooldownHours) * time.Hour,
		MinNotional:          cfg.Risk.MinNotional,
		MaxPositionPct:       cfg.Risk.MaxPositionPct,
		MaxRiskMultiplier:    cfg.Risk.MaxRiskMultiplier,
		LargeLossPct:         cfg.Risk.LargeLossPct,
		TrailingWindow:       cfg.Risk.TrailingWindow,
	}, startEquity, loc, log)

	lifecycle := usecase.NewPositionLifecycle(cfg.Exchange.FeePct, log)

	// 6. Init Notifier
	var notify usecase.Notifier = usecase.NopNotifier{}
	var tg *notifier.TelegramNotifier
	if cfg.Telegram.Enabled && cfg.Telegram.Token != "" {
		tg, err = notifier.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
		if err != nil {
			log.Error("Failed to init telegram, notifications disabled", zap.Error(err))
		} else {
			notify = tg
		}
	}

	svc := usecase.NewTradingService(usecase.TradingConfig{
		Symbol:         cfg.Trading.Symbol,
		Timeframe:      cfg.Trading.Timeframe,
		Lookback:       cfg.Trading.Lookback,
		MaxAPIFailures: cfg.Risk.MaxAPIFailures,
	}, adapter, store, store, store, signals, risk, lifecycle, notify, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Init(ctx); err != nil {
		log.Fatal("Failed to init trading service", zap.Error(err))
	}

	// 7. Candle stream: closed candles trigger an immediate cycle; the poll
	// loop below covers stream gaps.
	adapter.OnCandleClose(func(symbol string, candle domain.Candle) {
		if err := svc.RunCycle(ctx); err != nil {
			log.Warn("Stream-triggered cycle failed", zap.Error(err))
		}
	})
	if err := adapter.Subscribe(cfg.Trading.Symbol, cfg.Trading.Timeframe); err != nil {
		log.Error("Failed to subscribe to kline stream, polling only", zap.Error(err))
	}

	go svc.Run(ctx, pollInterval)

	// 8. Periodic reporting
	if tg != nil {
		go runReporting(ctx, tg, svc, store, risk, log)
	}

	// 9. Web Server
	server := web.NewServer(cfg.Server.Port, store, store, svc, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 10. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	cancel()
	adapter.Unsubscribe()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
}

func runReporting(
	ctx context.Context,
	tg *notifier.TelegramNotifier,
	svc *usecase.TradingService,
	store *storage.SQLiteStore,
	risk *usecase.RiskManager,
	log *zap.Logger,
) {
	heartbeat := time.NewTicker(6 * time.Hour)
	defer heartbeat.Stop()
	report := time.NewTicker(24 * time.Hour)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			status := svc.Status()
			tg.Heartbeat(status.Mode, status.Risk.Equity, status.OpenPosition != nil)
		case <-report.C:
			state := risk.Snapshot()
			trades, err := store.ListTrades(ctx, state.TradesToday)
			if err != nil {
				log.Warn("Failed to load trades for daily report", zap.Error(err))
				trades = nil
			}
			tg.DailyReport(trades, state)
		}
	}
}

func parseWeekdays(names []string) []time.Weekday {
	lookup := map[string]time.Weekday{
		"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
		"wednesday": time.Wednesday, "thursday": time.Thursday,
		"friday": time.Friday, "saturday": time.Saturday,
	}
	var days []time.Weekday
	for _, n := range names {
		if d, ok := lookup[strings.ToLower(n)]; ok {
			days = append(days, d)
		}
	}
	return days
}

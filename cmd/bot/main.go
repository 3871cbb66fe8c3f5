package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chiehw/ethwatch/internal/config"
	"github.com/chiehw/ethwatch/internal/etherscan"
	"github.com/chiehw/ethwatch/internal/health"
	"github.com/chiehw/ethwatch/internal/metrics"
	"github.com/chiehw/ethwatch/internal/monitor"
	"github.com/chiehw/ethwatch/internal/notifier"
	"github.com/chiehw/ethwatch/internal/scheduler"
	"github.com/chiehw/ethwatch/internal/storage"
	"github.com/chiehw/ethwatch/internal/telegram"
)

func main() {
	// Setup logger
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(log)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}

	// Load config
	cfg := config.Load()

	if cfg.BotToken == "" {
		log.Error("BOT_TOKEN is required")
		os.Exit(1)
	}
	if cfg.EtherscanAPIKey == "" {
		log.Error("ETHERSCAN_API_KEY is required")
		os.Exit(1)
	}
	if cfg.TargetAddress == "" {
		log.Error("TARGET_ADDRESS is required")
		os.Exit(1)
	}

	loc, err := time.LoadLocation(cfg.ReportTimezone)
	if err != nil {
		log.Warn("unknown report timezone, using UTC", "timezone", cfg.ReportTimezone)
		loc = time.UTC
	}

	// Initialize storage
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("storage initialized", "path", cfg.DBPath)

	if err := store.InitCursor(cfg.StartBlock); err != nil {
		log.Error("init cursor", "error", err)
		os.Exit(1)
	}
	if err := store.EnsureAdmins(cfg.AdminIDs); err != nil {
		log.Error("seed admins", "error", err)
		os.Exit(1)
	}

	// Initialize Etherscan client
	ledger := etherscan.NewClient(cfg.EtherscanBaseURL, cfg.EtherscanAPIKey, log)
	log.Info("etherscan client initialized", "base_url", cfg.EtherscanBaseURL)

	// Metrics
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// Initialize telegram bot
	bot, err := telegram.New(cfg, store, m, loc, log)
	if err != nil {
		log.Error("init telegram bot", "error", err)
		os.Exit(1)
	}
	log.Info("telegram bot initialized")

	// Initialize notifier, wired back into the bot for command replies
	notify := notifier.New(store, bot, m, log, cfg.MaxConcurrentSends)
	bot.SetNotifier(notify)

	// Poller and reporter
	poller := monitor.NewPoller(cfg, store, ledger, notify, m, loc, log)
	reporter := monitor.NewReporter(store, notify, m, loc, log)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start health server
	healthServer := health.NewServer(cfg, store, registry, log)
	go func() {
		if err := healthServer.Start(ctx, cfg.HealthPort); err != nil && err != http.ErrServerClosed {
			log.Error("health server", "error", err)
		}
	}()

	// Initialization poll: seed history without notifying anyone
	log.Info("loading transaction history...", "address", cfg.TargetAddress)
	poller.Poll(ctx)

	notify.NotifyAdmins(ctx, fmt.Sprintf(
		"🚀 Bot started\n📡 Watching: <code>%s</code>\n🕒 %s",
		cfg.TargetAddress, time.Now().In(loc).Format("2006-01-02 15:04:05"),
	))

	// Scheduled tasks
	sched := scheduler.New(log)
	sched.Add("poll", cfg.PollInterval, poller.Poll)
	sched.Add("hourly-report", cfg.HourlyInterval, reporter.HourlyReport)
	sched.Add("daily-check", cfg.DailyCheckInterval, reporter.DailyCheck)
	if cfg.HistoryRetentionDays > 0 {
		retention := time.Duration(cfg.HistoryRetentionDays) * 24 * time.Hour
		sched.Add("history-prune", 24*time.Hour, func(ctx context.Context) {
			removed, err := store.PruneHistoryBefore(time.Now().Add(-retention))
			if err != nil {
				log.Error("prune history", "error", err)
				return
			}
			if removed > 0 {
				log.Info("pruned old transactions", "removed", removed)
			}
		})
	}
	go sched.Run(ctx)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	// Start bot polling
	log.Info("starting bot polling...")
	bot.Start(ctx)
}

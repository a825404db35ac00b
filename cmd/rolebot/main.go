package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"rolebot/internal/capability"
	"rolebot/internal/channel"
	"rolebot/internal/config"
	"rolebot/internal/domain"
	"rolebot/internal/localizer"
	"rolebot/internal/memory"
	"rolebot/internal/metrics"
	"rolebot/internal/orchestrator"
	"rolebot/internal/provider"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "rolebot",
		Short: "rolebot: a role-playing multi-modal Telegram assistant",
		Long:  "rolebot answers Telegram messages with streamed text, generated images, or voice replies, with per-user usage budgets.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.rolebot/config.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(doctorCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "dataDir", cfg.General.DataDir)
			logger.Info("next: fill in telegram.token and ai.apiKey, then run 'rolebot run'")
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot",
		Long:  "Connects to Telegram and serves messages until interrupted.",
		RunE:  run,
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is not set in %s", cfgPath)
	}

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.General.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	caps := capability.New(cfg.AI)

	store, err := memory.New(filepath.Join(cfg.General.DataDir, "rolebot.db"), memory.Config{
		Modes:        chatModes(cfg.ChatModes),
		DefaultLimit: decimal.NewFromFloat(cfg.Usage.DefaultLimit),
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	prov, err := provider.New(provider.Config{
		APIKey:         cfg.AI.APIKey,
		APIBase:        cfg.AI.APIBase,
		Caps:           caps,
		Logger:         logger,
		Temperature:    cfg.AI.Temperature,
		MaxTokens:      cfg.AI.MaxTokens,
		RequestTimeout: time.Duration(cfg.AI.RequestTimeout * float64(time.Second)),
	})
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	orch := orchestrator.New(orchestrator.Config{
		Text:           prov,
		Image:          prov,
		Speech:         prov,
		Classifier:     prov,
		Moderator:      prov,
		Facts:          prov,
		Usage:          store,
		Logger:         logger,
		ImageSurcharge: cfg.Usage.ImageSurcharge,
	})

	if cfg.General.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.General.MetricsAddr)
	}

	tg := channel.NewTelegram(channel.TelegramConfig{
		Token:        cfg.Telegram.Token,
		ParseMode:    cfg.Telegram.ParseMode,
		Store:        store,
		Orchestrator: orch,
		Prompts:      orchestrator.NewPromptBuilder(store, logger),
		Caps:         caps,
		Vision:       prov,
		Transcriber:  prov,
		Engage:       prov,
		Localizer:    localizer.New(cfg.Translations, cfg.General.DefaultLanguage, logger),
		Logger:       logger,
	})

	logger.Info("rolebot starting", "version", version)
	return tg.Start(ctx)
}

func chatModes(configured []config.ChatModeConfig) []domain.ChatMode {
	modes := make([]domain.ChatMode, 0, len(configured))
	for _, m := range configured {
		modes = append(modes, domain.ChatMode{
			Name:           m.Name,
			Description:    m.Description,
			PromptStart:    m.PromptStart,
			WelcomeMessage: m.WelcomeMessage,
		})
	}
	return modes
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", metrics.Collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics endpoint failed", "error", err)
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"unibox/internal/channel"
	"unibox/internal/config"
	"unibox/internal/dispatch"
	"unibox/internal/domain"
	"unibox/internal/gateway"
	"unibox/internal/realtime"
	"unibox/internal/store"
	"unibox/internal/template"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	// .env first so ${VAR} references in the config file resolve.
	_ = godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "unibox",
		Short: "Unibox: unified multi-channel message gateway",
		Long:  "Unibox dispatches outbound messages and normalizes inbound webhooks across SMS, WhatsApp, email, Twitter, Facebook and Telegram.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.unibox/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())
	root.AddCommand(versionCmd())

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

func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		return config.Defaults(), nil
	}
	return cfg, nil
}

func applyLogLevel(cfg *config.Config) {
	var level slog.Level
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter config with env-var credential references",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists: %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Skeleton()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			logger.Info("set provider credentials via environment variables or edit the file directly")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway (API, webhooks, realtime, sweeper)",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyLogLevel(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewSQLite(cfg.Store.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	templates, err := template.LoadDirectory(cfg.Templates.Dir, logger)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	hub := realtime.NewHub(logger)
	registry := channel.NewRegistry(cfg, logger)
	dispatcher := dispatch.NewDispatcher(st, registry, templates, hub, logger)
	normalizer := dispatch.NewNormalizer(st, registry, hub, logger)
	sweeper := dispatch.NewSweeper(st, registry, hub, cfg.Sweep.BatchSize, logger)

	if cfg.Sweep.IntervalSeconds > 0 {
		go runSweepLoop(ctx, sweeper, time.Duration(cfg.Sweep.IntervalSeconds)*time.Second)
	} else {
		logger.Info("in-process sweep ticker disabled")
	}

	srv := gateway.NewServer(gateway.Deps{
		Config:     cfg,
		Store:      st,
		Registry:   registry,
		Dispatcher: dispatcher,
		Normalizer: normalizer,
		Sweeper:    sweeper,
		Hub:        hub,
		Templates:  templates,
		Logger:     logger,
	})
	return srv.Run(ctx)
}

func runSweepLoop(ctx context.Context, sweeper *dispatch.Sweeper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sweeper.Run(ctx); err != nil {
				logger.Error("sweep run failed", "err", err)
			}
		}
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one scheduled-message sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyLogLevel(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := store.NewSQLite(cfg.Store.DBPath, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			registry := channel.NewRegistry(cfg, logger)
			sweeper := dispatch.NewSweeper(st, registry, nil, cfg.Sweep.BatchSize, logger)

			result, err := sweeper.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("processed %d scheduled message(s)\n", result.Processed)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show channel configuration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			registry := channel.NewRegistry(cfg, logger)
			status := registry.Status()
			fmt.Printf("unibox %s\n\n", version)
			for _, ch := range domain.AllChannels() {
				state := "not configured"
				if status[ch] {
					state = "configured"
				}
				fmt.Printf("  %-10s %s\n", ch, state)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

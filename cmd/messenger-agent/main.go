package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/thanhhuynhk17/messenger-agent/internal/agent"
	"github.com/thanhhuynhk17/messenger-agent/internal/config"
	"github.com/thanhhuynhk17/messenger-agent/internal/domain"
	"github.com/thanhhuynhk17/messenger-agent/internal/messenger"
	"github.com/thanhhuynhk17/messenger-agent/internal/metrics"
	"github.com/thanhhuynhk17/messenger-agent/internal/relay"
	"github.com/thanhhuynhk17/messenger-agent/internal/store"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "messenger-agent",
		Short: "Relay Facebook Messenger conversations to a LangGraph agent",
		Long:  "messenger-agent serves the Messenger webhook, keeps one agent conversation per user, and relays replies back through the Send API.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.messenger-agent/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
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

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg := config.Defaults()
			// Credentials come from the environment by default; the
			// placeholders are expanded when the config is loaded.
			cfg.Messenger.VerifyToken = "${VERIFY_TOKEN}"
			cfg.Messenger.AccessToken = "${PAGE_ACCESS_TOKEN}"
			cfg.Agent.BaseURL = "${AGENT_URL:-http://localhost:2024}"
			cfg.Agent.AssistantID = "${ASSISTANT_ID:-search_agent}"
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server and relay",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err = buildLogger(cfg.General)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var threads domain.ThreadStore
	var dedup domain.DedupStore
	switch cfg.Store.Backend {
	case "sqlite":
		st, err := store.NewSQLite(cfg.Store.DBPath, logger)
		if err != nil {
			return fmt.Errorf("sqlite store: %w", err)
		}
		defer st.Close()
		threads, dedup = st, st
		logger.Info("sqlite store ready", "path", cfg.Store.DBPath)
	default:
		mem := store.NewMemory()
		threads, dedup = mem, mem
		logger.Info("in-memory store ready")
	}

	collector := metrics.New()

	notifier := messenger.NewSendClient(messenger.SendConfig{
		APIBase:     cfg.Messenger.APIBase,
		APIVersion:  cfg.Messenger.APIVersion,
		AccessToken: cfg.Messenger.AccessToken,
		Logger:      logger,
	})

	gateway := agent.NewClient(agent.ClientConfig{
		BaseURL:     cfg.Agent.BaseURL,
		AssistantID: cfg.Agent.AssistantID,
		WebhookURL:  cfg.Agent.WebhookURL,
		Timeout:     time.Duration(cfg.Agent.TimeoutSeconds) * time.Second,
		Logger:      logger,
	})

	rly := relay.New(relay.Config{
		Threads:          threads,
		Dedup:            dedup,
		Gateway:          gateway,
		Notifier:         notifier,
		Logger:           logger,
		Metrics:          collector,
		MaxConcurrent:    cfg.Relay.MaxConcurrentEvents,
		ProcessingNotice: cfg.Relay.ProcessingNotice,
		ApologyNotice:    cfg.Relay.ApologyNotice,
		TextOnlyNotice:   cfg.Relay.TextOnlyNotice,
	})

	webhook := messenger.NewWebhook(messenger.WebhookConfig{
		VerifyToken: cfg.Messenger.VerifyToken,
		AppSecret:   cfg.Messenger.AppSecret,
		Sink:        rly,
		Logger:      logger,
	})

	mux := http.NewServeMux()
	webhook.Register(mux, cfg.Server.WebhookPath)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Endpoint, collector.Handler())
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("webhook server starting",
		"addr", server.Addr,
		"path", cfg.Server.WebhookPath,
		"agent", cfg.Agent.BaseURL,
		"assistant", cfg.Agent.AssistantID,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

// buildLogger creates the process logger from the config (level, optional
// log file).
func buildLogger(cfg config.GeneralConfig) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	out := os.Stderr
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the config with credentials masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("messenger-agent " + version)
		},
	}
}

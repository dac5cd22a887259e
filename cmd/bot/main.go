package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telegram-bot-client/internal/bot"
	"telegram-bot-client/internal/config"
	"telegram-bot-client/internal/metrics"
	"telegram-bot-client/internal/monitor"
	"telegram-bot-client/internal/session"
	"telegram-bot-client/internal/storage"
	"telegram-bot-client/internal/types"
)

const (
	pollLimit       = 100
	pollErrorDelay  = 3 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	// Handle health check flag for Docker containers
	if len(os.Args) > 1 && os.Args[1] == "--health-check" {
		if err := healthCheck(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "health check failed:", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	slog.Info("Telegram bot client starting up...")

	if err := bot.ValidateToken(cfg.BotToken); err != nil {
		slog.Error("Token validation failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storageService, err := setupStorage(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize storage service", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := storageService.Close(); err != nil {
			slog.Error("Error closing storage service", "error", err)
		}
	}()
	slog.Info("Storage service initialized successfully", "type", cfg.StorageConfig().Type)

	rateLimiter := monitor.NewRateLimitManager(logger, []monitor.ProviderConfig{cfg.RateLimitConfig()})
	rateLimiter.RegisterStatusCallback(func(providerID, status string) {
		slog.Info("Rate limit status changed", "provider", providerID, "status", status)
	})
	slog.Info("Rate limit manager initialized",
		"provider", config.ProviderID,
		"per_minute", cfg.RateLimitPerMinute,
		"per_day", cfg.RateLimitPerDay)

	httpSession := session.NewHTTPSession(
		session.WithAPIServer(cfg.APIServer()),
		session.WithTimeout(cfg.RequestTimeout),
		session.WithLogger(logger),
	)

	b, err := bot.New(cfg.BotToken, httpSession, logger,
		bot.WithStorage(storageService),
		bot.WithRateLimiter(rateLimiter, config.ProviderID),
		bot.WithCacheTTL(cfg.CacheTTL),
	)
	if err != nil {
		slog.Error("Failed to create bot", "error", err)
		_ = httpSession.Close(ctx)
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = startMetricsServer(cfg.MetricsAddr, logger)
	}

	if err := b.DeleteWebhook(ctx, false); err != nil {
		slog.Error("Failed to delete webhook", "error", err)
		_ = b.Close(ctx)
		os.Exit(1)
	}

	me, err := b.GetMe(ctx)
	if err != nil {
		slog.Error("Failed to fetch bot identity", "error", err)
		_ = b.Close(ctx)
		os.Exit(1)
	}
	slog.Info("Bot connected successfully",
		"username", me.Username,
		"bot_id", me.ID,
		"api_local", httpSession.API().IsLocal)

	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		pollUpdates(ctx, b, cfg.PollTimeout, logger, logUpdate(logger))
	}()

	slog.Info("Bot is now polling for updates. Press CTRL+C to exit.")

	// Wait for CTRL+C or other term signal
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)

	select {
	case <-sc:
		slog.Info("Shutdown signal received, initiating graceful shutdown...")
	case <-pollDone:
		slog.Info("Polling stopped, shutting down...")
	}
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)

		<-pollDone

		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("Error stopping metrics server", "error", err)
			}
		}

		if err := b.Close(shutdownCtx); err != nil {
			slog.Error("Error during Bot API session cleanup", "error", err)
		} else {
			slog.Info("Bot API session closed successfully")
		}
	}()

	select {
	case <-done:
		slog.Info("Bot shutdown completed successfully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded, forcing exit")
	}
}

// setupStorage opens the configured backend and imports legacy SQLite state
// when a migration source is configured.
func setupStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.StorageService, error) {
	storageService, err := storage.NewStorageService(cfg.StorageConfig())
	if err != nil {
		return nil, err
	}
	if err := storageService.Initialize(ctx); err != nil {
		return nil, err
	}

	if cfg.MigrateFromSQLite != "" {
		if err := migrateLegacyState(ctx, cfg.MigrateFromSQLite, storageService, logger); err != nil {
			storageService.Close()
			return nil, fmt.Errorf("failed to migrate legacy state: %w", err)
		}
	}

	return storageService, nil
}

// migrateLegacyState copies update offsets from a SQLite file into target
func migrateLegacyState(ctx context.Context, sqlitePath string, target storage.StorageService, logger *slog.Logger) error {
	if _, err := os.Stat(sqlitePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("No legacy SQLite database found, skipping migration", "path", sqlitePath)
			return nil
		}
		return err
	}

	source := storage.NewSQLiteStorageService(sqlitePath)
	if err := source.Initialize(ctx); err != nil {
		return err
	}
	defer source.Close()

	migration := storage.NewMigrationService(source, target, logger)
	if _, err := migration.MigrateData(ctx); err != nil {
		return err
	}
	return migration.ValidateMigration(ctx)
}

// startMetricsServer serves Prometheus metrics and a liveness endpoint
func startMetricsServer(addr string, logger *slog.Logger) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           newMetricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Metrics server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()

	return server
}

func newMetricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// pollUpdates long-polls until ctx is cancelled, handing each update to handle
func pollUpdates(ctx context.Context, b *bot.Bot, timeout time.Duration, logger *slog.Logger, handle func(types.Update)) {
	for ctx.Err() == nil {
		updates, err := b.FetchUpdates(ctx, timeout, pollLimit)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, session.ErrSessionClosed) {
				logger.Warn("Session closed, stopping update polling")
				return
			}

			delay := pollErrorDelay
			var rateErr *monitor.RateLimitError
			if errors.As(err, &rateErr) && rateErr.RetryIn > 0 {
				delay = rateErr.RetryIn
			}
			logger.Warn("Failed to fetch updates", "error", err, "retry_in", delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, update := range updates {
			handle(update)
		}
	}
}

func logUpdate(logger *slog.Logger) func(types.Update) {
	return func(update types.Update) {
		msg := update.Message
		if msg == nil {
			msg = update.ChannelPost
		}
		if msg == nil {
			logger.Info("Received update", "update_id", update.UpdateID)
			return
		}
		logger.Info("Received message",
			"update_id", update.UpdateID,
			"chat_id", msg.Chat.ID,
			"message_id", msg.MessageID,
			"has_document", msg.Document != nil)
	}
}

// healthCheck verifies that configuration loads and storage is reachable
func healthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	storageService, err := storage.NewStorageService(cfg.StorageConfig())
	if err != nil {
		return err
	}
	if err := storageService.Initialize(ctx); err != nil {
		return err
	}
	defer storageService.Close()

	return storageService.HealthCheck(ctx)
}

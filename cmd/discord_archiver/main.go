package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/italolelis/discord_archiver/internal/archive"
	"github.com/italolelis/discord_archiver/internal/command"
	"github.com/italolelis/discord_archiver/internal/config"
	"github.com/italolelis/discord_archiver/internal/fetch"
	"github.com/italolelis/discord_archiver/internal/http/rest"
	"github.com/italolelis/discord_archiver/internal/logctx"
	"github.com/italolelis/discord_archiver/internal/notifier"
	"github.com/italolelis/discord_archiver/internal/platform/discord"
	"github.com/italolelis/discord_archiver/internal/queue"
	"github.com/italolelis/discord_archiver/internal/storage/sqlite"
	"github.com/italolelis/discord_archiver/internal/telemetry"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("discord archiver starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.From(ctx)

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}
	defer database.Close()

	ledger := sqlite.NewArchiveRepository(database)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Discord Client
	client := discord.NewClient(cfg.DiscordToken, nil)

	botID, err := client.BotUser(ctx)
	if err != nil {
		return fmt.Errorf("failed to identify bot user: %w", err)
	}

	logger.Info("authenticated with discord", "bot_id", botID)

	// =========================================================================
	// Start Download Pipeline
	layout := archive.NewLayout(cfg.DownloadDir)

	fetcher := fetch.New(&http.Client{Timeout: 5 * time.Minute})
	executor := queue.NewExecutor(layout, fetcher, ledger, tel, botID, cfg.DownloadDelay)

	var broadcast notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		broadcast = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
	}

	mgr := queue.NewManager(
		ctx,
		executor,
		&notifier.PlatformNotifier{Messenger: client},
		broadcast,
		cfg.OwnerID,
		layout.BaseDir(),
		tel,
	)

	commands := command.NewHandler(mgr, botID, cfg.OwnerID, cfg.ApprovedUsers)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	handler := rest.NewArchiverHandler(cfg.API.Username, cfg.API.Password, client, commands, mgr, ledger, tel)

	server := &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      handler.Routes(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for archive requests...",
		"download_dir", layout.BaseDir(),
		"download_delay", cfg.DownloadDelay.String(),
	)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

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

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/media_downloader/internal/cleanup"
	"github.com/italolelis/media_downloader/internal/config"
	"github.com/italolelis/media_downloader/internal/credentials"
	"github.com/italolelis/media_downloader/internal/downloader"
	"github.com/italolelis/media_downloader/internal/events"
	"github.com/italolelis/media_downloader/internal/http/rest"
	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/notifier"
	"github.com/italolelis/media_downloader/internal/platform"
	"github.com/italolelis/media_downloader/internal/platform/direct"
	"github.com/italolelis/media_downloader/internal/platform/youtube"
	"github.com/italolelis/media_downloader/internal/registry"
	"github.com/italolelis/media_downloader/internal/storage/sqlite"
	"github.com/italolelis/media_downloader/internal/telemetry"
)

const credentialCheckInterval = time.Minute

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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("media downloader starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create download dir: %w", err)
	}

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}
	defer database.Close()

	history := sqlite.NewHistoryRepository(database)

	// =========================================================================
	// Start Registry and Event Coordination
	reg := registry.NewRegistry()

	sinks := notifier.MultiSink{notifier.NewLogSink(logger)}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notifier.NewWebhookSink(notifier.NewWebhookNotifier(cfg.WebhookURL), logger))
	}

	coord := events.NewCoordinator(reg, sinks)

	// =========================================================================
	// Start Credential Manager
	credSink := coord.CredentialSink()

	creds := credentials.NewManager(
		credentials.NewBrowserGenerator(cfg.CredentialsDir()),
		credentials.ManagerOpts{
			Dir:               cfg.CredentialsDir(),
			TTL:               cfg.Credentials.TTL,
			ErrorCooldown:     cfg.Credentials.ErrorCooldown,
			GenerationTimeout: cfg.Credentials.GenerationTimeout,
			Sink: func(phase credentials.Phase, message string) {
				switch phase {
				case credentials.PhaseValid:
					tel.RecordCredentialGeneration("success")
				case credentials.PhaseError:
					tel.RecordCredentialGeneration("error")
				}

				credSink(phase, message)
			},
		},
	)

	if err := creds.Load(ctx); err != nil {
		return fmt.Errorf("failed to load credential state: %w", err)
	}

	// =========================================================================
	// Start Worker Pool
	resolver := platform.NewResolver(
		youtube.NewAdapter(cfg.DownloadDir, creds),
		direct.NewAdapter(cfg.DownloadDir),
	)

	pool := downloader.NewPool(
		reg,
		resolver,
		creds,
		coord,
		history,
		tel,
		cfg.Workers,
		cfg.PollInterval,
		downloader.RetryPolicy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
		},
	)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, reg, creds, pool, history, tel)

	go func() {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// =========================================================================
	// Start Background Loops

	// The coordinator outlives the signal context: workers finish their
	// current execution after SIGTERM and still publish terminal events,
	// so its consumer must keep draining until the pool is fully stopped.
	coordCtx, stopCoord := context.WithCancel(context.WithoutCancel(ctx))
	defer stopCoord()

	coordDone := make(chan struct{})

	go func() {
		defer close(coordDone)
		coord.Run(coordCtx)
	}()

	go creds.Run(ctx, credentialCheckInterval)
	go cleanup.Run(ctx, history, cfg.KeepDownloadedFor, cfg.CleanupInterval)

	poolDone := make(chan struct{})

	go func() {
		defer close(poolDone)

		if err := pool.Run(ctx); err != nil {
			logger.Error("worker pool stopped with error", "err", err)
		}
	}()

	logger.Info("waiting for downloads...",
		"download_dir", cfg.DownloadDir,
		"workers", cfg.Workers,
		"retention", cfg.KeepDownloadedFor.String(),
	)

	// =========================================================================
	// Shutdown
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

		// In-flight downloads finish their current attempt before the pool
		// releases its workers.
		<-poolDone

		// Only stop the coordinator once no producer is left, so every
		// event the pool emitted on its way out is delivered.
		stopCoord()
		<-coordDone

		return nil
	}
}

// setupServer prepares the handlers and middlewares for the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	reg *registry.Registry,
	creds *credentials.Manager,
	pool *downloader.Pool,
	history *sqlite.HistoryRepository,
	tel *telemetry.Telemetry,
) *http.Server {
	handler := rest.NewDownloadsHandler(cfg.API.Username, cfg.API.Password, reg, creds, pool, history)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

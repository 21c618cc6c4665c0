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

	"github.com/joho/godotenv"
	"github.com/tendant/simple-stars/internal/config"
	"github.com/tendant/simple-stars/internal/events"
	"github.com/tendant/simple-stars/pkg/notify"
	"github.com/tendant/simple-stars/pkg/progress"
	"github.com/tendant/simple-stars/pkg/repository"
	"github.com/tendant/simple-stars/stars"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Connect to database
	db, err := repository.NewDB(ctx, repository.DBConfig{
		URL:          cfg.DatabaseURL(),
		MaxOpenConns: cfg.DBMaxOpenConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("connected to database")

	catalog := progress.DefaultCatalog()
	if cfg.CatalogPath != "" {
		catalog, err = progress.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return err
		}
		logger.Info("loaded catalog", "path", cfg.CatalogPath)
	}

	bus := notify.New(notify.WithLogger(logger))

	svc, err := stars.New(ctx, stars.Config{
		DB:              db,
		JWTSecret:       cfg.JWTSecret,
		JWTIssuer:       cfg.JWTIssuer,
		Catalog:         catalog,
		DirectorySize:   cfg.DirectorySize,
		VisibleFor:      cfg.Celebration.VisibleFor,
		FadeFor:         cfg.Celebration.FadeFor,
		SessionIdleTTL:  cfg.Celebration.SessionIdleTTL,
		SweepInterval:   cfg.Celebration.SweepInterval,
		Bus:             bus,
		RateLimit:       cfg.RateLimit,
		SecurityHeaders: cfg.SecurityHeaders,
		Validation:      cfg.Validation,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      svc.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		svc.RunSweeper(gctx)
		return nil
	})

	if cfg.Kafka.Enabled() {
		consumer := events.NewTaskConsumer(cfg.Kafka, svc.Progression(), svc.Sink, logger)
		g.Go(func() error {
			defer consumer.Close()
			return consumer.Run(gctx)
		})
		logger.Info("task consumer enabled", "topic", cfg.Kafka.Topic, "group", cfg.Kafka.GroupID)
	}

	if cfg.AMQP.Enabled() {
		bridge, err := events.DialBridge(cfg.AMQP.URL, cfg.AMQP.Exchange, bus, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			defer bridge.Close()
			return bridge.Run(gctx)
		})
		logger.Info("signal bridge enabled", "exchange", cfg.AMQP.Exchange)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

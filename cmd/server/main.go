package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liga-sync/internal/amqp"
	"github.com/liga-sync/internal/auth"
	"github.com/liga-sync/internal/config"
	"github.com/liga-sync/internal/handler"
	"github.com/liga-sync/internal/kafka"
	"github.com/liga-sync/internal/postgres"
	"github.com/liga-sync/internal/redis"
	"github.com/liga-sync/internal/service"
	"github.com/liga-sync/internal/websocket"
	"github.com/liga-sync/internal/worker"
)

// ingester is an event source feeding the league service
type ingester interface {
	Start() error
	Stop() error
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
		if err := cfg.Validate(); err != nil {
			logger.Error("default configuration is incomplete", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	cache, err := redis.NewViewCache(&cfg.Redis, cfg.Cache.TTL, logger)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	if err := repo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	hub := websocket.NewHub(logger)
	go hub.Run()

	league := service.NewLeagueService(repo, cache, hub, cfg.Views, logger)
	authenticator := auth.New(cfg.Auth)

	var warmer *worker.CacheWarmer
	if cfg.Warm.Enabled {
		warmer = worker.NewCacheWarmer(league, &cfg.Warm, logger)
		if err := warmer.Start(ctx); err != nil {
			logger.Error("failed to start cache warmer", "error", err)
			os.Exit(1)
		}
	}

	source, err := newIngester(cfg, league, logger)
	if err != nil {
		logger.Warn("failed to create event consumer, continuing with HTTP ingest only",
			"source", cfg.Ingest.Source,
			"error", err,
		)
		source = nil
	} else if source != nil {
		if err := source.Start(); err != nil {
			logger.Warn("failed to start event consumer, continuing with HTTP ingest only",
				"source", cfg.Ingest.Source,
				"error", err,
			)
			source = nil
		}
	}

	httpHandler := handler.NewHandler(league, hub, authenticator, cfg.Server.AllowedOrigins, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "ingest", cfg.Ingest.Source)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop intake first so nothing is applied after the hub is gone
	if source != nil {
		if err := source.Stop(); err != nil {
			logger.Error("failed to stop event consumer", "error", err)
		}
	}

	if warmer != nil {
		if err := warmer.Stop(); err != nil {
			logger.Error("failed to stop cache warmer", "error", err)
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}
	hub.Stop()

	logger.Info("server stopped")
}

func newIngester(cfg *config.Config, league *service.LeagueService, logger *slog.Logger) (ingester, error) {
	switch cfg.Ingest.Source {
	case config.IngestKafka:
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		consumer, err := kafka.NewConsumer(&cfg.Kafka, league, logger)
		if err != nil {
			return nil, err
		}
		return consumer, nil
	case config.IngestAMQP:
		logger.Info("initializing AMQP consumer", "exchange", cfg.AMQP.Exchange)
		return amqp.NewConsumer(&cfg.AMQP, league, logger), nil
	default:
		return nil, nil
	}
}

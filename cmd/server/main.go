package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"coinbank/internal/config"
	"coinbank/internal/handler"
	"coinbank/internal/infrastructure/cache"
	"coinbank/internal/infrastructure/database"
	"coinbank/internal/infrastructure/lock"
	"coinbank/internal/infrastructure/logger"
	"coinbank/internal/infrastructure/metrics"
	"coinbank/internal/infrastructure/mq"
	"coinbank/internal/job"
	"coinbank/internal/repository"
	"coinbank/internal/repository/memory"
	"coinbank/internal/service"
	"coinbank/pkg/idgen"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", envOr("COINBANK_CONFIG", "config/config.yaml"), "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ids, err := idgen.New(cfg.Server.WorkerID)
	if err != nil {
		return err
	}
	m := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// storage
	var (
		store  repository.Store
		outbox interface {
			job.OutboxStore
			job.SentOutboxPurger
		}
	)
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		mem := memory.NewStore()
		store, outbox = mem, mem
		log.Warn("using in-memory storage; data is lost on exit")
	default:
		db, err := database.NewMySQL(&cfg.MySQL)
		if err != nil {
			return err
		}
		defer func() {
			if err := database.Close(db); err != nil {
				log.Warn("close mysql", zap.Error(err))
			}
		}()
		gs := repository.NewGormStore(db)
		store, outbox = gs, gs.Outbox()
		log.Info("mysql connected", zap.String("host", cfg.MySQL.Host), zap.String("database", cfg.MySQL.Database))
	}

	// outbox publishing
	var sender *job.OutboxSender
	if cfg.KafkaEnabled() {
		publisher, err := mq.NewPublisher(&cfg.Kafka)
		if err != nil {
			return err
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Warn("close kafka publisher", zap.Error(err))
			}
		}()

		var locker job.Locker
		if cfg.RedisEnabled() {
			rdb, err := cache.NewRedis(ctx, &cfg.Redis)
			if err != nil {
				return err
			}
			defer func() { _ = rdb.Close() }()
			// held for one tick; the TTL covers a crashed holder
			locker = lock.NewOutboxSenderLock(rdb, uuid.NewString(), 10*cfg.Business.OutboxInterval)
		}

		sender = job.NewOutboxSender(outbox, publisher, locker, cfg, log, m)
		go sender.Start(ctx)

		cleanup := job.NewOutboxCleanupJob(outbox, cfg, log)
		go cleanup.Start(ctx)
		log.Info("outbox sender enabled", zap.String("client", cfg.Kafka.Client), zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	users := service.NewUserService(store, cfg, log)
	transfers := service.NewTransferService(store, ids, cfg, log, m)
	balances := service.NewBalanceService(store, ids, cfg, log, m)
	router := handler.SetupRouter(handler.NewHandler(users, transfers, balances, log), log, m)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutting down", zap.Stringer("signal", sig))
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	if sender != nil {
		sender.Stop()
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"

	"github.com/example/ledger-core/internal/accounts"
	"github.com/example/ledger-core/internal/api"
	"github.com/example/ledger-core/internal/config"
	"github.com/example/ledger-core/internal/engine"
	"github.com/example/ledger-core/internal/events"
	"github.com/example/ledger-core/internal/ledger"
	"github.com/example/ledger-core/pkg/audit"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	directory, store, cleanup, err := buildStorage(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	var publisher events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
		logger.Info("transaction events enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	eng := engine.New(engine.Dependencies{
		Directory:        directory,
		Store:            store,
		Publisher:        publisher,
		Logger:           logger,
		OperationTimeout: cfg.OperationTimeout,
	})

	auditor := audit.NewChainLogger()

	router := api.NewRouter(api.Dependencies{
		Logger: logger,
		Engine: eng,
		Audit:  func(payload string) { auditor.Append(payload) },
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("ledger api listening", "addr", cfg.ListenAddr, "storage", cfg.StorageDriver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func buildStorage(cfg *config.Config, logger *slog.Logger) (accounts.Directory, ledger.Store, func(), error) {
	switch cfg.StorageDriver {
	case "postgres":
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := pool.Ping(context.Background()); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return accounts.NewPostgresDirectory(pool), ledger.NewPostgresStore(pool), pool.Close, nil

	case "sqlite":
		db, err := sql.Open("sqlite3", cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		directory, err := accounts.NewSQLiteDirectory(db)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		store, err := ledger.NewSQLiteStore(db)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return directory, store, func() { _ = db.Close() }, nil

	default:
		logger.Warn("using in-memory storage; all state is lost on restart")
		return accounts.NewMemoryDirectory(), ledger.NewMemoryStore(), func() {}, nil
	}
}

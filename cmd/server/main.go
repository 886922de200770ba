package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/backport-service/internal/config"
	"github.com/backport-service/internal/github"
	"github.com/backport-service/internal/gitx"
	"github.com/backport-service/internal/notify"
	"github.com/backport-service/internal/queue"
	"github.com/backport-service/internal/replay"
	"github.com/backport-service/internal/server"
	"github.com/backport-service/internal/worker"
	"github.com/backport-service/internal/workspace"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	if cfg.GHToken == "" {
		slog.Error("GH_TOKEN is required")
		os.Exit(1)
	}
	if cfg.QueueDriver == "postgres" && cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required with the postgres queue driver")
		os.Exit(1)
	}
	if cfg.QueueDriver == "redis" && cfg.RedisURL == "" {
		slog.Error("REDIS_URL is required with the redis queue driver")
		os.Exit(1)
	}

	slog.Info("starting", "queue_driver", cfg.QueueDriver, "poll_interval_sec", cfg.PollIntervalSec,
		"workspace_root", cfg.WorkspaceRoot, "http_addr", cfg.HTTPAddr)

	ctx := context.Background()
	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("open queue store", "driver", cfg.QueueDriver, "err", err)
		os.Exit(1)
	}
	defer cleanup()

	gh := github.NewClient(cfg.GHToken)
	git := gitx.NewCLI()
	workspaces := workspace.NewManager(cfg.WorkspaceRoot, cfg.GitRemoteBase, cfg.GHToken, git)
	replayer := replay.NewEngine(git)
	notifier := notify.NewNotifier()

	pollInterval := time.Duration(cfg.PollIntervalSec) * time.Second
	loop := worker.NewLoop(store, gh, workspaces, replayer, notifier, pollInterval)

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(runCtx); err != nil {
			slog.Error("worker", "err", err)
			cancel()
		}
	}()
	slog.Info("worker started", "poll_interval", pollInterval)

	srv := server.NewServer(cfg.HTTPAddr, store)
	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		slog.Info("shutting down", "signal", "received")
	case <-runCtx.Done():
		slog.Error("shutting down", "reason", "worker stopped")
	}

	cancel()
	wg.Wait()
	slog.Info("worker stopped")
	notifier.Wait()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown", "err", err)
	} else {
		slog.Info("http server stopped")
	}
}

// openStore builds the queue store named by QUEUE_DRIVER. The returned
// cleanup closes the underlying connection.
func openStore(ctx context.Context, cfg *config.Config) (queue.Store, func(), error) {
	switch cfg.QueueDriver {
	case "postgres":
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		st := queue.NewPostgres(db)
		if err := st.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		slog.Info("database connected")
		return st, func() { db.Close() }, nil
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, err
		}
		slog.Info("redis connected")
		return queue.NewRedis(rdb), func() { rdb.Close() }, nil
	case "memory":
		return queue.NewMemory(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue driver %q", cfg.QueueDriver)
	}
}

package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gyaneshwarpardhi/affix/internal/api"
	"github.com/gyaneshwarpardhi/affix/internal/carrier"
	"github.com/gyaneshwarpardhi/affix/internal/config"
	"github.com/gyaneshwarpardhi/affix/internal/engine"
	"github.com/gyaneshwarpardhi/affix/internal/operation"
	"github.com/gyaneshwarpardhi/affix/internal/operation/builtin"
	"github.com/gyaneshwarpardhi/affix/internal/storage"
)

func main() {
	env, err := config.ParseEnv()
	if err != nil {
		slog.Error("failed to read environment", "err", err)
		os.Exit(1)
	}
	addr := flag.String("addr", env.Addr, "HTTP listen address")
	cfgPath := flag.String("config", env.ConfigPath, "Path to affix YAML config")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: env.Level()}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath, logger)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	env.Apply(cfg)
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}

	// ── Carrier store ────────────────────────────────────────────────────────
	store, err := storage.Open(cfg.Store)
	if err != nil {
		slog.Error("failed to open carrier store", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer store.Close()
	carriers := carrier.NewRegistry(store, logger)
	n, err := carriers.Load(context.Background())
	if err != nil {
		slog.Error("failed to load carriers", "err", err)
		os.Exit(1)
	}
	slog.Info("carriers loaded", "driver", cfg.Store.Driver, "count", n)

	// ── Operation registry ───────────────────────────────────────────────────
	ops := operation.NewRegistry(logger)
	builtin.Register(ops)
	slog.Info("operations registered", "types", ops.Types())

	// ── Engine ───────────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := engine.New(ctx, engine.Options{
		Conf:         cfg.Engine,
		Operations:   ops,
		Carriers:     carriers,
		SnapshotPath: cfg.Snapshot.Path,
		Logger:       logger,
	})
	if err != nil {
		slog.Error("failed to create engine", "err", err)
		os.Exit(1)
	}
	if cfg.Snapshot.Path != "" {
		if err := eng.Restore(cfg.Snapshot.Path); err != nil {
			slog.Warn("snapshot not restored", "err", err)
		}
	}
	if err := eng.ApplyConfig(cfg); err != nil {
		slog.Warn("some seed entries were rejected", "err", err)
	}
	go eng.Run(ctx)

	// ── Hot-reload watcher ───────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		if err := eng.ApplyConfig(newCfg); err != nil {
			slog.Warn("hot-reload partially applied", "err", err)
			return
		}
		slog.Info("config hot-reloaded", "version", newCfg.Version)
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	handler := api.New(eng, loader)
	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", *addr, "tick_ms", cfg.Engine.TickMs)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	if err := eng.Shutdown(shutCtx); err != nil {
		slog.Error("engine shutdown", "err", err)
	}
	cancel() // stop the tick loop and event worker
	slog.Info("goodbye")
}

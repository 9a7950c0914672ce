package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coinpaper/internal/api"
	"coinpaper/internal/cache"
	"coinpaper/internal/infra"
	"coinpaper/internal/ledger"
	"coinpaper/internal/market"
	"coinpaper/internal/storage"
	"coinpaper/internal/upbit"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real env vars win either way.
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Ledger.DBPath)
	if err != nil {
		slog.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	if err := store.EnsureBalance(ctx, cfg.Ledger.InitialBalance); err != nil {
		slog.Error("failed to seed balance", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("store ready", "path", cfg.Ledger.DBPath)

	engine := ledger.NewEngine(store)

	var publisher market.TickerPublisher
	if cfg.Redis.Addr != "" {
		pub := cache.New(cfg.Redis.Addr, cfg.RedisTTL())
		if err := pub.Ping(ctx); err != nil {
			slog.Warn("redis unreachable, ticker cache disabled", slog.Any("error", err))
		} else {
			publisher = pub
			defer pub.Close()
			slog.Info("ticker cache enabled", "addr", cfg.Redis.Addr)
		}
	}

	snapshots := market.NewStore(cfg.Market.TradeWindow, cfg.Market.CandleWindow)
	stream := upbit.NewStreamManager(cfg.Upbit.WSURL)
	rest := upbit.NewClient(cfg.Upbit.RestURL)

	facade := market.NewFacade(snapshots, stream, rest, cfg.Market.CandleIntervals, cfg.UpdateInterval(), publisher)
	stream.OnHealth = facade.SetHealthy
	stream.Start(ctx)
	facade.Start(ctx)
	defer facade.Stop()
	defer stream.Stop()

	server := api.NewServer(facade, engine, store)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Router(),
	}

	go func() {
		slog.Info("http server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", slog.Any("error", err))
	}
}

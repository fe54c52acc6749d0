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

	"github.com/joho/godotenv"

	"github.com/maksimarefev/nft-marketplace/internal/api"
	"github.com/maksimarefev/nft-marketplace/internal/app"
)

func main() {
	// .env is optional; environment overrides config either way.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(ctx); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Shutdown()

	go bootstrap.Hub.Run(ctx)

	server := api.NewServer(bootstrap.Config, bootstrap.Market, bootstrap.Hub)
	go func() {
		slog.Info("✅ API listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server failed", slog.Any("error", err))
			stop()
		}
	}()

	slog.InfoContext(ctx, "✨ Marketplace fully operational. Press Ctrl+C to exit.")
	<-ctx.Done()

	slog.Info("👋 Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("API shutdown failed", slog.Any("error", err))
	}
}

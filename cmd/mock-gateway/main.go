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

	"github.com/josh-kwaku/fooddelivery-saga/internal/gateway"
	"github.com/josh-kwaku/fooddelivery-saga/internal/logging"
)

func main() {
	logger := logging.Init("mock-gateway", "info", os.Getenv("APP_ENV"))

	secret := os.Getenv("GATEWAY_KEY_SECRET")
	if secret == "" {
		slog.Error("GATEWAY_KEY_SECRET is required")
		os.Exit(1)
	}
	addr := os.Getenv("MOCK_GATEWAY_ADDR")
	if addr == "" {
		addr = ":8081"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           gateway.NewMock(secret, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("mock gateway started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
}

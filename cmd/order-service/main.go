package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/app"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/config"
	httpapi "github.com/andreasstove999/ecommerce-system/order-saga-go/internal/http"
)

func main() {
	cfg, err := config.Load(config.OrderService)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := app.NewContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	logger := c.Logger

	joins, view := c.Stores()
	top := c.Topology(joins, view)
	sweeper := c.Sweeper(view)
	if sweeper.Enabled() {
		logger.Info("stuck order sweeper enabled", zap.Duration("timeout", cfg.StuckOrderTimeout))
	}

	// --- consumers ---
	errCh := make(chan error, 2)
	consumersDone := make(chan struct{})
	go func() {
		defer close(consumersDone)
		if err := app.Run(ctx, c.Bus, c.OrderConsumers(top), top.RunExpiry, sweeper.Run); err != nil {
			errCh <- err
		}
	}()

	// --- HTTP ---
	h := httpapi.NewOrderHandler(view, c.Bus, cfg.JoinWindow, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewOrderRouter(h, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal", zap.Stringer("signal", sig))
	case err := <-errCh:
		logger.Error("fatal error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = httpServer.Shutdown(shutdownCtx)
	cancel()
	<-consumersDone
	c.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ent0n29/prepvoice/internal/app"
	"github.com/ent0n29/prepvoice/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	built, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build failed", zap.Error(err))
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
	}()
	logger.Info("speech output", zap.String("mode", built.Speech))

	httpServer := &http.Server{
		Addr:    cfg.ControlAddr,
		Handler: built.API.Router(),
	}
	go func() {
		logger.Info("control API listening", zap.String("addr", cfg.ControlAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen error", zap.Error(err))
		}
	}()

	joinCtx, cancelJoin := context.WithTimeout(ctx, cfg.ConnectTimeout)
	err = built.Session.Start(joinCtx)
	cancelJoin()
	if err != nil {
		logger.Error("interview join failed", zap.Error(err))
	}

	go func() {
		<-built.Session.Done()
		if out, ok := built.Session.Outcome(); ok {
			logger.Info("interview resolved",
				zap.String("status", string(out.Status)),
				zap.String("source", out.Source),
				zap.String("message", out.Message()))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}
	logger.Info("shutdown complete")
}

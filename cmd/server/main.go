// Package main serves the HTTP trigger for metadata extraction runs.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nucleus/metadata-extractor/internal/bootstrap"
	"github.com/nucleus/metadata-extractor/internal/config"
	"github.com/nucleus/metadata-extractor/internal/server"
	"github.com/nucleus/metadata-extractor/internal/workflows"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	logger, err := bootstrap.NewLogger(cfg)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer rt.Close()

	c, err := rt.DialTemporal()
	if err != nil {
		logger.Fatal("failed to create Temporal client", zap.Error(err))
	}
	defer c.Close()

	if cfg.EmbeddedWorker {
		w := rt.NewWorker(c)
		if err := w.Start(); err != nil {
			logger.Fatal("failed to start embedded worker", zap.Error(err))
		}
		defer w.Stop()
		logger.Info("embedded worker started", zap.String("queue", cfg.TemporalTaskQueue))
	} else if cfg.CredentialStore == "" || cfg.CredentialStore == "memory" {
		logger.Warn("memory credential store without embedded worker, remote workers cannot read credentials")
	}

	srv := server.New(cfg, rt.Credentials, workflows.NewClient(c, cfg.TemporalTaskQueue), rt.Checker(), logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down server", zap.Error(err))
		}
	}()

	logger.Info("metadata extractor listening", zap.String("port", cfg.Port))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

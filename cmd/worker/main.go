// Package main runs the metadata extraction Temporal worker.
package main

import (
	"context"
	"log"

	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/nucleus/metadata-extractor/internal/bootstrap"
	"github.com/nucleus/metadata-extractor/internal/config"
)

func main() {
	cfg := config.Load()

	logger, err := bootstrap.NewLogger(cfg)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	rt, err := bootstrap.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer rt.Close()

	c, err := rt.DialTemporal()
	if err != nil {
		logger.Fatal("failed to create Temporal client", zap.Error(err))
	}
	defer c.Close()

	logger.Info("starting metadata worker",
		zap.String("address", cfg.TemporalAddress),
		zap.String("namespace", cfg.TemporalNamespace),
		zap.String("queue", cfg.TemporalTaskQueue))

	if err := rt.NewWorker(c).Run(worker.InterruptCh()); err != nil {
		logger.Fatal("worker failed", zap.Error(err))
	}
}

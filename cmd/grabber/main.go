package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "time/tzdata"

	"github.com/RezaEskandarii/ticketfire/app"
	"github.com/RezaEskandarii/ticketfire/internal/logging"
	"github.com/RezaEskandarii/ticketfire/types/config"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadFromEnv("grabber")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.LogLevel,
		Development: os.Getenv("LOG_DEV") != "",
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	logger.Info("grabber starting",
		zap.String("instance", cfg.Instance),
		zap.String("storage", cfg.StorageDriver.String()),
		zap.Uint("http_port", cfg.HTTPPort),
		zap.String("time_sync", string(cfg.TimeSyncConfig.Method)),
	)
	if err := container.Run(ctx); err != nil {
		logger.Error("grabber stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

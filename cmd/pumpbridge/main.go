package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pumpbridge/common/database"
	commonlogger "pumpbridge/common/logger"
	"pumpbridge/db"
	"pumpbridge/internal/config"
	"pumpbridge/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 1. config
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. logger
	logger, err := commonlogger.NewLogger(cfg.Log.Level, cfg.Log.Format, "pumpbridge")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer logger.Sync()

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := migrate(cfg, logger); err != nil {
			logger.Fatal("Migration failed", zap.Error(err))
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. service
	svc, err := service.NewBridgeService(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create bridge service", zap.Error(err))
	}

	serviceErrChan, err := svc.Start(ctx)
	if err != nil {
		logger.Fatal("Failed to start bridge service", zap.Error(err))
	}

	// 4. wait for a signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serviceErrChan:
		logger.Error("Service error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := svc.Stop(shutdownCtx); err != nil {
		logger.Error("Shutdown incomplete", zap.Error(err))
	}
	logger.Info("Pump bridge stopped")
}

func migrate(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close(conn)

	n, err := db.Migrate(ctx, conn)
	if err != nil {
		return err
	}
	logger.Info("Schema applied", zap.Int("statements", n))
	return nil
}

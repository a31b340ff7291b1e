package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/danghamo/haulnav/internal/api"
	"github.com/danghamo/haulnav/internal/api/handlers"
	"github.com/danghamo/haulnav/pkg/config"
	"github.com/danghamo/haulnav/pkg/redisx"
)

// @title HaulNav API
// @version 1.0
// @description Live carrier navigation and delivery tracking over JSON-RPC 2.0
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, log, err := config.Initialize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting HaulNav server",
		zap.String("version", handlers.Version),
		zap.String("environment", cfg.Server.Environment),
		zap.String("directions", cfg.Directions.Provider),
	)

	redisClient, err := redisx.NewClient(cfg.Redis.URL, log)
	if err != nil {
		log.Fatal("Failed to initialize Redis client", zap.Error(err))
	}
	defer redisClient.Close()

	apiServer, err := api.NewServer(cfg, log, redisClient)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := apiServer.Start(ctx); err != nil {
		log.Error("Server error", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Server gracefully stopped")
}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/admit/internal/app"
	"github.com/turtacn/admit/internal/config"
	"github.com/turtacn/admit/internal/infrastructure/monitoring"
	"github.com/turtacn/admit/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, v, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, "Failed to initialize service", err)
		os.Exit(1)
	}

	config.Watch(v, appLogger, a.Reload)

	appLogger.Info(ctx, "Admission service starting",
		logger.String("address", cfg.Server.Addr()),
		logger.String("limiter", string(cfg.RateLimit.Backend)),
		logger.String("queue", string(cfg.Queue.Backend)),
	)
	runErr := a.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	a.Close(shutdownCtx)

	if runErr != nil {
		appLogger.Error(shutdownCtx, "Service stopped with error", runErr)
		os.Exit(1)
	}
	appLogger.Info(shutdownCtx, "Service stopped")
}

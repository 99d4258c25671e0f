package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"dwellwatch/internal/app"
	"dwellwatch/internal/config"
	"dwellwatch/internal/logger"
	"dwellwatch/internal/service"

	"github.com/joho/godotenv"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so that deferred cleanup always runs.
func run() int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("⚠️  Could not read .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return 1
	}

	appLogger := logger.NewLogger(cfg)
	defer appLogger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize: %v", err)
		return 1
	}

	if err := application.Run(ctx); err != nil {
		return exitCode(err, appLogger)
	}
	return 0
}

func exitCode(err error, appLogger *logger.Logger) int {
	if errors.Is(err, service.ErrNoCameras) {
		appLogger.Error("❌ No camera could be started, exiting")
	} else {
		appLogger.Error("Server stopped with error: %v", err)
	}
	return 1
}

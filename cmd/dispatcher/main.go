// Package main runs the swap dispatcher: the order and dispatch cron tasks
// plus the HTTP control surface.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/R3E-Network/swap_dispatcher/internal/app/runtime"
	"github.com/R3E-Network/swap_dispatcher/internal/config"
	"github.com/R3E-Network/swap_dispatcher/pkg/logger"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file to load before reading the environment")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logger.NewDefault("dispatcher").WithError(err).Fatal("failed to load configuration")
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}).Component("dispatcher")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := runtime.NewApplication(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build application")
	}

	runErr := app.Run(ctx)
	if runErr != nil {
		log.WithError(runErr).Error("server error")
	}

	log.Info("shutting down")
	if err := app.Shutdown(context.Background()); err != nil {
		log.WithError(err).Error("shutdown error")
		os.Exit(1)
	}
	if runErr != nil {
		os.Exit(1)
	}
	log.Info("stopped")
}

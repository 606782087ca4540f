// Package main provides the HTTP server for the vserve portal.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/vserve/internal/app"
	"github.com/raphaelgruber/vserve/internal/config"
)

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from the store on startup (testing only)")
	flag.Parse()

	cfg := config.Load()
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer closeLog()

	logger.Info("starting vserve-server", "port", cfg.ServerPort, "store", cfg.Store)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	backends, err := app.Open(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := backends.Close(context.Background()); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	if *wipeDB || os.Getenv("VSERVE_WIPE_DB") == "true" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := backends.WipeData(ctx)
		cancel()
		if err != nil {
			logger.Error("failed to wipe store", "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Serve(ctx, cfg, backends, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

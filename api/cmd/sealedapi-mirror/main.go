package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/irgordon/sealedapi/api/internal/app"
	"github.com/irgordon/sealedapi/api/internal/config"
	"github.com/irgordon/sealedapi/api/internal/logging"
)

func main() {
	flags := pflag.NewFlagSet("sealedapi-mirror", pflag.ContinueOnError)
	configPath := flags.String("config", os.Getenv("SEALEDAPI_CONFIG"), "path to a YAML config file")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	// --- 1. Configuration & Logging ---
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("FATAL: invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, os.Stdout)
	slog.SetDefault(logger)
	logger.Info("Booting sealed payload mirror",
		slog.String("environment", cfg.Environment),
		slog.Bool("encryption", cfg.Encryption.Enabled),
		slog.Bool("double_encode", cfg.Encryption.DoubleEncode),
	)

	// --- 2. Handler Tree ---
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler, err := app.NewMirror(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("FATAL: mirror wiring failed", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         ":" + cfg.Mirror.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	// --- 3. Graceful Exit ---
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Mirror listening", "port", cfg.Mirror.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("CRITICAL: Server crashed", "error", err)
			os.Exit(1)
		}
	}()

	<-stop
	logger.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ERROR: Forced shutdown", "error", err)
	}
	logger.Info("Mirror stopped")
}

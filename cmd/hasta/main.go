package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ayusman/hasta/internal/app"
	"github.com/ayusman/hasta/internal/logging"
)

func main() {
	configPath := flag.String("config", "config/gesture_config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env-file", ".env", "dotenv file to load before reading the token")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "console", "log format (console or json)")
	logFile := flag.String("log-file", "", "also write logs to this file")
	flag.Parse()

	logger, err := logging.New(*logLevel, *logFormat, *logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Failed to load env file", zap.String("path", *envFile), zap.Error(err))
	}

	logger.Info("Hasta - gesture control for Home Assistant", zap.String("config", *configPath))

	a, err := app.New(app.Config{
		ConfigPath: *configPath,
		Logger:     logger,
		StaticDir:  findWebDir(),
	})
	if err != nil {
		logger.Fatal("Failed to start", zap.Error(err))
	}
	defer a.Close()

	if err := a.Listen(); err != nil {
		logger.Fatal("Failed to bind", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := a.Reload(); err != nil {
				logger.Error("Reload failed, keeping previous configuration", zap.Error(err))
			}
		}
	}()

	if err := a.Run(ctx); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
	}

	s := a.Stats()
	logger.Info("Final statistics",
		zap.Uint64("gestures_received", s.Received),
		zap.Uint64("gestures_below_threshold", s.BelowThreshold),
		zap.Uint64("gestures_debounced", s.Debounced),
		zap.Uint64("actions_triggered", s.Triggered),
		zap.Uint64("actions_succeeded", s.Succeeded),
		zap.Uint64("actions_failed", s.Failed),
		zap.Float64("debounce_rate", s.DebounceRate),
	)
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.hasta/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	homeWebDir := filepath.Join(homeDir, ".hasta", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}
	return ""
}

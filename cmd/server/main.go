// Gerald gateway - BNPL decision service
package main

import (
	"context"
	"os"

	"github.com/perzequiel/gerald-gateway/internal/config"
	"github.com/perzequiel/gerald-gateway/internal/logging"
	"github.com/perzequiel/gerald-gateway/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting gerald-gateway",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"bank_api", cfg.BankAPIURL,
		"cooldown_hours", cfg.CooldownHours,
	)

	server.Version = Version
	srv, err := server.New(cfg, server.WithLogger(logging.New(cfg.LogLevel, "text")))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

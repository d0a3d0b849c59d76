package main

import (
	"context"
	"os"
	"strings"

	"github.com/nimasrn/credit-topup/internal/config"
	"github.com/nimasrn/credit-topup/pkg/logger"
	"github.com/nimasrn/credit-topup/pkg/pg"
)

// cli --env=.env --dir=./migrations --cmd=up
func main() {
	err := config.Load(getEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := logger.SetService(config.Get().AppName+"-cli", config.Get().AppEnv); err != nil {
		logger.Warn("failed to tag logger with service", "error", err)
	}
	defer logger.Sync()
	err = pg.Migrate(context.Background(), config.Get().PostgresWrite(), getMigrationPath(), argValue("--cmd=", "up"))
	if err != nil {
		logger.Error("migration: error running migrations", "error", err)
		os.Exit(1)
	}
}

func argValue(prefix, fallback string) string {
	for _, v := range os.Args {
		if strings.HasPrefix(v, prefix) {
			return strings.TrimPrefix(v, prefix)
		}
	}
	return fallback
}

func getEnvPath() string {
	p := argValue("--env=", ".env")
	if _, err := os.Stat(p); err != nil {
		logger.Warn("env file not found, reading the environment only", "path", p, "error", err)
		return ""
	}
	return p
}

func getMigrationPath() string {
	p := argValue("--dir=", "./migrations")
	if _, err := os.Stat(p); err != nil {
		logger.Error("migration directory not found", "path", p, "error", err)
	}
	return p
}

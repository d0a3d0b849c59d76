package pg

import (
	"context"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/nimasrn/credit-topup/pkg/logger"
	"github.com/pressly/goose/v3"
)

// Migrate runs a goose command ("up", "down", "status", "redo", ...) against
// the migrations found in dir.
func Migrate(ctx context.Context, cfg Config, dir, command string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	db, err := newSqlConnection(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if command == "" {
		command = "up"
	}
	if err = goose.RunContext(ctx, command, db, dir); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}

	version, err := goose.GetDBVersionContext(ctx, db)
	if err == nil {
		logger.Info("migrations applied", "dir", dir, "command", command, "version", version)
	}
	return nil
}

package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/uptrace/bun/migrate"

	"github.com/chainsafe/registry-middleware/pkg/config"
	"github.com/chainsafe/registry-middleware/pkg/migrations/registrydb"
	"github.com/chainsafe/registry-middleware/pkg/pgutil"
	mghelper "github.com/chainsafe/registry-middleware/pkg/pgutil/migrations"
)

// Migrator runs a journal schema migration command.
type Migrator struct {
	cfg     *config.Config
	command string
}

// NewMigrator initializes a migration runner for command.
func NewMigrator(cfg *config.Config, command string) *Migrator {
	return &Migrator{cfg: cfg, command: command}
}

// Run applies the migration command against the journal database.
func (m *Migrator) Run() error {
	if m.cfg == nil {
		return fmt.Errorf("nil config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(m.cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := pgutil.ConnectDB(ctx, &m.cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	migrator := migrate.NewMigrator(db, registrydb.Migrations)
	return mghelper.RunMigrations(ctx, migrator, logger, m.command)
}

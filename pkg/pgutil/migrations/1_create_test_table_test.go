package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// testMigrations is registered from a file whose name carries the migration version.
var testMigrations = migrate.NewMigrations()

func init() {
	testMigrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		return CreateSchema(ctx, db, &testDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		return DropTables(ctx, db, &testDao{})
	})
}

package registrydb

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/chainsafe/registry-middleware/pkg/journal"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		return journal.CreateSchema(ctx, db)
	}, func(ctx context.Context, db *bun.DB) error {
		return journal.DropSchema(ctx, db)
	})
}

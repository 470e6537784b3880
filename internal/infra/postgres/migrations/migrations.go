package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// Migrations holds every schema change. Names come from the registering
// file, so files sort in the order they must be applied.
var Migrations = migrate.NewMigrations()

// sqlMigration runs plain SQL scripts for the up and down steps, each in its
// own transaction.
func sqlMigration(up, down string) (migrate.MigrationFunc, migrate.MigrationFunc) {
	return execInTx(up), execInTx(down)
}

func execInTx(script string) migrate.MigrationFunc {
	return func(ctx context.Context, db *bun.DB) error {
		return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			_, err := tx.ExecContext(ctx, script)
			return err
		})
	}
}

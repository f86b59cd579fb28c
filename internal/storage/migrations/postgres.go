package migrations

import (
	"context"
	"fmt"

	"github.com/bbopar/discord-token-tracker/internal/storage/postgres"
)

// RunPostgresMigrations applies the embedded token store schema.
// Every statement is idempotent, so the call is safe on each start-up.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := readDir(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, f := range files {
		// pgx runs a multi-statement string as one simple-protocol batch.
		if _, err := pool.Exec(ctx, f.body); err != nil {
			return fmt.Errorf("apply migration %s: %w", f.name, err)
		}
	}
	return nil
}

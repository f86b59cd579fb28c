package postgres

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts a PostgreSQL container with the token schema applied.
func setupTestDB(t *testing.T) *Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("tokens"),
		postgres.WithUsername("tracker"),
		postgres.WithPassword("tracker"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")
	t.Cleanup(pool.Close)

	applySchema(t, pool)
	return pool
}

// applySchema executes the migration files on disk. The migrations package
// imports this one, so the embedded copy is out of reach here.
func applySchema(t *testing.T, pool *Pool) {
	t.Helper()

	migrations := os.DirFS(filepath.Join(projectRoot(t), "internal", "storage", "migrations", "postgres"))
	files, err := fs.Glob(migrations, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files, "no postgres migrations found")

	for _, name := range files {
		body, err := fs.ReadFile(migrations, name)
		require.NoError(t, err)

		_, err = pool.Exec(context.Background(), string(body))
		require.NoError(t, err, "apply migration %s", name)
	}
}

func projectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found")
		}
		dir = parent
	}
}

// truncateAll empties every table between contract subtests.
func truncateAll(t *testing.T, pool *Pool) {
	t.Helper()

	_, err := pool.Exec(context.Background(), `
		TRUNCATE token_updates, mention_jobs, sent_recommendations, performance_refreshes, tokens
		RESTART IDENTITY CASCADE
	`)
	require.NoError(t, err, "failed to truncate tables")
}

// Package testutil holds helpers shared by integration tests. Tests that need
// PostgreSQL or Redis are skipped unless TEST_DATABASE_URL or TEST_REDIS_ADDR
// is set.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/task-notifier/migrations"
	"github.com/cuongbtq/task-notifier/shared/postgresql"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OpenDB connects to TEST_DATABASE_URL, applies migrations and truncates the
// delivery and task tables.
func OpenDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	client := postgresql.NewClientFromDB(db, DiscardLogger())
	require.NoError(t, client.Migrate(context.Background(), migrations.FS))

	_, err = db.Exec(`TRUNCATE delivery_jobs, scheduled_job_runs, archived_task_stages, archived_tasks, task_stages, tasks, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return db
}

// RedisAddr returns TEST_REDIS_ADDR or skips the test.
func RedisAddr(t *testing.T) string {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	return addr
}

package postgresql

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"github.com/pressly/goose/v3/lock"
)

var ErrFailedToApplyMigrations = errors.New("failed to apply migrations")

const migrationsTable = "schema_migrations"

// Migrate applies the embedded goose migrations found at the root of fsys.
// A postgres session lock serializes processes that start together, so only
// one of them applies a given migration.
func (c *Client) Migrate(ctx context.Context, fsys fs.FS) error {
	provider, err := c.newMigrationProvider(fsys)
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	for _, r := range results {
		c.logger.Info("Migration applied",
			slog.String("source", r.Source.Path),
			slog.Duration("duration", r.Duration),
		)
	}

	version, err := provider.GetDBVersion(ctx)
	if err == nil {
		c.logger.Info("Database schema up to date", slog.Int64("version", version))
	}
	return nil
}

func (c *Client) newMigrationProvider(fsys fs.FS) (*goose.Provider, error) {
	store, err := database.NewStore(database.DialectPostgres, migrationsTable)
	if err != nil {
		return nil, fmt.Errorf("migration store: %w", err)
	}
	locker, err := lock.NewPostgresSessionLocker()
	if err != nil {
		return nil, fmt.Errorf("migration locker: %w", err)
	}

	// A custom store carries the dialect itself.
	return goose.NewProvider("", c.db.DB, fsys,
		goose.WithStore(store),
		goose.WithSessionLocker(locker),
		goose.WithLogger(&gooseLogger{log: c.logger}),
	)
}

// gooseLogger routes goose output through slog.
type gooseLogger struct {
	log *slog.Logger
}

func (g *gooseLogger) Fatalf(format string, v ...any) {
	g.log.Error(fmt.Sprintf(format, v...))
}

func (g *gooseLogger) Printf(format string, v ...any) {
	g.log.Info(fmt.Sprintf(format, v...))
}

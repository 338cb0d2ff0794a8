package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"

	"github.com/RezaEskandarii/ticketfire/internal/constants"
	"github.com/RezaEskandarii/ticketfire/internal/lock"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const schema = "ticketfire_schema"

//go:embed migrations/*.sql
var migrations embed.FS

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, postgresURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the schema and runs every embedded migration script in file name order. Only one
// instance runs the scripts at a time; the others wait on the migration lock. Every script is
// idempotent, so a second run is a no-op.
func Migrate(ctx context.Context, db *sql.DB, distributedLock lock.DistributedLockManager, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	return lock.WithLock(ctx, distributedLock, constants.MigrationLock, func() error {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}

		scripts, err := readSQLScripts()
		if err != nil {
			return err
		}
		for _, script := range scripts {
			logger.Info("running migration", zap.String("script", script.name))
			if _, err := db.ExecContext(ctx, script.body); err != nil {
				return fmt.Errorf("migration %s: %w", script.name, err)
			}
		}
		return nil
	})
}

type sqlScript struct {
	name string
	body string
}

func readSQLScripts() ([]sqlScript, error) {
	// fs.ReadDir returns entries sorted by file name
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return nil, err
	}
	var scripts []sqlScript
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := migrations.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, sqlScript{name: entry.Name(), body: string(content)})
	}
	return scripts, nil
}

package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"recordmanager/pkg/logger"
)

// Migration files use the goose layout, so they can also be applied with
// `goose -dir internal/infrastructure/storage/postgres/migrations up`.
//
//go:embed migrations/*.sql
var migrationFS embed.FS

const upMarker = "-- +goose Up"
const downMarker = "-- +goose Down"

// Migration is one embedded schema step.
type Migration struct {
	Name string
	Up   string
}

// Migrations returns the embedded migrations in name order.
func Migrations() ([]Migration, error) {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		raw, err := migrationFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		out = append(out, Migration{
			Name: strings.TrimPrefix(name, "migrations/"),
			Up:   upSection(string(raw)),
		})
	}
	return out, nil
}

// upSection returns the statements between the Up and Down markers.
func upSection(sql string) string {
	if i := strings.Index(sql, upMarker); i >= 0 {
		sql = sql[i+len(upMarker):]
	}
	if i := strings.Index(sql, downMarker); i >= 0 {
		sql = sql[:i]
	}
	return strings.TrimSpace(sql)
}

// Migrate applies pending migrations, each in its own transaction, and
// returns the names applied.
func Migrate(ctx context.Context, txm *TxManager) ([]string, error) {
	migrations, err := Migrations()
	if err != nil {
		return nil, err
	}

	const ensure = `CREATE TABLE IF NOT EXISTS schema_migrations (
		name    text PRIMARY KEY,
		applied timestamptz NOT NULL DEFAULT now()
	)`
	if _, err := txm.GetQuerier(ctx).Exec(ctx, ensure); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied []string
	for _, m := range migrations {
		err := txm.RunInTransaction(ctx, func(ctx context.Context) error {
			q := txm.GetQuerier(ctx)

			var done bool
			if err := q.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)", m.Name).Scan(&done); err != nil {
				return err
			}
			if done {
				return nil
			}

			if _, err := q.Exec(ctx, m.Up); err != nil {
				return err
			}
			if _, err := q.Exec(ctx, "INSERT INTO schema_migrations (name) VALUES ($1)", m.Name); err != nil {
				return err
			}
			applied = append(applied, m.Name)
			logger.Info(ctx, "migration applied", "name", m.Name)
			return nil
		})
		if err != nil {
			return applied, fmt.Errorf("migration %s: %w", m.Name, err)
		}
	}
	return applied, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/signalsfoundry/across/internal/logging"
)

// Migration is one schema step. Names sort in application order.
type Migration struct {
	Name    string
	UpSQL   string
	DownSQL string
}

// ErrNoMigrations is returned by Rollback when nothing is applied.
var ErrNoMigrations = errors.New("no migrations to roll back")

// MigrationStatus reports whether a migration has been applied.
type MigrationStatus struct {
	Name    string
	Applied bool
}

// Migrator applies migrations and records them in schema_migrations.
type Migrator struct {
	db  *sql.DB
	log logging.Logger
}

func NewMigrator(db *sql.DB, log logging.Logger) *Migrator {
	if log == nil {
		log = logging.Noop()
	}
	return &Migrator{db: db, log: log}
}

// Initialize creates the bookkeeping table if it doesn't exist.
func (m *Migrator) Initialize(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

// Applied returns the names of applied migrations.
func (m *Migrator) Applied(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT name FROM schema_migrations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// run executes one step and its bookkeeping in a single transaction.
func (m *Migrator) run(ctx context.Context, name, stmt, record string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			m.log.Warn(ctx, "migration rollback failed", logging.String("migration", name), logging.Err(err))
		}
	}()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("execute migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, record, name); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	return tx.Commit()
}

// Up applies every pending migration in order.
func (m *Migrator) Up(ctx context.Context, migrations []Migration) error {
	if err := m.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize migrations: %w", err)
	}
	applied, err := m.Applied(ctx)
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}
	for _, mig := range migrations {
		if applied[mig.Name] {
			continue
		}
		if err := m.run(ctx, mig.Name, mig.UpSQL, `INSERT INTO schema_migrations (name) VALUES ($1)`); err != nil {
			return err
		}
		m.log.Info(ctx, "applied migration", logging.String("migration", mig.Name))
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context, migrations []Migration) error {
	applied, err := m.Applied(ctx)
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}
	for i := len(migrations) - 1; i >= 0; i-- {
		mig := migrations[i]
		if !applied[mig.Name] {
			continue
		}
		if err := m.run(ctx, mig.Name, mig.DownSQL, `DELETE FROM schema_migrations WHERE name = $1`); err != nil {
			return err
		}
		m.log.Info(ctx, "rolled back migration", logging.String("migration", mig.Name))
		return nil
	}
	return ErrNoMigrations
}

// Status lists every known migration with its applied flag.
func (m *Migrator) Status(ctx context.Context, migrations []Migration) ([]MigrationStatus, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize migrations: %w", err)
	}
	applied, err := m.Applied(ctx)
	if err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	out := make([]MigrationStatus, len(migrations))
	for i, mig := range migrations {
		out[i] = MigrationStatus{Name: mig.Name, Applied: applied[mig.Name]}
	}
	return out, nil
}

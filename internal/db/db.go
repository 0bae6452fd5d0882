package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

// InterruptedMessage is recorded on work failed by a restart.
const InterruptedMessage = "interrupted by restart"

//go:embed migrations/*.sql
var migrationsFS embed.FS

type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// New opens the SQLite database at dbPath, applies pending migrations and
// fails work a previous process left in flight. logger may be nil.
func New(dbPath string, logger *slog.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	d := &DB{conn: conn, logger: logger}
	if err := d.init(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) init(ctx context.Context) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := d.conn.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	if err := d.migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := d.markInterruptedJobs(); err != nil && d.logger != nil {
		d.logger.Warn("failed to mark interrupted jobs", "error", err)
	}
	return nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Conn() *sql.DB {
	return d.conn
}

// migrate applies every embedded migration not yet in the _migrations
// ledger, in file-name order. Each file and its ledger row commit together.
func (d *DB) migrate(ctx context.Context) error {
	entries, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(entries)

	applied, err := d.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, file := range entries {
		name := path.Base(file)
		if applied[name] {
			continue
		}
		script, err := migrationsFS.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if err := d.apply(ctx, name, string(script)); err != nil {
			return err
		}
		if d.logger != nil {
			d.logger.Info("applied migration", "name", name)
		}
	}
	return nil
}

func (d *DB) apply(ctx context.Context, name, script string) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", name, err)
	}
	return nil
}

// appliedMigrations returns the ledger contents; a fresh database has no
// ledger table yet.
func (d *DB) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	applied := make(map[string]bool)

	var n int
	if err := d.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='_migrations'").Scan(&n); err != nil {
		return nil, fmt.Errorf("failed to inspect migrations ledger: %w", err)
	}
	if n == 0 {
		return applied, nil
	}

	rows, err := d.conn.QueryContext(ctx, "SELECT name FROM _migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations ledger: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to read migrations ledger: %w", err)
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// markInterruptedJobs fails work that was in flight when the process died.
// Neither renders nor transcriptions resume, so the records would otherwise
// stay active forever.
func (d *DB) markInterruptedJobs() error {
	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339)

	res, err := d.conn.ExecContext(ctx,
		`UPDATE render_jobs SET status = 'failed', error = ?, updated_at = ? WHERE status = 'rendering'`,
		InterruptedMessage, now)
	if err != nil {
		return fmt.Errorf("mark interrupted renders: %w", err)
	}
	renders, _ := res.RowsAffected()

	res, err = d.conn.ExecContext(ctx,
		`UPDATE captions SET status = 'failed', error = ?, updated_at = ? WHERE status = 'processing'`,
		InterruptedMessage, now)
	if err != nil {
		return fmt.Errorf("mark interrupted captions: %w", err)
	}
	captions, _ := res.RowsAffected()

	if d.logger != nil && renders+captions > 0 {
		d.logger.Warn("marked interrupted work as failed", "renders", renders, "captions", captions)
	}
	return nil
}

package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Options selects the driver and location of the database.
type Options struct {
	Driver Dialect
	// Path is the SQLite file path.
	Path string
	// URL is the PostgreSQL DSN.
	URL string
}

type DB struct {
	conn    *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// New opens the SQLite database at dbPath.
func New(dbPath string, logger *slog.Logger) (*DB, error) {
	return Open(Options{Driver: SQLite, Path: dbPath}, logger)
}

// Open connects to the configured database, applies pending migrations and
// fails dispatches that were interrupted by a restart.
func Open(opts Options, logger *slog.Logger) (*DB, error) {
	var (
		conn *sql.DB
		err  error
	)

	switch opts.Driver {
	case SQLite, "":
		conn, err = openSQLite(opts.Path)
		opts.Driver = SQLite
	case Postgres:
		conn, err = openPostgres(opts.URL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn, dialect: opts.Driver, logger: logger}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := db.markInterruptedDispatches(); err != nil && logger != nil {
		logger.Warn("failed to mark interrupted dispatches", "error", err)
	}

	return db, nil
}

func openSQLite(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serialises writers, which is what makes the
	// status-guarded updates atomic under SQLite.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return conn, nil
}

func openPostgres(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres database url is required")
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return conn, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Conn() *sql.DB {
	return d.conn
}

func (d *DB) Dialect() Dialect {
	return d.dialect
}

func (d *DB) migrate() error {
	if _, err := d.conn.Exec(`CREATE TABLE IF NOT EXISTS _migrations (
		name       TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Name() < migrations[j].Name() })

	for _, m := range migrations {
		if m.IsDir() {
			continue
		}

		name := m.Name()

		applied, err := d.isMigrationApplied(name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		if _, err := d.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}

		if _, err := d.conn.Exec(d.dialect.Rebind("INSERT INTO _migrations (name, applied_at) VALUES (?, ?)"),
			name, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", name, err)
		}

		if d.logger != nil {
			d.logger.Info("applied migration", "name", name, "driver", string(d.dialect))
		}
	}

	return nil
}

func (d *DB) isMigrationApplied(name string) (bool, error) {
	var count int
	err := d.conn.QueryRow(d.dialect.Rebind("SELECT COUNT(*) FROM _migrations WHERE name = ?"), name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check migration %s: %w", name, err)
	}
	return count > 0, nil
}

// markInterruptedDispatches fails units whose submission was in flight when
// the process stopped. Their jobs never received a correlation id, so no
// webhook can ever settle them.
func (d *DB) markInterruptedDispatches() error {
	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339)

	if _, err := d.conn.ExecContext(ctx, d.dialect.Rebind(`
		UPDATE generation_jobs SET status = 'failed', error_message = 'interrupted by restart', updated_at = ?, completed_at = ?
		WHERE status = 'dispatched' AND correlation_id IS NULL`), now, now); err != nil {
		return err
	}

	_, err := d.conn.ExecContext(ctx, d.dialect.Rebind(`
		UPDATE video_units SET status = 'failed', error_message = 'interrupted by restart', updated_at = ?
		WHERE status = 'dispatched'`), now)
	return err
}

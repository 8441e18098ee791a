package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/sloppy/hostlink/internal/linkage"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// ErrNotFound is returned by mutations that address a missing row.
var ErrNotFound = errors.New("not found")

// DB wraps sql.DB and implements linkage.Store.
type DB struct {
	*sql.DB
}

var _ linkage.Store = (*DB)(nil)

// Open opens (or creates) a SQLite database at path and brings its schema up
// to date. Transactions take the write lock when they begin.
func Open(path string) (*DB, error) {
	// foreign_keys and busy_timeout are per connection; the DSN applies them to
	// every pooled connection.
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate", path)

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := sqlDB.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	db := &DB{sqlDB}
	ctx := context.Background()
	if err := db.migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.backfillIPKeys(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// migrate applies embedded migrations that are not yet recorded in
// schema_migration, each in its own transaction.
func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migration (
		version TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	)`); err != nil {
		return fmt.Errorf("create schema_migration: %w", err)
	}

	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		version := strings.TrimSuffix(path.Base(name), ".sql")
		var applied int
		if err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schema_migration WHERE version = ?`, version).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", version, err)
		}
		if applied > 0 {
			continue
		}
		body, err := migrationFiles.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}
		if err := db.applyMigration(ctx, version, string(body)); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) applyMigration(ctx context.Context, version, body string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", version, err)
	}
	defer tx.Rollback()

	if stmt := strings.TrimSpace(body); stmt != "" {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %s: %w", version, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migration (version) VALUES (?)`, version); err != nil {
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
	}
	return nil
}

// backfillIPKeys fills ip_int for interfaces stored without it, so subnet
// filters see them.
func (db *DB) backfillIPKeys(ctx context.Context) error {
	rows, err := db.QueryContext(ctx, `SELECT id, ip FROM host_interface WHERE ip_int IS NULL AND ip <> ''`)
	if err != nil {
		return fmt.Errorf("select unkeyed interfaces: %w", err)
	}
	keys := make(map[int64]int64)
	for rows.Next() {
		var id int64
		var ip string
		if err := rows.Scan(&id, &ip); err != nil {
			rows.Close()
			return fmt.Errorf("scan interface: %w", err)
		}
		if key, ok := ipKey(ip); ok {
			keys[id] = key
		}
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("close interface rows: %w", err)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate interfaces: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	return db.WithinTx(ctx, func(ltx linkage.Tx) error {
		tx := ltx.(*Tx)
		for id, key := range keys {
			if _, err := tx.ExecContext(ctx, `UPDATE host_interface SET ip_int = ? WHERE id = ?`, key, id); err != nil {
				return fmt.Errorf("update ip_int for interface %d: %w", id, err)
			}
		}
		return nil
	})
}

// WithinTx runs fn in a transaction that commits when fn returns nil.
func (db *DB) WithinTx(ctx context.Context, fn func(tx linkage.Tx) error) error {
	tx, err := db.BeginContext(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

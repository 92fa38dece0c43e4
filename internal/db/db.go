// Package db opens the application SQLite database and owns its schema.
// Query methods live with the packages that own each table; this package
// provides the connection, pragmas, and transaction helper they share.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mutecomm/go-sqlcipher/v4"
)

const (
	// MaxOpenConns caps open connections. SQLite is single-writer, so high
	// connection counts are counterproductive.
	MaxOpenConns = 10

	// MaxIdleConns caps idle connections.
	MaxIdleConns = 2
)

// DB wraps the application database connection.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if needed) the application database at path and
// applies the schema. The parent directory is created if missing.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := sqlDB.Exec(AppSchema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &DB{sql: sqlDB}, nil
}

// NewFromSQL wraps an existing connection. The caller is responsible for
// having applied the schema.
func NewFromSQL(sqlDB *sql.DB) *DB {
	return &DB{sql: sqlDB}
}

// SQL returns the underlying sql.DB for direct access.
func (d *DB) SQL() *sql.DB {
	return d.sql
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

// WithTx runs fn inside a transaction, committing on nil and rolling back
// on error.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

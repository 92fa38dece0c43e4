// Package testdb creates in-memory databases for tests.
package testdb

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/kuitang/project-os/internal/db"
)

var dbCounter atomic.Int64

// New creates an in-memory application database for a test and registers
// cleanup. Each call gets an isolated database.
func New(t *testing.T) *db.DB {
	t.Helper()

	// Distinct name per database; cache=shared keeps the memory database
	// alive across the pool's connections.
	dsn := fmt.Sprintf("file:testdb-%d?mode=memory&cache=shared&_busy_timeout=5000", dbCounter.Add(1))
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open in-memory database: %v", err)
	}

	// A single connection sidesteps shared-cache table locks; SQLite is
	// single-writer anyway.
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		t.Fatalf("ping in-memory database: %v", err)
	}

	if err := applyFastSQLitePragmas(sqlDB); err != nil {
		sqlDB.Close()
		t.Fatalf("apply fast SQLite pragmas: %v", err)
	}

	if _, err := sqlDB.Exec(db.AppSchema); err != nil {
		sqlDB.Close()
		t.Fatalf("initialize in-memory schema: %v", err)
	}

	wrapped := db.NewFromSQL(sqlDB)
	t.Cleanup(func() { wrapped.Close() })
	return wrapped
}

func applyFastSQLitePragmas(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=MEMORY",
		"PRAGMA synchronous=OFF",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA secure_delete=OFF",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}

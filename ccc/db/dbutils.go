package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// TimeToString converts a time.Time to RFC3339Nano string for database storage
func TimeToString(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// StringToTime converts an RFC3339Nano string from database to time.Time
func StringToTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// BoolToInt converts a boolean to integer for database storage (1 for true, 0 for false)
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// IntToBool converts an integer from database to boolean (1 = true, 0 = false)
func IntToBool(i int) bool {
	return i == 1
}

// Int64PtrToNull converts an optional integer into a value accepted by database/sql
func Int64PtrToNull(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// NullToInt64Ptr converts a nullable column back into an optional integer
func NullToInt64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	result := v.Int64
	return &result
}

// OpenSQLite opens (and creates if needed) the SQLite database file at path
func OpenSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	return db, nil
}

// NewInMemoryDB creates a new in-memory SQLite database for testing
func NewInMemoryDB() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}

	// a single connection keeps every query on the same in-memory database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

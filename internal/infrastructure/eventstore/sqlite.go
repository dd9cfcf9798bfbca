package eventstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var sqliteDialect = dialect{
	name:              "sqlite",
	insertRow:         queryInsertRowSQLite,
	findRows:          queryFindRowsSQLite,
	maxVersion:        queryMaxVersionSQLite,
	isUniqueViolation: isSQLiteConstraintViolation,
}

// NewSQLiteEngine opens (or creates) a SQLite database and its schema.
// Use ":memory:" for a throwaway database.
func NewSQLiteEngine(path string, opts ...SQLOption) (*SQLEngine, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}

	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite допускает одного писателя, единственное соединение снимает SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err = db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if _, err = db.Exec(schemaSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	e := newSQLEngine(db, sqliteDialect, opts...)
	e.ownsDB = true

	return e, nil
}

func isSQLiteConstraintViolation(err error) bool {
	var sErr *sqlite.Error
	return errors.As(err, &sErr) && sErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

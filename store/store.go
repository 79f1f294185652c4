// Package store gives every participant access to the embedded stores that
// act as the inter-process mailbox. All access goes through an Executor,
// which is the only place where contention is handled.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// uriPath escapes the characters that would end the path of a file: URI.
var uriPath = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

// Drivers accepted by Open.
const (
	DriverCgo  = "sqlite3"
	DriverPure = "sqlite"
)

// Open opens the sqlite file at path with the named driver. The file is
// created if missing. The connection uses WAL journaling and a zero busy
// timeout so that contention is reported immediately to the Executor.
func Open(path, driver string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	name := uriPath.Replace(path)

	var dsn string
	switch driver {
	case DriverCgo, "":
		driver = DriverCgo
		dsn = "file:" + name + "?_busy_timeout=0&_journal_mode=WAL"
	case DriverPure:
		dsn = "file:" + name +
			"?_pragma=busy_timeout(0)&_pragma=journal_mode(WAL)"
	default:
		return nil, fmt.Errorf("unknown sqlite driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}

	return db, nil
}

// Package framedb persists a best-effort diagnostic log of capture runs,
// emitted frames, and detection resolutions to SQLite. Nothing on the
// capture admission path writes here; the capture service logs from its
// delivery goroutine and failures are logged, never surfaced.
package framedb

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle.
type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the frame log database and applies the
// connection pragmas. Run MigrateUp before first use.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open frame log db: %w", err)
	}

	// WAL lets the monitor read while the delivery goroutine writes; the
	// busy timeout covers the rest.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}

	return &DB{db}, nil
}

// retryOnBusy retries a write a few times when SQLite reports the database
// is locked. Writes here are low-rate (≤5 Hz), so a short backoff is
// plenty.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = fn()
		if err == nil || !strings.Contains(err.Error(), "locked") {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return err
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

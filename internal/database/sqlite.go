package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	defaultBusyTimeout = 5 * time.Second
	sharedMemoryDSN    = "file::memory:?cache=shared&_foreign_keys=1"
)

func openSQLite(cfg Config) (*gorm.DB, error) {
	dsn, memory, err := sqliteDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}

	// Shared-cache memory databases report SQLITE_LOCKED to concurrent writers
	// instead of waiting on the busy timeout.
	if memory {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// sqliteDSN resolves cfg to a go-sqlite3 DSN. File databases use WAL and take
// the write lock when a transaction begins, so concurrent signers queue on the
// busy timeout rather than failing a lock upgrade.
func sqliteDSN(cfg Config) (dsn string, memory bool, err error) {
	if dsn = strings.TrimSpace(cfg.DSN); dsn != "" {
		return dsn, strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory"), nil
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" || strings.EqualFold(path, ":memory:") {
		return sharedMemoryDSN, true, nil
	}
	if err := ensureDir(path); err != nil {
		return "", false, fmt.Errorf("sqlite: create data dir: %w", err)
	}
	return fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_txlock=immediate&_busy_timeout=%d",
		filepath.ToSlash(path), busyTimeoutMillis(cfg.LockTimeout)), false, nil
}

func busyTimeoutMillis(d time.Duration) int64 {
	if d <= 0 {
		d = defaultBusyTimeout
	}
	return d.Milliseconds()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

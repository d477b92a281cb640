// Package sqlitestorage stores load reports in a SQLite file through the
// pure-Go glebarez driver.
package sqlitestorage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	gormstorage "github.com/avaviz/flowrender/internal/storage/gorm"
)

// Config holds configuration for the SQLite storage backend.
type Config struct {
	// Path of the database file. Empty or ":memory:" keeps it in memory.
	Path string
}

// Backend wraps the GORM backend for SQLite-specific setup.
type Backend struct {
	*gormstorage.Backend
	cfg Config
}

// New opens the database and returns an uninitialized backend.
func New(cfg Config, log *slog.Logger) (*Backend, error) {
	db, err := open(cfg.Path)
	if err != nil {
		return nil, err
	}
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{DB: db, Logger: log}),
		cfg:     cfg,
	}, nil
}

// pragmas favor a single writer that never blocks readers.
var pragmas = []string{
	"PRAGMA journal_mode = WAL;",
	"PRAGMA synchronous = NORMAL;",
	"PRAGMA foreign_keys = ON;",
	"PRAGMA busy_timeout = 5000;",
}

func open(path string) (*gorm.DB, error) {
	if path == "" || path == ":memory:" {
		path = "file::memory:"
	}
	// one connection keeps an in-memory database alive and shared
	return gormstorage.Open(sqlite.Open(path), gormstorage.OpenOptions{
		MaxOpenConns: 1,
		PrepareStmt:  true,
		Setup:        pragmas,
	})
}

// Dump writes a consistent snapshot of the database to path via VACUUM INTO.
func (b *Backend) Dump(path string) error {
	if path == "" {
		return errors.New("sqlite dump: no path")
	}
	// VACUUM INTO refuses to overwrite
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("sqlite dump: %w", err)
	}
	if err := b.DB().Exec("VACUUM INTO ?", path).Error; err != nil {
		return fmt.Errorf("sqlite dump to %s: %w", path, err)
	}
	return nil
}

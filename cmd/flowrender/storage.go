package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/avaviz/flowrender/internal/config"
	"github.com/avaviz/flowrender/internal/storage"
	"github.com/avaviz/flowrender/internal/storage/influx"
	"github.com/avaviz/flowrender/internal/storage/memory"
	"github.com/avaviz/flowrender/internal/storage/postgres"
	sqlitestorage "github.com/avaviz/flowrender/internal/storage/sqlite"
)

// createStorageBackend builds and initializes the backend named by
// storage.type.
func createStorageBackend(cfg config.StorageConfig, logsDir string, logger *slog.Logger) (storage.Backend, error) {
	var (
		backend storage.Backend
		err     error
	)
	switch cfg.Type {
	case "", "memory":
		backend = memory.New(cfg.Memory)
	case "sqlite":
		backend, err = sqlitestorage.New(sqlitestorage.Config{Path: cfg.SQLite.Path}, logger)
	case "postgres":
		backend, err = postgres.New(cfg.Postgres, logger)
	case "influx":
		backup := ""
		if logsDir != "" {
			backup = filepath.Join(logsDir, "flowrender_influx_backup.lp.gz")
		}
		backend = influx.New(cfg.Influx, backup, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	if err := backend.Init(); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("init %s storage: %w", cfg.Type, err)
	}
	logger.Info("Storage backend ready", "type", cfg.Type)
	return backend, nil
}

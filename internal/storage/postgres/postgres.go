// Package postgres stores load reports in PostgreSQL.
package postgres

import (
	"log/slog"

	"gorm.io/driver/postgres"

	"github.com/avaviz/flowrender/internal/config"
	gormstorage "github.com/avaviz/flowrender/internal/storage/gorm"
)

// Backend wraps the GORM backend for Postgres-specific setup.
type Backend struct {
	*gormstorage.Backend
}

// New connects to the database described by cfg. The connection is
// verified before New returns.
func New(cfg config.PostgresConfig, log *slog.Logger) (*Backend, error) {
	dialector := postgres.New(postgres.Config{DSN: cfg.DSN(), PreferSimpleProtocol: true})
	db, err := gormstorage.Open(dialector, gormstorage.OpenOptions{MaxOpenConns: 10})
	if err != nil {
		return nil, err
	}
	return &Backend{Backend: gormstorage.New(gormstorage.Dependencies{DB: db, Logger: log})}, nil
}

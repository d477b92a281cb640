package gormstorage

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenOptions tune Open.
type OpenOptions struct {
	// MaxOpenConns limits the pool. Zero leaves the driver default.
	MaxOpenConns int
	PrepareStmt  bool
	// Setup statements run once the connection answers, e.g. PRAGMAs.
	Setup []string
}

// Open connects through dialector with GORM logging silenced, checks that the
// database answers and runs the setup statements.
func Open(dialector gorm.Dialector, opts OpenOptions) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		PrepareStmt:            opts.PrepareStmt,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialector.Name(), err)
	}
	pool, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%s pool: %w", dialector.Name(), err)
	}
	if opts.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if err := pool.Ping(); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping %s: %w", dialector.Name(), err)
	}
	for _, stmt := range opts.Setup {
		if err := db.Exec(stmt).Error; err != nil {
			_ = pool.Close()
			return nil, fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return db, nil
}

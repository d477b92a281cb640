// Package storage defines where load reports are persisted.
package storage

import (
	"context"

	"github.com/avaviz/flowrender/pkg/core"
)

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// SaveReport persists one load run.
	SaveReport(ctx context.Context, r *core.LoadReport) error
}

// Exporter is an optional interface for backends that write one file per
// report.
type Exporter interface {
	LastExportPath() string
}

// RunSummary is one stored load run.
type RunSummary struct {
	RunID       string
	StartedAt   string
	DurationMs  int64
	Simulations int
	Loaded      int
	Failed      int
}

// Lister is an optional interface for backends that can list past runs,
// newest first.
type Lister interface {
	Runs(ctx context.Context, limit int) ([]RunSummary, error)
}

// Totals sums frame counts over every simulation of r.
func Totals(r *core.LoadReport) (loaded, failed int) {
	for _, s := range r.Simulations {
		loaded += s.Loaded
		failed += s.Failed
	}
	return loaded, failed
}

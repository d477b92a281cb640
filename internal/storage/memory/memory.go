// Package memory keeps load reports in memory and exports each one as a
// JSON file, optionally gzipped.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/avaviz/flowrender/internal/config"
	"github.com/avaviz/flowrender/internal/storage"
	"github.com/avaviz/flowrender/pkg/core"
)

// Backend stores reports in memory and exports to JSON
type Backend struct {
	cfg            config.MemoryConfig
	reports        []core.LoadReport
	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{cfg: cfg}
}

func (b *Backend) Init() error {
	return nil
}

func (b *Backend) Close() error {
	return nil
}

// SaveReport keeps r and, when an output directory is configured, writes
// it to disk.
func (b *Backend) SaveReport(ctx context.Context, r *core.LoadReport) error {
	if r == nil {
		return errors.New("nil report")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.reports = append(b.reports, *r)
	if b.cfg.OutputDir == "" {
		return nil
	}
	return b.exportJSON(r)
}

// Reports returns every saved report in save order.
func (b *Backend) Reports() []core.LoadReport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.LoadReport, len(b.reports))
	copy(out, b.reports)
	return out
}

// Runs lists the reports saved by this process, newest first.
func (b *Backend) Runs(ctx context.Context, limit int) ([]storage.RunSummary, error) {
	reports := b.Reports()
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].StartedAt.After(reports[j].StartedAt)
	})
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	out := make([]storage.RunSummary, len(reports))
	for i := range reports {
		loaded, failed := storage.Totals(&reports[i])
		out[i] = storage.RunSummary{
			RunID:       reports[i].RunID,
			StartedAt:   reports[i].StartedAt.UTC().Format(time.RFC3339),
			DurationMs:  reports[i].Duration.Milliseconds(),
			Simulations: len(reports[i].Simulations),
			Loaded:      loaded,
			Failed:      failed,
		}
	}
	return out, nil
}

// LastExportPath returns the path of the last written file.
func (b *Backend) LastExportPath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

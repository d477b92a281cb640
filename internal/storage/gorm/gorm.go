// Package gormstorage persists load reports with GORM. The sqlite and
// postgres backends differ only in how they open the connection.
package gormstorage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/avaviz/flowrender/internal/storage"
	"github.com/avaviz/flowrender/pkg/core"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger *slog.Logger
}

// Backend implements storage.Backend on a gorm.DB.
type Backend struct {
	deps    Dependencies
	dbReady bool
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{deps: deps}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init runs the schema migration.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return errors.New("gorm backend: no database")
	}
	if err := b.deps.DB.AutoMigrate(&Run{}, &SimulationLoad{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	b.dbReady = true
	b.deps.Logger.Debug("Storage schema migrated", "dialect", b.deps.DB.Dialector.Name())
	return nil
}

// Close closes the underlying connection pool.
func (b *Backend) Close() error {
	if b.deps.DB == nil {
		return nil
	}
	sqlDB, err := b.deps.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveReport writes the run and its simulations in one transaction.
func (b *Backend) SaveReport(ctx context.Context, r *core.LoadReport) error {
	if !b.dbReady {
		return errors.New("gorm backend: not initialized")
	}
	if r == nil {
		return errors.New("nil report")
	}

	run, err := toRun(r)
	if err != nil {
		return err
	}
	err = b.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(run).Error
	})
	if err != nil {
		return fmt.Errorf("saving run %s: %w", r.RunID, err)
	}
	b.deps.Logger.Debug("Load report saved", "run", r.RunID, "simulations", len(r.Simulations))
	return nil
}

func toRun(r *core.LoadReport) (*Run, error) {
	run := &Run{
		ID:          r.RunID,
		StartedAt:   r.StartedAt.UTC(),
		DurationMs:  r.Duration.Milliseconds(),
		Simulations: make([]SimulationLoad, 0, len(r.Simulations)),
	}
	for _, s := range r.Simulations {
		frames, err := json.Marshal(s.Frames)
		if err != nil {
			return nil, fmt.Errorf("encoding frames of %s: %w", s.SimulationID, err)
		}
		run.Simulations = append(run.Simulations, SimulationLoad{
			RunID:        r.RunID,
			SimulationID: s.SimulationID,
			Name:         s.Name,
			CRS:          s.Extent.CRS,
			MinX:         s.Extent.MinX,
			MinY:         s.Extent.MinY,
			MaxX:         s.Extent.MaxX,
			MaxY:         s.Extent.MaxY,
			Requested:    s.Requested,
			Loaded:       s.Loaded,
			Failed:       s.Failed,
			Error:        s.Error,
			Frames:       datatypes.JSON(frames),
		})
	}
	return run, nil
}

// Report reads back a stored run.
func (b *Backend) Report(ctx context.Context, runID string) (*core.LoadReport, error) {
	var run Run
	err := b.deps.DB.WithContext(ctx).
		Preload("Simulations", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&run, "id = ?", runID).Error
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}

	r := &core.LoadReport{
		RunID:       run.ID,
		StartedAt:   run.StartedAt,
		Duration:    time.Duration(run.DurationMs) * time.Millisecond,
		Simulations: make([]core.SimulationReport, 0, len(run.Simulations)),
	}
	for _, s := range run.Simulations {
		sr := core.SimulationReport{
			SimulationID: s.SimulationID,
			Name:         s.Name,
			Extent:       core.Extent{MinX: s.MinX, MinY: s.MinY, MaxX: s.MaxX, MaxY: s.MaxY, CRS: s.CRS},
			Requested:    s.Requested,
			Loaded:       s.Loaded,
			Failed:       s.Failed,
			Error:        s.Error,
		}
		if len(s.Frames) > 0 {
			if err := json.Unmarshal(s.Frames, &sr.Frames); err != nil {
				return nil, fmt.Errorf("decoding frames of %s: %w", s.SimulationID, err)
			}
		}
		r.Simulations = append(r.Simulations, sr)
	}
	return r, nil
}

// Runs lists stored runs, newest first.
func (b *Backend) Runs(ctx context.Context, limit int) ([]storage.RunSummary, error) {
	type row struct {
		ID          string
		StartedAt   time.Time
		DurationMs  int64
		Simulations int
		Loaded      int
		Failed      int
	}
	var rows []row
	q := b.deps.DB.WithContext(ctx).
		Table("runs").
		Select("runs.id, runs.started_at, runs.duration_ms, " +
			"COUNT(simulation_loads.id) AS simulations, " +
			"COALESCE(SUM(simulation_loads.loaded), 0) AS loaded, " +
			"COALESCE(SUM(simulation_loads.failed), 0) AS failed").
		Joins("LEFT JOIN simulation_loads ON simulation_loads.run_id = runs.id").
		Group("runs.id, runs.started_at, runs.duration_ms").
		Order("runs.started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	out := make([]storage.RunSummary, len(rows))
	for i, r := range rows {
		out[i] = storage.RunSummary{
			RunID:       r.ID,
			StartedAt:   r.StartedAt.UTC().Format(time.RFC3339),
			DurationMs:  r.DurationMs,
			Simulations: r.Simulations,
			Loaded:      r.Loaded,
			Failed:      r.Failed,
		}
	}
	return out, nil
}

// Package coordinator owns the playback engines of every configured
// simulation and decides which one is active on the shared render surface.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avaviz/flowrender/internal/events"
	"github.com/avaviz/flowrender/internal/geo"
	"github.com/avaviz/flowrender/internal/playback"
	"github.com/avaviz/flowrender/internal/raster"
	"github.com/avaviz/flowrender/internal/render"
	"github.com/avaviz/flowrender/pkg/core"
)

// InvalidConfigError is returned for simulation ids absent from the loaded
// configs.
type InvalidConfigError struct {
	ID string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("simulation %q not found in loaded configs", e.ID)
}

// Source supplies the simulation configs.
type Source interface {
	Simulations(ctx context.Context) ([]core.SimulationConfig, error)
}

// EngineFactory creates an uninitialized engine for one simulation.
type EngineFactory func(cfg core.SimulationConfig) (*playback.Engine, error)

// ProgressFunc reports frame progress of the simulation being loaded.
type ProgressFunc func(simulationID string, loaded, total int)

// Dependencies are the collaborators injected into a Coordinator.
type Dependencies struct {
	Source    Source
	Surface   render.Surface
	NewEngine EngineFactory
	Logger    *slog.Logger
}

// Coordinator maps simulation ids to playback engines.
//
// transition serializes the operations that hide one engine and show
// another; mu guards the maps and is never held while calling an engine.
type Coordinator struct {
	deps   Dependencies
	logger *slog.Logger
	events *events.Registry

	transition sync.Mutex

	mu       sync.RWMutex
	configs  []core.SimulationConfig
	engines  map[string]*playback.Engine
	failures map[string]error
	order    []string
	active   string
	playAll  bool
	disposed bool
}

// New creates a coordinator.
func New(deps Dependencies) (*Coordinator, error) {
	if deps.Surface == nil {
		return nil, fmt.Errorf("coordinator: no render surface")
	}
	if deps.NewEngine == nil {
		return nil, fmt.Errorf("coordinator: no engine factory")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Coordinator{
		deps:     deps,
		logger:   deps.Logger.With("component", "coordinator"),
		events:   events.NewRegistry(),
		engines:  make(map[string]*playback.Engine),
		failures: make(map[string]error),
	}, nil
}

// LoadConfigs replaces the config list from the source. Loaded engines are
// kept.
func (c *Coordinator) LoadConfigs(ctx context.Context) ([]core.SimulationConfig, error) {
	if c.deps.Source == nil {
		return nil, fmt.Errorf("coordinator: no config source")
	}
	cfgs, err := c.deps.Source.Simulations(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading simulation configs: %w", err)
	}
	seen := make(map[string]bool, len(cfgs))
	for _, cfg := range cfgs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if seen[cfg.ID] {
			return nil, fmt.Errorf("duplicate simulation id %q", cfg.ID)
		}
		seen[cfg.ID] = true
	}
	return c.SetConfigs(cfgs)
}

// SetConfigs installs configs directly.
func (c *Coordinator) SetConfigs(cfgs []core.SimulationConfig) ([]core.SimulationConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return nil, playback.ErrDisposed
	}
	c.configs = append([]core.SimulationConfig(nil), cfgs...)
	c.logger.Info("Simulation configs loaded", "count", len(cfgs))
	return append([]core.SimulationConfig(nil), cfgs...), nil
}

// Configs returns the loaded config list.
func (c *Coordinator) Configs() []core.SimulationConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]core.SimulationConfig(nil), c.configs...)
}

func (c *Coordinator) config(id string) (core.SimulationConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.disposed {
		return core.SimulationConfig{}, playback.ErrDisposed
	}
	for _, cfg := range c.configs {
		if cfg.ID == id {
			return cfg, nil
		}
	}
	return core.SimulationConfig{}, &InvalidConfigError{ID: id}
}

// forwarded are the engine event kinds re-emitted by the coordinator.
var forwarded = []events.Kind{events.FrameChange, events.PlayStateChange, events.Ready, events.Error}

// ensureEngine returns the loaded engine for cfg, creating and initializing
// it first if needed. A failed engine is disposed and not kept.
func (c *Coordinator) ensureEngine(ctx context.Context, cfg core.SimulationConfig, onProgress ProgressFunc) (*playback.Engine, error) {
	if e, ok := c.Engine(cfg.ID); ok {
		return e, nil
	}

	e, err := c.deps.NewEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating engine %s: %w", cfg.ID, err)
	}
	for _, kind := range forwarded {
		e.Subscribe(kind, c.events.Emit)
	}
	var progress raster.ProgressFunc
	if onProgress != nil {
		progress = func(loaded, total int) { onProgress(cfg.ID, loaded, total) }
	}

	start := time.Now()
	if err := e.Initialize(ctx, c.deps.Surface, progress); err != nil {
		_ = e.Dispose()
		c.mu.Lock()
		c.failures[cfg.ID] = err
		c.mu.Unlock()
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		_ = e.Dispose()
		return nil, playback.ErrDisposed
	}
	delete(c.failures, cfg.ID)
	c.engines[cfg.ID] = e
	c.order = append(c.order, cfg.ID)
	c.logger.Info("Simulation loaded", "simulation", cfg.ID, "duration", time.Since(start))
	return e, nil
}

// SwitchTo makes id the active simulation: every other engine is paused and
// hidden, the target is loaded if needed, shown at frame 0 and the view is
// fitted to its extent. If loading fails the previous state is untouched.
func (c *Coordinator) SwitchTo(ctx context.Context, id string, onProgress ProgressFunc) error {
	c.transition.Lock()
	defer c.transition.Unlock()

	cfg, err := c.config(id)
	if err != nil {
		return err
	}
	target, err := c.ensureEngine(ctx, cfg, onProgress)
	if err != nil {
		return err
	}

	for _, e := range c.loaded() {
		if e == target {
			continue
		}
		if err := e.Pause(); err != nil {
			c.logger.Warn("Pause failed", "simulation", e.ID(), "error", err)
		}
		if err := e.Hide(); err != nil {
			c.logger.Warn("Hide failed", "simulation", e.ID(), "error", err)
		}
	}

	if err := target.Show(); err != nil {
		return err
	}
	if err := target.DisplayFrame(0); err != nil {
		return err
	}
	if ext, ok := target.Extent(); ok {
		if err := c.deps.Surface.FitView(ext); err != nil {
			c.logger.Warn("FitView failed", "simulation", id, "error", err)
		}
	}

	c.mu.Lock()
	c.active = id
	c.playAll = false
	c.mu.Unlock()

	c.logger.Info("Active simulation changed", "simulation", id)
	c.events.Emit(events.Event{Kind: events.AvalancheChange, SimulationID: id})
	return nil
}

// LoadAll initializes every configured simulation one after another.
// Failures are logged and joined; the remaining simulations still load.
func (c *Coordinator) LoadAll(ctx context.Context, onProgress ProgressFunc) error {
	c.transition.Lock()
	defer c.transition.Unlock()
	if err := c.alive(); err != nil {
		return err
	}

	var errs []error
	for _, cfg := range c.Configs() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := c.ensureEngine(ctx, cfg, onProgress); err != nil {
			c.logger.Error("Simulation failed to load", "simulation", cfg.ID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", cfg.ID, err))
		}
	}
	return errors.Join(errs...)
}

// PlayAll shows and plays every loaded engine. Each engine keeps its own
// speed; there is no shared clock.
func (c *Coordinator) PlayAll() error {
	c.transition.Lock()
	defer c.transition.Unlock()
	if err := c.alive(); err != nil {
		return err
	}

	c.mu.Lock()
	c.playAll = true
	c.mu.Unlock()

	return c.each(func(e *playback.Engine) error {
		if err := e.Show(); err != nil {
			return err
		}
		return e.Play()
	})
}

// StopAll pauses every engine and hides all but the active one.
func (c *Coordinator) StopAll() error {
	c.transition.Lock()
	defer c.transition.Unlock()
	if err := c.alive(); err != nil {
		return err
	}

	c.mu.Lock()
	c.playAll = false
	active := c.active
	c.mu.Unlock()

	return c.each(func(e *playback.Engine) error {
		if err := e.Pause(); err != nil {
			return err
		}
		if e.ID() == active {
			return nil
		}
		return e.Hide()
	})
}

// SetSpeedAll forwards SetSpeed to every loaded engine.
func (c *Coordinator) SetSpeedAll(d time.Duration) error {
	return c.broadcast(func(e *playback.Engine) error { return e.SetSpeed(d) })
}

// SetSmoothingAll forwards SetSmoothing to every loaded engine.
func (c *Coordinator) SetSmoothingAll(factor int) error {
	return c.broadcast(func(e *playback.Engine) error { return e.SetSmoothing(factor) })
}

// SetFlattenPassesAll forwards SetFlattenPasses to every loaded engine.
func (c *Coordinator) SetFlattenPassesAll(passes int) error {
	return c.broadcast(func(e *playback.Engine) error { return e.SetFlattenPasses(passes) })
}

// ResetAll resets every loaded engine.
func (c *Coordinator) ResetAll() error {
	return c.broadcast(func(e *playback.Engine) error { return e.Reset() })
}

// SeekAll seeks every loaded engine to t.
func (c *Coordinator) SeekAll(t float64) error {
	return c.broadcast(func(e *playback.Engine) error { return e.SeekToTime(t) })
}

func (c *Coordinator) broadcast(fn func(*playback.Engine) error) error {
	if err := c.alive(); err != nil {
		return err
	}
	return c.each(fn)
}

func (c *Coordinator) each(fn func(*playback.Engine) error) error {
	var errs []error
	for _, e := range c.loaded() {
		if err := fn(e); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) alive() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.disposed {
		return playback.ErrDisposed
	}
	return nil
}

// loaded returns the loaded engines in load order.
func (c *Coordinator) loaded() []*playback.Engine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*playback.Engine, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.engines[id])
	}
	return out
}

// CombinedExtent unions the extents of every loaded engine, reprojected to
// the CRS of the first.
func (c *Coordinator) CombinedExtent() (core.Extent, bool, error) {
	var exts []core.Extent
	for _, e := range c.loaded() {
		if ext, ok := e.Extent(); ok {
			exts = append(exts, ext)
		}
	}
	return geo.UnionExtents(exts...)
}

// IsAnyPlaying reports whether any loaded engine is playing.
func (c *Coordinator) IsAnyPlaying() bool {
	for _, e := range c.loaded() {
		if e.IsPlaying() {
			return true
		}
	}
	return false
}

// PlayAllMode reports whether PlayAll is in effect.
func (c *Coordinator) PlayAllMode() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playAll
}

// Active returns the active engine.
func (c *Coordinator) Active() (*playback.Engine, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.engines[c.active]
	return e, ok
}

// Engine returns the loaded engine for id.
func (c *Coordinator) Engine(id string) (*playback.Engine, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.engines[id]
	return e, ok
}

// Loaded returns the ids of the loaded engines in load order.
func (c *Coordinator) Loaded() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Reports summarizes every loaded engine, followed by the configured
// simulations whose last load attempt failed.
func (c *Coordinator) Reports() []core.SimulationReport {
	engines := c.loaded()
	out := make([]core.SimulationReport, 0, len(engines))
	for _, e := range engines {
		out = append(out, e.Report())
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, cfg := range c.configs {
		err, ok := c.failures[cfg.ID]
		if !ok {
			continue
		}
		steps := len(raster.TimeSteps(cfg))
		out = append(out, core.SimulationReport{
			SimulationID: cfg.ID,
			Name:         cfg.DisplayName(),
			Requested:    steps,
			Failed:       steps,
			Error:        err.Error(),
		})
	}
	return out
}

// Subscribe registers h for coordinator notifications.
func (c *Coordinator) Subscribe(kind events.Kind, h events.Handler) events.Subscription {
	return c.events.Subscribe(kind, h)
}

// Unsubscribe removes a handler registered with Subscribe.
func (c *Coordinator) Unsubscribe(id events.Subscription) bool {
	return c.events.Unsubscribe(id)
}

// Dispose disposes every engine. It is idempotent.
func (c *Coordinator) Dispose() error {
	c.transition.Lock()
	defer c.transition.Unlock()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	engines := make([]*playback.Engine, 0, len(c.order))
	for _, id := range c.order {
		engines = append(engines, c.engines[id])
	}
	c.engines = make(map[string]*playback.Engine)
	c.failures = make(map[string]error)
	c.order = nil
	c.active = ""
	c.playAll = false
	c.mu.Unlock()

	var errs []error
	for _, e := range engines {
		if err := e.Dispose(); err != nil {
			errs = append(errs, err)
		}
	}
	c.events.Clear()
	return errors.Join(errs...)
}

// Package playback drives one simulation: it loads every frame, keeps a
// cache of flow meshes attached (hidden) to a render surface and steps
// through them on a timer.
//
// All engine state is guarded by a single mutex. Timer ticks, parameter
// rebuilds and display calls are therefore serialized, and notifications
// are emitted after the lock is released so handlers may call back into
// the engine.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/avaviz/flowrender/internal/colormap"
	"github.com/avaviz/flowrender/internal/elevation"
	"github.com/avaviz/flowrender/internal/events"
	"github.com/avaviz/flowrender/internal/grid"
	"github.com/avaviz/flowrender/internal/mesh"
	"github.com/avaviz/flowrender/internal/raster"
	"github.com/avaviz/flowrender/internal/render"
	"github.com/avaviz/flowrender/pkg/core"
)

// FrameLoader loads every frame of a simulation. *raster.Loader satisfies it.
type FrameLoader interface {
	PreloadAll(ctx context.Context, cfg core.SimulationConfig, resolution int, onProgress raster.ProgressFunc) (*raster.FrameSet, error)
}

// Options are the per-engine rendering and playback parameters.
type Options struct {
	Resolution    int
	Terrain       core.TerrainConfig
	Speed         time.Duration
	Smoothing     int
	FlattenPasses int
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Resolution: 100,
		Terrain: core.TerrainConfig{
			Exaggeration: 1,
			ZOffset:      mesh.DefaultZOffset,
			ColorStops:   colormap.Default(),
		},
		Speed:     200 * time.Millisecond,
		Smoothing: 1,
	}
}

// Dependencies are the collaborators injected into an Engine.
type Dependencies struct {
	Loader    FrameLoader
	Elevation elevation.Service
	Logger    *slog.Logger
	NewTicker TickerFunc
}

type cacheEntry struct {
	grid   *grid.FlowHeightGrid // nil when the frame failed to load
	mesh   *mesh.Mesh           // nil when nothing flows
	handle render.Handle
}

// Engine is the playback engine of one simulation.
type Engine struct {
	cfg     core.SimulationConfig
	opts    Options
	deps    Dependencies
	logger  *slog.Logger
	metrics *metrics
	attrs   metric.MeasurementOption
	events  *events.Registry

	mu       sync.Mutex
	status   Status
	state    State
	steps    []float64
	cache    []cacheEntry
	failures []raster.FrameFailure
	extent   core.Extent
	ground   *grid.ElevationGrid
	smoothed map[int]*grid.ElevationGrid
	surface  render.Surface
	shown    bool

	ticker   Ticker
	stopTick chan struct{}
	gen      uint64
}

// New creates an uninitialized engine for cfg.
func New(cfg core.SimulationConfig, opts Options, deps Dependencies) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Resolution < 2 {
		return nil, fmt.Errorf("%w: resolution %d", ErrInvalidParameter, opts.Resolution)
	}
	if opts.Speed <= 0 {
		return nil, fmt.Errorf("%w: speed %v", ErrInvalidParameter, opts.Speed)
	}
	if opts.Smoothing < 1 {
		return nil, fmt.Errorf("%w: smoothing factor %d", ErrInvalidParameter, opts.Smoothing)
	}
	if opts.FlattenPasses < 0 {
		return nil, fmt.Errorf("%w: flatten passes %d", ErrInvalidParameter, opts.FlattenPasses)
	}
	if err := colormap.Validate(opts.Terrain.ColorStops); err != nil {
		return nil, err
	}
	if deps.Loader == nil {
		return nil, fmt.Errorf("playback: no frame loader")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewTicker == nil {
		deps.NewTicker = NewTimeTicker
	}

	m, err := newMetrics()
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:     cfg,
		opts:    opts,
		deps:    deps,
		logger:  deps.Logger.With("simulation", cfg.ID),
		metrics: m,
		attrs:   metric.WithAttributes(attribute.String("simulation", cfg.ID)),
		events:  events.NewRegistry(),
		state: State{
			Speed:           opts.Speed,
			SmoothingFactor: opts.Smoothing,
			FlattenPasses:   opts.FlattenPasses,
		},
		smoothed: make(map[int]*grid.ElevationGrid),
	}, nil
}

// Initialize loads every frame, derives the extent from the first loaded
// frame, queries the ground and builds the mesh cache on surface. On error
// the engine stays Uninitialized and may be initialized again.
func (e *Engine) Initialize(ctx context.Context, surface render.Surface, onProgress raster.ProgressFunc) error {
	if surface == nil {
		return fmt.Errorf("playback: nil render surface")
	}
	e.mu.Lock()
	switch e.status {
	case Disposed:
		e.mu.Unlock()
		return ErrDisposed
	case Uninitialized:
		e.status = Loading
	default:
		e.mu.Unlock()
		return ErrAlreadyInitialized
	}
	e.mu.Unlock()

	warnings, err := e.load(ctx, surface, onProgress)
	e.emit(warnings...)
	if err != nil {
		e.logger.Error("Simulation failed to load", "error", err)
		e.emit(events.Event{Kind: events.Error, SimulationID: e.cfg.ID, Err: err})
		return err
	}
	e.emit(events.Event{Kind: events.Ready, SimulationID: e.cfg.ID})
	return nil
}

func (e *Engine) load(ctx context.Context, surface render.Surface, onProgress raster.ProgressFunc) ([]events.Event, error) {
	fail := func(err error) ([]events.Event, error) {
		e.mu.Lock()
		if e.status == Loading {
			e.status = Uninitialized
		}
		e.mu.Unlock()
		return nil, err
	}

	start := time.Now()
	set, err := e.deps.Loader.PreloadAll(ctx, e.cfg, e.opts.Resolution, onProgress)
	if err != nil {
		var nf *NoFramesError
		if errors.As(err, &nf) {
			e.metrics.framesFailed.Add(ctx, int64(nf.Attempted), e.attrs)
		}
		return fail(err)
	}
	e.metrics.framesLoaded.Add(ctx, int64(set.Loaded()), e.attrs)
	e.metrics.framesFailed.Add(ctx, int64(len(set.Failures)), e.attrs)

	first, _, _ := set.First()
	extent := first.Extent
	if extent.IsEmpty() {
		return fail(fmt.Errorf("simulation %s: %w", e.cfg.ID, ErrNoExtent))
	}

	var warnings []events.Event
	ground, err := elevation.Query(ctx, e.deps.Elevation, extent, e.opts.Resolution)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(ctxErr)
		}
		e.logger.Warn("Elevation query failed, using flat ground", "error", err)
		warnings = append(warnings, events.Event{Kind: events.Error, SimulationID: e.cfg.ID, Err: err})
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == Disposed {
		return nil, ErrDisposed
	}

	e.surface = surface
	e.steps = set.Steps
	e.failures = set.Failures
	e.extent = extent
	e.ground = ground
	e.cache = make([]cacheEntry, len(set.Steps))
	for i, g := range set.Grids {
		e.cache[i].grid = g
	}

	if err := e.rebuildLocked(); err != nil {
		e.clearLocked()
		e.status = Uninitialized
		return nil, err
	}
	e.status = Ready
	e.logger.Info("Simulation ready",
		"frames", len(e.steps),
		"loaded", set.Loaded(),
		"failed", len(set.Failures),
		"extent", extent.String(),
		"duration", time.Since(start))
	return warnings, nil
}

// rebuildLocked replaces every cached mesh with one built from the current
// parameters and re-shows the current frame if the engine is shown. The new
// meshes are built and attached before any old one is detached; on error
// the new ones are detached again and the cache is left as it was.
func (e *Engine) rebuildLocked() error {
	start := time.Now()
	smoothed := e.smoothedGroundLocked(e.state.SmoothingFactor)

	next := make([]cacheEntry, len(e.cache))
	discard := func() {
		for i := range next {
			if h := next[i].handle; h != 0 {
				if err := e.surface.Detach(h); err != nil {
					e.logger.Warn("Detach failed", "frame", i, "error", err)
				}
			}
		}
	}
	for i, c := range e.cache {
		next[i].grid = c.grid
		if c.grid == nil {
			continue
		}
		m, err := mesh.Build(c.grid, e.ground, smoothed, e.opts.Terrain, e.state.SmoothingFactor, e.state.FlattenPasses)
		if err != nil {
			discard()
			return fmt.Errorf("build mesh at t=%v: %w", e.steps[i], err)
		}
		if m == nil {
			continue
		}
		h, err := e.surface.Attach(m, false)
		if err != nil {
			discard()
			return fmt.Errorf("attach mesh at t=%v: %w", e.steps[i], err)
		}
		next[i].mesh, next[i].handle = m, h
	}

	for i, c := range e.cache {
		if c.handle == 0 {
			continue
		}
		if err := e.surface.Detach(c.handle); err != nil {
			e.logger.Warn("Detach failed", "frame", i, "error", err)
		}
	}
	e.cache = next

	if e.shown {
		e.setVisibleLocked(e.state.CurrentFrame, true)
	}
	e.metrics.rebuild.Record(context.Background(), float64(time.Since(start).Microseconds())/1000, e.attrs)
	return nil
}

// smoothedGroundLocked returns the upsampled ground for factor, building it
// on first use. Factor 1 has no smoothed ground.
func (e *Engine) smoothedGroundLocked(factor int) *grid.ElevationGrid {
	if factor <= 1 || e.ground == nil {
		return nil
	}
	if g, ok := e.smoothed[factor]; ok {
		return g
	}
	g := grid.SmoothedGround(e.ground, factor)
	e.smoothed[factor] = g
	return g
}

func (e *Engine) setVisibleLocked(index int, visible bool) {
	if index < 0 || index >= len(e.cache) {
		return
	}
	h := e.cache[index].handle
	if h == 0 {
		return
	}
	if err := e.surface.SetVisible(h, visible); err != nil {
		e.logger.Warn("SetVisible failed", "frame", index, "error", err)
	}
}

func (e *Engine) clearLocked() {
	for i := range e.cache {
		if h := e.cache[i].handle; h != 0 && e.surface != nil {
			if err := e.surface.Detach(h); err != nil {
				e.logger.Warn("Detach failed", "frame", i, "error", err)
			}
		}
	}
	e.cache = nil
	e.steps = nil
	e.failures = nil
	e.ground = nil
	e.smoothed = make(map[int]*grid.ElevationGrid)
	e.shown = false
}

// readyLocked reports why playback operations cannot run yet.
func (e *Engine) readyLocked() error {
	switch e.status {
	case Disposed:
		return ErrDisposed
	case Uninitialized, Loading:
		return ErrNotReady
	}
	return nil
}

func (e *Engine) emit(evs ...events.Event) {
	for _, ev := range evs {
		e.events.Emit(ev)
	}
}

// DisplayFrame hides the current mesh and shows the mesh of index. A frame
// without a mesh shows nothing. Out-of-range indices are ignored.
func (e *Engine) DisplayFrame(index int) error {
	e.mu.Lock()
	if err := e.readyLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	evs := e.displayLocked(index)
	e.mu.Unlock()
	e.emit(evs...)
	return nil
}

func (e *Engine) displayLocked(index int) []events.Event {
	if index < 0 || index >= len(e.steps) {
		return nil
	}
	e.setVisibleLocked(e.state.CurrentFrame, false)
	e.setVisibleLocked(index, true)
	e.state.CurrentFrame = index
	e.shown = true
	return []events.Event{{
		Kind:         events.FrameChange,
		SimulationID: e.cfg.ID,
		Frame:        index,
		Time:         e.steps[index],
	}}
}

// Play starts looping playback from the current frame.
func (e *Engine) Play() error {
	e.mu.Lock()
	if err := e.readyLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	if e.state.IsPlaying {
		e.mu.Unlock()
		return nil
	}
	e.state.IsPlaying = true
	e.status = Playing
	e.startTimerLocked()
	e.mu.Unlock()

	e.emit(events.Event{Kind: events.PlayStateChange, SimulationID: e.cfg.ID, IsPlaying: true})
	return nil
}

// Pause stops playback. No frame advance happens after Pause returns.
func (e *Engine) Pause() error {
	e.mu.Lock()
	if err := e.readyLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	changed := e.pauseLocked()
	e.mu.Unlock()

	if changed {
		e.emit(events.Event{Kind: events.PlayStateChange, SimulationID: e.cfg.ID, IsPlaying: false})
	}
	return nil
}

func (e *Engine) pauseLocked() bool {
	if !e.state.IsPlaying {
		return false
	}
	e.stopTimerLocked()
	e.state.IsPlaying = false
	e.status = Paused
	return true
}

// TogglePlay pauses a playing engine and plays a paused one.
func (e *Engine) TogglePlay() error {
	e.mu.Lock()
	playing := e.state.IsPlaying
	e.mu.Unlock()
	if playing {
		return e.Pause()
	}
	return e.Play()
}

// Reset pauses and shows the first frame.
func (e *Engine) Reset() error {
	if err := e.Pause(); err != nil {
		return err
	}
	return e.DisplayFrame(0)
}

// SetSpeed changes the frame period. A playing engine keeps playing at the
// new speed.
func (e *Engine) SetSpeed(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: speed %v", ErrInvalidParameter, d)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == Disposed {
		return ErrDisposed
	}
	e.state.Speed = d
	if e.state.IsPlaying {
		e.stopTimerLocked()
		e.startTimerLocked()
	}
	return nil
}

// SetSmoothing changes the smoothing factor and rebuilds the mesh cache.
func (e *Engine) SetSmoothing(factor int) error {
	if factor < 1 {
		return fmt.Errorf("%w: smoothing factor %d", ErrInvalidParameter, factor)
	}
	return e.updateAndRebuild(func(s *State) bool {
		if s.SmoothingFactor == factor {
			return false
		}
		s.SmoothingFactor = factor
		return true
	})
}

// SetFlattenPasses changes the flatten passes and rebuilds the mesh cache.
func (e *Engine) SetFlattenPasses(passes int) error {
	if passes < 0 {
		return fmt.Errorf("%w: flatten passes %d", ErrInvalidParameter, passes)
	}
	return e.updateAndRebuild(func(s *State) bool {
		if s.FlattenPasses == passes {
			return false
		}
		s.FlattenPasses = passes
		return true
	})
}

// updateAndRebuild applies change and, if it reports a difference on a
// loaded engine, rebuilds the whole cache before any other operation runs.
// A failed rebuild restores the previous parameters.
func (e *Engine) updateAndRebuild(change func(*State) bool) error {
	e.mu.Lock()
	if e.status == Disposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	prev := e.state
	if !change(&e.state) || e.readyLocked() != nil {
		e.mu.Unlock()
		return nil
	}
	err := e.rebuildLocked()
	var evs []events.Event
	if err != nil {
		e.state = prev
	} else if e.shown {
		evs = e.displayLocked(e.state.CurrentFrame)
	}
	e.mu.Unlock()

	if err != nil {
		e.logger.Error("Mesh cache rebuild failed", "error", err)
		e.emit(events.Event{Kind: events.Error, SimulationID: e.cfg.ID, Err: err})
		return err
	}
	e.emit(evs...)
	return nil
}

// SeekToTime displays the first time step at or after t. Seeking past the
// last step shows the last frame.
func (e *Engine) SeekToTime(t float64) error {
	if math.IsNaN(t) {
		return fmt.Errorf("%w: seek time NaN", ErrInvalidParameter)
	}
	e.mu.Lock()
	if err := e.readyLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	index := len(e.steps) - 1
	for i, s := range e.steps {
		if s >= t-1e-9 {
			index = i
			break
		}
	}
	evs := e.displayLocked(index)
	e.mu.Unlock()
	e.emit(evs...)
	return nil
}

// Hide hides every cached mesh.
func (e *Engine) Hide() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.readyLocked(); err != nil {
		return err
	}
	for i := range e.cache {
		e.setVisibleLocked(i, false)
	}
	e.shown = false
	return nil
}

// Show shows the mesh of the current frame only.
func (e *Engine) Show() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.readyLocked(); err != nil {
		return err
	}
	e.setVisibleLocked(e.state.CurrentFrame, true)
	e.shown = true
	return nil
}

// Dispose stops playback, detaches every mesh and drops all subscribers.
// It is idempotent.
func (e *Engine) Dispose() error {
	e.mu.Lock()
	if e.status == Disposed {
		e.mu.Unlock()
		return nil
	}
	e.stopTimerLocked()
	e.state.IsPlaying = false
	e.clearLocked()
	e.status = Disposed
	e.mu.Unlock()

	e.events.Clear()
	e.logger.Debug("Simulation disposed")
	return nil
}

func (e *Engine) startTimerLocked() {
	e.gen++
	gen := e.gen
	t := e.deps.NewTicker(e.state.Speed)
	stop := make(chan struct{})
	e.ticker, e.stopTick = t, stop
	go e.run(t, stop, gen)
}

// stopTimerLocked cancels the running timer. Bumping gen invalidates a tick
// that is already waiting for the lock.
func (e *Engine) stopTimerLocked() {
	e.gen++
	if e.ticker == nil {
		return
	}
	e.ticker.Stop()
	close(e.stopTick)
	e.ticker, e.stopTick = nil, nil
}

func (e *Engine) run(t Ticker, stop <-chan struct{}, gen uint64) {
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			e.tick(gen)
		}
	}
}

// tick advances to the next frame, wrapping to the first after the last.
func (e *Engine) tick(gen uint64) {
	e.mu.Lock()
	if e.gen != gen || !e.state.IsPlaying || len(e.steps) == 0 {
		e.mu.Unlock()
		return
	}
	evs := e.displayLocked((e.state.CurrentFrame + 1) % len(e.steps))
	e.mu.Unlock()
	e.emit(evs...)
}

// Subscribe registers h for notifications of kind.
func (e *Engine) Subscribe(kind events.Kind, h events.Handler) events.Subscription {
	return e.events.Subscribe(kind, h)
}

// Unsubscribe removes a handler registered with Subscribe.
func (e *Engine) Unsubscribe(id events.Subscription) bool {
	return e.events.Unsubscribe(id)
}

// ID returns the simulation id.
func (e *Engine) ID() string { return e.cfg.ID }

// Config returns the simulation config.
func (e *Engine) Config() core.SimulationConfig { return e.cfg }

// Status returns the lifecycle status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// State returns a snapshot of the playback state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsPlaying reports whether the timer is running.
func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.IsPlaying
}

// Extent returns the simulation bounds; ok is false before Initialize.
func (e *Engine) Extent() (core.Extent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.readyLocked() != nil {
		return core.Extent{}, false
	}
	return e.extent, true
}

// TimeSteps returns the configured time steps.
func (e *Engine) TimeSteps() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.steps == nil {
		return raster.TimeSteps(e.cfg)
	}
	return append([]float64(nil), e.steps...)
}

// CurrentTime returns the nominal time of the current frame.
func (e *Engine) CurrentTime() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.CurrentFrame >= len(e.steps) {
		return math.NaN(), false
	}
	return e.steps[e.state.CurrentFrame], true
}

// MeshAt returns the cached mesh and its surface handle for a frame.
func (e *Engine) MeshAt(index int) (*mesh.Mesh, render.Handle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.cache) || e.cache[index].mesh == nil {
		return nil, 0, false
	}
	c := e.cache[index]
	return c.mesh, c.handle, true
}

// Report summarizes the loaded frames.
func (e *Engine) Report() core.SimulationReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := core.SimulationReport{
		SimulationID: e.cfg.ID,
		Name:         e.cfg.DisplayName(),
		Extent:       e.extent,
		Requested:    len(e.steps),
		Failed:       len(e.failures),
		Frames:       make([]core.FrameStats, len(e.cache)),
	}
	for i, c := range e.cache {
		fs := core.FrameStats{Time: e.steps[i]}
		if c.grid != nil {
			r.Loaded++
			fs.Loaded = true
			fs.MaxHeight = c.grid.MaxHeight
			fs.MeanHeight = c.grid.MeanHeight
			fs.NonZeroCount = c.grid.NonZeroCount
		}
		if c.mesh != nil {
			fs.Triangles = c.mesh.TriangleCount()
		}
		r.Frames[i] = fs
	}
	return r
}

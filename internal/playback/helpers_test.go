package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avaviz/flowrender/internal/elevation"
	"github.com/avaviz/flowrender/internal/events"
	"github.com/avaviz/flowrender/internal/grid"
	"github.com/avaviz/flowrender/internal/raster"
	"github.com/avaviz/flowrender/internal/render"
	"github.com/avaviz/flowrender/pkg/core"
)

var testExtent = core.Extent{MinX: 2600000, MinY: 1200000, MaxX: 2600100, MaxY: 1200100, CRS: "EPSG:2056"}

const testRes = 3

func testConfig() core.SimulationConfig {
	return core.SimulationConfig{ID: "sim", Name: "Test", Folder: "sim", Prefix: "h_", Suffix: ".tif", TimeInterval: 2, TimeRange: [2]float64{0, 4}}
}

// wetGrid has a single wet center cell of height h.
func wetGrid(h float64) *grid.FlowHeightGrid {
	values := make([]float64, testRes*testRes)
	values[4] = h
	return grid.NewFlowHeightGrid(values, testRes, testExtent)
}

func dryGrid() *grid.FlowHeightGrid {
	return grid.NewFlowHeightGrid(make([]float64, testRes*testRes), testRes, testExtent)
}

// fakeLoader returns a prepared frame set, reporting progress per step.
type fakeLoader struct {
	grids []*grid.FlowHeightGrid
	err   error
	calls int
}

func (f *fakeLoader) PreloadAll(ctx context.Context, cfg core.SimulationConfig, _ int, onProgress raster.ProgressFunc) (*raster.FrameSet, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	steps := raster.TimeSteps(cfg)
	set := &raster.FrameSet{SimulationID: cfg.ID, Steps: steps, Grids: make([]*grid.FlowHeightGrid, len(steps))}
	for i := range steps {
		if i < len(f.grids) {
			set.Grids[i] = f.grids[i]
		}
		if set.Grids[i] == nil {
			set.Failures = append(set.Failures, raster.FrameFailure{Time: steps[i]})
		}
		if onProgress != nil {
			onProgress(i+1, len(steps))
		}
	}
	if set.Loaded() == 0 {
		return nil, &raster.NoFramesError{SimulationID: cfg.ID, Attempted: len(steps)}
	}
	return set, nil
}

type fakeTicker struct {
	period time.Duration
	ch     chan time.Time
	mu     sync.Mutex
	stop   bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }

func (f *fakeTicker) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stop = true
}

func (f *fakeTicker) stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stop
}

type tickers struct {
	mu  sync.Mutex
	all []*fakeTicker
}

func (ts *tickers) New(d time.Duration) Ticker {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ft := &fakeTicker{period: d, ch: make(chan time.Time)}
	ts.all = append(ts.all, ft)
	return ft
}

func (ts *tickers) count() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.all)
}

func (ts *tickers) last() *fakeTicker {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.all[len(ts.all)-1]
}

// fire delivers one tick and fails if the engine does not take it.
func fire(t *testing.T, ft *fakeTicker) {
	t.Helper()
	select {
	case ft.ch <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("tick not consumed")
	}
}

// recorder collects events from an engine.
type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) handle(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, e)
}

func (r *recorder) of(kind events.Kind) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.evs {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = nil
}

func record(e *Engine) *recorder {
	r := &recorder{}
	for _, k := range []events.Kind{events.FrameChange, events.PlayStateChange, events.Ready, events.Error} {
		e.Subscribe(k, r.handle)
	}
	return r
}

type fixture struct {
	engine  *Engine
	surface *render.Memory
	loader  *fakeLoader
	tickers *tickers
	events  *recorder
}

func newFixture(t *testing.T, grids ...*grid.FlowHeightGrid) *fixture {
	t.Helper()
	f := &fixture{
		surface: render.NewMemory(),
		loader:  &fakeLoader{grids: grids},
		tickers: &tickers{},
	}
	opts := DefaultOptions()
	opts.Resolution = testRes
	e, err := New(testConfig(), opts, Dependencies{
		Loader:    f.loader,
		Elevation: elevation.Flat{Height: 1000},
		NewTicker: f.tickers.New,
	})
	require.NoError(t, err)
	f.engine = e
	f.events = record(e)
	return f
}

func newReadyFixture(t *testing.T, grids ...*grid.FlowHeightGrid) *fixture {
	t.Helper()
	f := newFixture(t, grids...)
	require.NoError(t, f.engine.Initialize(context.Background(), f.surface, nil))
	f.events.reset()
	return f
}

func (f *fixture) handle(t *testing.T, index int) render.Handle {
	t.Helper()
	_, h, ok := f.engine.MeshAt(index)
	require.True(t, ok, "frame %d has no mesh", index)
	return h
}

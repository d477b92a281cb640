package raster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/avaviz/flowrender/internal/grid"
	"github.com/avaviz/flowrender/pkg/core"
)

// ProgressFunc is called after every frame attempt with the number of
// attempts so far and the total.
type ProgressFunc func(loaded, total int)

// FrameFailure records a time step that could not be loaded.
type FrameFailure struct {
	Time float64
	URL  string
	Err  error
}

// FrameSet is the result of loading every time step of a simulation.
// Grids is parallel to Steps; a nil entry marks a failed step.
type FrameSet struct {
	SimulationID string
	Steps        []float64
	Grids        []*grid.FlowHeightGrid
	Failures     []FrameFailure
}

// Loaded returns the number of usable frames.
func (s *FrameSet) Loaded() int {
	n := 0
	for _, g := range s.Grids {
		if g != nil {
			n++
		}
	}
	return n
}

// First returns the first usable frame and its index.
func (s *FrameSet) First() (*grid.FlowHeightGrid, int, bool) {
	for i, g := range s.Grids {
		if g != nil {
			return g, i, true
		}
	}
	return nil, -1, false
}

// Loader fetches and decodes raster frames from a base path, which is either
// an http(s) URL or a local directory.
type Loader struct {
	basePath   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewLoader creates a Loader rooted at basePath.
func NewLoader(basePath string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		basePath:   basePath,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// BasePath returns the root the loader resolves frame URLs against.
func (l *Loader) BasePath() string {
	return l.basePath
}

// FrameURL returns the location of the frame at time t.
func (l *Loader) FrameURL(cfg core.SimulationConfig, t float64) string {
	return FrameURL(l.basePath, cfg, t)
}

// Fetch reads the raw bytes behind url.
func (l *Loader) Fetch(ctx context.Context, url string) ([]byte, error) {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return l.fetchHTTP(ctx, url)
	}
	path := strings.TrimPrefix(url, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		status := 0
		if errors.Is(err, os.ErrNotExist) {
			status = http.StatusNotFound
		}
		return nil, &FetchError{URL: url, StatusCode: status, Err: err}
	}
	return data, nil
}

func (l *Loader) fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	return data, nil
}

// LoadFrame fetches, decodes and resamples one frame.
func (l *Loader) LoadFrame(ctx context.Context, url string, resolution int) (*grid.FlowHeightGrid, error) {
	data, err := l.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	frame, err := Decode(data)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.URL = url
		}
		return nil, err
	}
	return Resample(frame, resolution), nil
}

// PreloadAll loads every time step of cfg one after another. A failed step
// is logged and left out; only a set with zero usable frames is an error.
// Cancelling ctx stops the batch before the next frame.
func (l *Loader) PreloadAll(ctx context.Context, cfg core.SimulationConfig, resolution int, onProgress ProgressFunc) (*FrameSet, error) {
	steps := TimeSteps(cfg)
	set := &FrameSet{
		SimulationID: cfg.ID,
		Steps:        steps,
		Grids:        make([]*grid.FlowHeightGrid, len(steps)),
	}

	for i, t := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		url := l.FrameURL(cfg, t)
		g, err := l.LoadFrame(ctx, url, resolution)
		if err != nil {
			l.logger.Warn("Frame load failed", "simulation", cfg.ID, "time", t, "url", url, "error", err)
			set.Failures = append(set.Failures, FrameFailure{Time: t, URL: url, Err: err})
		} else {
			set.Grids[i] = g
		}
		if onProgress != nil {
			onProgress(i+1, len(steps))
		}
	}

	if set.Loaded() == 0 {
		return nil, &NoFramesError{SimulationID: cfg.ID, Attempted: len(steps)}
	}
	l.logger.Debug("Frames loaded", "simulation", cfg.ID, "loaded", set.Loaded(), "total", len(steps))
	return set, nil
}

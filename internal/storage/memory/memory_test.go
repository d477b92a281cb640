package memory

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaviz/flowrender/internal/config"
	"github.com/avaviz/flowrender/internal/storage"
	"github.com/avaviz/flowrender/pkg/core"
)

var (
	_ storage.Backend  = (*Backend)(nil)
	_ storage.Exporter = (*Backend)(nil)
	_ storage.Lister   = (*Backend)(nil)
)

func testReport(run string, start time.Time) *core.LoadReport {
	return &core.LoadReport{
		RunID:     run,
		StartedAt: start,
		Duration:  1500 * time.Millisecond,
		Simulations: []core.SimulationReport{{
			SimulationID: "a",
			Name:         "Alpha",
			Extent:       core.Extent{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4, CRS: "EPSG:2056"},
			Requested:    2,
			Loaded:       1,
			Failed:       1,
			Frames: []core.FrameStats{
				{Time: 0, Loaded: true, MaxHeight: 2.5, MeanHeight: 1, NonZeroCount: 4, Triangles: 6},
				{Time: 1},
			},
		}},
	}
}

func TestSaveReport_KeepsInMemory(t *testing.T) {
	b := New(config.MemoryConfig{})
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.SaveReport(context.Background(), testReport("run-1", time.Now())))
	require.NoError(t, b.SaveReport(context.Background(), testReport("run-2", time.Now())))

	reports := b.Reports()
	require.Len(t, reports, 2)
	assert.Equal(t, "run-1", reports[0].RunID)
	assert.Empty(t, b.LastExportPath())
}

func TestSaveReport_Nil(t *testing.T) {
	b := New(config.MemoryConfig{})
	assert.Error(t, b.SaveReport(context.Background(), nil))
}

func TestSaveReport_CancelledContext(t *testing.T) {
	b := New(config.MemoryConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.SaveReport(ctx, testReport("r", time.Now())), context.Canceled)
	assert.Empty(t, b.Reports())
}

func TestSaveReport_WritesJSON(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	b := New(config.MemoryConfig{OutputDir: dir})

	start := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	require.NoError(t, b.SaveReport(context.Background(), testReport("0123456789abcdef", start)))

	path := b.LastExportPath()
	assert.Equal(t, filepath.Join(dir, "flowrender_20260301_083000_01234567.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got core.LoadReport
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "0123456789abcdef", got.RunID)
	require.Len(t, got.Simulations, 1)
	assert.Equal(t, 2.5, got.Simulations[0].Frames[0].MaxHeight)
}

func TestSaveReport_WritesGzip(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir, CompressOutput: true})

	require.NoError(t, b.SaveReport(context.Background(), testReport("abc", time.Now())))

	path := b.LastExportPath()
	assert.True(t, strings.HasSuffix(path, ".json.gz"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)

	var got core.LoadReport
	require.NoError(t, json.NewDecoder(zr).Decode(&got))
	assert.Equal(t, "abc", got.RunID)
	assert.Equal(t, "EPSG:2056", got.Simulations[0].Extent.CRS)
}

func TestRuns_NewestFirst(t *testing.T) {
	b := New(config.MemoryConfig{})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new", "mid"} {
		offset := []time.Duration{0, 2 * time.Hour, time.Hour}[i]
		require.NoError(t, b.SaveReport(context.Background(), testReport(id, base.Add(offset))))
	}

	runs, err := b.Runs(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].RunID)
	assert.Equal(t, "mid", runs[1].RunID)
	assert.Equal(t, int64(1500), runs[0].DurationMs)
	assert.Equal(t, 1, runs[0].Loaded)
	assert.Equal(t, 1, runs[0].Failed)
	assert.Equal(t, "2026-01-01T02:00:00Z", runs[0].StartedAt)
}

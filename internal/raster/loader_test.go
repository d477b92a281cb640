package raster

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaviz/flowrender/pkg/core"
)

var testSim = core.SimulationConfig{
	ID:           "sim-a",
	Folder:       "sim_a",
	Prefix:       "fh_",
	Suffix:       ".tif",
	TimeInterval: 2,
	TimeRange:    [2]float64{0, 4},
}

func TestLoader_LoadFrameHTTP(t *testing.T) {
	payload := encodeFrame(t, testFrame())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/runs/sim_a/fh_2.00.tif", r.URL.Path)
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	l := NewLoader(server.URL+"/runs", nil)
	g, err := l.LoadFrame(context.Background(), l.FrameURL(testSim, 2), 4)
	require.NoError(t, err)
	assert.Equal(t, 4, g.Resolution)
	assert.Len(t, g.Values, 16)
	assert.Equal(t, "EPSG:2056", g.Extent.CRS)
	assert.Greater(t, g.NonZeroCount, 0)
}

func TestLoader_FetchErrorOnStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	l := NewLoader(server.URL, nil)
	_, err := l.LoadFrame(context.Background(), server.URL+"/missing.tif", 4)
	require.Error(t, err)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
}

func TestLoader_DecodeErrorCarriesURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not a raster</html>"))
	}))
	defer server.Close()

	l := NewLoader(server.URL, nil)
	url := server.URL + "/x.tif"
	_, err := l.LoadFrame(context.Background(), url, 4)

	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, url, de.URL)
}

func TestLoader_LocalDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sim_a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sim_a", "fh_0.00.tif"), encodeFrame(t, testFrame()), 0o644))

	l := NewLoader(dir, nil)
	_, err := l.LoadFrame(context.Background(), l.FrameURL(testSim, 0), 3)
	require.NoError(t, err)

	_, err = l.LoadFrame(context.Background(), "file://"+filepath.Join(dir, "sim_a", "fh_0.00.tif"), 3)
	require.NoError(t, err)

	_, err = l.LoadFrame(context.Background(), l.FrameURL(testSim, 2), 3)
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
}

func TestLoader_PreloadAllSkipsFailedFrames(t *testing.T) {
	payload := encodeFrame(t, testFrame())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sim_a/fh_2.00.tif" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	var progress [][2]int
	l := NewLoader(server.URL, nil)
	set, err := l.PreloadAll(context.Background(), testSim, 4, func(loaded, total int) {
		progress = append(progress, [2]int{loaded, total})
	})
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 2, 4}, set.Steps)
	assert.Equal(t, 2, set.Loaded())
	assert.NotNil(t, set.Grids[0])
	assert.Nil(t, set.Grids[1])
	assert.NotNil(t, set.Grids[2])
	require.Len(t, set.Failures, 1)
	assert.Equal(t, 2.0, set.Failures[0].Time)
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, progress)

	first, idx, ok := set.First()
	require.True(t, ok)
	assert.Equal(t, 0, idx)
	assert.Same(t, set.Grids[0], first)
}

func TestLoader_PreloadAllNoFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	calls := 0
	l := NewLoader(server.URL, nil)
	_, err := l.PreloadAll(context.Background(), testSim, 4, func(int, int) { calls++ })

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoFrames))
	var nfe *NoFramesError
	require.True(t, errors.As(err, &nfe))
	assert.Equal(t, "sim-a", nfe.SimulationID)
	assert.Equal(t, 3, nfe.Attempted)
	assert.Equal(t, 3, calls)
}

func TestLoader_PreloadAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := NewLoader(t.TempDir(), nil)
	_, err := l.PreloadAll(ctx, testSim, 4, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaviz/flowrender/internal/control"
)

func readStatus(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestWriteStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	s := NewService(Dependencies{
		StatusFile: path,
		Status: func() control.Status {
			return control.Status{Active: "a", Frame: 1, Frames: 3, Time: 1, Playing: true, SpeedMs: 200, Smoothing: 1}
		},
	})
	require.NoError(t, s.WriteStatus())

	got := readStatus(t, path)
	assert.Equal(t, "a", got["active"])
	assert.Equal(t, float64(3), got["frames"])
	assert.Equal(t, true, got["playing"])
	assert.Equal(t, "a frame 2/3 t=1 playing speed=200ms smoothing=1 flatten=0", got["summary"])
	assert.Contains(t, got, "time")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are renamed into place")
}

func TestWriteStatus_NoProvider(t *testing.T) {
	s := NewService(Dependencies{StatusFile: filepath.Join(t.TempDir(), "s.json")})
	assert.ErrorIs(t, s.WriteStatus(), ErrNoProvider)
}

func TestStart_RequiresFile(t *testing.T) {
	s := NewService(Dependencies{Status: func() control.Status { return control.Status{} }})
	assert.ErrorIs(t, s.Start(), ErrNoFile)
	assert.False(t, s.IsRunning())
}

func TestStartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	var calls atomic.Int32
	s := NewService(Dependencies{
		StatusFile: path,
		Interval:   5 * time.Millisecond,
		Status: func() control.Status {
			n := calls.Add(1)
			return control.Status{Active: "a", Frame: int(n)}
		},
	})

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()
	assert.False(t, s.IsRunning())

	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, calls.Load())
	assert.Equal(t, "a", readStatus(t, path)["active"])

	s.Stop()
}

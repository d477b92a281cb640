package playback

import (
	"errors"
	"time"

	"github.com/avaviz/flowrender/internal/raster"
)

// Status is the lifecycle position of an Engine.
type Status int

const (
	Uninitialized Status = iota
	Loading
	Ready
	Playing
	Paused
	Disposed
)

func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Disposed:
		return "disposed"
	}
	return "unknown"
}

// State is the user-facing playback state of an Engine.
type State struct {
	CurrentFrame    int
	IsPlaying       bool
	Speed           time.Duration
	SmoothingFactor int
	FlattenPasses   int
}

var (
	// ErrDisposed is returned by every operation on a disposed engine
	// except Dispose itself.
	ErrDisposed = errors.New("playback engine disposed")
	// ErrNoExtent means the first loaded frame carried no usable bounds.
	ErrNoExtent = errors.New("simulation extent cannot be determined")
	// ErrNotReady is returned by playback operations before Initialize
	// has completed.
	ErrNotReady = errors.New("playback engine not ready")
	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("playback engine already initialized")
	// ErrInvalidParameter rejects out-of-range speeds, factors and passes.
	ErrInvalidParameter = errors.New("invalid playback parameter")
)

// NoFramesError is returned by Initialize when no frame could be loaded.
type NoFramesError = raster.NoFramesError

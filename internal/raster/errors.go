package raster

import (
	"errors"
	"fmt"
)

// ErrNoFrames is matched by NoFramesError.
var ErrNoFrames = errors.New("no usable frames")

// FetchError reports a transport failure for one frame.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DecodeError reports a raster that could not be parsed.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("decode raster: %v", e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// NoFramesError is returned when a batch load produced zero usable frames.
type NoFramesError struct {
	SimulationID string
	Attempted    int
}

func (e *NoFramesError) Error() string {
	return fmt.Sprintf("simulation %s: %v (attempted %d)", e.SimulationID, ErrNoFrames, e.Attempted)
}

func (e *NoFramesError) Is(target error) bool { return target == ErrNoFrames }

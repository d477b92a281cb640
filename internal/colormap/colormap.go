// Package colormap maps flow heights to colors with piecewise-linear color stops.
package colormap

import (
	"errors"
	"fmt"
	"math"

	"github.com/avaviz/flowrender/pkg/core"
)

// ErrNoStops is returned when a lookup is attempted on an empty stop list.
var ErrNoStops = errors.New("colormap: no color stops")

// Default returns the default flow-height palette (meters).
func Default() []core.ColorStop {
	return []core.ColorStop{
		{Value: 0.0, Color: core.RGBA{R: 255, G: 255, B: 204, A: 200}},
		{Value: 0.5, Color: core.RGBA{R: 255, G: 237, B: 160, A: 215}},
		{Value: 1.0, Color: core.RGBA{R: 254, G: 178, B: 76, A: 230}},
		{Value: 2.0, Color: core.RGBA{R: 253, G: 141, B: 60, A: 240}},
		{Value: 4.0, Color: core.RGBA{R: 240, G: 59, B: 32, A: 250}},
		{Value: 8.0, Color: core.RGBA{R: 189, G: 0, B: 38, A: 255}},
	}
}

// Validate checks that stops is non-empty and strictly increasing by value.
func Validate(stops []core.ColorStop) error {
	if len(stops) == 0 {
		return ErrNoStops
	}
	for i := 1; i < len(stops); i++ {
		if !(stops[i].Value > stops[i-1].Value) {
			return fmt.Errorf("colormap: stop %d value %v not greater than %v", i, stops[i].Value, stops[i-1].Value)
		}
	}
	return nil
}

// ColorFor returns the color for value. Values at or below the first stop get
// the first color, values at or above the last stop get the last color, and
// anything in between is interpolated channel by channel.
func ColorFor(value float64, stops []core.ColorStop) (core.RGBA, error) {
	if len(stops) == 0 {
		return core.RGBA{}, ErrNoStops
	}
	return lookup(value, stops), nil
}

// MustColorFor is like ColorFor but panics on an empty stop list.
func MustColorFor(value float64, stops []core.ColorStop) core.RGBA {
	if len(stops) == 0 {
		panic(ErrNoStops)
	}
	return lookup(value, stops)
}

func lookup(value float64, stops []core.ColorStop) core.RGBA {
	first, last := stops[0], stops[len(stops)-1]
	if value <= first.Value {
		return first.Color
	}
	if value >= last.Value {
		return last.Color
	}
	for i := 1; i < len(stops); i++ {
		prev, curr := stops[i-1], stops[i]
		if value > prev.Value && value <= curr.Value {
			t := (value - prev.Value) / (curr.Value - prev.Value)
			return core.RGBA{
				R: lerp(prev.Color.R, curr.Color.R, t),
				G: lerp(prev.Color.G, curr.Color.G, t),
				B: lerp(prev.Color.B, curr.Color.B, t),
				A: lerp(prev.Color.A, curr.Color.A, t),
			}
		}
	}
	// NaN falls through every comparison.
	return first.Color
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
}

// Average returns the channel-wise rounded mean of the given colors.
func Average(colors ...core.RGBA) core.RGBA {
	if len(colors) == 0 {
		return core.RGBA{}
	}
	var r, g, b, a float64
	for _, c := range colors {
		r += float64(c.R)
		g += float64(c.G)
		b += float64(c.B)
		a += float64(c.A)
	}
	n := float64(len(colors))
	return core.RGBA{
		R: uint8(math.Round(r / n)),
		G: uint8(math.Round(g / n)),
		B: uint8(math.Round(b / n)),
		A: uint8(math.Round(a / n)),
	}
}

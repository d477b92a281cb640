package colormap

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaviz/flowrender/pkg/core"
)

var twoStops = []core.ColorStop{
	{Value: 1, Color: core.RGBA{R: 0, G: 0, B: 0, A: 255}},
	{Value: 3, Color: core.RGBA{R: 200, G: 100, B: 51, A: 255}},
}

func TestColorFor_ClampsBelowFirstStop(t *testing.T) {
	for _, v := range []float64{-100, 0, 0.999, 1} {
		c, err := ColorFor(v, twoStops)
		require.NoError(t, err)
		assert.Equal(t, twoStops[0].Color, c, "value %v", v)
	}
}

func TestColorFor_ClampsAboveLastStop(t *testing.T) {
	for _, v := range []float64{3, 3.5, 1e9} {
		c, err := ColorFor(v, twoStops)
		require.NoError(t, err)
		assert.Equal(t, twoStops[1].Color, c, "value %v", v)
	}
}

func TestColorFor_InterpolatesAndRounds(t *testing.T) {
	c, err := ColorFor(2, twoStops)
	require.NoError(t, err)
	// t = 0.5: 100, 50, 25.5 -> 26
	assert.Equal(t, core.RGBA{R: 100, G: 50, B: 26, A: 255}, c)
}

func TestColorFor_PicksBracketingPair(t *testing.T) {
	stops := []core.ColorStop{
		{Value: 0, Color: core.RGBA{R: 0}},
		{Value: 1, Color: core.RGBA{R: 100}},
		{Value: 2, Color: core.RGBA{R: 200}},
	}
	c := MustColorFor(1.5, stops)
	assert.Equal(t, uint8(150), c.R)

	// Exactly on an inner stop belongs to the pair ending there.
	c = MustColorFor(1, stops)
	assert.Equal(t, uint8(100), c.R)
}

func TestColorFor_SingleStop(t *testing.T) {
	stops := []core.ColorStop{{Value: 5, Color: core.RGBA{R: 9, G: 8, B: 7, A: 6}}}
	for _, v := range []float64{-1, 5, 50} {
		assert.Equal(t, stops[0].Color, MustColorFor(v, stops))
	}
}

func TestColorFor_EmptyStops(t *testing.T) {
	_, err := ColorFor(1, nil)
	assert.ErrorIs(t, err, ErrNoStops)
	assert.Panics(t, func() { MustColorFor(1, nil) })
}

func TestColorFor_NaN(t *testing.T) {
	assert.Equal(t, twoStops[0].Color, MustColorFor(math.NaN(), twoStops))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(Default()))
	assert.ErrorIs(t, Validate(nil), ErrNoStops)

	dup := []core.ColorStop{{Value: 1}, {Value: 1}}
	assert.Error(t, Validate(dup))

	desc := []core.ColorStop{{Value: 2}, {Value: 1}}
	assert.Error(t, Validate(desc))
}

func TestAverage(t *testing.T) {
	avg := Average(
		core.RGBA{R: 0, G: 10, B: 255, A: 255},
		core.RGBA{R: 1, G: 10, B: 0, A: 255},
		core.RGBA{R: 1, G: 11, B: 0, A: 254},
	)
	assert.Equal(t, core.RGBA{R: 1, G: 10, B: 85, A: 255}, avg)
	assert.Equal(t, core.RGBA{}, Average())
}

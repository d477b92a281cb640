package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaviz/flowrender/pkg/core"
)

func testFrame() *Frame {
	w, h := 5, 4
	samples := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			samples[y*w+x] = float64(y*w+x) * 0.25
		}
	}
	samples[7] = -1.5
	return &Frame{
		Width:   w,
		Height:  h,
		Samples: samples,
		Extent: core.Extent{
			MinX: 2600000, MinY: 1200000,
			MaxX: 2600050, MaxY: 1200040,
			CRS: "EPSG:2056",
		},
		HasExtent: true,
	}
}

func encodeFrame(t *testing.T, f *Frame, opts ...EncodeOption) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, f, opts...))
	return buf.Bytes()
}

func TestEncodeDecode_Layouts(t *testing.T) {
	cases := map[string][]EncodeOption{
		"plain":                nil,
		"deflate":              {WithDeflate()},
		"big endian":           {WithByteOrder(binary.BigEndian)},
		"strips":               {WithRowsPerStrip(1)},
		"float predictor":      {WithFloatPredictor(), WithDeflate(), WithRowsPerStrip(3)},
		"predictor big endian": {WithFloatPredictor(), WithByteOrder(binary.BigEndian)},
	}
	src := testFrame()
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			f, err := Decode(encodeFrame(t, src, opts...))
			require.NoError(t, err)

			assert.Equal(t, src.Width, f.Width)
			assert.Equal(t, src.Height, f.Height)
			require.Len(t, f.Samples, len(src.Samples))
			for i := range src.Samples {
				assert.InDelta(t, src.Samples[i], f.Samples[i], 1e-6, "sample %d", i)
			}
			require.True(t, f.HasExtent)
			assert.Equal(t, "EPSG:2056", f.Extent.CRS)
			assert.InDelta(t, src.Extent.MinX, f.Extent.MinX, 1e-6)
			assert.InDelta(t, src.Extent.MinY, f.Extent.MinY, 1e-6)
			assert.InDelta(t, src.Extent.MaxX, f.Extent.MaxX, 1e-6)
			assert.InDelta(t, src.Extent.MaxY, f.Extent.MaxY, 1e-6)
		})
	}
}

func TestDecode_GeographicCRSAndNoData(t *testing.T) {
	src := testFrame()
	src.Extent = core.Extent{MinX: 7, MinY: 46, MaxX: 8, MaxY: 47, CRS: "EPSG:4326"}
	src.NoData = -9999
	src.HasNoData = true

	f, err := Decode(encodeFrame(t, src))
	require.NoError(t, err)
	assert.Equal(t, "EPSG:4326", f.Extent.CRS)
	assert.True(t, f.HasNoData)
	assert.Equal(t, -9999.0, f.NoData)
}

func TestDecode_NoGeoreference(t *testing.T) {
	src := testFrame()
	src.HasExtent = false

	f, err := Decode(encodeFrame(t, src))
	require.NoError(t, err)
	assert.False(t, f.HasExtent)
}

// rawStripTIFF builds a little-endian float32 TIFF whose header claims
// width×height pixels and spp samples per pixel, backed by a single 4-byte
// strip.
func rawStripTIFF(width, height uint32, spp uint16) []byte {
	type entry struct {
		tag, typ uint16
		value    uint32
	}
	const ifdOffset = 8
	entries := []entry{
		{tagImageWidth, dtLong, width},
		{tagImageLength, dtLong, height},
		{tagBitsPerSample, dtShort, 32},
		{tagCompression, dtShort, compressionNone},
		{tagStripOffsets, dtLong, 0},
		{tagSamplesPerPixel, dtShort, uint32(spp)},
		{tagRowsPerStrip, dtLong, height},
		{tagStripByteCounts, dtLong, 4},
		{tagSampleFormat, dtShort, sampleFloat},
	}
	stripOffset := uint32(ifdOffset + 2 + 12*len(entries) + 4)
	entries[4].value = stripOffset

	o := binary.LittleEndian
	buf := []byte{'I', 'I', 42, 0}
	buf = o.AppendUint32(buf, ifdOffset)
	buf = o.AppendUint16(buf, uint16(len(entries)))
	for _, e := range entries {
		buf = o.AppendUint16(buf, e.tag)
		buf = o.AppendUint16(buf, e.typ)
		buf = o.AppendUint32(buf, 1)
		if e.typ == dtShort {
			buf = o.AppendUint16(buf, uint16(e.value))
			buf = o.AppendUint16(buf, 0)
		} else {
			buf = o.AppendUint32(buf, e.value)
		}
	}
	buf = o.AppendUint32(buf, 0)
	return o.AppendUint32(buf, math.Float32bits(1.5))
}

func TestDecode_Malformed(t *testing.T) {
	valid := encodeFrame(t, testFrame())

	inputs := map[string][]byte{
		"empty":       nil,
		"garbage":     []byte("definitely not a tiff file"),
		"bigtiff":     {'I', 'I', 43, 0, 8, 0, 0, 0},
		"bad ifd":     {'I', 'I', 42, 0, 0xff, 0xff, 0, 0},
		"truncated":   valid[:len(valid)-10],
		"huge dims":   rawStripTIFF(0xFFFFFFFF, 0xFFFFFFFF, 1),
		"spp zero":    rawStripTIFF(1, 1, 0),
		"short strip": rawStripTIFF(2, 2, 1),
	}
	for name, data := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			require.Error(t, err)
			var de *DecodeError
			assert.True(t, errors.As(err, &de), "expected DecodeError, got %T", err)
		})
	}
}

func TestDecode_SinglePixelStrip(t *testing.T) {
	f, err := Decode(rawStripTIFF(1, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5}, f.Samples)
}

func TestEncode_RejectsInvalidFrame(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, &Frame{Width: 2, Height: 2, Samples: []float64{1}})
	assert.Error(t, err)
}

func TestResample_NearestNeighbor(t *testing.T) {
	f := &Frame{
		Width:  4,
		Height: 4,
		Samples: []float64{
			1, 2, 3, 4,
			5, 6, 7, 8,
			9, 10, 11, 12,
			13, 14, 15, 16,
		},
	}
	g := Resample(f, 2)
	assert.Equal(t, []float64{1, 4, 13, 16}, g.Values)
	assert.Equal(t, 4, g.NonZeroCount)
	assert.Equal(t, 16.0, g.MaxHeight)

	g = Resample(f, 3)
	// u = 0.5 -> floor(1.5) = 1
	assert.Equal(t, []float64{1, 2, 4, 5, 6, 8, 13, 14, 16}, g.Values)
}

func TestResample_CoercesInvalidSamples(t *testing.T) {
	f := &Frame{
		Width:     2,
		Height:    2,
		Samples:   []float64{math.NaN(), -3, -9999, 2.5},
		NoData:    -9999,
		HasNoData: true,
	}
	g := Resample(f, 2)
	assert.Equal(t, []float64{0, 0, 0, 2.5}, g.Values)
	assert.Equal(t, 1, g.NonZeroCount)
	assert.Equal(t, 2.5, g.MaxHeight)
}

func TestResample_CarriesExtent(t *testing.T) {
	f := testFrame()
	g := Resample(f, 3)
	assert.Equal(t, f.Extent, g.Extent)
	assert.Equal(t, 3, g.Resolution)
}

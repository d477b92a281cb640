package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/avaviz/flowrender/internal/geo"
)

type encodeConfig struct {
	order        binary.ByteOrder
	deflate      bool
	floatPredict bool
	rowsPerStrip int
}

// EncodeOption configures Encode.
type EncodeOption func(*encodeConfig)

// WithDeflate compresses strips with zlib/Deflate.
func WithDeflate() EncodeOption {
	return func(c *encodeConfig) { c.deflate = true }
}

// WithFloatPredictor applies the floating point predictor (TIFF predictor 3).
func WithFloatPredictor() EncodeOption {
	return func(c *encodeConfig) { c.floatPredict = true }
}

// WithByteOrder selects the file byte order (little-endian by default).
func WithByteOrder(order binary.ByteOrder) EncodeOption {
	return func(c *encodeConfig) { c.order = order }
}

// WithRowsPerStrip splits the image into strips of n rows.
func WithRowsPerStrip(n int) EncodeOption {
	return func(c *encodeConfig) { c.rowsPerStrip = n }
}

type outEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// Encode writes f as a single-band float32 GeoTIFF.
func Encode(w io.Writer, f *Frame, opts ...EncodeOption) error {
	cfg := &encodeConfig{order: binary.LittleEndian}
	for _, opt := range opts {
		opt(cfg)
	}
	if f.Width <= 0 || f.Height <= 0 || len(f.Samples) != f.Width*f.Height {
		return fmt.Errorf("encode: invalid frame %dx%d with %d samples", f.Width, f.Height, len(f.Samples))
	}
	rps := cfg.rowsPerStrip
	if rps <= 0 || rps > f.Height {
		rps = f.Height
	}
	o := cfg.order

	var strips [][]byte
	for y0 := 0; y0 < f.Height; y0 += rps {
		rows := min(rps, f.Height-y0)
		strip, err := encodeStrip(f, cfg, y0, rows)
		if err != nil {
			return err
		}
		strips = append(strips, strip)
	}

	compression := uint16(compressionNone)
	if cfg.deflate {
		compression = compressionDeflate
	}
	predictor := uint16(predictorNone)
	if cfg.floatPredict {
		predictor = predictorFloat
	}

	counts := make([]uint32, len(strips))
	for i, s := range strips {
		counts[i] = uint32(len(s))
	}

	entries := []outEntry{
		shortEntry(o, tagImageWidth, uint16(f.Width)),
		shortEntry(o, tagImageLength, uint16(f.Height)),
		shortEntry(o, tagBitsPerSample, 32),
		shortEntry(o, tagCompression, compression),
		shortEntry(o, tagPhotometric, 1),
		longEntry(o, tagStripOffsets, make([]uint32, len(strips))...),
		shortEntry(o, tagSamplesPerPixel, 1),
		shortEntry(o, tagRowsPerStrip, uint16(rps)),
		longEntry(o, tagStripByteCounts, counts...),
		shortEntry(o, tagPlanarConfig, 1),
		shortEntry(o, tagPredictor, predictor),
		shortEntry(o, tagSampleFormat, sampleFloat),
	}
	if f.HasExtent {
		sx := f.Extent.Width() / float64(f.Width)
		sy := f.Extent.Height() / float64(f.Height)
		entries = append(entries,
			doubleEntry(o, tagModelPixelScale, sx, sy, 0),
			doubleEntry(o, tagModelTiepoint, 0, 0, 0, f.Extent.MinX, f.Extent.MaxY, 0),
		)
		if code, err := geo.ParseEPSG(f.Extent.CRS); err == nil {
			entries = append(entries, geoKeyEntry(o, code))
		}
	}
	if f.HasNoData {
		s := strconv.FormatFloat(f.NoData, 'g', -1, 64) + "\x00"
		entries = append(entries, outEntry{tag: tagGDALNoData, typ: dtASCII, count: uint32(len(s)), data: []byte(s)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// header | IFD | out-of-line values | strips
	ifdSize := 2 + 12*len(entries) + 4
	offset := 8 + ifdSize
	valueOffsets := make([]int, len(entries))
	for i, e := range entries {
		if len(e.data) > 4 {
			valueOffsets[i] = offset
			offset += len(e.data) + len(e.data)%2
		}
	}
	stripOffsets := make([]uint32, len(strips))
	for i, s := range strips {
		stripOffsets[i] = uint32(offset)
		offset += len(s)
	}
	for i := range entries {
		if entries[i].tag == tagStripOffsets {
			entries[i] = longEntry(o, tagStripOffsets, stripOffsets...)
		}
	}

	var buf bytes.Buffer
	if o == binary.BigEndian {
		buf.WriteString("MM")
	} else {
		buf.WriteString("II")
	}
	_ = binary.Write(&buf, o, uint16(42))
	_ = binary.Write(&buf, o, uint32(8))

	_ = binary.Write(&buf, o, uint16(len(entries)))
	for i, e := range entries {
		_ = binary.Write(&buf, o, e.tag)
		_ = binary.Write(&buf, o, e.typ)
		_ = binary.Write(&buf, o, e.count)
		if len(e.data) > 4 {
			_ = binary.Write(&buf, o, uint32(valueOffsets[i]))
		} else {
			var inline [4]byte
			copy(inline[:], e.data)
			buf.Write(inline[:])
		}
	}
	_ = binary.Write(&buf, o, uint32(0))

	for _, e := range entries {
		if len(e.data) > 4 {
			buf.Write(e.data)
			if len(e.data)%2 == 1 {
				buf.WriteByte(0)
			}
		}
	}
	for _, s := range strips {
		buf.Write(s)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func encodeStrip(f *Frame, cfg *encodeConfig, y0, rows int) ([]byte, error) {
	rowLen := f.Width * 4
	raw := make([]byte, rows*rowLen)
	for r := 0; r < rows; r++ {
		row := raw[r*rowLen : (r+1)*rowLen]
		for x := 0; x < f.Width; x++ {
			bits := math.Float32bits(float32(f.Samples[(y0+r)*f.Width+x]))
			if cfg.floatPredict {
				// byte planes, most significant first
				for b := 0; b < 4; b++ {
					row[b*f.Width+x] = byte(bits >> (24 - 8*b))
				}
			} else {
				cfg.order.PutUint32(row[4*x:], bits)
			}
		}
		if cfg.floatPredict {
			for i := rowLen - 1; i >= 1; i-- {
				row[i] -= row[i-1]
			}
		}
	}
	if !cfg.deflate {
		return raw, nil
	}
	var zb bytes.Buffer
	zw := zlib.NewWriter(&zb)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("deflate strip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("deflate strip: %w", err)
	}
	return zb.Bytes(), nil
}

func shortEntry(o binary.ByteOrder, tag uint16, vals ...uint16) outEntry {
	data := make([]byte, 2*len(vals))
	for i, v := range vals {
		o.PutUint16(data[2*i:], v)
	}
	return outEntry{tag: tag, typ: dtShort, count: uint32(len(vals)), data: data}
}

func longEntry(o binary.ByteOrder, tag uint16, vals ...uint32) outEntry {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		o.PutUint32(data[4*i:], v)
	}
	return outEntry{tag: tag, typ: dtLong, count: uint32(len(vals)), data: data}
}

func doubleEntry(o binary.ByteOrder, tag uint16, vals ...float64) outEntry {
	data := make([]byte, 8*len(vals))
	for i, v := range vals {
		o.PutUint64(data[8*i:], math.Float64bits(v))
	}
	return outEntry{tag: tag, typ: dtDouble, count: uint32(len(vals)), data: data}
}

// geoKeyEntry writes a minimal GeoKeyDirectory for an EPSG code. Codes in the
// 4000 range are treated as geographic, everything else as projected.
func geoKeyEntry(o binary.ByteOrder, code int) outEntry {
	modelType, crsKey := uint16(1), uint16(keyProjectedType)
	if code >= 4000 && code < 5000 {
		modelType, crsKey = 2, keyGeographicType
	}
	return shortEntry(o, tagGeoKeyDirectory,
		1, 1, 0, 3,
		1024, 0, 1, modelType,
		keyRasterType, 0, 1, 1,
		crsKey, 0, 1, uint16(code),
	)
}

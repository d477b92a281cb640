package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/avaviz/flowrender/internal/geo"
	"github.com/avaviz/flowrender/pkg/core"
)

// TIFF tags used by the decoder.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339

	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagModelTransform  = 34264
	tagGeoKeyDirectory = 34735
	tagGDALNoData      = 42113
)

// TIFF field types.
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
)

var typeSize = map[uint16]int{
	dtByte: 1, dtASCII: 1, dtShort: 2, dtLong: 4, dtRational: 8,
	dtSByte: 1, dtUndefined: 1, dtSShort: 2, dtSLong: 4, dtSRational: 8,
	dtFloat: 4, dtDouble: 8,
}

const (
	compressionNone    = 1
	compressionDeflate = 8
	compressionAdobe   = 32946

	predictorNone       = 1
	predictorHorizontal = 2
	predictorFloat      = 3

	sampleUint  = 1
	sampleInt   = 2
	sampleFloat = 3
)

// GeoKey ids.
const (
	keyRasterType     = 1025
	keyGeographicType = 2048
	keyProjectedType  = 3072

	rasterPixelIsPoint = 2
	userDefined        = 32767
)

// Frames above these limits are rejected rather than allocated.
const (
	maxPixels          = 1 << 26
	maxSamplesPerPixel = 64
)

var (
	errNotTIFF     = errors.New("not a TIFF file")
	errBigTIFF     = errors.New("BigTIFF is not supported")
	errTruncated   = errors.New("truncated data")
	errUnsupported = errors.New("unsupported layout")
)

type ifdEntry struct {
	typ   uint16
	count uint32
	data  []byte
}

type decoder struct {
	buf   []byte
	order binary.ByteOrder
	ifd   map[uint16]ifdEntry
}

// Decode parses the first band of a (Geo)TIFF image.
func Decode(data []byte) (f *Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			f, err = nil, &DecodeError{Err: fmt.Errorf("malformed raster: %v", r)}
		}
	}()
	d := &decoder{buf: data}
	if err := d.readHeader(); err != nil {
		return nil, &DecodeError{Err: err}
	}
	frame, err := d.decode()
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return frame, nil
}

func (d *decoder) readHeader() error {
	if len(d.buf) < 8 {
		return errNotTIFF
	}
	switch string(d.buf[:2]) {
	case "II":
		d.order = binary.LittleEndian
	case "MM":
		d.order = binary.BigEndian
	default:
		return errNotTIFF
	}
	switch d.order.Uint16(d.buf[2:4]) {
	case 42:
	case 43:
		return errBigTIFF
	default:
		return errNotTIFF
	}
	return d.readIFD(int64(d.order.Uint32(d.buf[4:8])))
}

func (d *decoder) readIFD(off int64) error {
	if off < 8 || off+2 > int64(len(d.buf)) {
		return fmt.Errorf("IFD offset %d: %w", off, errTruncated)
	}
	n := int64(d.order.Uint16(d.buf[off : off+2]))
	if off+2+n*12 > int64(len(d.buf)) {
		return fmt.Errorf("IFD entries: %w", errTruncated)
	}
	d.ifd = make(map[uint16]ifdEntry, n)
	for i := int64(0); i < n; i++ {
		p := d.buf[off+2+i*12 : off+2+(i+1)*12]
		tag := d.order.Uint16(p[0:2])
		typ := d.order.Uint16(p[2:4])
		count := d.order.Uint32(p[4:8])
		size, ok := typeSize[typ]
		if !ok {
			continue
		}
		total := int64(size) * int64(count)
		var raw []byte
		if total <= 4 {
			raw = p[8 : 8+total]
		} else {
			vo := int64(d.order.Uint32(p[8:12]))
			if vo < 0 || vo+total > int64(len(d.buf)) {
				return fmt.Errorf("tag %d value: %w", tag, errTruncated)
			}
			raw = d.buf[vo : vo+total]
		}
		d.ifd[tag] = ifdEntry{typ: typ, count: count, data: raw}
	}
	return nil
}

// uints returns an integer-typed tag as uint64 values.
func (d *decoder) uints(tag uint16) []uint64 {
	e, ok := d.ifd[tag]
	if !ok {
		return nil
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case dtByte, dtUndefined:
			out[i] = uint64(e.data[i])
		case dtShort:
			out[i] = uint64(d.order.Uint16(e.data[2*i:]))
		case dtLong:
			out[i] = uint64(d.order.Uint32(e.data[4*i:]))
		default:
			return nil
		}
	}
	return out
}

func (d *decoder) uint(tag uint16, def uint64) uint64 {
	v := d.uints(tag)
	if len(v) == 0 {
		return def
	}
	return v[0]
}

func (d *decoder) floats(tag uint16) []float64 {
	e, ok := d.ifd[tag]
	if !ok {
		return nil
	}
	out := make([]float64, e.count)
	for i := range out {
		switch e.typ {
		case dtDouble:
			out[i] = math.Float64frombits(d.order.Uint64(e.data[8*i:]))
		case dtFloat:
			out[i] = float64(math.Float32frombits(d.order.Uint32(e.data[4*i:])))
		case dtShort:
			out[i] = float64(d.order.Uint16(e.data[2*i:]))
		case dtLong:
			out[i] = float64(d.order.Uint32(e.data[4*i:]))
		default:
			return nil
		}
	}
	return out
}

func (d *decoder) ascii(tag uint16) (string, bool) {
	e, ok := d.ifd[tag]
	if !ok || e.typ != dtASCII {
		return "", false
	}
	return strings.TrimRight(string(e.data), "\x00 "), true
}

// layout describes how the first band is stored.
type layout struct {
	width, height   int
	chunkW, chunkH  int
	across          int
	bytesPerSample  int
	samplesPerPixel int // samples per pixel inside one chunk
	sampleFormat    uint64
	compression     uint64
	predictor       uint64
	offsets, counts []uint64
	tiled           bool
}

func (d *decoder) layout() (*layout, error) {
	l := &layout{
		width:       int(d.uint(tagImageWidth, 0)),
		height:      int(d.uint(tagImageLength, 0)),
		compression: d.uint(tagCompression, compressionNone),
		predictor:   d.uint(tagPredictor, predictorNone),
	}
	if l.width <= 0 || l.height <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", l.width, l.height)
	}
	if l.width > maxPixels || l.height > maxPixels || l.width*l.height > maxPixels {
		return nil, fmt.Errorf("dimensions %dx%d exceed %d pixels: %w", l.width, l.height, maxPixels, errUnsupported)
	}

	bps := d.uints(tagBitsPerSample)
	if len(bps) == 0 {
		bps = []uint64{1}
	}
	if bps[0]%8 != 0 || bps[0] == 0 || bps[0] > 64 {
		return nil, fmt.Errorf("%d bits per sample: %w", bps[0], errUnsupported)
	}
	l.bytesPerSample = int(bps[0] / 8)

	formats := d.uints(tagSampleFormat)
	l.sampleFormat = sampleUint
	if len(formats) > 0 {
		l.sampleFormat = formats[0]
	}
	switch {
	case l.sampleFormat == sampleFloat && (l.bytesPerSample == 4 || l.bytesPerSample == 8):
	case (l.sampleFormat == sampleUint || l.sampleFormat == sampleInt) && l.bytesPerSample != 3 && l.bytesPerSample <= 8:
	default:
		return nil, fmt.Errorf("sample format %d with %d bytes: %w", l.sampleFormat, l.bytesPerSample, errUnsupported)
	}

	spp := int(d.uint(tagSamplesPerPixel, 1))
	if spp < 1 || spp > maxSamplesPerPixel {
		return nil, fmt.Errorf("%d samples per pixel: %w", spp, errUnsupported)
	}
	planar := d.uint(tagPlanarConfig, 1)
	l.samplesPerPixel = spp
	if planar == 2 {
		l.samplesPerPixel = 1
	}

	if _, ok := d.ifd[tagTileWidth]; ok {
		l.tiled = true
		l.chunkW = int(d.uint(tagTileWidth, 0))
		l.chunkH = int(d.uint(tagTileLength, 0))
		l.offsets = d.uints(tagTileOffsets)
		l.counts = d.uints(tagTileByteCounts)
	} else {
		l.chunkW = l.width
		l.chunkH = int(d.uint(tagRowsPerStrip, uint64(l.height)))
		if l.chunkH <= 0 || l.chunkH > l.height {
			l.chunkH = l.height
		}
		l.offsets = d.uints(tagStripOffsets)
		l.counts = d.uints(tagStripByteCounts)
	}
	if l.chunkW <= 0 || l.chunkH <= 0 || l.chunkW > maxPixels || l.chunkH > maxPixels || l.chunkW*l.chunkH > maxPixels {
		return nil, fmt.Errorf("invalid chunk size %dx%d", l.chunkW, l.chunkH)
	}
	l.across = (l.width + l.chunkW - 1) / l.chunkW
	down := (l.height + l.chunkH - 1) / l.chunkH
	need := l.across * down
	if len(l.offsets) < need || len(l.counts) < need {
		return nil, fmt.Errorf("expected %d chunks, have %d offsets and %d counts: %w",
			need, len(l.offsets), len(l.counts), errTruncated)
	}
	return l, nil
}

func (d *decoder) decode() (*Frame, error) {
	l, err := d.layout()
	if err != nil {
		return nil, err
	}

	f := &Frame{
		Width:   l.width,
		Height:  l.height,
		Samples: make([]float64, l.width*l.height),
	}

	down := (l.height + l.chunkH - 1) / l.chunkH
	for cy := 0; cy < down; cy++ {
		for cx := 0; cx < l.across; cx++ {
			idx := cy*l.across + cx
			rows := l.chunkH
			if !l.tiled {
				rows = min(l.chunkH, l.height-cy*l.chunkH)
			}
			chunk, err := d.chunk(l, idx, rows)
			if err != nil {
				return nil, fmt.Errorf("chunk %d: %w", idx, err)
			}
			if err := d.place(f, l, chunk, cx, cy, rows); err != nil {
				return nil, fmt.Errorf("chunk %d: %w", idx, err)
			}
		}
	}

	d.georeference(f)
	if s, ok := d.ascii(tagGDALNoData); ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			f.NoData = v
			f.HasNoData = true
		}
	}
	return f, nil
}

// chunk returns the decompressed, de-predicted bytes of one strip or tile.
func (d *decoder) chunk(l *layout, idx, rows int) ([]byte, error) {
	off, n := int64(l.offsets[idx]), int64(l.counts[idx])
	if off < 0 || off+n > int64(len(d.buf)) {
		return nil, errTruncated
	}
	raw := d.buf[off : off+n]

	rowBytes := l.chunkW * l.samplesPerPixel * l.bytesPerSample
	want := rowBytes * rows

	var data []byte
	switch l.compression {
	case compressionNone:
		data = raw
	case compressionDeflate, compressionAdobe:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		data, err = io.ReadAll(io.LimitReader(zr, int64(want)))
		_ = zr.Close()
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
	default:
		return nil, fmt.Errorf("compression %d: %w", l.compression, errUnsupported)
	}
	if len(data) < want {
		return nil, fmt.Errorf("chunk has %d bytes, want %d: %w", len(data), want, errTruncated)
	}
	data = append([]byte(nil), data[:want]...)

	switch l.predictor {
	case predictorNone:
	case predictorHorizontal:
		d.undoHorizontal(data, l, rows)
	case predictorFloat:
		undoFloat(data, l, rows)
	default:
		return nil, fmt.Errorf("predictor %d: %w", l.predictor, errUnsupported)
	}
	return data, nil
}

func (d *decoder) undoHorizontal(data []byte, l *layout, rows int) {
	spp, bps := l.samplesPerPixel, l.bytesPerSample
	n := l.chunkW * spp
	for r := 0; r < rows; r++ {
		row := data[r*n*bps : (r+1)*n*bps]
		for i := spp; i < n; i++ {
			switch bps {
			case 1:
				row[i] += row[i-spp]
			case 2:
				v := d.order.Uint16(row[2*i:]) + d.order.Uint16(row[2*(i-spp):])
				d.order.PutUint16(row[2*i:], v)
			case 4:
				v := d.order.Uint32(row[4*i:]) + d.order.Uint32(row[4*(i-spp):])
				d.order.PutUint32(row[4*i:], v)
			case 8:
				v := d.order.Uint64(row[8*i:]) + d.order.Uint64(row[8*(i-spp):])
				d.order.PutUint64(row[8*i:], v)
			}
		}
	}
}

// undoFloat reverses the floating point predictor: byte-wise accumulation
// across the row, then un-shuffling the byte planes. Planes are stored most
// significant byte first, so the rebuilt samples are big-endian.
func undoFloat(data []byte, l *layout, rows int) {
	spp, bps := l.samplesPerPixel, l.bytesPerSample
	n := l.chunkW * spp
	rowLen := n * bps
	tmp := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		row := data[r*rowLen : (r+1)*rowLen]
		for i := spp; i < rowLen; i++ {
			row[i] += row[i-spp]
		}
		copy(tmp, row)
		for i := 0; i < n; i++ {
			for b := 0; b < bps; b++ {
				row[i*bps+b] = tmp[b*n+i]
			}
		}
	}
}

// place copies the first band of a chunk into the frame.
func (d *decoder) place(f *Frame, l *layout, chunk []byte, cx, cy, rows int) error {
	order := d.order
	if l.predictor == predictorFloat {
		order = binary.BigEndian
	}
	stride := l.samplesPerPixel * l.bytesPerSample
	if stride <= 0 || len(chunk) < rows*l.chunkW*stride {
		return fmt.Errorf("chunk has %d bytes for %d rows: %w", len(chunk), rows, errTruncated)
	}
	for r := 0; r < rows; r++ {
		y := cy*l.chunkH + r
		if y >= l.height {
			break
		}
		for c := 0; c < l.chunkW; c++ {
			x := cx*l.chunkW + c
			if x >= l.width {
				break
			}
			p := chunk[(r*l.chunkW+c)*stride:]
			f.Samples[y*l.width+x] = sample(p, order, l.bytesPerSample, l.sampleFormat)
		}
	}
	return nil
}

func sample(p []byte, order binary.ByteOrder, size int, format uint64) float64 {
	switch format {
	case sampleFloat:
		if size == 4 {
			return float64(math.Float32frombits(order.Uint32(p)))
		}
		return math.Float64frombits(order.Uint64(p))
	case sampleInt:
		switch size {
		case 1:
			return float64(int8(p[0]))
		case 2:
			return float64(int16(order.Uint16(p)))
		case 4:
			return float64(int32(order.Uint32(p)))
		default:
			return float64(int64(order.Uint64(p)))
		}
	default:
		switch size {
		case 1:
			return float64(p[0])
		case 2:
			return float64(order.Uint16(p))
		case 4:
			return float64(order.Uint32(p))
		default:
			return float64(order.Uint64(p))
		}
	}
}

// georeference derives the bounding box and CRS from GeoTIFF tags.
func (d *decoder) georeference(f *Frame) {
	var sx, sy, originX, originY float64
	switch {
	case len(d.floats(tagModelPixelScale)) >= 2 && len(d.floats(tagModelTiepoint)) >= 6:
		scale := d.floats(tagModelPixelScale)
		tie := d.floats(tagModelTiepoint)
		sx, sy = scale[0], scale[1]
		originX = tie[3] - tie[0]*sx
		originY = tie[4] + tie[1]*sy
	case len(d.floats(tagModelTransform)) >= 16:
		m := d.floats(tagModelTransform)
		if m[1] != 0 || m[4] != 0 {
			// rotated rasters have no axis-aligned extent
			return
		}
		sx, sy = m[0], -m[5]
		originX, originY = m[3], m[7]
	default:
		return
	}
	if sx <= 0 || sy <= 0 {
		return
	}

	keys := d.geoKeys()
	if keys[keyRasterType] == rasterPixelIsPoint {
		originX -= sx / 2
		originY += sy / 2
	}

	f.Extent = core.Extent{
		MinX: originX,
		MaxX: originX + float64(f.Width)*sx,
		MaxY: originY,
		MinY: originY - float64(f.Height)*sy,
	}
	if code := keys[keyProjectedType]; code != 0 && code != userDefined {
		f.Extent.CRS = geo.FormatEPSG(int(code))
	} else if code := keys[keyGeographicType]; code != 0 && code != userDefined {
		f.Extent.CRS = geo.FormatEPSG(int(code))
	}
	f.HasExtent = true
}

// geoKeys returns the short-valued keys of the GeoKeyDirectory.
func (d *decoder) geoKeys() map[uint16]uint64 {
	dir := d.uints(tagGeoKeyDirectory)
	keys := map[uint16]uint64{}
	if len(dir) < 4 {
		return keys
	}
	n := int(dir[3])
	for i := 0; i < n && 4+4*i+3 < len(dir); i++ {
		e := dir[4+4*i : 8+4*i]
		if e[1] == 0 {
			keys[uint16(e[0])] = e[3]
		}
	}
	return keys
}

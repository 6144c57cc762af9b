package geotiff

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/useyardstick/demeter/raster"
	"github.com/useyardstick/demeter/raster/projection"
)

// WriteOption adjusts how a GeoTIFF is written.
type WriteOption func(*writeConfig)

type writeConfig struct {
	dtype DType
}

// WithDType selects the on-disk sample type. The default is Float64, which
// round-trips merge output exactly.
func WithDType(d DType) WriteOption {
	return func(c *writeConfig) { c.dtype = d }
}

// Writer streams a raster to disk one row window at a time. The strip
// layout is fixed when the writer is created (uncompressed, one row per
// strip, band-separate planes), so windows can be written in any order and
// the merge engine never holds more than a window in memory.
type Writer struct {
	f     *os.File
	path  string
	info  raster.Info
	dtype DType

	rowBytes   int
	dataOffset int64
}

// Create opens path for writing and lays down the TIFF header, directory
// and georeferencing tags for a raster of the given shape. Callers must
// Close the writer on every path; Close removes nothing, so a partially
// written file is the caller's to clean up.
func Create(path string, info raster.Info, opts ...WriteOption) (*Writer, error) {
	cfg := writeConfig{dtype: Float64}
	for _, opt := range opts {
		opt(&cfg)
	}

	if info.Bands < 1 || info.Height < 1 || info.Width < 1 {
		return nil, fmt.Errorf("invalid raster shape (%d, %d, %d)", info.Bands, info.Height, info.Width)
	}
	if info.Transform.IsZero() {
		return nil, fmt.Errorf("raster has no grid transform")
	}
	if cfg.dtype.sampleFormat() == sampleUint && !math.IsNaN(info.NoData) && info.NoData < 0 {
		return nil, fmt.Errorf("nodata %g does not fit %s samples", info.NoData, cfg.dtype)
	}
	epsg, err := projection.EPSGCode(info.CRS)
	if err != nil {
		return nil, err
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		f:        f,
		path:     path,
		info:     info,
		dtype:    cfg.dtype,
		rowBytes: info.Width * cfg.dtype.bytesPerSample(),
	}
	if err := w.writeHeader(epsg); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return w, nil
}

// tiffTag is one directory entry queued for serialization.
type tiffTag struct {
	id     int
	typ    int
	values []uint64 // for integer types
	text   string   // for ASCII
	floats []float64
}

func (w *Writer) writeHeader(epsg int) error {
	bands, height, width := w.info.Bands, w.info.Height, w.info.Width
	strips := bands * height

	bits := make([]uint64, bands)
	formats := make([]uint64, bands)
	for i := range bits {
		bits[i] = uint64(w.dtype.bytesPerSample() * 8)
		formats[i] = uint64(w.dtype.sampleFormat())
	}

	modelType := uint64(1) // projected
	geoKey := uint64(gkProjectedCS)
	if epsg >= 4000 && epsg < 5000 {
		modelType = 2 // geographic
		geoKey = gkGeographicType
	}
	geoKeys := []uint64{
		1, 1, 0, 3,
		gkModelType, 0, 1, modelType,
		gkRasterType, 0, 1, 1, // PixelIsArea
		geoKey, 0, 1, uint64(epsg),
	}

	xres, yres := w.info.Transform.Resolution()
	originX, originY := w.info.Transform.Origin()

	nodata := "nan"
	if !math.IsNaN(w.info.NoData) {
		nodata = strconv.FormatFloat(w.info.NoData, 'g', -1, 64)
	}

	// Strip offsets are computed last; reserve the slot order now.
	tags := []tiffTag{
		{id: tagImageWidth, typ: dtLong, values: []uint64{uint64(width)}},
		{id: tagImageLength, typ: dtLong, values: []uint64{uint64(height)}},
		{id: tagBitsPerSample, typ: dtShort, values: bits},
		{id: tagCompression, typ: dtShort, values: []uint64{1}},
		{id: tagPhotometric, typ: dtShort, values: []uint64{1}},
		{id: tagStripOffsets, typ: dtLong, values: make([]uint64, strips)},
		{id: tagSamplesPerPixel, typ: dtShort, values: []uint64{uint64(bands)}},
		{id: tagRowsPerStrip, typ: dtLong, values: []uint64{1}},
		{id: tagStripByteCounts, typ: dtLong, values: stripCounts(strips, w.rowBytes)},
		{id: tagPlanarConfig, typ: dtShort, values: []uint64{2}},
		{id: tagSampleFormat, typ: dtShort, values: formats},
		{id: tagModelPixelScale, typ: dtDouble, floats: []float64{xres, yres, 0}},
		{id: tagModelTiepoint, typ: dtDouble, floats: []float64{0, 0, 0, originX, originY, 0}},
		{id: tagGeoKeyDirectory, typ: dtShort, values: geoKeys},
		{id: tagGDALNoData, typ: dtASCII, text: nodata + "\x00"},
	}

	// Directory layout: header, IFD, overflow arrays, pixel data.
	ifdSize := 2 + len(tags)*12 + 4
	overflowOffset := int64(8 + ifdSize)
	overflowSize := 0
	for _, t := range tags {
		if size := tagByteSize(t); size > 4 {
			overflowSize += size + size%2
		}
	}
	w.dataOffset = overflowOffset + int64(overflowSize)
	if w.dataOffset%2 != 0 {
		w.dataOffset++
	}

	// Now that the data offset is known, fill in the strip offsets.
	for i := range tags {
		if tags[i].id == tagStripOffsets {
			for s := 0; s < strips; s++ {
				tags[i].values[s] = uint64(w.dataOffset + int64(s)*int64(w.rowBytes))
			}
		}
	}

	le := binary.LittleEndian
	buf := make([]byte, w.dataOffset)
	buf[0], buf[1] = 'I', 'I'
	le.PutUint16(buf[2:4], 42)
	le.PutUint32(buf[4:8], 8)
	le.PutUint16(buf[8:10], uint16(len(tags)))

	overflow := overflowOffset
	for i, t := range tags {
		entry := buf[10+i*12 : 10+i*12+12]
		le.PutUint16(entry[0:2], uint16(t.id))
		le.PutUint16(entry[2:4], uint16(t.typ))
		le.PutUint32(entry[4:8], uint32(tagCount(t)))

		packed := packTag(t, le)
		if len(packed) <= 4 {
			copy(entry[8:12], packed)
		} else {
			le.PutUint32(entry[8:12], uint32(overflow))
			copy(buf[overflow:], packed)
			overflow += int64(len(packed) + len(packed)%2)
		}
	}
	// Next IFD offset: none.
	le.PutUint32(buf[10+len(tags)*12:], 0)

	_, err := w.f.WriteAt(buf, 0)
	return err
}

func stripCounts(strips, rowBytes int) []uint64 {
	out := make([]uint64, strips)
	for i := range out {
		out[i] = uint64(rowBytes)
	}
	return out
}

func tagCount(t tiffTag) int {
	switch {
	case t.typ == dtASCII:
		return len(t.text)
	case t.typ == dtDouble:
		return len(t.floats)
	default:
		return len(t.values)
	}
}

func tagByteSize(t tiffTag) int {
	return typeSize(t.typ) * tagCount(t)
}

func packTag(t tiffTag, order binary.ByteOrder) []byte {
	out := make([]byte, tagByteSize(t))
	switch t.typ {
	case dtASCII:
		copy(out, t.text)
	case dtDouble:
		for i, v := range t.floats {
			order.PutUint64(out[i*8:], math.Float64bits(v))
		}
	case dtShort:
		for i, v := range t.values {
			order.PutUint16(out[i*2:], uint16(v))
		}
	default:
		for i, v := range t.values {
			order.PutUint32(out[i*4:], uint32(v))
		}
	}
	return out
}

// WriteRows encodes the window's pixels into the strips for rows
// [row, row+win.Height). The window must span the full raster width and
// carry the same band count.
func (w *Writer) WriteRows(row int, win *raster.Raster) error {
	if win.Width != w.info.Width || win.Bands != w.info.Bands {
		return fmt.Errorf("window shape (%d, %d, %d) does not match raster (%d, %d, %d)",
			win.Bands, win.Height, win.Width, w.info.Bands, w.info.Height, w.info.Width)
	}
	if row < 0 || row+win.Height > w.info.Height {
		return fmt.Errorf("row window [%d, %d) outside raster height %d", row, row+win.Height, w.info.Height)
	}

	le := binary.LittleEndian
	line := make([]byte, w.rowBytes)
	for b := 0; b < win.Bands; b++ {
		for r := 0; r < win.Height; r++ {
			for col := 0; col < win.Width; col++ {
				v, ok := win.At(b, r, col)
				if !ok {
					v = w.info.NoData
				}
				w.encodeSample(line, col, v, le)
			}
			strip := b*w.info.Height + row + r
			offset := w.dataOffset + int64(strip)*int64(w.rowBytes)
			if _, err := w.f.WriteAt(line, offset); err != nil {
				return fmt.Errorf("writing strip %d: %w", strip, err)
			}
		}
	}
	return nil
}

func (w *Writer) encodeSample(line []byte, i int, v float64, order binary.ByteOrder) {
	switch w.dtype {
	case Float64:
		order.PutUint64(line[i*8:], math.Float64bits(v))
	case Float32:
		order.PutUint32(line[i*4:], math.Float32bits(float32(v)))
	case Int32:
		order.PutUint32(line[i*4:], uint32(int32(math.Round(v))))
	case Int16:
		order.PutUint16(line[i*2:], uint16(int16(math.Round(v))))
	case UInt32:
		order.PutUint32(line[i*4:], uint32(math.Round(v)))
	case UInt16:
		order.PutUint16(line[i*2:], uint16(math.Round(v)))
	default:
		line[i] = byte(math.Round(v))
	}
}

// Close flushes and releases the file handle.
func (w *Writer) Close() error {
	return w.f.Close()
}

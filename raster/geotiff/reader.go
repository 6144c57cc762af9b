package geotiff

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/useyardstick/demeter/raster"
)

// Dataset is an open GeoTIFF file. It reads pixel windows on demand, so
// rasters larger than memory can be merged or masked without materializing
// them; it implements raster.Source.
type Dataset struct {
	f     *os.File
	order binary.ByteOrder

	info  raster.Info
	dtype DType

	planar       int
	rowsPerStrip int
	stripOffsets []int64
	stripCounts  []int64
}

type ifdEntry struct {
	typ    int
	count  int
	inline [4]byte
	offset int64
}

// Open parses a GeoTIFF header and returns a windowed reader for it.
// The file must carry a CRS and a grid transform; a raster without either
// cannot be placed on the earth and is rejected here.
func Open(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	ds, err := parse(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

func parse(f *os.File) (*Dataset, error) {
	var header [8]byte
	if _, err := f.ReadAt(header[:], 0); err != nil {
		return nil, fmt.Errorf("reading TIFF header: %w", err)
	}

	var order binary.ByteOrder
	switch {
	case header[0] == 'I' && header[1] == 'I':
		order = binary.LittleEndian
	case header[0] == 'M' && header[1] == 'M':
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a TIFF file")
	}
	if order.Uint16(header[2:4]) != 42 {
		return nil, fmt.Errorf("not a classic TIFF file")
	}

	ifdOffset := int64(order.Uint32(header[4:8]))
	entries, err := readIFD(f, order, ifdOffset)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{f: f, order: order, planar: 1}

	width := int(ds.tagUint(entries, tagImageWidth, 0))
	height := int(ds.tagUint(entries, tagImageLength, 0))
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("missing image dimensions")
	}
	bands := int(ds.tagUint(entries, tagSamplesPerPixel, 1))

	if c := ds.tagUint(entries, tagCompression, 1); c != 1 {
		return nil, fmt.Errorf("unsupported compression %d (only uncompressed strips are supported)", c)
	}
	if _, tiled := entries[322]; tiled {
		return nil, fmt.Errorf("tile-organized TIFFs are not supported, only strips")
	}

	bitsValues, err := tagUints(ds, entries, tagBitsPerSample)
	if err != nil {
		return nil, err
	}
	bits := 8
	if len(bitsValues) > 0 {
		bits = int(bitsValues[0])
		for _, b := range bitsValues {
			if int(b) != bits {
				return nil, fmt.Errorf("bands with mixed bit depths are not supported")
			}
		}
	}
	format := sampleUint
	if formats, err := tagUints(ds, entries, tagSampleFormat); err == nil && len(formats) > 0 {
		format = int(formats[0])
	}
	dtype, err := dtypeFor(format, bits)
	if err != nil {
		return nil, err
	}
	ds.dtype = dtype

	ds.planar = int(ds.tagUint(entries, tagPlanarConfig, 1))
	if ds.planar != 1 && ds.planar != 2 {
		return nil, fmt.Errorf("unsupported planar configuration %d", ds.planar)
	}

	ds.rowsPerStrip = int(ds.tagUint(entries, tagRowsPerStrip, uint64(height)))
	offsets, err := tagUints(ds, entries, tagStripOffsets)
	if err != nil {
		return nil, fmt.Errorf("missing strip offsets: %w", err)
	}
	counts, err := tagUints(ds, entries, tagStripByteCounts)
	if err != nil {
		return nil, fmt.Errorf("missing strip byte counts: %w", err)
	}
	if len(offsets) != len(counts) {
		return nil, fmt.Errorf("strip offsets and byte counts disagree")
	}
	ds.stripOffsets = make([]int64, len(offsets))
	ds.stripCounts = make([]int64, len(counts))
	for i := range offsets {
		ds.stripOffsets[i] = int64(offsets[i])
		ds.stripCounts[i] = int64(counts[i])
	}

	transform, err := geoTransform(ds, entries)
	if err != nil {
		return nil, err
	}
	crs, err := geoCRS(ds, entries)
	if err != nil {
		return nil, err
	}

	nodata := math.NaN()
	if s, err := tagASCII(ds, entries, tagGDALNoData); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			nodata = v
		}
	}

	ds.info = raster.Info{
		Bands:     bands,
		Height:    height,
		Width:     width,
		Transform: transform,
		CRS:       crs,
		NoData:    nodata,
	}
	return ds, nil
}

func readIFD(f *os.File, order binary.ByteOrder, offset int64) (map[int]ifdEntry, error) {
	var countBuf [2]byte
	if _, err := f.ReadAt(countBuf[:], offset); err != nil {
		return nil, fmt.Errorf("reading IFD: %w", err)
	}
	count := int(order.Uint16(countBuf[:]))

	buf := make([]byte, count*12)
	if _, err := f.ReadAt(buf, offset+2); err != nil {
		return nil, fmt.Errorf("reading IFD entries: %w", err)
	}

	entries := make(map[int]ifdEntry, count)
	for i := 0; i < count; i++ {
		e := buf[i*12 : i*12+12]
		entry := ifdEntry{
			typ:   int(order.Uint16(e[2:4])),
			count: int(order.Uint32(e[4:8])),
		}
		copy(entry.inline[:], e[8:12])
		entry.offset = int64(order.Uint32(e[8:12]))
		entries[int(order.Uint16(e[0:2]))] = entry
	}
	return entries, nil
}

func typeSize(typ int) int {
	switch typ {
	case dtByte, dtASCII, dtSByte:
		return 1
	case dtShort, dtSShort:
		return 2
	case dtLong, dtSLong, dtFloat:
		return 4
	case dtRational, dtDouble:
		return 8
	}
	return 0
}

// tagUint returns a single scalar tag value, or def when absent.
func (ds *Dataset) tagUint(entries map[int]ifdEntry, tag int, def uint64) uint64 {
	values, err := tagUints(ds, entries, tag)
	if err != nil || len(values) == 0 {
		return def
	}
	return values[0]
}

// rawValues reads a tag's packed value bytes, whether inline or at offset.
func (ds *Dataset) rawValues(e ifdEntry) ([]byte, error) {
	size := typeSize(e.typ) * e.count
	if size == 0 {
		return nil, fmt.Errorf("unsupported tag type %d", e.typ)
	}
	if size <= 4 {
		return e.inline[:size], nil
	}
	buf := make([]byte, size)
	if _, err := ds.f.ReadAt(buf, e.offset); err != nil {
		return nil, err
	}
	return buf, nil
}

func tagUints(ds *Dataset, entries map[int]ifdEntry, tag int) ([]uint64, error) {
	e, ok := entries[tag]
	if !ok {
		return nil, fmt.Errorf("tag %d not present", tag)
	}
	raw, err := ds.rawValues(e)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, e.count)
	for i := 0; i < e.count; i++ {
		switch e.typ {
		case dtByte:
			out[i] = uint64(raw[i])
		case dtShort:
			out[i] = uint64(ds.order.Uint16(raw[i*2:]))
		case dtLong:
			out[i] = uint64(ds.order.Uint32(raw[i*4:]))
		default:
			return nil, fmt.Errorf("tag %d has unexpected type %d", tag, e.typ)
		}
	}
	return out, nil
}

func tagDoubles(ds *Dataset, entries map[int]ifdEntry, tag int) ([]float64, error) {
	e, ok := entries[tag]
	if !ok {
		return nil, fmt.Errorf("tag %d not present", tag)
	}
	if e.typ != dtDouble {
		return nil, fmt.Errorf("tag %d has unexpected type %d", tag, e.typ)
	}
	raw, err := ds.rawValues(e)
	if err != nil {
		return nil, err
	}
	out := make([]float64, e.count)
	for i := 0; i < e.count; i++ {
		out[i] = math.Float64frombits(ds.order.Uint64(raw[i*8:]))
	}
	return out, nil
}

func tagASCII(ds *Dataset, entries map[int]ifdEntry, tag int) (string, error) {
	e, ok := entries[tag]
	if !ok {
		return "", fmt.Errorf("tag %d not present", tag)
	}
	raw, err := ds.rawValues(e)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(raw), "\x00"), nil
}

func geoTransform(ds *Dataset, entries map[int]ifdEntry) (raster.Affine, error) {
	scale, err := tagDoubles(ds, entries, tagModelPixelScale)
	if err != nil || len(scale) < 2 {
		return raster.Affine{}, fmt.Errorf("raster has no grid transform (ModelPixelScale missing)")
	}
	tiepoint, err := tagDoubles(ds, entries, tagModelTiepoint)
	if err != nil || len(tiepoint) < 6 {
		return raster.Affine{}, fmt.Errorf("raster has no grid transform (ModelTiepoint missing)")
	}
	// The tiepoint maps pixel (i, j) to world (x, y); shift to pixel (0, 0).
	originX := tiepoint[3] - tiepoint[0]*scale[0]
	originY := tiepoint[4] + tiepoint[1]*scale[1]
	return raster.FromOrigin(originX, originY, scale[0], scale[1]), nil
}

func geoCRS(ds *Dataset, entries map[int]ifdEntry) (string, error) {
	keys, err := tagUints(ds, entries, tagGeoKeyDirectory)
	if err != nil || len(keys) < 4 {
		return "", fmt.Errorf("raster has no CRS (GeoKeyDirectory missing)")
	}
	numKeys := int(keys[3])
	epsg := 0
	for i := 0; i < numKeys; i++ {
		base := 4 + i*4
		if base+3 >= len(keys) {
			break
		}
		switch keys[base] {
		case gkProjectedCS, gkGeographicType:
			if v := int(keys[base+3]); v > 0 && epsg == 0 {
				epsg = v
			}
		}
	}
	if epsg == 0 {
		return "", fmt.Errorf("raster has no CRS (no EPSG code in GeoKeys)")
	}
	return fmt.Sprintf("EPSG:%d", epsg), nil
}

// Info implements raster.Source.
func (ds *Dataset) Info() (raster.Info, error) {
	return ds.info, nil
}

// Read loads the entire dataset into memory.
func (ds *Dataset) Read() (*raster.Raster, error) {
	return ds.ReadRows(0, ds.info.Height)
}

// ReadRows implements raster.Source: it decodes rows [row, row+n) of every
// band into a masked raster whose transform is shifted accordingly.
func (ds *Dataset) ReadRows(row, n int) (*raster.Raster, error) {
	if row < 0 || n < 1 || row+n > ds.info.Height {
		return nil, fmt.Errorf("row window [%d, %d) outside raster height %d", row, row+n, ds.info.Height)
	}
	width := ds.info.Width
	bands := ds.info.Bands
	data := make([]float64, bands*n*width)
	valid := make([]bool, len(data))

	for r := row; r < row+n; r++ {
		strip := r / ds.rowsPerStrip
		rowInStrip := r % ds.rowsPerStrip
		if ds.planar == 1 {
			raw, err := ds.readStrip(strip)
			if err != nil {
				return nil, err
			}
			rowBytes := width * bands * ds.dtype.bytesPerSample()
			line := raw[rowInStrip*rowBytes : (rowInStrip+1)*rowBytes]
			for col := 0; col < width; col++ {
				for b := 0; b < bands; b++ {
					v := ds.decodeSample(line, col*bands+b)
					ds.store(data, valid, b, n, width, r-row, col, v)
				}
			}
		} else {
			stripsPerBand := (ds.info.Height + ds.rowsPerStrip - 1) / ds.rowsPerStrip
			rowBytes := width * ds.dtype.bytesPerSample()
			for b := 0; b < bands; b++ {
				raw, err := ds.readStrip(b*stripsPerBand + strip)
				if err != nil {
					return nil, err
				}
				line := raw[rowInStrip*rowBytes : (rowInStrip+1)*rowBytes]
				for col := 0; col < width; col++ {
					v := ds.decodeSample(line, col)
					ds.store(data, valid, b, n, width, r-row, col, v)
				}
			}
		}
	}

	left, top := ds.info.Transform.Apply(0, float64(row))
	transform := ds.info.Transform
	transform.C = left
	transform.F = top
	out, err := raster.New(data, valid, bands, n, width, transform, ds.info.CRS)
	if err != nil {
		return nil, err
	}
	out.NoData = ds.info.NoData
	return out, nil
}

func (ds *Dataset) store(data []float64, valid []bool, band, height, width, row, col int, v float64) {
	i := (band*height+row)*width + col
	data[i] = v
	valid[i] = !math.IsNaN(v) && !nodataMatches(v, ds.info.NoData)
	if !valid[i] {
		data[i] = ds.info.NoData
	}
}

func (ds *Dataset) readStrip(strip int) ([]byte, error) {
	if strip < 0 || strip >= len(ds.stripOffsets) {
		return nil, fmt.Errorf("strip %d outside strip table of %d entries", strip, len(ds.stripOffsets))
	}
	buf := make([]byte, ds.stripCounts[strip])
	if _, err := ds.f.ReadAt(buf, ds.stripOffsets[strip]); err != nil {
		return nil, fmt.Errorf("reading strip %d: %w", strip, err)
	}
	return buf, nil
}

func (ds *Dataset) decodeSample(line []byte, i int) float64 {
	switch ds.dtype {
	case Float64:
		return math.Float64frombits(ds.order.Uint64(line[i*8:]))
	case Float32:
		return float64(math.Float32frombits(ds.order.Uint32(line[i*4:])))
	case Int32:
		return float64(int32(ds.order.Uint32(line[i*4:])))
	case Int16:
		return float64(int16(ds.order.Uint16(line[i*2:])))
	case UInt32:
		return float64(ds.order.Uint32(line[i*4:]))
	case UInt16:
		return float64(ds.order.Uint16(line[i*2:]))
	default:
		return float64(line[i])
	}
}

// DType returns the on-disk sample type.
func (ds *Dataset) DType() DType {
	return ds.dtype
}

// Close releases the underlying file handle.
func (ds *Dataset) Close() error {
	return ds.f.Close()
}

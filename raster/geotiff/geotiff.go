// Package geotiff reads and writes the GeoTIFF files the dataset fetchers
// hand to the merge engine. It is deliberately small: strip-organized,
// uncompressed rasters with the georeferencing tags GDAL emits
// (ModelPixelScale, ModelTiepoint, GeoKeyDirectory, GDAL_NODATA). Windowed
// reads and writes let the merge and mask engines stream rasters that do
// not fit in memory.
package geotiff

import (
	"fmt"
	"math"

	"github.com/useyardstick/demeter/raster"
)

// TIFF tag IDs.
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
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735
	tagGDALNoData      = 42113
)

// TIFF data types.
const (
	dtByte     = 1
	dtASCII    = 2
	dtShort    = 3
	dtLong     = 4
	dtRational = 5
	dtSByte    = 6
	dtSShort   = 8
	dtSLong    = 9
	dtFloat    = 11
	dtDouble   = 12
)

// GeoTIFF GeoKey IDs.
const (
	gkModelType      = 1024
	gkRasterType     = 1025
	gkGeographicType = 2048
	gkProjectedCS    = 3072
)

// Sample formats (tag 339).
const (
	sampleUint  = 1
	sampleInt   = 2
	sampleFloat = 3
)

// DType identifies the on-disk sample type of a band.
type DType int

const (
	Float64 DType = iota
	Float32
	Int32
	Int16
	UInt32
	UInt16
	UInt8
)

func (d DType) String() string {
	switch d {
	case Float64:
		return "float64"
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	case Int16:
		return "int16"
	case UInt32:
		return "uint32"
	case UInt16:
		return "uint16"
	case UInt8:
		return "uint8"
	}
	return fmt.Sprintf("DType(%d)", int(d))
}

func (d DType) bytesPerSample() int {
	switch d {
	case Float64:
		return 8
	case Float32, Int32, UInt32:
		return 4
	case Int16, UInt16:
		return 2
	case UInt8:
		return 1
	}
	return 0
}

func (d DType) sampleFormat() int {
	switch d {
	case Float64, Float32:
		return sampleFloat
	case Int32, Int16:
		return sampleInt
	default:
		return sampleUint
	}
}

func dtypeFor(format, bits int) (DType, error) {
	switch {
	case format == sampleFloat && bits == 64:
		return Float64, nil
	case format == sampleFloat && bits == 32:
		return Float32, nil
	case format == sampleInt && bits == 32:
		return Int32, nil
	case format == sampleInt && bits == 16:
		return Int16, nil
	case format == sampleUint && bits == 32:
		return UInt32, nil
	case format == sampleUint && bits == 16:
		return UInt16, nil
	case format == sampleUint && bits == 8:
		return UInt8, nil
	}
	return 0, fmt.Errorf("unsupported sample type: format %d, %d bits", format, bits)
}

// FromFile reads an entire GeoTIFF into a masked raster. Pixels equal to the
// file's nodata value, or NaN, are marked invalid.
func FromFile(path string) (*raster.Raster, error) {
	ds, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer ds.Close()
	return ds.Read()
}

// Save writes a raster to path as a strip-organized GeoTIFF. Invalid pixels
// are written as the raster's nodata value.
func Save(path string, r *raster.Raster, opts ...WriteOption) error {
	info, _ := r.Info()
	w, err := Create(path, info, opts...)
	if err != nil {
		return err
	}
	if err := w.WriteRows(0, r); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// nodataMatches reports whether a sample holds the nodata sentinel. A NaN
// nodata value matches NaN samples, which never compare equal directly.
func nodataMatches(v, nodata float64) bool {
	if math.IsNaN(nodata) {
		return math.IsNaN(v)
	}
	return v == nodata
}

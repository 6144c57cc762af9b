// Package raster holds the pixel-grid model shared by the merge, reprojection
// and masking engines: an affine grid transform, a masked three-dimensional
// pixel cube, and the grid-alignment arithmetic that decides whether rasters
// can be combined without resampling.
package raster

import (
	"fmt"
	"math"
)

// DefaultNoData is the fill value used when a raster has no explicit nodata
// value of its own.
const DefaultNoData = -9999

// Raster is a georeferenced pixel cube. Data is laid out band-major
// ([band][row][col] flattened), always three-dimensional: a single-band
// raster has Bands == 1. Valid has the same shape; a false entry marks a
// nodata pixel, which every aggregation must skip rather than treat as zero.
//
// Operations never mutate a Raster they were given; each transformation
// allocates a new value.
type Raster struct {
	Data   []float64
	Valid  []bool
	Bands  int
	Height int
	Width  int

	Transform Affine
	CRS       string
	NoData    float64
}

// Info describes a raster's grid without its pixels.
type Info struct {
	Bands  int
	Height int
	Width  int

	Transform Affine
	CRS       string
	NoData    float64
}

// Bounds returns the geographic extent of the described grid.
func (info Info) Bounds() Bounds {
	left, top := info.Transform.Apply(0, 0)
	right, bottom := info.Transform.Apply(float64(info.Width), float64(info.Height))
	return Bounds{Left: left, Bottom: bottom, Right: right, Top: top}
}

// Source is a raster readable in horizontal row windows, regardless of
// whether it is backed by memory or by a file on disk. *Raster implements
// it directly; geotiff.Dataset implements it for on-disk rasters.
type Source interface {
	Info() (Info, error)
	ReadRows(row, n int) (*Raster, error)
	Close() error
}

// New constructs a Raster and validates its shape. The data and validity
// slices must both hold bands*height*width elements, and the grid must carry
// a CRS and a non-degenerate transform; a raster missing either is rejected
// here rather than failing later at use.
func New(data []float64, valid []bool, bands, height, width int, transform Affine, crs string) (*Raster, error) {
	if bands < 1 || height < 1 || width < 1 {
		return nil, fmt.Errorf("invalid raster shape (%d, %d, %d)", bands, height, width)
	}
	n := bands * height * width
	if len(data) != n {
		return nil, fmt.Errorf("raster data has %d elements, want %d for shape (%d, %d, %d)",
			len(data), n, bands, height, width)
	}
	if valid != nil && len(valid) != n {
		return nil, fmt.Errorf("raster mask has %d elements, want %d", len(valid), n)
	}
	if crs == "" {
		return nil, fmt.Errorf("raster has no CRS")
	}
	if transform.IsZero() || transform.A == 0 || transform.E == 0 {
		return nil, fmt.Errorf("raster has a degenerate transform %v", transform)
	}
	if valid == nil {
		valid = make([]bool, n)
		for i := range valid {
			valid[i] = true
		}
	}
	return &Raster{
		Data:      data,
		Valid:     valid,
		Bands:     bands,
		Height:    height,
		Width:     width,
		Transform: transform,
		CRS:       crs,
		NoData:    DefaultNoData,
	}, nil
}

// NewEmpty returns an all-nodata raster of the given shape.
func NewEmpty(bands, height, width int, transform Affine, crs string, nodata float64) (*Raster, error) {
	n := bands * height * width
	if bands < 1 || height < 1 || width < 1 {
		return nil, fmt.Errorf("invalid raster shape (%d, %d, %d)", bands, height, width)
	}
	data := make([]float64, n)
	if nodata != 0 {
		for i := range data {
			data[i] = nodata
		}
	}
	r, err := New(data, make([]bool, n), bands, height, width, transform, crs)
	if err != nil {
		return nil, err
	}
	r.NoData = nodata
	return r, nil
}

// Shape returns (bands, height, width).
func (r *Raster) Shape() (bands, height, width int) {
	return r.Bands, r.Height, r.Width
}

// Bounds returns the geographic extent covered by the raster.
func (r *Raster) Bounds() Bounds {
	return r.info().Bounds()
}

// Resolution returns the absolute pixel size in x and y.
func (r *Raster) Resolution() (xres, yres float64) {
	return r.Transform.Resolution()
}

func (r *Raster) index(band, row, col int) int {
	return (band*r.Height+row)*r.Width + col
}

// At returns the value at (band, row, col) and whether it is valid.
func (r *Raster) At(band, row, col int) (float64, bool) {
	i := r.index(band, row, col)
	return r.Data[i], r.Valid[i]
}

// SetAt stores a valid value at (band, row, col).
func (r *Raster) SetAt(band, row, col int, value float64) {
	i := r.index(band, row, col)
	r.Data[i] = value
	r.Valid[i] = true
}

// RowCol maps a geographic coordinate to the pixel containing it. Fails when
// the point falls outside the raster's grid.
func (r *Raster) RowCol(x, y float64) (row, col int, err error) {
	fcol, frow, err := r.Transform.Invert(x, y)
	if err != nil {
		return 0, 0, err
	}
	row, col = int(math.Floor(frow)), int(math.Floor(fcol))
	if row < 0 || row >= r.Height || col < 0 || col >= r.Width {
		return 0, 0, fmt.Errorf("%w: point (%g, %g) maps to pixel (%d, %d) outside grid %dx%d",
			ErrOutOfBounds, x, y, row, col, r.Height, r.Width)
	}
	return row, col, nil
}

// XY returns the geographic coordinate of the upper-left corner of the pixel
// at (row, col).
func (r *Raster) XY(row, col int) (x, y float64) {
	return r.Transform.Apply(float64(col), float64(row))
}

// Value returns the first-band value of the pixel containing the geographic
// point (x, y).
func (r *Raster) Value(x, y float64) (float64, error) {
	row, col, err := r.RowCol(x, y)
	if err != nil {
		return 0, err
	}
	v, ok := r.At(0, row, col)
	if !ok {
		return r.NoData, nil
	}
	return v, nil
}

// Mean returns the mean of all valid pixels across all bands. NaN when the
// raster has no valid pixels.
func (r *Raster) Mean() float64 {
	var sum float64
	var n int
	for i, v := range r.Data {
		if r.Valid[i] {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// ValidCount returns the number of valid pixels across all bands.
func (r *Raster) ValidCount() int {
	n := 0
	for _, ok := range r.Valid {
		if ok {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of r.
func (r *Raster) Clone() *Raster {
	out := *r
	out.Data = append([]float64(nil), r.Data...)
	out.Valid = append([]bool(nil), r.Valid...)
	return &out
}

func (r *Raster) info() Info {
	return Info{
		Bands:     r.Bands,
		Height:    r.Height,
		Width:     r.Width,
		Transform: r.Transform,
		CRS:       r.CRS,
		NoData:    r.NoData,
	}
}

// Info implements Source.
func (r *Raster) Info() (Info, error) {
	return r.info(), nil
}

// ReadRows implements Source. The returned window shares no storage with r.
func (r *Raster) ReadRows(row, n int) (*Raster, error) {
	if row < 0 || n < 1 || row+n > r.Height {
		return nil, fmt.Errorf("row window [%d, %d) outside raster height %d", row, row+n, r.Height)
	}
	data := make([]float64, r.Bands*n*r.Width)
	valid := make([]bool, len(data))
	for b := 0; b < r.Bands; b++ {
		src := r.index(b, row, 0)
		dst := b * n * r.Width
		copy(data[dst:dst+n*r.Width], r.Data[src:src+n*r.Width])
		copy(valid[dst:dst+n*r.Width], r.Valid[src:src+n*r.Width])
	}
	left, top := r.Transform.Apply(0, float64(row))
	out := *r
	out.Data = data
	out.Valid = valid
	out.Height = n
	out.Transform.C = left
	out.Transform.F = top
	return &out, nil
}

// Close implements Source. In-memory rasters hold no resources.
func (r *Raster) Close() error { return nil }

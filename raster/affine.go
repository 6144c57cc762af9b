package raster

import (
	"fmt"
	"math"
)

// Affine maps pixel (col, row) coordinates to geographic (x, y) coordinates:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
//
// For north-up rasters B and D are zero, A is the pixel width, E is the
// negative pixel height and (C, F) is the upper-left corner.
type Affine struct {
	A, B, C, D, E, F float64
}

// FromOrigin returns the transform of a north-up grid with the given
// upper-left corner and pixel size. Both resolutions are given as positive
// values; the y scale is stored negated.
func FromOrigin(west, north, xres, yres float64) Affine {
	return Affine{A: xres, B: 0, C: west, D: 0, E: -yres, F: north}
}

// Identity returns the identity transform.
func Identity() Affine {
	return Affine{A: 1, E: 1}
}

// IsZero reports whether t is the zero transform, which no valid raster has.
func (t Affine) IsZero() bool {
	return t == Affine{}
}

// Apply maps a pixel coordinate to a geographic coordinate. Integer col/row
// values correspond to pixel corners; add 0.5 to address pixel centers.
func (t Affine) Apply(col, row float64) (x, y float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// Invert maps a geographic coordinate back to fractional pixel coordinates.
func (t Affine) Invert(x, y float64) (col, row float64, err error) {
	det := t.A*t.E - t.B*t.D
	if det == 0 {
		return 0, 0, fmt.Errorf("transform %v is not invertible", t)
	}
	dx, dy := x-t.C, y-t.F
	return (t.E*dx - t.B*dy) / det, (t.A*dy - t.D*dx) / det, nil
}

// Resolution returns the absolute pixel size in x and y.
func (t Affine) Resolution() (xres, yres float64) {
	return math.Abs(t.A), math.Abs(t.E)
}

// Origin returns the geographic coordinate of pixel (0, 0), the upper-left
// corner for north-up rasters.
func (t Affine) Origin() (x, y float64) {
	return t.C, t.F
}

// GridOffset returns the (x, y) offset of the transform's origin on a grid
// aligned with its resolution. A transform with resolution (10, 10) and
// origin (16, 10) has a grid offset of (6, 0).
func (t Affine) GridOffset() (x, y float64) {
	xres, yres := t.Resolution()
	return math.Mod(math.Mod(t.C, xres)+xres, xres), math.Mod(math.Mod(t.F, yres)+yres, yres)
}

// Bounds is a geographic extent (left, bottom, right, top).
type Bounds struct {
	Left, Bottom, Right, Top float64
}

// Width returns the horizontal span of b.
func (b Bounds) Width() float64 { return b.Right - b.Left }

// Height returns the vertical span of b.
func (b Bounds) Height() float64 { return b.Top - b.Bottom }

// Union returns the smallest bounds covering both b and o.
func (b Bounds) Union(o Bounds) Bounds {
	return Bounds{
		Left:   math.Min(b.Left, o.Left),
		Bottom: math.Min(b.Bottom, o.Bottom),
		Right:  math.Max(b.Right, o.Right),
		Top:    math.Max(b.Top, o.Top),
	}
}

// Intersect returns the overlap of b and o. The second return value is false
// when the two extents do not overlap.
func (b Bounds) Intersect(o Bounds) (Bounds, bool) {
	out := Bounds{
		Left:   math.Max(b.Left, o.Left),
		Bottom: math.Max(b.Bottom, o.Bottom),
		Right:  math.Min(b.Right, o.Right),
		Top:    math.Min(b.Top, o.Top),
	}
	if out.Left >= out.Right || out.Bottom >= out.Top {
		return Bounds{}, false
	}
	return out, true
}

// Intersects reports whether b and o overlap.
func (b Bounds) Intersects(o Bounds) bool {
	_, ok := b.Intersect(o)
	return ok
}

package raster

import (
	"errors"
	"math"
)

// ErrOutOfBounds reports a geographic point that maps outside a raster's
// pixel grid.
var ErrOutOfBounds = errors.New("coordinate out of raster bounds")

// alignmentTolerance is the largest pixel-fraction drift two grids may show
// across the extent of interest and still count as the same grid. Calibrated
// so that float rounding noise in origins (a fraction of a thousandth of a
// pixel) passes while genuinely offset grids fail.
const alignmentTolerance = 0.01

// AlignedPixelGrids reports whether all transforms describe a single common
// pixel grid over the given extent: equal resolutions, and origins that
// coincide modulo the pixel size. Rasters on a common grid can be overlaid
// by integer pixel offsets alone, with no resampling.
//
// Resolution differences are judged by the total drift they accumulate
// across the extent, so a tiny per-pixel difference that would shear tiles
// apart over a large mosaic is still rejected.
func AlignedPixelGrids(extent Bounds, transforms []Affine) bool {
	if len(transforms) < 2 {
		return true
	}
	first := transforms[0]
	xres, yres := first.Resolution()
	for _, t := range transforms[1:] {
		tx, ty := t.Resolution()
		if !resolutionsMatch(xres, tx, extent.Width()) || !resolutionsMatch(yres, ty, extent.Height()) {
			return false
		}
		if !offsetsMatch(first.C, t.C, xres) || !offsetsMatch(first.F, t.F, yres) {
			return false
		}
	}
	return true
}

func resolutionsMatch(a, b, span float64) bool {
	if a == b {
		return true
	}
	pixels := math.Abs(span) / math.Max(a, b)
	drift := math.Abs(a-b) * pixels / math.Max(a, b)
	return drift < alignmentTolerance
}

func offsetsMatch(a, b, res float64) bool {
	frac := math.Abs(a-b) / res
	frac -= math.Floor(frac)
	return frac < alignmentTolerance || frac > 1-alignmentTolerance
}

// SnapBounds expands bounds outward to the pixel grid of the given
// transform, so that a raster computed for the snapped bounds needs no
// sub-pixel shift to overlay rasters on that grid.
//
// The top-left corner always snaps up and left to avoid cropping the input
// bounds, except when it sits a hair's breadth above or left of a gridline
// from floating-point rounding, in which case it snaps to that gridline.
func SnapBounds(b Bounds, t Affine) Bounds {
	xres, yres := t.Resolution()

	leftCol := floorUnlessClose((b.Left - t.C) / xres)
	topRow := floorUnlessClose((t.F - b.Top) / yres)
	rightCol := math.Floor((b.Right - t.C) / xres)
	bottomRow := math.Floor((t.F - b.Bottom) / yres)

	return Bounds{
		Left:   t.C + leftCol*xres,
		Top:    t.F - topRow*yres,
		Right:  t.C + (rightCol+1)*xres,
		Bottom: t.F - (bottomRow+1)*yres,
	}
}

// SnapBoundsTight also expands bounds outward to the grid, but an edge
// already sitting on a gridline stays put instead of growing a pixel.
// Snapping bounds that are already grid-aligned is the identity, which the
// align and crop paths rely on.
func SnapBoundsTight(b Bounds, t Affine) Bounds {
	xres, yres := t.Resolution()

	leftCol := floorUnlessClose((b.Left - t.C) / xres)
	topRow := floorUnlessClose((t.F - b.Top) / yres)
	rightCol := ceilUnlessClose((b.Right - t.C) / xres)
	bottomRow := ceilUnlessClose((t.F - b.Bottom) / yres)

	return Bounds{
		Left:   t.C + leftCol*xres,
		Top:    t.F - topRow*yres,
		Right:  t.C + rightCol*xres,
		Bottom: t.F - bottomRow*yres,
	}
}

func floorUnlessClose(v float64) float64 {
	ceil := math.Ceil(v)
	if closeEnough(v, ceil) {
		return ceil
	}
	return math.Floor(v)
}

func ceilUnlessClose(v float64) float64 {
	floor := math.Floor(v)
	if closeEnough(v, floor) {
		return floor
	}
	return math.Ceil(v)
}

// closeEnough mirrors the relative tolerance commonly used for "is this the
// same gridline" checks (1e-9 of magnitude).
func closeEnough(a, b float64) bool {
	if a == b {
		return true
	}
	tol := 1e-9 * math.Max(math.Abs(a), math.Abs(b))
	if tol == 0 {
		tol = 1e-9
	}
	return math.Abs(a-b) <= tol
}

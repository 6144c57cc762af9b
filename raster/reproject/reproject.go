// Package reproject warps masked rasters between coordinate reference
// systems and onto target pixel grids. All coordinate math is done in
// pure Go through the projection package, so no GDAL installation is
// needed at runtime.
package reproject

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/useyardstick/demeter/raster"
	"github.com/useyardstick/demeter/raster/projection"
)

// edgeSamples is the number of points sampled along each edge of the
// source extent when projecting its envelope. Projected edges curve, so
// corners alone under-estimate the extent.
const edgeSamples = 21

// Reproject warps a raster into the given CRS. The output grid is derived
// from the source: its extent is the projected envelope of the source
// bounds and its resolution is taken from the projected size of a pixel at
// the source center. If the raster is already in the target CRS it is
// returned as a copy.
func Reproject(r *raster.Raster, crs string, method Resampling) (*raster.Raster, error) {
	if projection.SameCRS(r.CRS, crs) {
		return r.Clone(), nil
	}
	tr, err := newTransformer(r.CRS, crs)
	if err != nil {
		return nil, err
	}

	env := projectedEnvelope(r, tr)
	xres, yres := projectedResolution(r, tr)
	if xres <= 0 || yres <= 0 {
		return nil, fmt.Errorf("cannot derive a resolution for reprojection to %s", crs)
	}

	width := int(math.Ceil(env.Width()/xres - 1e-9))
	height := int(math.Ceil(env.Height()/yres - 1e-9))
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	transform := raster.FromOrigin(env.Left, env.Top, xres, yres)
	return warp(r, crs, transform, width, height, tr, method)
}

// Align warps a raster onto the pixel grid of another raster: same CRS,
// same resolution, and pixel edges on the same lattice. The output extent
// is the source extent snapped outward to that lattice, so the two grids
// can be merged without resampling.
func Align(r, to *raster.Raster, method Resampling) (*raster.Raster, error) {
	return AlignToGrid(r, to.CRS, to.Transform, method)
}

// AlignToGrid warps a raster onto the lattice described by a CRS and grid
// transform. Only the grid's resolution and phase are used; the extent
// comes from the raster being aligned.
func AlignToGrid(r *raster.Raster, crs string, grid raster.Affine, method Resampling) (*raster.Raster, error) {
	tr, err := newTransformer(r.CRS, crs)
	if err != nil {
		return nil, err
	}

	// Expand the envelope outward to the target lattice. Edges already on a
	// gridline (within float tolerance) stay put, so aligning a raster that
	// is on the grid is the identity.
	env := raster.SnapBoundsTight(projectedEnvelope(r, tr), grid)
	xres, yres := grid.Resolution()

	width := int(env.Width()/xres + 0.5)
	height := int(env.Height()/yres + 0.5)
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("raster extent collapses to nothing on the target grid")
	}
	transform := raster.FromOrigin(env.Left, env.Top, xres, yres)
	return warp(r, crs, transform, width, height, tr, method)
}

// transformer converts coordinates between two CRSes by pivoting through
// WGS84. When both sides name the same CRS it is the identity, avoiding
// round-trip error.
type transformer struct {
	src, dst projection.Projection
	same     bool
}

func newTransformer(srcCRS, dstCRS string) (transformer, error) {
	if projection.SameCRS(srcCRS, dstCRS) {
		return transformer{same: true}, nil
	}
	src, err := projection.ForCRS(srcCRS)
	if err != nil {
		return transformer{}, err
	}
	dst, err := projection.ForCRS(dstCRS)
	if err != nil {
		return transformer{}, err
	}
	return transformer{src: src, dst: dst}, nil
}

func (t transformer) forward(x, y float64) (float64, float64) {
	if t.same {
		return x, y
	}
	lon, lat := t.src.ToWGS84(x, y)
	return t.dst.FromWGS84(lon, lat)
}

func (t transformer) inverse(x, y float64) (float64, float64) {
	if t.same {
		return x, y
	}
	lon, lat := t.dst.ToWGS84(x, y)
	return t.src.FromWGS84(lon, lat)
}

// projectedEnvelope walks the source boundary and returns the bounding box
// of the projected points.
func projectedEnvelope(r *raster.Raster, tr transformer) raster.Bounds {
	b := r.Bounds()
	env := raster.Bounds{
		Left: math.Inf(1), Bottom: math.Inf(1),
		Right: math.Inf(-1), Top: math.Inf(-1),
	}
	grow := func(x, y float64) {
		px, py := tr.forward(x, y)
		env.Left = math.Min(env.Left, px)
		env.Right = math.Max(env.Right, px)
		env.Bottom = math.Min(env.Bottom, py)
		env.Top = math.Max(env.Top, py)
	}
	for i := 0; i < edgeSamples; i++ {
		f := float64(i) / float64(edgeSamples-1)
		grow(b.Left+f*b.Width(), b.Top)
		grow(b.Left+f*b.Width(), b.Bottom)
		grow(b.Left, b.Bottom+f*b.Height())
		grow(b.Right, b.Bottom+f*b.Height())
	}
	return env
}

// projectedResolution measures how far a one-pixel step at the source
// center moves in the target CRS.
func projectedResolution(r *raster.Raster, tr transformer) (xres, yres float64) {
	b := r.Bounds()
	cx := (b.Left + b.Right) / 2
	cy := (b.Bottom + b.Top) / 2
	sx, sy := r.Resolution()

	x0, y0 := tr.forward(cx, cy)
	x1, _ := tr.forward(cx+sx, cy)
	_, y1 := tr.forward(cx, cy-sy)
	return math.Abs(x1 - x0), math.Abs(y0 - y1)
}

// warp fills a destination grid by inverse-mapping each pixel center into
// the source and sampling with the requested method.
func warp(r *raster.Raster, crs string, transform raster.Affine, width, height int, tr transformer, method Resampling) (*raster.Raster, error) {
	out, err := raster.NewEmpty(r.Bands, height, width, transform, crs, r.NoData)
	if err != nil {
		return nil, err
	}

	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			if method.isFootprint() {
				warpFootprint(r, out, tr, row, col, method)
				continue
			}
			dx, dy := transform.Apply(float64(col)+0.5, float64(row)+0.5)
			sx, sy := tr.inverse(dx, dy)
			scol, srow, err := r.Transform.Invert(sx, sy)
			if err != nil {
				return nil, err
			}
			for b := 0; b < r.Bands; b++ {
				if v, ok := samplePoint(r, b, scol, srow, method); ok {
					out.SetAt(b, row, col, v)
				}
			}
		}
	}
	return out, nil
}

// warpFootprint maps the destination pixel's corners into the source and
// aggregates every valid source pixel under that footprint. A footprint
// narrower than one source pixel falls back to nearest-neighbor so
// upsampling still works.
func warpFootprint(r, out *raster.Raster, tr transformer, row, col int, method Resampling) {
	minC, minR := math.Inf(1), math.Inf(1)
	maxC, maxR := math.Inf(-1), math.Inf(-1)
	for _, corner := range [4][2]float64{
		{float64(col), float64(row)},
		{float64(col + 1), float64(row)},
		{float64(col), float64(row + 1)},
		{float64(col + 1), float64(row + 1)},
	} {
		dx, dy := out.Transform.Apply(corner[0], corner[1])
		sx, sy := tr.inverse(dx, dy)
		scol, srow, err := r.Transform.Invert(sx, sy)
		if err != nil {
			return
		}
		minC = math.Min(minC, scol)
		maxC = math.Max(maxC, scol)
		minR = math.Min(minR, srow)
		maxR = math.Max(maxR, srow)
	}
	if maxC <= 0 || minC >= float64(r.Width) || maxR <= 0 || minR >= float64(r.Height) {
		return
	}

	if maxC-minC < 1 && maxR-minR < 1 {
		for b := 0; b < r.Bands; b++ {
			if v, ok := samplePoint(r, b, (minC+maxC)/2, (minR+maxR)/2, Nearest); ok {
				out.SetAt(b, row, col, v)
			}
		}
		return
	}

	c0 := clamp(int(math.Floor(minC)), 0, r.Width-1)
	c1 := clamp(int(math.Ceil(maxC))-1, 0, r.Width-1)
	r0 := clamp(int(math.Floor(minR)), 0, r.Height-1)
	r1 := clamp(int(math.Ceil(maxR))-1, 0, r.Height-1)

	centerC := (minC + maxC) / 2
	centerR := (minR + maxR) / 2
	sigma := math.Max(math.Max(maxC-minC, maxR-minR)/4, 0.5)

	values := make([]float64, 0, (c1-c0+1)*(r1-r0+1))
	var weights []float64
	if method == Gaussian {
		weights = make([]float64, 0, cap(values))
	}
	for b := 0; b < r.Bands; b++ {
		values = values[:0]
		weights = weights[:0]
		for sr := r0; sr <= r1; sr++ {
			for sc := c0; sc <= c1; sc++ {
				v, ok := r.At(b, sr, sc)
				if !ok {
					continue
				}
				values = append(values, v)
				if method == Gaussian {
					dc := float64(sc) + 0.5 - centerC
					dr := float64(sr) + 0.5 - centerR
					weights = append(weights, math.Exp(-(dc*dc+dr*dr)/(2*sigma*sigma)))
				}
			}
		}
		if v, ok := aggregate(values, weights, method); ok {
			out.SetAt(b, row, col, v)
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// samplePoint interpolates one band at a fractional source position. The
// kernel is renormalized over the valid neighbors so nodata pixels never
// bleed into the result; a position with no valid support is invalid.
func samplePoint(r *raster.Raster, band int, scol, srow float64, method Resampling) (float64, bool) {
	if method == Nearest {
		c := int(math.Floor(scol))
		rr := int(math.Floor(srow))
		if c < 0 || c >= r.Width || rr < 0 || rr >= r.Height {
			return 0, false
		}
		return r.At(band, rr, c)
	}

	radius := method.kernelRadius()
	u := scol - 0.5
	v := srow - 0.5
	i0 := int(math.Floor(u))
	j0 := int(math.Floor(v))

	var sum, weightSum float64
	for j := j0 - radius + 1; j <= j0+radius; j++ {
		if j < 0 || j >= r.Height {
			continue
		}
		wy := method.kernelWeight(v - float64(j))
		if wy == 0 {
			continue
		}
		for i := i0 - radius + 1; i <= i0+radius; i++ {
			if i < 0 || i >= r.Width {
				continue
			}
			w := wy * method.kernelWeight(u-float64(i))
			if w == 0 {
				continue
			}
			if val, ok := r.At(band, j, i); ok {
				sum += w * val
				weightSum += w
			}
		}
	}
	if math.Abs(weightSum) < 1e-9 {
		return 0, false
	}
	return sum / weightSum, true
}

// aggregate reduces the valid values under a footprint to one sample.
// values must be accompanied by gaussian weights when method is Gaussian;
// the quantile methods sort in place.
func aggregate(values, weights []float64, method Resampling) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	switch method {
	case Average:
		return stat.Mean(values, nil), true
	case Gaussian:
		return stat.Mean(values, weights), true
	case Mode:
		sort.Float64s(values)
		v, _ := stat.Mode(values, nil)
		return v, true
	case Median:
		sort.Float64s(values)
		return stat.Quantile(0.5, stat.LinInterp, values, nil), true
	case Q1:
		sort.Float64s(values)
		return stat.Quantile(0.25, stat.LinInterp, values, nil), true
	case Q3:
		sort.Float64s(values)
		return stat.Quantile(0.75, stat.LinInterp, values, nil), true
	case Max:
		best := math.Inf(-1)
		for _, v := range values {
			best = math.Max(best, v)
		}
		return best, true
	case Min:
		best := math.Inf(1)
		for _, v := range values {
			best = math.Min(best, v)
		}
		return best, true
	case Sum:
		var total float64
		for _, v := range values {
			total += v
		}
		return total, true
	case RMS:
		var total float64
		for _, v := range values {
			total += v * v
		}
		return math.Sqrt(total / float64(len(values))), true
	default:
		return 0, false
	}
}

// Package mask clips rasters against vector geometries. A pixel survives
// when its center lies inside any of the shapes; everything else becomes
// nodata. Geometries use the orb types, so GeoJSON parsed with
// orb/geojson plugs in directly.
package mask

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/useyardstick/demeter/raster"
	"github.com/useyardstick/demeter/raster/geotiff"
)

// ErrNoOverlap reports shapes that miss the raster entirely.
var ErrNoOverlap = errors.New("shapes do not overlap the raster")

// Options configures a mask.
type Options struct {
	// Crop shrinks the output to the shapes' envelope, snapped outward to
	// the raster's grid. When false the output keeps the input extent.
	Crop bool

	// Invert keeps the pixels outside the shapes instead.
	Invert bool

	// WindowRows overrides the streaming window height.
	WindowRows int
}

// Mask returns a copy of the raster with every pixel whose center falls
// outside the shapes marked as nodata. The shapes must be in the raster's
// CRS; no reprojection happens here.
func Mask(src raster.Source, shapes []orb.Geometry, opts Options) (*raster.Raster, error) {
	p, err := newMaskPlan(src, shapes, opts)
	if err != nil {
		return nil, err
	}
	out, err := raster.NewEmpty(p.info.Bands, p.info.Height, p.info.Width, p.info.Transform, p.info.CRS, p.info.NoData)
	if err != nil {
		return nil, err
	}
	if err := p.run(&memorySink{out: out}); err != nil {
		return nil, err
	}
	return out, nil
}

// MaskToFile streams the masked raster to a GeoTIFF, window by window.
func MaskToFile(src raster.Source, shapes []orb.Geometry, path string, opts Options, writeOpts ...geotiff.WriteOption) error {
	p, err := newMaskPlan(src, shapes, opts)
	if err != nil {
		return err
	}
	w, err := geotiff.Create(path, p.info, writeOpts...)
	if err != nil {
		return err
	}
	if err := p.run(&fileSink{w: w}); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

type maskPlan struct {
	src    raster.Source
	shapes []orb.Geometry
	bounds []orb.Bound

	srcInfo raster.Info
	info    raster.Info
	// offset of the output window inside the source grid
	rowOff, colOff int
	invert         bool
	windowRows     int
}

func newMaskPlan(src raster.Source, shapes []orb.Geometry, opts Options) (*maskPlan, error) {
	if len(shapes) == 0 {
		return nil, errors.New("no shapes to mask with")
	}
	srcInfo, err := src.Info()
	if err != nil {
		return nil, err
	}

	p := &maskPlan{
		src:        src,
		shapes:     shapes,
		bounds:     make([]orb.Bound, len(shapes)),
		srcInfo:    srcInfo,
		info:       srcInfo,
		invert:     opts.Invert,
		windowRows: opts.WindowRows,
	}
	for i, shape := range shapes {
		p.bounds[i] = shape.Bound()
	}
	if p.windowRows < 1 {
		p.windowRows = defaultMaskWindowRows
	}

	if opts.Crop {
		if err := p.crop(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

const defaultMaskWindowRows = 512

// crop shrinks the output grid to the shapes' envelope, snapped outward to
// the source lattice and clipped to the source extent.
func (p *maskPlan) crop() error {
	env := raster.Bounds{
		Left: math.Inf(1), Bottom: math.Inf(1),
		Right: math.Inf(-1), Top: math.Inf(-1),
	}
	for _, b := range p.bounds {
		env.Left = math.Min(env.Left, b.Min[0])
		env.Bottom = math.Min(env.Bottom, b.Min[1])
		env.Right = math.Max(env.Right, b.Max[0])
		env.Top = math.Max(env.Top, b.Max[1])
	}
	clipped, ok := env.Intersect(p.srcInfo.Bounds())
	if !ok {
		return ErrNoOverlap
	}

	snapped := raster.SnapBoundsTight(clipped, p.srcInfo.Transform)
	xres, yres := p.srcInfo.Transform.Resolution()
	col0 := clampInt(int(math.Round((snapped.Left-p.srcInfo.Transform.C)/xres)), 0, p.srcInfo.Width-1)
	row0 := clampInt(int(math.Round((p.srcInfo.Transform.F-snapped.Top)/yres)), 0, p.srcInfo.Height-1)
	col1 := clampInt(int(math.Round((snapped.Right-p.srcInfo.Transform.C)/xres)), col0+1, p.srcInfo.Width)
	row1 := clampInt(int(math.Round((p.srcInfo.Transform.F-snapped.Bottom)/yres)), row0+1, p.srcInfo.Height)

	left, top := p.srcInfo.Transform.Apply(float64(col0), float64(row0))
	p.info.Width = col1 - col0
	p.info.Height = row1 - row0
	p.info.Transform = raster.FromOrigin(left, top, xres, yres)
	p.rowOff = row0
	p.colOff = col0
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (p *maskPlan) run(out sink) error {
	bands, height, width := p.info.Bands, p.info.Height, p.info.Width

	for row0 := 0; row0 < height; row0 += p.windowRows {
		n := p.windowRows
		if row0+n > height {
			n = height - row0
		}
		sw, err := p.src.ReadRows(p.rowOff+row0, n)
		if err != nil {
			return err
		}

		transform := p.info.Transform
		_, top := transform.Apply(0, float64(row0))
		transform.F = top
		win, err := raster.NewEmpty(bands, n, width, transform, p.info.CRS, p.info.NoData)
		if err != nil {
			return err
		}

		for r := 0; r < n; r++ {
			for c := 0; c < width; c++ {
				x, y := transform.Apply(float64(c)+0.5, float64(r)+0.5)
				if p.contains(orb.Point{x, y}) == p.invert {
					continue
				}
				for b := 0; b < bands; b++ {
					if v, ok := sw.At(b, r, p.colOff+c); ok {
						win.SetAt(b, r, c, v)
					}
				}
			}
		}
		if err := out.write(row0, win); err != nil {
			return err
		}
	}
	return nil
}

// contains reports whether the point is inside any shape. Bounding boxes
// reject most pixels before the polygon test runs.
func (p *maskPlan) contains(pt orb.Point) bool {
	for i, shape := range p.shapes {
		if !p.bounds[i].Contains(pt) {
			continue
		}
		if geometryContains(shape, pt) {
			return true
		}
	}
	return false
}

func geometryContains(g orb.Geometry, pt orb.Point) bool {
	switch g := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, pt)
	case orb.Collection:
		for _, member := range g {
			if geometryContains(member, pt) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// sink mirrors the merge engine's window consumer.
type sink interface {
	write(row int, win *raster.Raster) error
}

type memorySink struct {
	out *raster.Raster
}

func (s *memorySink) write(row int, win *raster.Raster) error {
	for b := 0; b < win.Bands; b++ {
		n := win.Height * win.Width
		src := b * n
		dst := (b*s.out.Height + row) * s.out.Width
		copy(s.out.Data[dst:dst+n], win.Data[src:src+n])
		copy(s.out.Valid[dst:dst+n], win.Valid[src:src+n])
	}
	return nil
}

type fileSink struct {
	w *geotiff.Writer
}

func (s *fileSink) write(row int, win *raster.Raster) error {
	return s.w.WriteRows(row, win)
}

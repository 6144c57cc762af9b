// Package merge overlays rasters that share a pixel grid into a single
// mosaic. Inputs stream through the engine in row windows, so merging to a
// file never materializes the full output in memory, and the windowed path
// produces pixel-identical results to the in-memory one.
package merge

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/useyardstick/demeter/raster"
	"github.com/useyardstick/demeter/raster/geotiff"
	"github.com/useyardstick/demeter/raster/projection"
	"github.com/useyardstick/demeter/raster/reproject"
)

var (
	// ErrCRSMismatch reports inputs in different coordinate reference
	// systems. Reproject them first, or use ReprojectAndMerge.
	ErrCRSMismatch = errors.New("rasters have mismatched coordinate reference systems")

	// ErrNotAligned reports inputs whose pixel grids do not coincide, when
	// the caller asked for strict alignment instead of resampling.
	ErrNotAligned = errors.New("raster grids are not aligned")
)

// DefaultWindowRows is how many output rows a merge window spans unless
// the caller overrides it.
const DefaultWindowRows = 512

// Options configures a merge.
type Options struct {
	// Method combines overlapping pixels. Defaults to First.
	Method Method

	// Bounds crops or pads the output to this extent, snapped outward to
	// the first raster's grid. When nil the output covers the union of the
	// inputs.
	Bounds *raster.Bounds

	// StrictAlignment fails with ErrNotAligned when input grids disagree.
	// When false, misaligned inputs are resampled onto the first raster's
	// grid using Resampling.
	StrictAlignment bool

	// Resampling picks the kernel used to realign misaligned inputs.
	// Defaults to Nearest.
	Resampling reproject.Resampling

	// NoData overrides the output fill value. Defaults to the first
	// raster's nodata value.
	NoData *float64

	// WindowRows overrides the streaming window height.
	WindowRows int
}

// Merge overlays the sources into a new in-memory raster.
func Merge(sources []raster.Source, opts Options) (*raster.Raster, error) {
	p, err := newPlan(sources, opts)
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

// MergeToFile overlays the sources directly into a GeoTIFF at path,
// holding at most one window of pixels in memory. The file's pixels are
// identical to what Merge would return.
func MergeToFile(sources []raster.Source, path string, opts Options, writeOpts ...geotiff.WriteOption) error {
	p, err := newPlan(sources, opts)
	if err != nil {
		return err
	}
	w, err := geotiff.Create(path, p.info, writeOpts...)
	if err != nil {
		return err
	}
	if err := p.run(&fileSink{w: w}); err != nil {
		w.Close()
		os.Remove(path)
		return err
	}
	return w.Close()
}

// plan holds everything resolved up front: the validated inputs, the
// output grid, and each source's integer pixel offset on that grid.
type plan struct {
	sources []raster.Source
	infos   []raster.Info
	rowOffs []int
	colOffs []int

	info       raster.Info
	method     Method
	windowRows int
}

func newPlan(sources []raster.Source, opts Options) (*plan, error) {
	if len(sources) == 0 {
		return nil, errors.New("no rasters to merge")
	}

	infos := make([]raster.Info, len(sources))
	for i, src := range sources {
		info, err := src.Info()
		if err != nil {
			return nil, fmt.Errorf("reading raster %d: %w", i, err)
		}
		infos[i] = info
	}

	for i, info := range infos[1:] {
		if info.Bands != infos[0].Bands {
			return nil, fmt.Errorf("raster %d has %d bands, want %d", i+1, info.Bands, infos[0].Bands)
		}
		if !projection.SameCRS(info.CRS, infos[0].CRS) {
			return nil, fmt.Errorf("%w: %s vs %s", ErrCRSMismatch, infos[0].CRS, info.CRS)
		}
	}

	sources, infos, err := ensureAligned(sources, infos, opts)
	if err != nil {
		return nil, err
	}

	extent := infos[0].Bounds()
	for _, info := range infos[1:] {
		extent = extent.Union(info.Bounds())
	}
	if opts.Bounds != nil {
		extent = raster.SnapBounds(*opts.Bounds, infos[0].Transform)
	}

	xres, yres := infos[0].Transform.Resolution()
	width := int(math.Round(extent.Width() / xres))
	height := int(math.Round(extent.Height() / yres))
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("merge bounds %+v collapse to nothing at resolution (%g, %g)", extent, xres, yres)
	}
	transform := raster.FromOrigin(extent.Left, extent.Top, xres, yres)

	nodata := infos[0].NoData
	if opts.NoData != nil {
		nodata = *opts.NoData
	}

	p := &plan{
		sources: sources,
		infos:   infos,
		rowOffs: make([]int, len(sources)),
		colOffs: make([]int, len(sources)),
		info: raster.Info{
			Bands:     infos[0].Bands,
			Height:    height,
			Width:     width,
			Transform: transform,
			CRS:       infos[0].CRS,
			NoData:    nodata,
		},
		method:     opts.Method,
		windowRows: opts.WindowRows,
	}
	if p.method == nil {
		p.method = First
	}
	if p.windowRows < 1 {
		p.windowRows = DefaultWindowRows
	}
	for i, info := range infos {
		p.colOffs[i] = int(math.Round((info.Transform.C - transform.C) / xres))
		p.rowOffs[i] = int(math.Round((transform.F - info.Transform.F) / yres))
	}
	return p, nil
}

// ensureAligned verifies that all inputs share one pixel grid. Misaligned
// inputs are resampled onto the first raster's grid, unless the caller
// asked for strict alignment.
func ensureAligned(sources []raster.Source, infos []raster.Info, opts Options) ([]raster.Source, []raster.Info, error) {
	extent := infos[0].Bounds()
	transforms := make([]raster.Affine, len(infos))
	for i, info := range infos {
		extent = extent.Union(info.Bounds())
		transforms[i] = info.Transform
	}
	if raster.AlignedPixelGrids(extent, transforms) {
		return sources, infos, nil
	}
	if opts.StrictAlignment {
		return nil, nil, ErrNotAligned
	}

	sources = append([]raster.Source(nil), sources...)
	infos = append([]raster.Info(nil), infos...)
	for i := 1; i < len(infos); i++ {
		pair := []raster.Affine{infos[0].Transform, infos[i].Transform}
		if raster.AlignedPixelGrids(extent, pair) {
			continue
		}
		full, err := sources[i].ReadRows(0, infos[i].Height)
		if err != nil {
			return nil, nil, fmt.Errorf("reading raster %d for realignment: %w", i, err)
		}
		aligned, err := reproject.AlignToGrid(full, infos[0].CRS, infos[0].Transform, opts.Resampling)
		if err != nil {
			return nil, nil, fmt.Errorf("realigning raster %d: %w", i, err)
		}
		sources[i] = aligned
		info, _ := aligned.Info()
		infos[i] = info
	}
	return sources, infos, nil
}

// sink receives finished output windows in top-to-bottom order.
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

// run walks the output in row windows, pulls the intersecting rows from
// each source, combines them, and hands the finished window to the sink.
func (p *plan) run(out sink) error {
	bands, height, width := p.info.Bands, p.info.Height, p.info.Width
	meanMode := p.method == Mean

	for row0 := 0; row0 < height; row0 += p.windowRows {
		n := p.windowRows
		if row0+n > height {
			n = height - row0
		}
		transform := p.info.Transform
		_, top := transform.Apply(0, float64(row0))
		transform.F = top

		win, err := raster.NewEmpty(bands, n, width, transform, p.info.CRS, p.info.NoData)
		if err != nil {
			return err
		}
		var sums []float64
		var counts []int
		if meanMode {
			sums = make([]float64, bands*n*width)
			counts = make([]int, len(sums))
		}

		for si, src := range p.sources {
			rowOff, colOff := p.rowOffs[si], p.colOffs[si]
			srcInfo := p.infos[si]

			or0 := maxInt(row0, rowOff)
			or1 := minInt(row0+n, rowOff+srcInfo.Height)
			oc0 := maxInt(0, colOff)
			oc1 := minInt(width, colOff+srcInfo.Width)
			if or0 >= or1 || oc0 >= oc1 {
				continue
			}

			sw, err := src.ReadRows(or0-rowOff, or1-or0)
			if err != nil {
				return fmt.Errorf("reading raster %d rows [%d, %d): %w", si, or0-rowOff, or1-rowOff, err)
			}
			for b := 0; b < bands; b++ {
				for r := or0; r < or1; r++ {
					d0 := (b*n+r-row0)*width + oc0
					d1 := d0 + (oc1 - oc0)
					s0 := (b*sw.Height+r-or0)*sw.Width + (oc0 - colOff)
					s1 := s0 + (oc1 - oc0)

					if meanMode {
						accumulate(sums[d0:d1], counts[d0:d1], sw.Data[s0:s1], sw.Valid[s0:s1])
						continue
					}
					p.method.Combine(win.Data[d0:d1], sw.Data[s0:s1], win.Valid[d0:d1], sw.Valid[s0:s1])
				}
			}
		}

		if meanMode {
			for i, c := range counts {
				if c > 0 {
					win.Data[i] = sums[i] / float64(c)
					win.Valid[i] = true
				}
			}
		}
		if err := out.write(row0, win); err != nil {
			return err
		}
	}
	return nil
}

func accumulate(sums []float64, counts []int, src []float64, srcValid []bool) {
	for i := range src {
		if srcValid[i] {
			sums[i] += src[i]
			counts[i]++
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

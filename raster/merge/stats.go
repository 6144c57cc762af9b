package merge

import (
	"fmt"
	"math"
	"os"

	"github.com/useyardstick/demeter/raster"
	"github.com/useyardstick/demeter/raster/geotiff"
	"github.com/useyardstick/demeter/raster/projection"
	"github.com/useyardstick/demeter/raster/reproject"
)

// MergeVariance computes the per-pixel population variance of the sources
// around a mean raster, on the mean's grid. Compute the mean first with
// Merge and the Mean method, then pass it here; the two-pass split keeps
// both results exact. Pixels are valid where the mean is valid and at
// least one source contributes.
func MergeVariance(sources []raster.Source, mean *raster.Raster, opts Options) (*raster.Raster, error) {
	p, err := newVariancePlan(sources, mean, opts)
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

// MergeVarianceToFile streams the variance straight to a GeoTIFF.
func MergeVarianceToFile(sources []raster.Source, mean *raster.Raster, path string, opts Options, writeOpts ...geotiff.WriteOption) error {
	p, err := newVariancePlan(sources, mean, opts)
	if err != nil {
		return err
	}
	return p.writeFile(path, nil, writeOpts)
}

// MergeStdDev computes the per-pixel population standard deviation of the
// sources around a mean raster.
func MergeStdDev(sources []raster.Source, mean *raster.Raster, opts Options) (*raster.Raster, error) {
	out, err := MergeVariance(sources, mean, opts)
	if err != nil {
		return nil, err
	}
	for i, ok := range out.Valid {
		if ok {
			out.Data[i] = math.Sqrt(out.Data[i])
		}
	}
	return out, nil
}

// MergeStdDevToFile streams the standard deviation straight to a GeoTIFF.
func MergeStdDevToFile(sources []raster.Source, mean *raster.Raster, path string, opts Options, writeOpts ...geotiff.WriteOption) error {
	p, err := newVariancePlan(sources, mean, opts)
	if err != nil {
		return err
	}
	sqrtValid := func(win *raster.Raster) {
		for i, ok := range win.Valid {
			if ok {
				win.Data[i] = math.Sqrt(win.Data[i])
			}
		}
	}
	return p.writeFile(path, sqrtValid, writeOpts)
}

// variancePlan mirrors plan, but anchored to the mean raster's grid: the
// output shape and transform are the mean's, and every source is offset
// relative to it.
type variancePlan struct {
	sources []raster.Source
	infos   []raster.Info
	rowOffs []int
	colOffs []int

	mean       *raster.Raster
	info       raster.Info
	windowRows int
}

func newVariancePlan(sources []raster.Source, mean *raster.Raster, opts Options) (*variancePlan, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no rasters to merge")
	}
	if mean == nil {
		return nil, fmt.Errorf("variance needs the mean raster; merge with the Mean method first")
	}

	infos := make([]raster.Info, len(sources))
	for i, src := range sources {
		info, err := src.Info()
		if err != nil {
			return nil, fmt.Errorf("reading raster %d: %w", i, err)
		}
		if info.Bands != mean.Bands {
			return nil, fmt.Errorf("raster %d has %d bands, the mean has %d", i, info.Bands, mean.Bands)
		}
		if !projection.SameCRS(info.CRS, mean.CRS) {
			return nil, fmt.Errorf("%w: %s vs %s", ErrCRSMismatch, mean.CRS, info.CRS)
		}
		infos[i] = info
	}

	extent := mean.Bounds()
	transforms := []raster.Affine{mean.Transform}
	for _, info := range infos {
		extent = extent.Union(info.Bounds())
		transforms = append(transforms, info.Transform)
	}
	if !raster.AlignedPixelGrids(extent, transforms) {
		if opts.StrictAlignment {
			return nil, ErrNotAligned
		}
		sources = append([]raster.Source(nil), sources...)
		for i := range sources {
			pair := []raster.Affine{mean.Transform, infos[i].Transform}
			if raster.AlignedPixelGrids(extent, pair) {
				continue
			}
			full, err := sources[i].ReadRows(0, infos[i].Height)
			if err != nil {
				return nil, fmt.Errorf("reading raster %d for realignment: %w", i, err)
			}
			aligned, err := reproject.AlignToGrid(full, mean.CRS, mean.Transform, opts.Resampling)
			if err != nil {
				return nil, fmt.Errorf("realigning raster %d: %w", i, err)
			}
			sources[i] = aligned
			infos[i], _ = aligned.Info()
		}
	}

	info, _ := mean.Info()
	if opts.NoData != nil {
		info.NoData = *opts.NoData
	}
	p := &variancePlan{
		sources:    sources,
		infos:      infos,
		rowOffs:    make([]int, len(sources)),
		colOffs:    make([]int, len(sources)),
		mean:       mean,
		info:       info,
		windowRows: opts.WindowRows,
	}
	if p.windowRows < 1 {
		p.windowRows = DefaultWindowRows
	}
	xres, yres := mean.Transform.Resolution()
	for i, si := range infos {
		p.colOffs[i] = int(math.Round((si.Transform.C - mean.Transform.C) / xres))
		p.rowOffs[i] = int(math.Round((mean.Transform.F - si.Transform.F) / yres))
	}
	return p, nil
}

func (p *variancePlan) writeFile(path string, finish func(*raster.Raster), writeOpts []geotiff.WriteOption) error {
	w, err := geotiff.Create(path, p.info, writeOpts...)
	if err != nil {
		return err
	}
	var out sink = &fileSink{w: w}
	if finish != nil {
		out = &finishSink{next: out, finish: finish}
	}
	if err := p.run(out); err != nil {
		w.Close()
		os.Remove(path)
		return err
	}
	return w.Close()
}

// finishSink applies a final in-place transformation to each window before
// passing it on.
type finishSink struct {
	next   sink
	finish func(*raster.Raster)
}

func (s *finishSink) write(row int, win *raster.Raster) error {
	s.finish(win)
	return s.next.write(row, win)
}

func (p *variancePlan) run(out sink) error {
	bands, height, width := p.info.Bands, p.info.Height, p.info.Width

	for row0 := 0; row0 < height; row0 += p.windowRows {
		n := p.windowRows
		if row0+n > height {
			n = height - row0
		}
		mw, err := p.mean.ReadRows(row0, n)
		if err != nil {
			return err
		}
		win, err := raster.NewEmpty(bands, n, width, mw.Transform, p.info.CRS, p.info.NoData)
		if err != nil {
			return err
		}
		sums := make([]float64, bands*n*width)
		counts := make([]int, len(sums))

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
					for c := oc0; c < oc1; c++ {
						v, ok := sw.At(b, r-or0, c-colOff)
						if !ok {
							continue
						}
						m, ok := mw.At(b, r-row0, c)
						if !ok {
							continue
						}
						i := (b*n+r-row0)*width + c
						d := v - m
						sums[i] += d * d
						counts[i]++
					}
				}
			}
		}

		for i, c := range counts {
			if c > 0 {
				win.Data[i] = sums[i] / float64(c)
				win.Valid[i] = true
			}
		}
		if err := out.write(row0, win); err != nil {
			return err
		}
	}
	return nil
}

package merge

import (
	"fmt"

	"github.com/useyardstick/demeter/raster"
	"github.com/useyardstick/demeter/raster/geotiff"
	"github.com/useyardstick/demeter/raster/reproject"
)

// ReprojectAndMerge warps every source into the given CRS and merges the
// results. Each input keeps its own natural resolution through the warp;
// the merge then realigns them onto the first input's grid, so inputs from
// different CRSes or zones can still be combined.
func ReprojectAndMerge(sources []raster.Source, crs string, opts Options) (*raster.Raster, error) {
	warped, err := reprojectAll(sources, crs, opts.Resampling)
	if err != nil {
		return nil, err
	}
	opts.StrictAlignment = false
	return Merge(warped, opts)
}

// ReprojectAndMergeToFile is ReprojectAndMerge streaming to a GeoTIFF.
func ReprojectAndMergeToFile(sources []raster.Source, crs, path string, opts Options, writeOpts ...geotiff.WriteOption) error {
	warped, err := reprojectAll(sources, crs, opts.Resampling)
	if err != nil {
		return err
	}
	opts.StrictAlignment = false
	return MergeToFile(warped, path, opts, writeOpts...)
}

// AlignAndMerge warps every source onto one target lattice and merges the
// results. Unlike ReprojectAndMerge the output grid is fully under the
// caller's control: resolution and pixel phase come from grid, not from
// the first input.
func AlignAndMerge(sources []raster.Source, crs string, grid raster.Affine, opts Options) (*raster.Raster, error) {
	aligned, err := alignAll(sources, crs, grid, opts.Resampling)
	if err != nil {
		return nil, err
	}
	return Merge(aligned, opts)
}

// AlignAndMergeToFile is AlignAndMerge streaming to a GeoTIFF.
func AlignAndMergeToFile(sources []raster.Source, crs string, grid raster.Affine, path string, opts Options, writeOpts ...geotiff.WriteOption) error {
	aligned, err := alignAll(sources, crs, grid, opts.Resampling)
	if err != nil {
		return err
	}
	return MergeToFile(aligned, path, opts, writeOpts...)
}

func reprojectAll(sources []raster.Source, crs string, method reproject.Resampling) ([]raster.Source, error) {
	out := make([]raster.Source, len(sources))
	for i, src := range sources {
		full, err := readAll(src, i)
		if err != nil {
			return nil, err
		}
		warped, err := reproject.Reproject(full, crs, method)
		if err != nil {
			return nil, fmt.Errorf("reprojecting raster %d: %w", i, err)
		}
		out[i] = warped
	}
	return out, nil
}

func alignAll(sources []raster.Source, crs string, grid raster.Affine, method reproject.Resampling) ([]raster.Source, error) {
	out := make([]raster.Source, len(sources))
	for i, src := range sources {
		full, err := readAll(src, i)
		if err != nil {
			return nil, err
		}
		aligned, err := reproject.AlignToGrid(full, crs, grid, method)
		if err != nil {
			return nil, fmt.Errorf("aligning raster %d: %w", i, err)
		}
		out[i] = aligned
	}
	return out, nil
}

func readAll(src raster.Source, i int) (*raster.Raster, error) {
	info, err := src.Info()
	if err != nil {
		return nil, fmt.Errorf("reading raster %d: %w", i, err)
	}
	full, err := src.ReadRows(0, info.Height)
	if err != nil {
		return nil, fmt.Errorf("reading raster %d: %w", i, err)
	}
	return full, nil
}

// OpenAll opens every path as a streaming GeoTIFF source. On error the
// already-opened files are closed.
func OpenAll(paths ...string) ([]raster.Source, error) {
	sources := make([]raster.Source, 0, len(paths))
	for _, path := range paths {
		ds, err := geotiff.Open(path)
		if err != nil {
			CloseAll(sources)
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		sources = append(sources, ds)
	}
	return sources, nil
}

// CloseAll closes every source, keeping the first error.
func CloseAll(sources []raster.Source) error {
	var first error
	for _, src := range sources {
		if err := src.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

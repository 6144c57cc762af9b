package reproject

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/useyardstick/demeter/raster"
	"github.com/useyardstick/demeter/raster/projection"
)

func TestParseResampling(t *testing.T) {
	cases := map[string]Resampling{
		"nearest":      Nearest,
		"bilinear":     Bilinear,
		"cubic":        Cubic,
		"cubic_spline": CubicSpline,
		"lanczos":      Lanczos,
		"average":      Average,
		"mode":         Mode,
		"gauss":        Gaussian,
		"gaussian":     Gaussian,
		"max":          Max,
		"min":          Min,
		"med":          Median,
		"median":       Median,
		"q1":           Q1,
		"q3":           Q3,
		"sum":          Sum,
		"rms":          RMS,
	}
	for name, want := range cases {
		got, err := ParseResampling(name)
		require.NoError(t, err, name)
		require.Equal(t, want, got, name)
	}
	_, err := ParseResampling("sinc")
	require.Error(t, err)
}

func TestResamplingString(t *testing.T) {
	require.Equal(t, "bilinear", Bilinear.String())
	require.Equal(t, "cubic_spline", CubicSpline.String())
}

// Interpolation kernels must form a partition of unity: at any sample
// phase, the tap weights sum to one, so constant fields stay constant.
func TestKernelWeightsSumToOne(t *testing.T) {
	for _, method := range []Resampling{Bilinear, Cubic, CubicSpline, Lanczos} {
		radius := method.kernelRadius()
		for _, phase := range []float64{0, 0.1, 0.25, 0.5, 0.9} {
			var sum float64
			for i := -radius + 1; i <= radius; i++ {
				sum += method.kernelWeight(phase - float64(i))
			}
			tol := 1e-9
			if method == Lanczos {
				// Lanczos is only approximately normalized; the warp
				// renormalizes over the taps it uses.
				tol = 0.04
			}
			require.InDelta(t, 1.0, sum, tol, "%s at phase %g", method, phase)
		}
	}
}

func uniformRaster(t *testing.T, value float64, transform raster.Affine, crs string, height, width int) *raster.Raster {
	t.Helper()
	data := make([]float64, height*width)
	for i := range data {
		data[i] = value
	}
	r, err := raster.New(data, nil, 1, height, width, transform, crs)
	require.NoError(t, err)
	return r
}

func rampRaster(t *testing.T, transform raster.Affine, crs string, height, width int) *raster.Raster {
	t.Helper()
	data := make([]float64, height*width)
	for i := range data {
		data[i] = float64(i)
	}
	r, err := raster.New(data, nil, 1, height, width, transform, crs)
	require.NoError(t, err)
	return r
}

func TestReprojectSameCRSIsCopy(t *testing.T) {
	r := rampRaster(t, raster.FromOrigin(0, 4, 1, 1), "EPSG:4326", 4, 4)
	got, err := Reproject(r, "epsg:4326", Bilinear)
	require.NoError(t, err)
	require.Equal(t, r.Data, got.Data)
	require.Equal(t, r.Transform, got.Transform)

	got.SetAt(0, 0, 0, 99)
	v, _ := r.At(0, 0, 0)
	require.Zero(t, v, "copy must not share storage")
}

func TestReprojectPreservesConstant(t *testing.T) {
	r := uniformRaster(t, 5, raster.FromOrigin(500000, 4100000, 10, 10), "EPSG:32633", 8, 8)
	for _, method := range []Resampling{Nearest, Bilinear, Cubic, Lanczos, Average} {
		got, err := Reproject(r, "EPSG:4326", method)
		require.NoError(t, err)
		require.Equal(t, "EPSG:4326", got.CRS)
		require.Greater(t, got.ValidCount(), 0, method.String())
		for i, ok := range got.Valid {
			if ok {
				require.InDelta(t, 5, got.Data[i], 1e-9, "%s pixel %d", method, i)
			}
		}
	}
}

func TestReprojectRoundTripKeepsValues(t *testing.T) {
	r := uniformRaster(t, 3, raster.FromOrigin(500000, 4100000, 10, 10), "EPSG:32633", 6, 6)
	warped, err := Reproject(r, "EPSG:4326", Bilinear)
	require.NoError(t, err)
	back, err := Reproject(warped, "EPSG:32633", Bilinear)
	require.NoError(t, err)

	require.Greater(t, back.ValidCount(), 0)
	for i, ok := range back.Valid {
		if ok {
			require.InDelta(t, 3, back.Data[i], 1e-9, "pixel %d", i)
		}
	}
}

func TestReprojectKeepsCenter(t *testing.T) {
	r := uniformRaster(t, 1, raster.FromOrigin(500000, 4100000, 100, 100), "EPSG:32633", 10, 10)
	got, err := Reproject(r, "EPSG:3857", Nearest)
	require.NoError(t, err)

	// The warped extent, expressed in WGS84, must be centered on the same
	// spot as the source extent.
	src, err := projection.ForCRS("EPSG:32633")
	require.NoError(t, err)
	dst, err := projection.ForCRS("EPSG:3857")
	require.NoError(t, err)

	sb, gb := r.Bounds(), got.Bounds()
	wantLon, wantLat := src.ToWGS84((sb.Left+sb.Right)/2, (sb.Bottom+sb.Top)/2)
	gotLon, gotLat := dst.ToWGS84((gb.Left+gb.Right)/2, (gb.Bottom+gb.Top)/2)
	require.InDelta(t, wantLon, gotLon, 1e-3)
	require.InDelta(t, wantLat, gotLat, 1e-3)
}

func TestAlignSnapsToTargetGrid(t *testing.T) {
	src := uniformRaster(t, 9, raster.FromOrigin(0.3, 10.2, 1, 1), "EPSG:4326", 5, 5)
	target := uniformRaster(t, 0, raster.FromOrigin(0, 11, 1, 1), "EPSG:4326", 8, 8)

	got, err := Align(src, target, Nearest)
	require.NoError(t, err)

	require.Equal(t, target.CRS, got.CRS)
	xres, yres := got.Resolution()
	require.Equal(t, 1.0, xres)
	require.Equal(t, 1.0, yres)
	ox, oy := got.Transform.GridOffset()
	require.Zero(t, ox)
	require.Zero(t, oy)

	extent := got.Bounds().Union(target.Bounds())
	require.True(t, raster.AlignedPixelGrids(extent, []raster.Affine{target.Transform, got.Transform}))

	for i, ok := range got.Valid {
		if ok {
			require.Equal(t, 9.0, got.Data[i], "pixel %d", i)
		}
	}
	require.Greater(t, got.ValidCount(), 0)
}

func TestAlignToGridKeepsMaskShape(t *testing.T) {
	// A raster with an invalid stripe keeps the hole after alignment.
	src := rampRaster(t, raster.FromOrigin(0.5, 10.5, 1, 1), "EPSG:4326", 4, 4)
	for c := 0; c < 4; c++ {
		i := 1*4 + c
		src.Valid[i] = false
	}

	got, err := AlignToGrid(src, "EPSG:4326", raster.FromOrigin(0, 11, 1, 1), Nearest)
	require.NoError(t, err)
	require.Less(t, got.ValidCount(), got.Height*got.Width)
	require.Greater(t, got.ValidCount(), 0)
}

func TestFootprintAggregates(t *testing.T) {
	// Downsample 4x4 to 2x2; every output footprint covers one 0 and
	// three 8s.
	tr := raster.FromOrigin(0, 4, 1, 1)
	data := []float64{
		0, 8, 0, 8,
		8, 8, 8, 8,
		0, 8, 0, 8,
		8, 8, 8, 8,
	}
	src, err := raster.New(data, nil, 1, 4, 4, tr, "EPSG:4326")
	require.NoError(t, err)

	grid := raster.FromOrigin(0, 4, 2, 2)
	cases := map[Resampling]float64{
		Average: 6,
		Mode:    8,
		Max:     8,
		Min:     0,
		Sum:     24,
		Median:  8,
		RMS:     math.Sqrt(48),
	}
	for method, want := range cases {
		got, err := AlignToGrid(src, "EPSG:4326", grid, method)
		require.NoError(t, err)
		require.Equal(t, 2, got.Width, method.String())
		require.Equal(t, 2, got.Height, method.String())
		for i, ok := range got.Valid {
			require.True(t, ok, "%s pixel %d", method, i)
			require.InDelta(t, want, got.Data[i], 1e-9, "%s pixel %d", method, i)
		}
	}
}

func TestNearestOnExactGridIsIdentity(t *testing.T) {
	src := rampRaster(t, raster.FromOrigin(0, 4, 1, 1), "EPSG:4326", 4, 4)
	got, err := AlignToGrid(src, "EPSG:4326", src.Transform, Nearest)
	require.NoError(t, err)
	require.Equal(t, src.Transform, got.Transform)
	require.Equal(t, src.Data, got.Data)
	require.Equal(t, src.Valid, got.Valid)
}

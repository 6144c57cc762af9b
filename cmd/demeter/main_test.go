package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/useyardstick/demeter/raster"
	"github.com/useyardstick/demeter/raster/geotiff"
)

func writeTile(t *testing.T, path string, rows [][]float64, transform raster.Affine) {
	t.Helper()
	height := len(rows)
	width := len(rows[0])
	data := make([]float64, 0, height*width)
	for _, row := range rows {
		data = append(data, row...)
	}
	r, err := raster.New(data, nil, 1, height, width, transform, "EPSG:32755")
	require.NoError(t, err)
	require.NoError(t, geotiff.Save(path, r))
}

func TestRunMergeJob(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.tif")
	b := filepath.Join(dir, "b.tif")
	out := filepath.Join(dir, "merged.tif")
	writeTile(t, a, [][]float64{{4, 3}, {5, 5}}, raster.FromOrigin(0, 20, 10, 10))
	writeTile(t, b, [][]float64{{6, 3}, {9, 4}}, raster.FromOrigin(0, 20, 10, 10))

	err := run(jobConfig{
		Inputs: []string{a, b},
		Output: out,
		Method: "mean",
	})
	require.NoError(t, err)

	got, err := geotiff.FromFile(out)
	require.NoError(t, err)
	require.Equal(t, []float64{5, 3, 7, 4.5}, got.Data)
}

func TestRunSpreadJob(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.tif")
	b := filepath.Join(dir, "b.tif")
	writeTile(t, a, [][]float64{{4, 3}, {5, 5}}, raster.FromOrigin(0, 20, 10, 10))
	writeTile(t, b, [][]float64{{6, 3}, {9, 4}}, raster.FromOrigin(0, 20, 10, 10))

	out := filepath.Join(dir, "merged.tif")
	stddev := filepath.Join(dir, "stddev.tif")
	err := run(jobConfig{
		Inputs: []string{a, b},
		Output: out,
		Method: "mean",
		StdDev: stddev,
	})
	require.NoError(t, err)

	got, err := geotiff.FromFile(stddev)
	require.NoError(t, err)
	require.Equal(t, []float64{1, 0, 2, 0.5}, got.Data)
}

func TestRunMaskJob(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.tif")
	writeTile(t, a, [][]float64{
		{1, 1, 1, 1},
		{1, 1, 1, 1},
		{1, 1, 1, 1},
		{1, 1, 1, 1},
	}, raster.FromOrigin(0, 40, 10, 10))

	boundary := filepath.Join(dir, "field.json")
	require.NoError(t, os.WriteFile(boundary, []byte(`{
	  "type": "FeatureCollection",
	  "features": [{
	    "type": "Feature",
	    "properties": {},
	    "geometry": {
	      "type": "Polygon",
	      "coordinates": [[[10, 10], [30, 10], [30, 30], [10, 30], [10, 10]]]
	    }
	  }]
	}`), 0644))

	out := filepath.Join(dir, "masked.tif")
	err := run(jobConfig{
		Inputs: []string{a},
		Output: out,
		Mask:   &maskConfig{GeoJSON: boundary, Crop: true},
	})
	require.NoError(t, err)

	got, err := geotiff.FromFile(out)
	require.NoError(t, err)
	require.Equal(t, 2, got.Width)
	require.Equal(t, 2, got.Height)
	require.Equal(t, 4, got.ValidCount())
}

func TestRunRejectsBadJobs(t *testing.T) {
	cases := []jobConfig{
		{},                               // no inputs
		{Inputs: []string{"a.tif"}},      // no output
		{Inputs: []string{"a.tif"}, Output: "out.tif", Method: "bogus"},
		{Inputs: []string{"a.tif"}, Output: "out.tif", Method: "first", Expression: "dst + src"},
		{Inputs: []string{"a.tif"}, Output: "out.tif", Bounds: []float64{1, 2, 3}},
		{Inputs: []string{"a.tif"}, Output: "out.tif", DType: "complex128"},
		{Inputs: []string{"a.tif"}, Output: "out.tif", Resampling: "sinc"},
	}
	for _, cfg := range cases {
		require.Error(t, run(cfg))
	}
}

func TestParseDType(t *testing.T) {
	for name, want := range map[string]geotiff.DType{
		"float64": geotiff.Float64,
		"float32": geotiff.Float32,
		"int16":   geotiff.Int16,
		"uint8":   geotiff.UInt8,
	} {
		got, err := parseDType(name)
		require.NoError(t, err, name)
		require.Equal(t, want, got, name)
	}
	_, err := parseDType("string")
	require.Error(t, err)
}

func TestLoadShapesVariants(t *testing.T) {
	dir := t.TempDir()

	collection := filepath.Join(dir, "fc.json")
	require.NoError(t, os.WriteFile(collection, []byte(`{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}}]}`), 0644))
	feature := filepath.Join(dir, "feat.json")
	require.NoError(t, os.WriteFile(feature, []byte(`{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}}`), 0644))
	bare := filepath.Join(dir, "geom.json")
	require.NoError(t, os.WriteFile(bare, []byte(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`), 0644))

	for _, path := range []string{collection, feature, bare} {
		shapes, err := loadShapes(path)
		require.NoError(t, err, path)
		require.Len(t, shapes, 1, path)
	}

	garbage := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(garbage, []byte("not json"), 0644))
	_, err := loadShapes(garbage)
	require.Error(t, err)
}

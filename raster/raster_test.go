package raster

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTestRaster(t *testing.T) *Raster {
	t.Helper()
	r, err := New(
		[]float64{1, 2, 3, 4, 5, 6},
		[]bool{true, true, false, true, true, true},
		1, 2, 3,
		FromOrigin(-176010, 2390250, 10, 10),
		"EPSG:32755",
	)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestNewValidation(t *testing.T) {
	transform := FromOrigin(0, 10, 1, 1)
	cases := []struct {
		name      string
		data      []float64
		valid     []bool
		shape     [3]int
		transform Affine
		crs       string
	}{
		{"short data", []float64{1}, nil, [3]int{1, 2, 3}, transform, "EPSG:4326"},
		{"short mask", make([]float64, 6), []bool{true}, [3]int{1, 2, 3}, transform, "EPSG:4326"},
		{"zero bands", make([]float64, 6), nil, [3]int{0, 2, 3}, transform, "EPSG:4326"},
		{"no crs", make([]float64, 6), nil, [3]int{1, 2, 3}, transform, ""},
		{"zero transform", make([]float64, 6), nil, [3]int{1, 2, 3}, Affine{}, "EPSG:4326"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.data, tc.valid, tc.shape[0], tc.shape[1], tc.shape[2], tc.transform, tc.crs)
			if err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestNewNilMaskMeansAllValid(t *testing.T) {
	r, err := New(make([]float64, 6), nil, 1, 2, 3, FromOrigin(0, 10, 1, 1), "EPSG:4326")
	if err != nil {
		t.Fatal(err)
	}
	if r.ValidCount() != 6 {
		t.Errorf("ValidCount = %d, want 6", r.ValidCount())
	}
}

func TestRasterAt(t *testing.T) {
	r := newTestRaster(t)
	if v, ok := r.At(0, 0, 1); !ok || v != 2 {
		t.Errorf("At(0,0,1) = %g, %v", v, ok)
	}
	if _, ok := r.At(0, 0, 2); ok {
		t.Error("masked pixel should be invalid")
	}
}

func TestRowColOutOfBounds(t *testing.T) {
	r := newTestRaster(t)

	row, col, err := r.RowCol(-176005, 2390245)
	if err != nil {
		t.Fatal(err)
	}
	if row != 0 || col != 0 {
		t.Errorf("RowCol = (%d, %d)", row, col)
	}

	_, _, err = r.RowCol(0, 0)
	if !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("err = %v, want ErrOutOfBounds", err)
	}
}

func TestValue(t *testing.T) {
	r := newTestRaster(t)
	v, err := r.Value(-175995, 2390245)
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Errorf("Value = %g, want 2", v)
	}

	// The masked pixel reads back as nodata.
	v, err = r.Value(-175985, 2390245)
	if err != nil {
		t.Fatal(err)
	}
	if v != DefaultNoData {
		t.Errorf("Value = %g, want %d", v, DefaultNoData)
	}
}

func TestMeanSkipsInvalid(t *testing.T) {
	r := newTestRaster(t)
	want := (1.0 + 2 + 4 + 5 + 6) / 5
	if got := r.Mean(); math.Abs(got-want) > 1e-12 {
		t.Errorf("Mean = %g, want %g", got, want)
	}
}

func TestCloneIsDeep(t *testing.T) {
	r := newTestRaster(t)
	c := r.Clone()
	c.SetAt(0, 0, 0, 99)
	if v, _ := r.At(0, 0, 0); v != 1 {
		t.Error("mutating a clone changed the original")
	}
}

func TestReadRowsShiftsTransform(t *testing.T) {
	r := newTestRaster(t)
	win, err := r.ReadRows(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if win.Height != 1 {
		t.Fatalf("window height = %d", win.Height)
	}
	if diff := cmp.Diff([]float64{4, 5, 6}, win.Data); diff != "" {
		t.Errorf("window pixels mismatch (-want +got):\n%s", diff)
	}
	_, top := r.Transform.Apply(0, 1)
	if win.Transform.F != top {
		t.Errorf("window top = %g, want %g", win.Transform.F, top)
	}

	if _, err := r.ReadRows(1, 5); err == nil {
		t.Error("window past the bottom edge should fail")
	}
}

func TestInfoBounds(t *testing.T) {
	r := newTestRaster(t)
	want := Bounds{Left: -176010, Bottom: 2390230, Right: -175980, Top: 2390250}
	if got := r.Bounds(); got != want {
		t.Errorf("Bounds = %+v, want %+v", got, want)
	}
}

package raster

import "testing"

func TestAlignedPixelGrids(t *testing.T) {
	// 3 arc-second-ish degree grids covering about one degree.
	extent := Bounds{Left: 149, Bottom: -36, Right: 150.06, Top: -34.94}
	base := FromOrigin(149, -34.94, 0.0001, 0.0001)

	cases := []struct {
		name  string
		other Affine
		want  bool
	}{
		{"identical", base, true},
		{"origin off by float noise", FromOrigin(149.0000001, -34.94, 0.0001, 0.0001), true},
		{"origin off by half a pixel", FromOrigin(149.00005, -34.94, 0.0001, 0.0001), false},
		{"origin shifted a whole pixel", FromOrigin(149.0001, -34.9401, 0.0001, 0.0001), true},
		{"resolution off by float noise", FromOrigin(149, -34.94, 0.0001+1e-12, 0.0001), true},
		{"resolution drifts a pixel across the extent", FromOrigin(149, -34.94, 0.0001+1e-8, 0.0001), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := AlignedPixelGrids(extent, []Affine{base, tc.other})
			if got != tc.want {
				t.Errorf("AlignedPixelGrids = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAlignedPixelGridsSingleGrid(t *testing.T) {
	extent := Bounds{Left: 0, Bottom: 0, Right: 1, Top: 1}
	if !AlignedPixelGrids(extent, []Affine{FromOrigin(0, 1, 0.1, 0.1)}) {
		t.Error("a single grid is trivially aligned")
	}
}

func TestSnapBoundsToGrid(t *testing.T) {
	grid := FromOrigin(-176010, 2390250, 10, 10)
	in := Bounds{Left: -175995, Bottom: 2390215, Right: -175975, Top: 2390235}
	want := Bounds{Left: -176000, Bottom: 2390210, Right: -175970, Top: 2390240}
	if got := SnapBounds(in, grid); got != want {
		t.Errorf("SnapBounds = %+v, want %+v", got, want)
	}
}

func TestSnapBoundsTight(t *testing.T) {
	grid := FromOrigin(-176010, 2390250, 10, 10)

	// Interior bounds expand outward to the lattice.
	in := Bounds{Left: -175995, Bottom: 2390215, Right: -175975, Top: 2390235}
	want := Bounds{Left: -176000, Bottom: 2390210, Right: -175970, Top: 2390240}
	if got := SnapBoundsTight(in, grid); got != want {
		t.Errorf("SnapBoundsTight = %+v, want %+v", got, want)
	}

	// Bounds already on the lattice stay put, unlike SnapBounds which grows
	// exact right and bottom edges by a pixel.
	if got := SnapBoundsTight(want, grid); got != want {
		t.Errorf("SnapBoundsTight on aligned bounds = %+v, want %+v", got, want)
	}
}

func TestSnapBoundsForgivesFloatNoise(t *testing.T) {
	grid := FromOrigin(-176010, 2390250, 10, 10)
	// A hair outside a gridline from rounding should snap onto it, not a
	// whole pixel out.
	in := Bounds{Left: -176000 - 1e-9, Bottom: 2390210, Right: -175975, Top: 2390240 + 1e-9}
	got := SnapBounds(in, grid)
	if got.Left != -176000 {
		t.Errorf("Left = %g, want -176000", got.Left)
	}
	if got.Top != 2390240 {
		t.Errorf("Top = %g, want 2390240", got.Top)
	}
}

package projection

import (
	"math"
	"testing"
)

func TestForCRS(t *testing.T) {
	cases := []struct {
		crs  string
		epsg int
	}{
		{"EPSG:4326", 4326},
		{"epsg:4326", 4326},
		{"EPSG:3857", 3857},
		{"EPSG:900913", 3857},
		{"EPSG:5070", 5070},
		{"EPSG:32633", 32633},
		{"EPSG:32755", 32755},
	}
	for _, tc := range cases {
		p, err := ForCRS(tc.crs)
		if err != nil {
			t.Errorf("ForCRS(%q): %v", tc.crs, err)
			continue
		}
		if p.EPSG() != tc.epsg {
			t.Errorf("ForCRS(%q).EPSG() = %d, want %d", tc.crs, p.EPSG(), tc.epsg)
		}
	}
}

func TestForCRSUnknown(t *testing.T) {
	for _, crs := range []string{"", "EPSG:99999", "ESRI:102008", "EPSG:abc"} {
		if _, err := ForCRS(crs); err == nil {
			t.Errorf("ForCRS(%q) should fail", crs)
		}
	}
}

func TestSameCRS(t *testing.T) {
	if !SameCRS("EPSG:4326", "epsg:4326") {
		t.Error("case-insensitive comparison failed")
	}
	if SameCRS("EPSG:4326", "EPSG:3857") {
		t.Error("distinct CRSes reported equal")
	}
}

func TestWebMercatorKnownPoints(t *testing.T) {
	p, err := ForEPSG(3857)
	if err != nil {
		t.Fatal(err)
	}
	x, y := p.FromWGS84(0, 0)
	if math.Abs(x) > 1e-6 || math.Abs(y) > 1e-6 {
		t.Errorf("origin maps to (%g, %g)", x, y)
	}
	x, _ = p.FromWGS84(180, 0)
	if math.Abs(x-20037508.342789244) > 1e-3 {
		t.Errorf("antimeridian easting = %g", x)
	}
}

func TestUTMKnownPoints(t *testing.T) {
	p, err := ForEPSG(32633) // UTM 33N, central meridian 15E
	if err != nil {
		t.Fatal(err)
	}
	x, y := p.FromWGS84(15, 0)
	if math.Abs(x-500000) > 1e-3 || math.Abs(y) > 1e-3 {
		t.Errorf("central meridian equator maps to (%g, %g)", x, y)
	}

	south, err := ForEPSG(32755) // UTM 55S
	if err != nil {
		t.Fatal(err)
	}
	_, y = south.FromWGS84(147, 0)
	if math.Abs(y-10000000) > 1e-3 {
		t.Errorf("southern hemisphere equator northing = %g", y)
	}
}

func TestAlbersKnownPoints(t *testing.T) {
	p, err := ForEPSG(5070)
	if err != nil {
		t.Fatal(err)
	}
	x, y := p.FromWGS84(-96, 23)
	if math.Abs(x) > 1e-3 || math.Abs(y) > 1e-3 {
		t.Errorf("projection origin maps to (%g, %g)", x, y)
	}
}

func TestRoundTrips(t *testing.T) {
	points := map[int][][2]float64{
		3857:  {{0, 0}, {151.2, -33.9}, {-122.4, 37.8}, {13.4, 52.5}},
		32633: {{15, 0}, {13.4, 52.5}, {12.5, 41.9}},
		32755: {{147, -42.9}, {145, -37.8}},
		5070:  {{-96, 23}, {-122.4, 37.8}, {-71.1, 42.4}, {-87.6, 41.9}},
	}
	for epsg, pts := range points {
		p, err := ForEPSG(epsg)
		if err != nil {
			t.Fatalf("EPSG:%d: %v", epsg, err)
		}
		for _, pt := range pts {
			x, y := p.FromWGS84(pt[0], pt[1])
			lon, lat := p.ToWGS84(x, y)
			if math.Abs(lon-pt[0]) > 1e-7 || math.Abs(lat-pt[1]) > 1e-7 {
				t.Errorf("EPSG:%d round trip of (%g, %g) came back as (%g, %g)",
					epsg, pt[0], pt[1], lon, lat)
			}
		}
	}
}

func TestEPSGCode(t *testing.T) {
	code, err := EPSGCode("EPSG:32633")
	if err != nil || code != 32633 {
		t.Errorf("EPSGCode = %d, %v", code, err)
	}
	if _, err := EPSGCode("not-a-crs"); err == nil {
		t.Error("EPSGCode should fail on malformed input")
	}
}

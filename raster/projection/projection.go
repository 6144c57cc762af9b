// Package projection converts coordinates between the reference systems the
// soil and vegetation datasets arrive in: geographic WGS84 (POLARIS),
// CONUS Albers equal-area (USGS elevation and hydrography), UTM (Sentinel-2
// granules) and web mercator. Everything is pure Go; conversions route
// through WGS84 longitude/latitude as the common pivot.
package projection

import (
	"fmt"
	"strconv"
	"strings"
)

// Projection converts between a CRS and WGS84 longitude/latitude.
type Projection interface {
	// ToWGS84 converts CRS coordinates to WGS84 longitude/latitude degrees.
	ToWGS84(x, y float64) (lon, lat float64)

	// FromWGS84 converts WGS84 longitude/latitude degrees to CRS coordinates.
	FromWGS84(lon, lat float64) (x, y float64)

	// EPSG returns the EPSG code of this projection.
	EPSG() int
}

// ForCRS returns the projection for a CRS identifier such as "EPSG:5070".
func ForCRS(crs string) (Projection, error) {
	code, err := EPSGCode(crs)
	if err != nil {
		return nil, err
	}
	return ForEPSG(code)
}

// EPSGCode parses a CRS identifier of the form "EPSG:n".
func EPSGCode(crs string) (int, error) {
	s := strings.TrimSpace(strings.ToUpper(crs))
	if !strings.HasPrefix(s, "EPSG:") {
		return 0, fmt.Errorf("unsupported CRS %q: only EPSG codes are recognized", crs)
	}
	code, err := strconv.Atoi(strings.TrimPrefix(s, "EPSG:"))
	if err != nil {
		return 0, fmt.Errorf("unsupported CRS %q: %v", crs, err)
	}
	return code, nil
}

// ForEPSG returns the projection for an EPSG code.
func ForEPSG(code int) (Projection, error) {
	switch {
	case code == 4326:
		return geographic{}, nil
	case code == 3857 || code == 900913:
		return webMercator{}, nil
	case code == 5070:
		return conusAlbers, nil
	case code >= 32601 && code <= 32660:
		return utmZone(code-32600, true), nil
	case code >= 32701 && code <= 32760:
		return utmZone(code-32700, false), nil
	default:
		return nil, fmt.Errorf("unsupported CRS EPSG:%d", code)
	}
}

// SameCRS reports whether two CRS identifiers name the same system,
// ignoring case and whitespace.
func SameCRS(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// geographic is the no-op projection for EPSG:4326.
type geographic struct{}

func (geographic) ToWGS84(x, y float64) (lon, lat float64)   { return x, y }
func (geographic) FromWGS84(lon, lat float64) (x, y float64) { return lon, lat }
func (geographic) EPSG() int                                 { return 4326 }

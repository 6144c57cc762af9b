package projection

import "math"

// GRS80 ellipsoid, used by the CONUS Albers grid.
const (
	grs80A = 6378137.0
	grs80F = 1 / 298.257222101
)

// albers is an ellipsoidal Albers equal-area conic projection.
// Formulas follow Snyder, Map Projections: A Working Manual, §14.
type albers struct {
	epsg int

	// Derived constants.
	e, e2      float64
	n, c, rho0 float64
	lon0       float64 // radians
}

// conusAlbers is EPSG:5070, the NAD83 / Conus Albers grid the USGS
// elevation and hydrography products are published in. NAD83 and WGS84
// differ by less than the source pixel size, so geographic coordinates are
// treated as WGS84 here.
var conusAlbers = newAlbers(5070, 29.5, 45.5, 23, -96)

func newAlbers(epsg int, lat1, lat2, lat0, lon0 float64) albers {
	e2 := grs80F * (2 - grs80F)
	p := albers{
		epsg: epsg,
		e:    math.Sqrt(e2),
		e2:   e2,
		lon0: lon0 * math.Pi / 180,
	}

	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	phi0 := lat0 * math.Pi / 180

	m1 := p.m(phi1)
	m2 := p.m(phi2)
	q1 := p.q(phi1)
	q2 := p.q(phi2)

	p.n = (m1*m1 - m2*m2) / (q2 - q1)
	p.c = m1*m1 + p.n*q1
	p.rho0 = p.rho(p.q(phi0))
	return p
}

func (p albers) EPSG() int { return p.epsg }

func (p albers) m(phi float64) float64 {
	s := math.Sin(phi)
	return math.Cos(phi) / math.Sqrt(1-p.e2*s*s)
}

func (p albers) q(phi float64) float64 {
	s := math.Sin(phi)
	return (1 - p.e2) * (s/(1-p.e2*s*s) -
		(1/(2*p.e))*math.Log((1-p.e*s)/(1+p.e*s)))
}

func (p albers) rho(q float64) float64 {
	return grs80A * math.Sqrt(p.c-p.n*q) / p.n
}

func (p albers) FromWGS84(lon, lat float64) (x, y float64) {
	phi := lat * math.Pi / 180
	lam := lon * math.Pi / 180

	rho := p.rho(p.q(phi))
	theta := p.n * (lam - p.lon0)
	return rho * math.Sin(theta), p.rho0 - rho*math.Cos(theta)
}

func (p albers) ToWGS84(x, y float64) (lon, lat float64) {
	rho := math.Hypot(x, p.rho0-y)
	theta := math.Atan2(x, p.rho0-y)
	q := (p.c - rho*rho*p.n*p.n/(grs80A*grs80A)) / p.n

	lam := p.lon0 + theta/p.n

	// Iterate for the latitude; converges in a handful of rounds.
	phi := math.Asin(q / 2)
	for i := 0; i < 15; i++ {
		s := math.Sin(phi)
		oneE2S2 := 1 - p.e2*s*s
		delta := (oneE2S2 * oneE2S2 / (2 * math.Cos(phi))) *
			(q/(1-p.e2) - s/oneE2S2 + (1/(2*p.e))*math.Log((1-p.e*s)/(1+p.e*s)))
		phi += delta
		if math.Abs(delta) < 1e-12 {
			break
		}
	}

	return lam * 180 / math.Pi, phi * 180 / math.Pi
}

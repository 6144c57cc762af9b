package projection

import "math"

// WGS84 ellipsoid.
const (
	wgs84A = 6378137.0
	wgs84F = 1 / 298.257223563
)

// utm is an ellipsoidal transverse mercator projection for a single UTM
// zone. Formulas follow Snyder, Map Projections: A Working Manual, §8.
type utm struct {
	zone  int
	north bool

	lon0 float64 // central meridian, radians
	fn   float64 // false northing, metres
}

const (
	utmK0           = 0.9996
	utmFalseEasting = 500000.0
)

func utmZone(zone int, north bool) utm {
	fn := 0.0
	if !north {
		fn = 10000000.0
	}
	return utm{
		zone:  zone,
		north: north,
		lon0:  (float64(zone)*6 - 183) * math.Pi / 180,
		fn:    fn,
	}
}

func (u utm) EPSG() int {
	if u.north {
		return 32600 + u.zone
	}
	return 32700 + u.zone
}

// meridionalArc returns the distance along the meridian from the equator to
// latitude phi.
func meridionalArc(phi float64) float64 {
	e2 := wgs84F * (2 - wgs84F)
	e4 := e2 * e2
	e6 := e4 * e2
	return wgs84A * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}

func (u utm) FromWGS84(lon, lat float64) (x, y float64) {
	e2 := wgs84F * (2 - wgs84F)
	ep2 := e2 / (1 - e2)

	phi := lat * math.Pi / 180
	lam := lon * math.Pi / 180

	sinPhi, cosPhi := math.Sincos(phi)
	tanPhi := sinPhi / cosPhi

	n := wgs84A / math.Sqrt(1-e2*sinPhi*sinPhi)
	t := tanPhi * tanPhi
	c := ep2 * cosPhi * cosPhi
	a := (lam - u.lon0) * cosPhi

	a2 := a * a
	a3 := a2 * a
	a4 := a2 * a2
	a5 := a4 * a
	a6 := a4 * a2

	x = utmFalseEasting + utmK0*n*(a+(1-t+c)*a3/6+
		(5-18*t+t*t+72*c-58*ep2)*a5/120)
	y = u.fn + utmK0*(meridionalArc(phi)+n*tanPhi*(a2/2+
		(5-t+9*c+4*c*c)*a4/24+
		(61-58*t+t*t+600*c-330*ep2)*a6/720))
	return
}

func (u utm) ToWGS84(x, y float64) (lon, lat float64) {
	e2 := wgs84F * (2 - wgs84F)
	ep2 := e2 / (1 - e2)
	e4 := e2 * e2
	e6 := e4 * e2

	m := (y - u.fn) / utmK0
	mu := m / (wgs84A * (1 - e2/4 - 3*e4/64 - 5*e6/256))

	sqrt1e2 := math.Sqrt(1 - e2)
	e1 := (1 - sqrt1e2) / (1 + sqrt1e2)
	e12 := e1 * e1
	e13 := e12 * e1
	e14 := e12 * e12

	phi1 := mu + (3*e1/2-27*e13/32)*math.Sin(2*mu) +
		(21*e12/16-55*e14/32)*math.Sin(4*mu) +
		(151*e13/96)*math.Sin(6*mu) +
		(1097*e14/512)*math.Sin(8*mu)

	sinPhi1, cosPhi1 := math.Sincos(phi1)
	tanPhi1 := sinPhi1 / cosPhi1

	c1 := ep2 * cosPhi1 * cosPhi1
	t1 := tanPhi1 * tanPhi1
	oneE2Sin2 := 1 - e2*sinPhi1*sinPhi1
	n1 := wgs84A / math.Sqrt(oneE2Sin2)
	r1 := wgs84A * (1 - e2) / (oneE2Sin2 * math.Sqrt(oneE2Sin2))
	d := (x - utmFalseEasting) / (n1 * utmK0)

	d2 := d * d
	d3 := d2 * d
	d4 := d2 * d2
	d5 := d4 * d
	d6 := d4 * d2

	phi := phi1 - (n1 * tanPhi1 / r1) * (d2/2 -
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*d4/24 +
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*d6/720)
	lam := u.lon0 + (d-(1+2*t1+c1)*d3/6+
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*d5/120)/cosPhi1

	return lam * 180 / math.Pi, phi * 180 / math.Pi
}

package projection

import "math"

// Spherical web mercator, EPSG:3857.
const (
	earthCircumference = 40075016.685578488
	originShift        = earthCircumference / 2
)

type webMercator struct{}

func (webMercator) EPSG() int { return 3857 }

func (webMercator) ToWGS84(x, y float64) (lon, lat float64) {
	lon = (x / originShift) * 180
	lat = (y / originShift) * 180
	lat = 180 / math.Pi * (2*math.Atan(math.Exp(lat*math.Pi/180)) - math.Pi/2)
	return
}

func (webMercator) FromWGS84(lon, lat float64) (x, y float64) {
	x = lon * originShift / 180
	y = math.Log(math.Tan((90+lat)*math.Pi/360)) / (math.Pi / 180)
	y = y * originShift / 180
	return
}

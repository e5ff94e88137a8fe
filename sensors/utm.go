package sensors

import (
	"math"

	"github.com/golang/geo/r3"
)

// WGS84 ellipsoid.
const (
	wgs84A = 6378137.0
	wgs84F = 1.0 / 298.257223563
	utmK0  = 0.9996
)

// LatLonToUTM converts a WGS84 position to UTM easting/northing (meters)
// in the position's natural zone. The altitude passes through as Z; callers
// with NaN altitudes keep the NaN.
func LatLonToUTM(lat, lon, alt float64) (coord r3.Vector, zone int) {
	zone = int(math.Floor((lon+180)/6)) + 1
	lonOrigin := float64(zone-1)*6 - 180 + 3

	e2 := wgs84F * (2 - wgs84F)
	ep2 := e2 / (1 - e2)

	phi := lat * math.Pi / 180
	lam := (lon - lonOrigin) * math.Pi / 180

	sinPhi, cosPhi := math.Sin(phi), math.Cos(phi)
	tanPhi := sinPhi / cosPhi

	n := wgs84A / math.Sqrt(1-e2*sinPhi*sinPhi)
	t := tanPhi * tanPhi
	c := ep2 * cosPhi * cosPhi
	a := cosPhi * lam

	// Meridian arc length.
	m := wgs84A * ((1-e2/4-3*e2*e2/64-5*e2*e2*e2/256)*phi -
		(3*e2/8+3*e2*e2/32+45*e2*e2*e2/1024)*math.Sin(2*phi) +
		(15*e2*e2/256+45*e2*e2*e2/1024)*math.Sin(4*phi) -
		(35*e2*e2*e2/3072)*math.Sin(6*phi))

	easting := utmK0*n*(a+(1-t+c)*a*a*a/6+
		(5-18*t+t*t+72*c-58*ep2)*a*a*a*a*a/120) + 500000

	northing := utmK0 * (m + n*tanPhi*(a*a/2+
		(5-t+9*c+4*c*c)*a*a*a*a/24+
		(61-58*t+t*t+600*c-330*ep2)*a*a*a*a*a*a/720))
	if lat < 0 {
		northing += 10000000
	}

	return r3.Vector{X: easting, Y: northing, Z: alt}, zone
}

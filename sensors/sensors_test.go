package sensors

import (
	"math"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestParseGPRMC(t *testing.T) {
	stamp := time.Unix(100, 0)

	t.Run("valid sentence", func(t *testing.T) {
		fix, err := ParseGPRMC(stamp,
			"$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, fix.Stamp, test.ShouldEqual, stamp)
		test.That(t, fix.Latitude, test.ShouldAlmostEqual, 48.1173, 1e-4)
		test.That(t, fix.Longitude, test.ShouldAlmostEqual, 11.5166667, 1e-4)
		test.That(t, math.IsNaN(fix.Altitude), test.ShouldBeTrue)
	})
	t.Run("southern and western hemispheres negate", func(t *testing.T) {
		fix, err := ParseGPRMC(stamp, "$GPRMC,123519,A,4807.038,S,01131.000,W,0,0,230394,,")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, fix.Latitude, test.ShouldAlmostEqual, -48.1173, 1e-4)
		test.That(t, fix.Longitude, test.ShouldAlmostEqual, -11.5166667, 1e-4)
	})
	t.Run("void fix is rejected", func(t *testing.T) {
		_, err := ParseGPRMC(stamp, "$GPRMC,123519,V,4807.038,N,01131.000,E,0,0,230394,,")
		test.That(t, err, test.ShouldNotBeNil)
	})
	t.Run("bad checksum is rejected", func(t *testing.T) {
		_, err := ParseGPRMC(stamp,
			"$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*00")
		test.That(t, err, test.ShouldNotBeNil)
	})
	t.Run("non-RMC sentence is rejected", func(t *testing.T) {
		_, err := ParseGPRMC(stamp, "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestLatLonToUTM(t *testing.T) {
	// 43°38'33.24"N 79°23'13.7"W is the standard UTM reference point:
	// zone 17, 630084 E, 4833439 N.
	coord, zone := LatLonToUTM(43.6425667, -79.3871389, 100)
	test.That(t, zone, test.ShouldEqual, 17)
	test.That(t, coord.X, test.ShouldAlmostEqual, 630084, 2)
	test.That(t, coord.Y, test.ShouldAlmostEqual, 4833439, 2)
	test.That(t, coord.Z, test.ShouldEqual, 100)

	// Southern hemisphere gets the false northing.
	south, _ := LatLonToUTM(-33.8688, 151.2093, 0)
	test.That(t, south.Y, test.ShouldBeGreaterThan, 6000000)

	// NaN altitude passes through.
	nan, _ := LatLonToUTM(48.0, 11.0, math.NaN())
	test.That(t, math.IsNaN(nan.Z), test.ShouldBeTrue)
}

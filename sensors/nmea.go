package sensors

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ParseGPRMC parses an NMEA RMC sentence into a GeoPoint with NaN altitude.
// Sentences without an active (A) status flag are rejected.
func ParseGPRMC(stamp time.Time, sentence string) (GeoPoint, error) {
	sentence = strings.TrimSpace(sentence)
	if !strings.HasPrefix(sentence, "$") {
		return GeoPoint{}, errors.New("nmea sentence must start with $")
	}
	body := sentence[1:]
	if star := strings.IndexByte(body, '*'); star >= 0 {
		sum, err := strconv.ParseUint(body[star+1:], 16, 8)
		if err != nil {
			return GeoPoint{}, errors.Wrap(err, "parsing nmea checksum")
		}
		var calc byte
		for i := 0; i < star; i++ {
			calc ^= body[i]
		}
		if calc != byte(sum) {
			return GeoPoint{}, errors.Errorf("nmea checksum mismatch: got %02X want %02X", calc, sum)
		}
		body = body[:star]
	}
	fields := strings.Split(body, ",")
	if len(fields) < 7 || !strings.HasSuffix(fields[0], "RMC") {
		return GeoPoint{}, errors.Errorf("not an RMC sentence: %q", fields[0])
	}
	if fields[2] != "A" {
		return GeoPoint{}, errors.New("nmea fix is not active")
	}
	lat, err := parseCoordinate(fields[3], fields[4], 2)
	if err != nil {
		return GeoPoint{}, errors.Wrap(err, "parsing latitude")
	}
	lon, err := parseCoordinate(fields[5], fields[6], 3)
	if err != nil {
		return GeoPoint{}, errors.Wrap(err, "parsing longitude")
	}
	return GeoPoint{
		Stamp:     stamp,
		Latitude:  lat,
		Longitude: lon,
		Altitude:  math.NaN(),
	}, nil
}

// parseCoordinate converts ddmm.mmmm (degDigits 2) or dddmm.mmmm
// (degDigits 3) plus a hemisphere letter into signed decimal degrees.
func parseCoordinate(value, hemisphere string, degDigits int) (float64, error) {
	if len(value) <= degDigits {
		return 0, errors.Errorf("coordinate %q too short", value)
	}
	deg, err := strconv.ParseFloat(value[:degDigits], 64)
	if err != nil {
		return 0, err
	}
	min, err := strconv.ParseFloat(value[degDigits:], 64)
	if err != nil {
		return 0, err
	}
	out := deg + min/60
	switch hemisphere {
	case "N", "E":
	case "S", "W":
		out = -out
	default:
		return 0, errors.Errorf("unknown hemisphere %q", hemisphere)
	}
	return out, nil
}

package astro

import (
	"math"
	"time"

	"github.com/joshuaferrara/go-satellite"
)

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi
)

// Converter turns horizontal pointings into equatorial coordinates for a
// fixed observer. It holds no mutable state and is safe for concurrent use.
//
// Coordinates are apparent coordinates of date. Precession, nutation and
// refraction are ignored, which is well below the resolution of the sky map.
type Converter struct {
	observer Observer
}

// NewConverter creates a Converter for a validated observer location.
func NewConverter(observer Observer) (*Converter, error) {
	if err := observer.Validate(); err != nil {
		return nil, err
	}
	return &Converter{observer: observer}, nil
}

// Observer returns the station location.
func (c *Converter) Observer() Observer {
	return c.observer
}

// ToEquatorial converts azimuth (degrees from north through east) and
// elevation (degrees) at time t to right ascension in hours [0, 24) and
// declination in degrees.
func (c *Converter) ToEquatorial(az, el float64, t time.Time) (ra, dec float64) {
	lat := c.observer.Latitude * deg2rad
	azr := az * deg2rad
	elr := el * deg2rad

	sinDec := math.Sin(elr)*math.Sin(lat) + math.Cos(elr)*math.Cos(lat)*math.Cos(azr)
	decr := math.Asin(math.Max(-1, math.Min(1, sinDec)))

	hourAngle := math.Atan2(
		-math.Sin(azr)*math.Cos(elr),
		math.Sin(elr)*math.Cos(lat)-math.Cos(elr)*math.Sin(lat)*math.Cos(azr),
	)

	lst := LocalSiderealTime(t, c.observer.Longitude)

	ra = normalizeHours((lst - hourAngle) * rad2deg / 15)
	return ra, decr * rad2deg
}

// LocalSiderealTime returns the local mean sidereal time in radians for an
// observer at the given east longitude in degrees.
func LocalSiderealTime(t time.Time, longitude float64) float64 {
	return GreenwichSiderealTime(t) + longitude*deg2rad
}

// GreenwichSiderealTime returns the Greenwich mean sidereal time in radians.
func GreenwichSiderealTime(t time.Time) float64 {
	t = t.UTC()
	jd := satellite.JDay(t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	jd += float64(t.Nanosecond()) / float64(24*time.Hour)
	return satellite.ThetaG_JD(jd)
}

func normalizeHours(h float64) float64 {
	h = math.Mod(h, 24)
	if h < 0 {
		h += 24
	}
	return h
}

// Package astro converts telescope pointings from horizontal coordinates to
// equatorial coordinates for a fixed observing station.
package astro

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvLatitude  = "RADIO_TELESCOPE_LATITUDE"
	EnvLongitude = "RADIO_TELESCOPE_LONGITUDE"
	EnvAltitude  = "RADIO_TELESCOPE_ALTITUDE"
)

// ErrMissingObserver is returned when the station location is not configured.
var ErrMissingObserver = errors.New("observer location is not configured")

// Observer is the geodetic location of the station.
type Observer struct {
	Latitude  float64 `yaml:"latitude" json:"latitude"`   // degrees, north positive
	Longitude float64 `yaml:"longitude" json:"longitude"` // degrees, east positive
	Altitude  float64 `yaml:"altitude" json:"altitude"`   // meters above sea level
}

func (o Observer) Validate() error {
	if o.Latitude < -90 || o.Latitude > 90 {
		return fmt.Errorf("astro.Observer: latitude must be between -90 and 90: %v", o.Latitude)
	}
	if o.Longitude < -180 || o.Longitude > 360 {
		return fmt.Errorf("astro.Observer: longitude must be between -180 and 360: %v", o.Longitude)
	}
	return nil
}

// LoadEnv loads variables from .env style files without overriding
// variables already present in the environment. Missing files are ignored.
func LoadEnv(paths ...string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return nil
}

// ObserverFromEnv reads the station location from the RADIO_TELESCOPE_*
// variables. Latitude, longitude and altitude are all required.
func ObserverFromEnv() (Observer, error) {
	lat, err := lookupFloat(EnvLatitude, true)
	if err != nil {
		return Observer{}, err
	}

	lon, err := lookupFloat(EnvLongitude, true)
	if err != nil {
		return Observer{}, err
	}

	alt, err := lookupFloat(EnvAltitude, true)
	if err != nil {
		return Observer{}, err
	}

	o := Observer{Latitude: lat, Longitude: lon, Altitude: alt}
	if err = o.Validate(); err != nil {
		return Observer{}, err
	}

	return o, nil
}

func lookupFloat(name string, required bool) (float64, error) {
	v, ok := os.LookupEnv(name)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		if required {
			return 0, fmt.Errorf("%w: %s is not set", ErrMissingObserver, name)
		}
		return 0, nil
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return f, nil
}

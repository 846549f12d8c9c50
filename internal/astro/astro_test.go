package astro

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var j2000 = time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)

func newConverter(t *testing.T, o Observer) *Converter {
	t.Helper()

	c, err := NewConverter(o)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestGreenwichSiderealTime_J2000(t *testing.T) {
	hours := GreenwichSiderealTime(j2000) * rad2deg / 15
	if math.Abs(hours-18.697374558) > 0.01 {
		t.Errorf("expected GMST of about 18.6974h, got %v", hours)
	}
}

func TestConverter_Zenith(t *testing.T) {
	testCases := []struct {
		name     string
		observer Observer
	}{
		{"northern", Observer{Latitude: 52.5, Longitude: 13.4}},
		{"southern", Observer{Latitude: -33.9, Longitude: 151.2}},
		{"equator", Observer{Latitude: 0, Longitude: -70}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := newConverter(t, tc.observer)

			ra, dec := c.ToEquatorial(123, 90, j2000)
			if math.Abs(dec-tc.observer.Latitude) > 1e-6 {
				t.Errorf("expected declination %v, got %v", tc.observer.Latitude, dec)
			}

			lst := normalizeHours(LocalSiderealTime(j2000, tc.observer.Longitude) * rad2deg / 15)
			if math.Abs(ra-lst) > 1e-6 && math.Abs(math.Abs(ra-lst)-24) > 1e-6 {
				t.Errorf("expected right ascension equal to local sidereal time %v, got %v", lst, ra)
			}
		})
	}
}

func TestConverter_Pole(t *testing.T) {
	c := newConverter(t, Observer{Latitude: 45})

	_, dec := c.ToEquatorial(0, 45, j2000)
	if math.Abs(dec-90) > 1e-6 {
		t.Errorf("expected the celestial pole, got declination %v", dec)
	}
}

func TestConverter_Meridian(t *testing.T) {
	c := newConverter(t, Observer{Latitude: 40, Longitude: 0})

	// due south on the meridian, 30 degrees above the horizon
	ra, dec := c.ToEquatorial(180, 30, j2000)
	if math.Abs(dec-(-20)) > 1e-6 {
		t.Errorf("expected declination -20, got %v", dec)
	}

	lst := normalizeHours(LocalSiderealTime(j2000, 0) * rad2deg / 15)
	if math.Abs(ra-lst) > 1e-6 {
		t.Errorf("expected right ascension %v on the meridian, got %v", lst, ra)
	}
	if ra < 0 || ra >= 24 {
		t.Errorf("right ascension out of range: %v", ra)
	}
}

func TestNewConverter_InvalidObserver(t *testing.T) {
	if _, err := NewConverter(Observer{Latitude: 91}); err == nil {
		t.Error("expected error for invalid latitude")
	}
}

func TestObserverFromEnv(t *testing.T) {
	t.Setenv(EnvLatitude, "52.5")
	t.Setenv(EnvLongitude, "13.4")
	t.Setenv(EnvAltitude, "34")

	o, err := ObserverFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Latitude != 52.5 || o.Longitude != 13.4 || o.Altitude != 34 {
		t.Errorf("unexpected observer: %+v", o)
	}

	t.Setenv(EnvAltitude, "")
	if _, err = ObserverFromEnv(); !errors.Is(err, ErrMissingObserver) {
		t.Errorf("expected ErrMissingObserver without altitude, got %v", err)
	}
	t.Setenv(EnvAltitude, "34")

	t.Setenv(EnvLatitude, "")
	if _, err = ObserverFromEnv(); !errors.Is(err, ErrMissingObserver) {
		t.Errorf("expected ErrMissingObserver, got %v", err)
	}

	t.Setenv(EnvLatitude, "north")
	if _, err = ObserverFromEnv(); err == nil || errors.Is(err, ErrMissingObserver) {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := EnvLatitude + "=10.5\n" + EnvLongitude + "=20.25\n" + EnvAltitude + "=300\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing env file: %v", err)
	}

	t.Setenv(EnvLatitude, "-1")
	t.Setenv(EnvLongitude, "")
	t.Setenv(EnvAltitude, "")
	os.Unsetenv(EnvLongitude)
	os.Unsetenv(EnvAltitude)

	if err := LoadEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	o, err := ObserverFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Latitude != -1 {
		t.Errorf("expected existing variable to win, got latitude %v", o.Latitude)
	}
	if o.Longitude != 20.25 || o.Altitude != 300 {
		t.Errorf("unexpected observer: %+v", o)
	}
}

package render

import (
	"time"

	"github.com/roman-kulish/radio-telescope/internal/spectrum"
)

// Calibration constants of the reference station. The waterfall and power
// trend scales are fixed so that consecutive frames are comparable.
const (
	// WaterfallRows covers 24 hours at a 5 minute cadence.
	WaterfallRows = 288

	// WaterfallSentinel fills rows for which no sample exists yet.
	WaterfallSentinel = -10.0

	DefaultWaterfallMin = -6.6
	DefaultWaterfallMax = -5.5

	// SpectrumMarginBelow and SpectrumMarginAbove set the spectrum panel
	// y-range relative to the median of the current sample.
	SpectrumMarginBelow = 0.2
	SpectrumMarginAbove = 1.5

	DefaultPowerWindow = 12 * time.Hour
	DefaultPowerMin    = -6.5
	DefaultPowerMax    = -6.2

	titleLayout = "2006-01-02T15:04:05"
)

// Pointing is the telescope direction in horizontal coordinates, degrees.
type Pointing struct {
	Azimuth   float64
	Elevation float64
}

// Range is a closed interval of axis values.
type Range struct {
	Min float64
	Max float64
}

func (r Range) Span() float64 {
	return r.Max - r.Min
}

// Frame is a self-contained description of one rendered image. It holds
// plain data only and can be drawn by any Canvas.
type Frame struct {
	Filename  string
	Title     string
	Timestamp time.Time

	Spectrum  SpectrumPanel
	Waterfall WaterfallPanel
	Sky       SkyPanel
	Power     PowerPanel
}

// SpectrumPanel is the current sample as a line plot.
type SpectrumPanel struct {
	Frequencies []float64 // MHz
	Decibels    []float64
	X           Range // MHz
	Y           Range // dB
}

// WaterfallPanel is the recent history as an intensity image, most recent
// row first.
type WaterfallPanel struct {
	Rows  [][]float64
	X     Range // MHz
	Scale Range // dB mapped onto the color map
	Theme ColorTheme
}

// SkyPanel is the pointing projected onto the equatorial sky.
type SkyPanel struct {
	RightAscension float64 // hours
	Declination    float64 // degrees
	Pointing       Pointing
}

// PowerPanel is the power trend over the whole subset, shown within the
// [From, To] window.
type PowerPanel struct {
	Points []spectrum.PowerPoint
	From   time.Time
	To     time.Time
	Y      Range // dB
}

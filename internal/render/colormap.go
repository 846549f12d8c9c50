package render

import (
	"fmt"
	"image/color"
	"math"
)

// ColorTheme names a predefined color scheme for intensity images:
// - JetTheme: the classic blue-cyan-yellow-red rainbow used by the waterfall
// - ViridisTheme: perceptually uniform dark-blue to yellow, used by the sky map
// - ClassicTheme: blue to red
// - GrayscaleTheme: monochrome
// - ThermalTheme: black to red to yellow to white
type ColorTheme string

const (
	JetTheme       ColorTheme = "jet"
	ViridisTheme   ColorTheme = "viridis"
	ClassicTheme   ColorTheme = "classic"
	GrayscaleTheme ColorTheme = "grayscale"
	JungleTheme    ColorTheme = "jungle"
	ThermalTheme   ColorTheme = "thermal"
	MarineTheme    ColorTheme = "marine"

	DefaultColorMapSize = 256
)

// ParseColorTheme validates a theme name.
func ParseColorTheme(name string) (ColorTheme, error) {
	switch theme := ColorTheme(name); theme {
	case JetTheme, ViridisTheme, ClassicTheme, GrayscaleTheme, JungleTheme, ThermalTheme, MarineTheme:
		return theme, nil
	default:
		return "", fmt.Errorf("unknown color theme %q", name)
	}
}

// PowerBounds is the value range mapped onto the full color map. Values
// outside the range are clamped to the first or last color.
type PowerBounds struct {
	Min float64
	Max float64
}

// ColorMapper maps intensity values to colors through a pre-computed lookup
// table. A ColorMapper is not safe for concurrent use by multiple goroutines
// while its bounds are being updated.
type ColorMapper struct {
	colorMap      []color.Color
	theme         func(float64) color.Color
	themeName     ColorTheme
	size          int
	powerPerIndex float64
	boundsMin     float64
}

// NewColorMapper creates a color mapper with DefaultColorMapSize colors.
func NewColorMapper(theme ColorTheme, bounds PowerBounds) *ColorMapper {
	return NewColorMapperWithSize(theme, bounds, DefaultColorMapSize)
}

// NewColorMapperWithSize creates a color mapper with the given number of
// pre-computed colors.
func NewColorMapperWithSize(theme ColorTheme, bounds PowerBounds, size int) *ColorMapper {
	if size <= 1 {
		size = DefaultColorMapSize
	}

	cm := &ColorMapper{
		colorMap:  make([]color.Color, size),
		theme:     colorTheme(theme),
		themeName: theme,
		size:      size,
	}
	for i := 0; i < size; i++ {
		cm.colorMap[i] = cm.theme(float64(i) / float64(size-1))
	}
	cm.UpdateBounds(bounds)
	return cm
}

// UpdateBounds changes the value range covered by the color map.
func (cm *ColorMapper) UpdateBounds(bounds PowerBounds) {
	cm.boundsMin = bounds.Min
	cm.powerPerIndex = (bounds.Max - bounds.Min) / float64(cm.size-1)
}

// GetColor returns the color for the given value. NaN maps to the lowest color.
func (cm *ColorMapper) GetColor(power float64) color.Color {
	if math.IsNaN(power) || cm.powerPerIndex <= 0 {
		return cm.colorMap[0]
	}

	index := int(math.Round((power - cm.boundsMin) / cm.powerPerIndex))
	if index < 0 {
		return cm.colorMap[0]
	}
	if index >= cm.size {
		return cm.colorMap[cm.size-1]
	}
	return cm.colorMap[index]
}

func (cm *ColorMapper) ThemeName() ColorTheme {
	return cm.themeName
}

// HSV represents a color in HSV (Hue, Saturation, Value) color space
type HSV struct {
	H float64 // Hue angle in degrees [0-360]
	S float64 // Saturation [0-1]
	V float64 // Value/Brightness [0-1]
}

// RGB converts HSV to RGB color space
func (hsv HSV) RGB() color.Color {
	if hsv.S <= 0.0 {
		v := uint8(hsv.V * 255)
		return color.RGBA{R: v, G: v, B: v, A: 255}
	}

	h := math.Mod(hsv.H, 360)
	if h < 0 {
		h += 360
	}
	h /= 60

	i := int(h)
	f := h - float64(i)

	v := uint8(hsv.V * 255)
	p := uint8((hsv.V * (1 - hsv.S)) * 255)
	q := uint8((hsv.V * (1 - (hsv.S * f))) * 255)
	t := uint8((hsv.V * (1 - (hsv.S * (1 - f)))) * 255)

	switch i {
	case 0:
		return color.RGBA{R: v, G: t, B: p, A: 255}
	case 1:
		return color.RGBA{R: q, G: v, B: p, A: 255}
	case 2:
		return color.RGBA{R: p, G: v, B: t, A: 255}
	case 3:
		return color.RGBA{R: p, G: q, B: v, A: 255}
	case 4:
		return color.RGBA{R: t, G: p, B: v, A: 255}
	default:
		return color.RGBA{R: v, G: p, B: q, A: 255}
	}
}

// colorStop anchors a gradient at a normalized position.
type colorStop struct {
	pos     float64
	r, g, b float64
}

var (
	jetStops = []colorStop{
		{0.00, 0.0, 0.0, 0.5},
		{0.11, 0.0, 0.0, 1.0},
		{0.125, 0.0, 0.0, 1.0},
		{0.34, 0.0, 0.86, 1.0},
		{0.35, 0.0, 0.9, 0.97},
		{0.64, 1.0, 1.0, 0.0},
		{0.65, 1.0, 0.96, 0.0},
		{0.89, 1.0, 0.0, 0.0},
		{1.00, 0.5, 0.0, 0.0},
	}

	viridisStops = []colorStop{
		{0.00, 0.267, 0.005, 0.329},
		{0.13, 0.283, 0.141, 0.458},
		{0.25, 0.254, 0.265, 0.530},
		{0.38, 0.207, 0.372, 0.553},
		{0.50, 0.164, 0.471, 0.558},
		{0.63, 0.128, 0.567, 0.551},
		{0.75, 0.135, 0.659, 0.518},
		{0.88, 0.478, 0.821, 0.318},
		{1.00, 0.993, 0.906, 0.144},
	}
)

func gradient(stops []colorStop) func(float64) color.Color {
	return func(v float64) color.Color {
		v = math.Max(0, math.Min(1, v))

		hi := 1
		for hi < len(stops)-1 && stops[hi].pos < v {
			hi++
		}
		lo := stops[hi-1]
		up := stops[hi]

		f := 0.0
		if span := up.pos - lo.pos; span > 0 {
			f = (v - lo.pos) / span
		}
		mix := func(a, b float64) uint8 {
			return uint8(math.Round((a + (b-a)*f) * 255))
		}
		return color.RGBA{R: mix(lo.r, up.r), G: mix(lo.g, up.g), B: mix(lo.b, up.b), A: 255}
	}
}

func colorTheme(theme ColorTheme) func(float64) color.Color {
	switch theme {
	case JetTheme:
		return gradient(jetStops)

	case ViridisTheme:
		return gradient(viridisStops)

	case ClassicTheme:
		return func(power float64) color.Color {
			return HSV{
				H: 240 - (power * 240),
				S: 0.9 + (power * 0.1),
				V: math.Pow(power, 0.7),
			}.RGB()
		}

	case GrayscaleTheme:
		return func(power float64) color.Color {
			v := uint8(math.Pow(power, 0.7) * 255)
			return color.RGBA{R: v, G: v, B: v, A: 255}
		}

	case JungleTheme:
		return func(power float64) color.Color {
			return HSV{
				H: 120 - (power * 60),
				S: 1.0,
				V: 0.3 + (math.Pow(power, 0.6) * 0.7),
			}.RGB()
		}

	case ThermalTheme:
		return func(power float64) color.Color {
			if power < 0.33 {
				return color.RGBA{R: uint8((power * 3) * 255), A: 255}
			}
			if power < 0.66 {
				return color.RGBA{R: 255, G: uint8(((power - 0.33) * 3) * 255), A: 255}
			}
			return color.RGBA{R: 255, G: 255, B: uint8(math.Min(1, (power-0.66)*3) * 255), A: 255}
		}

	case MarineTheme:
		return func(power float64) color.Color {
			return HSV{
				H: 240 - (power * 60),
				S: 1.0 - (power * 0.8),
				V: 0.3 + (math.Pow(power, 0.6) * 0.7),
			}.RGB()
		}

	default:
		return gradient(jetStops)
	}
}

package render

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roman-kulish/radio-telescope/internal/spectrum"
	"github.com/roman-kulish/radio-telescope/internal/storage"
)

// ErrUnknownRecord is returned when no record exists at or before the
// requested filename.
var ErrUnknownRecord = errors.New("no record at or before filename")

// Converter converts horizontal coordinates at a given time to right
// ascension (hours) and declination (degrees) for a fixed observer.
type Converter interface {
	ToEquatorial(az, el float64, t time.Time) (ra, dec float64)
}

func WithLogger(logger *slog.Logger) func(r *Renderer) {
	return func(r *Renderer) {
		if logger != nil {
			r.logger = logger.With(slog.String("component", "renderer"))
		}
	}
}

// WithAggregator sets the aggregation used for the power trend.
func WithAggregator(agg spectrum.Aggregator) func(r *Renderer) {
	return func(r *Renderer) {
		if agg != nil {
			r.agg = agg
		}
	}
}

// WithWaterfallScale overrides the waterfall color scale calibration.
func WithWaterfallScale(scale Range) func(r *Renderer) {
	return func(r *Renderer) {
		r.waterfallScale = scale
	}
}

// WithPowerScale overrides the power trend y-range calibration.
func WithPowerScale(scale Range) func(r *Renderer) {
	return func(r *Renderer) {
		r.powerScale = scale
	}
}

// WithPowerWindow sets how much history the power trend panel shows.
func WithPowerWindow(d time.Duration) func(r *Renderer) {
	return func(r *Renderer) {
		if d > 0 {
			r.powerWindow = d
		}
	}
}

// WithWaterfallTheme sets the waterfall color theme.
func WithWaterfallTheme(theme ColorTheme) func(r *Renderer) {
	return func(r *Renderer) {
		r.waterfallTheme = theme
	}
}

// WithCanvas sets the configuration of the canvases created by Render.
func WithCanvas(config CanvasConfig) func(r *Renderer) {
	return func(r *Renderer) {
		r.canvas = config
	}
}

// WithFormat sets the image format written by Render.
func WithFormat(format ImageFormat) func(r *Renderer) {
	return func(r *Renderer) {
		r.format = format
	}
}

// Renderer builds Frames from a data set. Building a Frame only reads the
// data set, so a Renderer may be shared by concurrent callers; drawing
// happens on a Canvas owned by the caller or created per Render call.
type Renderer struct {
	data      *storage.DataSet
	converter Converter

	agg            spectrum.Aggregator
	waterfallRows  int
	waterfallScale Range
	waterfallTheme ColorTheme
	powerScale     Range
	powerWindow    time.Duration

	canvas CanvasConfig
	format ImageFormat
	logger *slog.Logger
}

// New creates a Renderer over the given data set. The converter projects the
// telescope pointing onto the sky and is required.
func New(ds *storage.DataSet, converter Converter, options ...func(r *Renderer)) (*Renderer, error) {
	if ds == nil {
		return nil, errors.New("data set is required")
	}
	if converter == nil {
		return nil, errors.New("coordinate converter is required")
	}

	r := &Renderer{
		data:           ds,
		converter:      converter,
		agg:            spectrum.Mean,
		waterfallRows:  WaterfallRows,
		waterfallScale: Range{Min: DefaultWaterfallMin, Max: DefaultWaterfallMax},
		waterfallTheme: JetTheme,
		powerScale:     Range{Min: DefaultPowerMin, Max: DefaultPowerMax},
		powerWindow:    DefaultPowerWindow,
		format:         ImagePNG,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// Data returns the data set the renderer reads from.
func (r *Renderer) Data() *storage.DataSet {
	return r.data
}

// Format returns the image format written by Render.
func (r *Renderer) Format() ImageFormat {
	return r.format
}

// Frame describes the image for the given record: everything known up to
// and including filename, the last record being the current sample.
func (r *Renderer) Frame(filename string, pointing Pointing) (*Frame, error) {
	subset := r.data.PrefixUpTo(filename)
	current, err := subset.Last()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRecord, filename)
	}
	if current.Len() == 0 {
		return nil, fmt.Errorf("record '%s' has no spectrum bins", current.Filename)
	}

	frame := &Frame{
		Filename:  current.Filename,
		Title:     current.Timestamp.Format(titleLayout),
		Timestamp: current.Timestamp,
	}

	bandMHz := Range{Min: current.FrequencyStart() / 1e6, Max: current.FrequencyEnd() / 1e6}

	freqsMHz := make([]float64, current.Len())
	for i, f := range current.Frequencies {
		freqsMHz[i] = f / 1e6
	}
	median := spectrum.Median(current.Decibels)
	frame.Spectrum = SpectrumPanel{
		Frequencies: freqsMHz,
		Decibels:    current.Decibels,
		X:           bandMHz,
		Y:           Range{Min: median - SpectrumMarginBelow, Max: median + SpectrumMarginAbove},
	}

	recent := subset.Tail(r.waterfallRows).Records()
	rows := make([][]float64, len(recent))
	for i, rec := range recent {
		rows[len(recent)-1-i] = rec.Decibels
	}
	frame.Waterfall = WaterfallPanel{
		Rows:  NewWaterfall(rows, r.waterfallRows, WaterfallSentinel),
		X:     bandMHz,
		Scale: r.waterfallScale,
		Theme: r.waterfallTheme,
	}

	ra, dec := r.converter.ToEquatorial(pointing.Azimuth, pointing.Elevation, current.Timestamp)
	frame.Sky = SkyPanel{
		RightAscension: ra,
		Declination:    dec,
		Pointing:       pointing,
	}

	trend := subset.PowerTrend(r.agg)
	to := current.Timestamp
	if len(trend) > 0 {
		to = trend[len(trend)-1].Timestamp
	}
	frame.Power = PowerPanel{
		Points: trend,
		From:   to.Add(-r.powerWindow),
		To:     to,
		Y:      r.powerScale,
	}

	r.logger.Debug("frame built",
		slog.String("filename", frame.Filename),
		slog.Int("records", subset.Len()),
		slog.Int("trend", len(trend)),
		slog.Float64("ra", ra),
		slog.Float64("dec", dec))

	return frame, nil
}

// Render builds the frame for filename, draws it on a fresh Canvas and
// writes the encoded image to w.
func (r *Renderer) Render(filename string, pointing Pointing, w io.Writer) error {
	canvas, err := NewCanvas(r.canvas)
	if err != nil {
		return fmt.Errorf("creating canvas: %w", err)
	}
	defer canvas.Close()

	return r.RenderOn(canvas, filename, pointing, w)
}

// RenderOn is Render using a caller-owned Canvas.
func (r *Renderer) RenderOn(canvas *Canvas, filename string, pointing Pointing, w io.Writer) error {
	frame, err := r.Frame(filename, pointing)
	if err != nil {
		return err
	}

	img, err := canvas.Draw(frame)
	if err != nil {
		return fmt.Errorf("drawing frame: %w", err)
	}

	if err = Encode(w, img, r.format); err != nil {
		return fmt.Errorf("encoding image: %w", err)
	}
	return nil
}

// OutputName derives the image file name from a record file name.
func OutputName(filename string, format ImageFormat) string {
	return strings.TrimSuffix(filename, ".json") + "." + format.Extension()
}

// sortedFilenames returns the record filenames in lexical order.
func sortedFilenames(ds *storage.DataSet) []string {
	names := ds.Filenames()
	slices.Sort(names)
	return names
}

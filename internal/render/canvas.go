package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	dpi           = 72.0
	fontSize      = 12.0
	titleFontSize = 18.0

	tickMarkLength = 5
	pixelsPerLabel = 90.0
	markerRadius   = 8
	pointRadius    = 2

	defaultWidth  = 1600
	defaultHeight = 800

	defaultTitleHeight  = 34
	defaultTopBorder    = 24
	defaultLeftBorder   = 72
	defaultBottomBorder = 54
	defaultRightBorder  = 24

	defaultTimeFormat = "15:04"
)

// ImageFormat is the encoding of rendered frames.
type ImageFormat string

const (
	ImagePNG  ImageFormat = "png"
	ImageJPEG ImageFormat = "jpeg"
)

// ParseImageFormat validates an image format name.
func ParseImageFormat(name string) (ImageFormat, error) {
	switch f := ImageFormat(name); f {
	case ImagePNG, ImageJPEG:
		return f, nil
	case "jpg":
		return ImageJPEG, nil
	default:
		return "", fmt.Errorf("invalid image format: %s", name)
	}
}

// Extension returns the file extension for the format, without the dot.
func (f ImageFormat) Extension() string {
	if f == ImageJPEG {
		return "jpg"
	}
	return "png"
}

// Encode writes img to w in the given format.
func Encode(w io.Writer, img image.Image, format ImageFormat) error {
	switch format {
	case ImageJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
	default:
		return png.Encode(w, img)
	}
}

var (
	lineColor   = color.RGBA{B: 255, A: 255}
	markerColor = color.RGBA{R: 217, G: 38, B: 41, A: 255}
	frameColor  = color.RGBA{R: 0x33, G: 0x33, B: 0x33, A: 255}
	legendEdge  = color.RGBA{R: 0xcc, G: 0xcc, B: 0xcc, A: 255}
	blankSky    = color.RGBA{R: 0xee, G: 0xee, B: 0xee, A: 255}
)

var parseFont = sync.OnceValues(func() (*truetype.Font, error) {
	return freetype.ParseFont(goregular.TTF)
})

// BorderConfig defines the white space around each plot area inside its
// panel cell.
type BorderConfig struct {
	Top    int
	Left   int // Space for the value scale
	Bottom int // Space for the horizontal scale and axis label
	Right  int
}

// CanvasConfig holds all configuration options of a Canvas.
type CanvasConfig struct {
	Width       int
	Height      int
	TitleHeight int

	FontSize      float64
	TitleFontSize float64

	TimeFormat string
	Location   *time.Location

	// SkyMap is the background of the sky panel. A nil map leaves the panel
	// blank apart from the pointing marker.
	SkyMap   *SkyMap
	SkyTheme ColorTheme

	Borders BorderConfig
}

func (c *CanvasConfig) setDefaults() {
	if c.Width == 0 {
		c.Width = defaultWidth
	}
	if c.Height == 0 {
		c.Height = defaultHeight
	}
	if c.TitleHeight == 0 {
		c.TitleHeight = defaultTitleHeight
	}
	if c.FontSize == 0 {
		c.FontSize = fontSize
	}
	if c.TitleFontSize == 0 {
		c.TitleFontSize = titleFontSize
	}
	if c.TimeFormat == "" {
		c.TimeFormat = defaultTimeFormat
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.SkyTheme == "" {
		c.SkyTheme = ViridisTheme
	}
	if c.Borders.Top == 0 {
		c.Borders.Top = defaultTopBorder
	}
	if c.Borders.Left == 0 {
		c.Borders.Left = defaultLeftBorder
	}
	if c.Borders.Bottom == 0 {
		c.Borders.Bottom = defaultBottomBorder
	}
	if c.Borders.Right == 0 {
		c.Borders.Right = defaultRightBorder
	}
}

// Canvas draws Frames onto raster images. A Canvas keeps font state between
// draws and must not be used by more than one goroutine at a time; parallel
// renderers each own a Canvas.
type Canvas struct {
	config    CanvasConfig
	context   *freetype.Context
	labelFace font.Face
	titleFace font.Face
	skyColors *ColorMapper
}

// NewCanvas creates a drawing surface with the given configuration, zero
// values are replaced with defaults.
func NewCanvas(config CanvasConfig) (*Canvas, error) {
	config.setDefaults()

	minWidth := 2 * (config.Borders.Left + config.Borders.Right + 1)
	minHeight := config.TitleHeight + 2*(config.Borders.Top+config.Borders.Bottom+1)
	if config.Width < minWidth || config.Height < minHeight {
		return nil, fmt.Errorf("canvas of %dx%d is too small, need at least %dx%d", config.Width, config.Height, minWidth, minHeight)
	}

	parsedFont, err := parseFont()
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	c := &Canvas{
		config:  config,
		context: ctx,
		labelFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
		titleFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.TitleFontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}
	if config.SkyMap != nil {
		c.skyColors = NewColorMapper(config.SkyTheme, config.SkyMap.Bounds())
	}
	return c, nil
}

// Close releases the font faces.
func (c *Canvas) Close() error {
	return errors.Join(c.labelFace.Close(), c.titleFace.Close())
}

// Draw renders the frame onto a new image. Panels are laid out in a 2x2
// grid: spectrum and sky on top, waterfall and power trend below.
func (c *Canvas) Draw(f *Frame) (*image.RGBA, error) {
	if f == nil {
		return nil, errors.New("nil frame")
	}

	img := image.NewRGBA(image.Rect(0, 0, c.config.Width, c.config.Height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	c.context.SetClip(img.Bounds())
	c.context.SetDst(img)

	if err := c.text(c.titleFace, c.config.TitleFontSize, f.Title, c.config.Width/2, c.baseline(c.titleFace, 0, c.config.TitleHeight), alignCenter); err != nil {
		return nil, fmt.Errorf("drawing title: %w", err)
	}

	cellW := c.config.Width / 2
	cellH := (c.config.Height - c.config.TitleHeight) / 2
	cell := func(col, row int) image.Rectangle {
		x0 := col * cellW
		y0 := c.config.TitleHeight + row*cellH
		return image.Rect(
			x0+c.config.Borders.Left,
			y0+c.config.Borders.Top,
			x0+cellW-c.config.Borders.Right,
			y0+cellH-c.config.Borders.Bottom,
		)
	}

	if err := c.drawSpectrum(img, cell(0, 0), &f.Spectrum); err != nil {
		return nil, fmt.Errorf("drawing spectrum panel: %w", err)
	}
	if err := c.drawSky(img, cell(1, 0), &f.Sky); err != nil {
		return nil, fmt.Errorf("drawing sky panel: %w", err)
	}
	if err := c.drawWaterfall(img, cell(0, 1), &f.Waterfall); err != nil {
		return nil, fmt.Errorf("drawing waterfall panel: %w", err)
	}
	if err := c.drawPower(img, cell(1, 1), &f.Power); err != nil {
		return nil, fmt.Errorf("drawing power panel: %w", err)
	}

	return img, nil
}

func (c *Canvas) drawSpectrum(img *image.RGBA, area image.Rectangle, p *SpectrumPanel) error {
	ax := axes{area: area, x: p.X, y: p.Y}

	n := min(len(p.Frequencies), len(p.Decibels))
	for i := 1; i < n; i++ {
		x0, y0, y1 := p.Frequencies[i-1], p.Decibels[i-1], p.Decibels[i]
		if math.IsNaN(y0) || math.IsNaN(y1) {
			continue
		}
		ax.line(img, x0, y0, p.Frequencies[i], y1, lineColor)
	}
	ax.frame(img)

	xStep := niceStep(p.X.Span(), area.Dx())
	if err := c.xTicks(img, ax, ticks(p.X, xStep), decimalLabel(xStep)); err != nil {
		return err
	}
	yStep := niceStep(p.Y.Span(), area.Dy())
	if err := c.yTicks(img, ax, ticks(p.Y, yStep), decimalLabel(yStep)); err != nil {
		return err
	}
	if err := c.axisLabels(img, area, "MHz", "dB / Hz"); err != nil {
		return err
	}
	if err := c.info(img, area, bandInfo(p.Frequencies)); err != nil {
		return err
	}
	return c.legend(img, area, "Spectrum", legendLine)
}

func (c *Canvas) drawWaterfall(img *image.RGBA, area image.Rectangle, p *WaterfallPanel) error {
	colors := NewColorMapper(p.Theme, PowerBounds(p.Scale))

	rows := len(p.Rows)
	for py := area.Min.Y; py < area.Max.Y && rows > 0; py++ {
		row := p.Rows[(py-area.Min.Y)*rows/area.Dy()]
		if len(row) == 0 {
			continue
		}
		for px := area.Min.X; px < area.Max.X; px++ {
			img.Set(px, py, colors.GetColor(row[(px-area.Min.X)*len(row)/area.Dx()]))
		}
	}

	ax := axes{area: area, x: p.X, y: Range{Min: 0, Max: 1}}
	ax.frame(img)

	xStep := niceStep(p.X.Span(), area.Dx())
	if err := c.xTicks(img, ax, ticks(p.X, xStep), decimalLabel(xStep)); err != nil {
		return err
	}
	return c.axisLabels(img, area, "MHz", "Previous 24 Hours")
}

func (c *Canvas) drawSky(img *image.RGBA, area image.Rectangle, p *SkyPanel) error {
	if m := c.config.SkyMap; m != nil {
		rows, cols := m.Rows(), m.Cols()
		for py := area.Min.Y; py < area.Max.Y; py++ {
			r := (py - area.Min.Y) * rows / area.Dy()
			for px := area.Min.X; px < area.Max.X; px++ {
				img.Set(px, py, c.skyColors.GetColor(m.At(r, (px-area.Min.X)*cols/area.Dx())))
			}
		}
	} else {
		draw.Draw(img, area, image.NewUniform(blankSky), image.Point{}, draw.Src)
	}

	ax := axes{area: area, x: Range{Min: 24, Max: 0}, y: Range{Min: -90, Max: 90}}
	ax.disc(img, p.RightAscension, p.Declination, markerRadius, markerColor)
	ax.frame(img)

	if err := c.xTicks(img, ax, []float64{24, 20, 16, 12, 8, 4, 0}, func(v float64) string {
		return strconv.Itoa(int(v)) + "h"
	}); err != nil {
		return err
	}
	if err := c.yTicks(img, ax, ticks(ax.y, 30), decimalLabel(30)); err != nil {
		return err
	}
	if err := c.axisLabels(img, area, "Right Ascension", "Declination"); err != nil {
		return err
	}
	return c.legend(img, area, "Telescope", legendMarker)
}

func (c *Canvas) drawPower(img *image.RGBA, area image.Rectangle, p *PowerPanel) error {
	from, to := p.From, p.To
	if !to.After(from) {
		from = to.Add(-DefaultPowerWindow)
	}
	ax := axes{area: area, x: Range{Min: unixSeconds(from), Max: unixSeconds(to)}, y: p.Y}

	for _, pt := range p.Points {
		if math.IsNaN(pt.Power) || pt.Timestamp.Before(from) || pt.Timestamp.After(to) {
			continue
		}
		ax.disc(img, unixSeconds(pt.Timestamp), pt.Power, pointRadius, lineColor)
	}
	ax.frame(img)

	step := niceTimeStep(to.Sub(from))
	var xs []float64
	for t := from.Truncate(step); !t.After(to); t = t.Add(step) {
		if !t.Before(from) {
			xs = append(xs, unixSeconds(t))
		}
	}
	if err := c.xTicks(img, ax, xs, func(v float64) string {
		return time.Unix(int64(v), 0).In(c.config.Location).Format(c.config.TimeFormat)
	}); err != nil {
		return err
	}

	yStep := niceStep(p.Y.Span(), area.Dy())
	if err := c.yTicks(img, ax, ticks(p.Y, yStep), decimalLabel(yStep)); err != nil {
		return err
	}
	if err := c.axisLabels(img, area, windowLabel(to.Sub(from)), "dB"); err != nil {
		return err
	}
	return c.legend(img, area, "Average Power", legendMarker)
}

type alignment int

const (
	alignLeft alignment = iota
	alignCenter
	alignRight
)

// text draws s with its baseline at y, aligned horizontally around x.
func (c *Canvas) text(face font.Face, size float64, s string, x, y int, align alignment) error {
	if s == "" {
		return nil
	}

	width := font.MeasureString(face, s).Round()
	switch align {
	case alignCenter:
		x -= width / 2
	case alignRight:
		x -= width
	}

	c.context.SetFontSize(size)
	_, err := c.context.DrawString(s, freetype.Pt(x, y))
	return err
}

// baseline returns the baseline that centers a line of text vertically
// between top and bottom.
func (c *Canvas) baseline(face font.Face, top, bottom int) int {
	metrics := face.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()
	return top + (bottom-top-fontHeight)/2 + metrics.Ascent.Round()
}

func (c *Canvas) xTicks(img *image.RGBA, ax axes, values []float64, label func(float64) string) error {
	top := ax.area.Max.Y + tickMarkLength + 2
	textY := c.baseline(c.labelFace, top, top+c.labelHeight())

	for _, v := range values {
		x := ax.px(v)
		if x < ax.area.Min.X || x >= ax.area.Max.X {
			continue
		}
		for y := ax.area.Max.Y; y < ax.area.Max.Y+tickMarkLength; y++ {
			img.Set(x, y, color.Black)
		}
		if err := c.text(c.labelFace, c.config.FontSize, label(v), x, textY, alignCenter); err != nil {
			return fmt.Errorf("drawing tick label: %w", err)
		}
	}
	return nil
}

func (c *Canvas) yTicks(img *image.RGBA, ax axes, values []float64, label func(float64) string) error {
	metrics := c.labelFace.Metrics()
	for _, v := range values {
		y := ax.py(v)
		if y < ax.area.Min.Y || y >= ax.area.Max.Y {
			continue
		}
		for x := ax.area.Min.X - tickMarkLength; x < ax.area.Min.X; x++ {
			img.Set(x, y, color.Black)
		}

		textY := y + ((metrics.Ascent - metrics.Descent) / 2).Round()
		if err := c.text(c.labelFace, c.config.FontSize, label(v), ax.area.Min.X-tickMarkLength-3, textY, alignRight); err != nil {
			return fmt.Errorf("drawing tick label: %w", err)
		}
	}
	return nil
}

// axisLabels draws the horizontal label centered below the scale and the
// vertical label above the top left corner of the plot area.
func (c *Canvas) axisLabels(img *image.RGBA, area image.Rectangle, xLabel, yLabel string) error {
	top := area.Max.Y + tickMarkLength + 2 + c.labelHeight()
	if err := c.text(c.labelFace, c.config.FontSize, xLabel, area.Min.X+area.Dx()/2, c.baseline(c.labelFace, top, top+c.labelHeight()), alignCenter); err != nil {
		return fmt.Errorf("drawing axis label: %w", err)
	}

	textY := area.Min.Y - c.labelFace.Metrics().Descent.Round() - 4
	if err := c.text(c.labelFace, c.config.FontSize, yLabel, area.Min.X, textY, alignLeft); err != nil {
		return fmt.Errorf("drawing axis label: %w", err)
	}
	return nil
}

// info draws a note right-aligned above the plot area.
func (c *Canvas) info(img *image.RGBA, area image.Rectangle, s string) error {
	textY := area.Min.Y - c.labelFace.Metrics().Descent.Round() - 4
	if err := c.text(c.labelFace, c.config.FontSize, s, area.Max.X, textY, alignRight); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}
	return nil
}

type legendKind int

const (
	legendLine legendKind = iota
	legendMarker
)

// legend draws a single-entry legend box in the upper left corner of the
// plot area.
func (c *Canvas) legend(img *image.RGBA, area image.Rectangle, label string, kind legendKind) error {
	const (
		pad    = 6
		swatch = 20
	)

	width := font.MeasureString(c.labelFace, label).Round()
	height := c.labelHeight()
	box := image.Rect(area.Min.X+pad, area.Min.Y+pad, area.Min.X+pad+3*pad+swatch+width, area.Min.Y+2*pad+height+pad)

	draw.Draw(img, box, image.White, image.Point{}, draw.Src)
	rectangle(img, box, legendEdge)

	midY := box.Min.Y + box.Dy()/2
	switch kind {
	case legendLine:
		for x := box.Min.X + pad; x < box.Min.X+pad+swatch; x++ {
			img.Set(x, midY, lineColor)
		}
	case legendMarker:
		disc(img, box.Min.X+pad+swatch/2, midY, 4, markerColor)
	}

	return c.text(c.labelFace, c.config.FontSize, label, box.Min.X+2*pad+swatch, c.baseline(c.labelFace, box.Min.Y, box.Max.Y), alignLeft)
}

func (c *Canvas) labelHeight() int {
	metrics := c.labelFace.Metrics()
	return (metrics.Ascent + metrics.Descent).Round()
}

// axes maps data coordinates onto a plot area. Reversed ranges flip the axis.
type axes struct {
	area image.Rectangle
	x, y Range
}

func (a axes) px(v float64) int {
	span := a.x.Span()
	if span == 0 {
		span = 1
	}
	return a.area.Min.X + int(math.Round((v-a.x.Min)/span*float64(a.area.Dx()-1)))
}

func (a axes) py(v float64) int {
	span := a.y.Span()
	if span == 0 {
		span = 1
	}
	return a.area.Max.Y - 1 - int(math.Round((v-a.y.Min)/span*float64(a.area.Dy()-1)))
}

func (a axes) frame(img *image.RGBA) {
	rectangle(img, a.area.Inset(-1), frameColor)
}

// line draws a straight segment between two data points, clipped to the
// plot area.
func (a axes) line(img *image.RGBA, x0, y0, x1, y1 float64, col color.Color) {
	ax0, ay0, ax1, ay1 := a.px(x0), a.py(y0), a.px(x1), a.py(y1)

	dx := abs(ax1 - ax0)
	dy := -abs(ay1 - ay0)
	sx, sy := sign(ax1-ax0), sign(ay1-ay0)
	e := dx + dy

	for {
		if image.Pt(ax0, ay0).In(a.area) {
			img.Set(ax0, ay0, col)
		}
		if ax0 == ax1 && ay0 == ay1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			ax0 += sx
		}
		if e2 <= dx {
			e += dx
			ay0 += sy
		}
	}
}

// disc draws a filled circle centered on a data point, clipped to the plot
// area.
func (a axes) disc(img *image.RGBA, x, y float64, radius int, col color.Color) {
	sub := img.SubImage(a.area).(*image.RGBA)
	disc(sub, a.px(x), a.py(y), radius, col)
}

func disc(img *image.RGBA, cx, cy, radius int, col color.Color) {
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y <= radius*radius && image.Pt(cx+x, cy+y).In(img.Rect) {
				img.Set(cx+x, cy+y, col)
			}
		}
	}
}

func rectangle(img *image.RGBA, r image.Rectangle, col color.Color) {
	for x := r.Min.X; x < r.Max.X; x++ {
		img.Set(x, r.Min.Y, col)
		img.Set(x, r.Max.Y-1, col)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.Set(r.Min.X, y, col)
		img.Set(r.Max.X-1, y, col)
	}
}

// niceStep picks a 1-2-5 step giving roughly one label per pixelsPerLabel
// pixels over the given span.
func niceStep(span float64, pixels int) float64 {
	span = math.Abs(span)
	if span == 0 || math.IsNaN(span) || math.IsInf(span, 0) {
		return 1
	}

	desiredSteps := math.Max(float64(pixels)/pixelsPerLabel, 2)
	rough := span / desiredSteps
	magnitude := math.Pow(10, math.Floor(math.Log10(rough)))

	for _, m := range []float64{1, 2, 5, 10} {
		if step := m * magnitude; step >= rough {
			return step
		}
	}
	return 10 * magnitude
}

// ticks returns the multiples of step within r, in ascending order.
func ticks(r Range, step float64) []float64 {
	lo, hi := math.Min(r.Min, r.Max), math.Max(r.Min, r.Max)
	if step <= 0 || math.IsNaN(lo) || math.IsNaN(hi) {
		return nil
	}

	var values []float64
	start := math.Ceil(lo/step-1e-9) * step
	for i := 0; ; i++ {
		v := start + float64(i)*step
		if v > hi+step*1e-9 || i > 1000 {
			break
		}
		values = append(values, v)
	}
	return values
}

// decimalLabel formats tick values with as many decimals as the step needs.
func decimalLabel(step float64) func(float64) string {
	decimals := 0
	if step > 0 && step < 1 {
		decimals = int(math.Ceil(-math.Log10(step) - 1e-9))
	}
	return func(v float64) string {
		if math.Abs(v) < step*1e-6 {
			v = 0
		}
		return strconv.FormatFloat(v, 'f', decimals, 64)
	}
}

func niceTimeStep(duration time.Duration) time.Duration {
	seconds := duration.Seconds()
	roughStep := seconds / 8 // Aim for about 8 time labels

	niceIntervals := []float64{
		60,    // 1 minute
		300,   // 5 minutes
		600,   // 10 minutes
		900,   // 15 minutes
		1800,  // 30 minutes
		3600,  // 1 hour
		7200,  // 2 hours
		14400, // 4 hours
	}

	for _, interval := range niceIntervals {
		if roughStep <= interval {
			return time.Duration(interval) * time.Second
		}
	}

	return time.Hour * 6
}

// bandInfo describes the band covered by frequencies given in MHz.
func bandInfo(frequencies []float64) string {
	if len(frequencies) < 2 {
		return ""
	}
	start, end := frequencies[0]*1e6, frequencies[len(frequencies)-1]*1e6
	return fmt.Sprintf("%s - %s, %d bins of %s",
		formatFrequency(start), formatFrequency(end),
		len(frequencies), formatFrequency((end-start)/float64(len(frequencies)-1)))
}

func formatFrequency(hz float64) string {
	return humanize.SIWithDigits(hz, 4, "Hz")
}

func windowLabel(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("Previous %d Hours", int(d.Hours()))
	}
	return "Previous " + d.String()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}

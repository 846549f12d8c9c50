// Package api serves the persisted observations over HTTP: sample listings,
// the power trend, on-demand frame renders and Prometheus metrics.
package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roman-kulish/radio-telescope/internal/render"
	"github.com/roman-kulish/radio-telescope/internal/spectrum"
	"github.com/roman-kulish/radio-telescope/internal/storage"
	"github.com/roman-kulish/radio-telescope/internal/telemetry"
)

const (
	DefaultAddress  = "127.0.0.1:8080"
	shutdownTimeout = 5 * time.Second
)

func WithLogger(logger *slog.Logger) func(s *Server) {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger.With(slog.String("component", "api"))
		}
	}
}

func WithMetrics(c *telemetry.Collector) func(s *Server) {
	return func(s *Server) {
		s.metrics = c
	}
}

// WithRenderer enables the render endpoint. Frames are drawn for the given
// pointing with the given renderer options.
func WithRenderer(converter render.Converter, pointing render.Pointing, options ...func(r *render.Renderer)) func(s *Server) {
	return func(s *Server) {
		s.converter = converter
		s.pointing = pointing
		s.renderOptions = options
	}
}

// Server exposes a FileStore read-only over HTTP.
type Server struct {
	address string
	store   *storage.FileStore
	metrics *telemetry.Collector

	converter     render.Converter
	pointing      render.Pointing
	renderOptions []func(r *render.Renderer)

	logger *slog.Logger
}

func NewServer(address string, store *storage.FileStore, options ...func(s *Server)) *Server {
	if address == "" {
		address = DefaultAddress
	}

	s := &Server{
		address: address,
		store:   store,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *Server) Address() string {
	return s.address
}

// Run serves until ctx is cancelled, then shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)

	httpServer := &http.Server{
		Addr:              s.address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.logger.Info("api listening", slog.String("address", s.address))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Router builds the gin engine with all routes.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	v1 := router.Group("/api/v1")
	v1.GET("/samples", s.listSamples)
	v1.GET("/samples/latest", s.latestSample)
	v1.GET("/power", s.powerTrend)
	v1.GET("/render/:filename", s.renderFrame)

	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}

type sampleSummary struct {
	Filename       string    `json:"filename"`
	Timestamp      time.Time `json:"timestamp"`
	Bins           int       `json:"bins"`
	FrequencyStart float64   `json:"frequencyStart"`
	FrequencyEnd   float64   `json:"frequencyEnd"`
}

type sampleDetail struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	Frequency []float64 `json:"frequency"`
	Decibels  []float64 `json:"decibels"`
}

// listSamples lists record summaries in timestamp order. The optional
// "limit" query keeps only the most recent records.
func (s *Server) listSamples(c *gin.Context) {
	ds, ok := s.readAll(c)
	if !ok {
		return
	}

	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		ds = ds.Tail(limit)
	}

	records := ds.Records()
	summaries := make([]sampleSummary, 0, len(records))
	for _, r := range records {
		summaries = append(summaries, sampleSummary{
			Filename:       r.Filename,
			Timestamp:      r.Timestamp,
			Bins:           r.Len(),
			FrequencyStart: r.FrequencyStart(),
			FrequencyEnd:   r.FrequencyEnd(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"samples": summaries})
}

func (s *Server) latestSample(c *gin.Context) {
	ds, ok := s.readAll(c)
	if !ok {
		return
	}

	r, err := ds.Last()
	if errors.Is(err, storage.ErrNoData) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, sampleDetail{
		Filename:  r.Filename,
		Timestamp: r.Timestamp,
		Frequency: r.Frequencies,
		Decibels:  r.Decibels,
	})
}

// powerTrend returns the edge-trimmed power trend. Query parameters: "agg"
// (mean or median), "hours" (window ending at the latest record) and
// "band=hydrogen" for the fixed band around the 21cm line.
func (s *Server) powerTrend(c *gin.Context) {
	agg, err := spectrum.AggregatorByName(c.Query("agg"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var window time.Duration
	if v := c.Query("hours"); v != "" {
		hours, err := strconv.ParseFloat(v, 64)
		if err != nil || hours <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive number"})
			return
		}
		window = time.Duration(hours * float64(time.Hour))
	}

	band := c.Query("band")
	if band != "" && band != "hydrogen" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "band must be empty or hydrogen"})
		return
	}

	ds, ok := s.readAll(c)
	if !ok {
		return
	}
	if last, err := ds.Last(); err == nil && window > 0 {
		ds = ds.Since(last.Timestamp.Add(-window))
	}

	var points []spectrum.PowerPoint
	if band == "hydrogen" {
		points = ds.BandPowerTrend(spectrum.HydrogenBandLow, spectrum.HydrogenBandHigh, agg)
	} else {
		points = ds.PowerTrend(agg)
	}
	if points == nil {
		points = []spectrum.PowerPoint{}
	}
	c.JSON(http.StatusOK, gin.H{"points": points})
}

func (s *Server) renderFrame(c *gin.Context) {
	if s.converter == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "rendering is not configured"})
		return
	}

	filename := c.Param("filename")
	if !storage.IsRecordFile(filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record filename"})
		return
	}

	ds, ok := s.readAll(c)
	if !ok {
		return
	}
	if _, found := ds.Find(filename); !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}

	options := append([]func(r *render.Renderer){render.WithLogger(s.logger)}, s.renderOptions...)
	renderer, err := render.New(ds, s.converter, options...)
	if err != nil {
		s.fail(c, err)
		return
	}

	start := time.Now()
	var buf bytes.Buffer
	err = renderer.Render(filename, s.pointing, &buf)
	s.metrics.Rendered(time.Since(start), err)
	if err != nil {
		s.fail(c, err)
		return
	}

	contentType := "image/png"
	if renderer.Format() == render.ImageJPEG {
		contentType = "image/jpeg"
	}
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

func (s *Server) readAll(c *gin.Context) (*storage.DataSet, bool) {
	ds, err := s.store.ReadAll(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return ds, true
}

func (s *Server) fail(c *gin.Context, err error) {
	s.logger.Error("request failed", slog.String("path", c.Request.URL.Path), slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/radio-telescope/internal/telemetry"
)

type BatchOption func(d *BatchDriver)

func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(d *BatchDriver) {
		if logger != nil {
			d.logger = logger.With(slog.String("component", "batch"))
		}
	}
}

// WithWorkers sets the number of parallel renders. Zero or less uses the
// number of CPUs.
func WithWorkers(n int) BatchOption {
	return func(d *BatchDriver) {
		d.workers = n
	}
}

// WithSkipExisting leaves records whose image already exists untouched.
func WithSkipExisting(skip bool) BatchOption {
	return func(d *BatchDriver) {
		d.skipExisting = skip
	}
}

func WithBatchMetrics(c *telemetry.Collector) BatchOption {
	return func(d *BatchDriver) {
		d.metrics = c
	}
}

// BatchDriver renders many records into an output directory. Each worker
// owns its Canvas, the Renderer is shared read-only.
type BatchDriver struct {
	renderer     *Renderer
	pointing     Pointing
	outputDir    string
	workers      int
	skipExisting bool
	metrics      *telemetry.Collector
	logger       *slog.Logger
}

// NewBatchDriver creates the output directory when missing.
func NewBatchDriver(r *Renderer, pointing Pointing, outputDir string, options ...BatchOption) (*BatchDriver, error) {
	if r == nil {
		return nil, errors.New("renderer is required")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	d := &BatchDriver{
		renderer:  r,
		pointing:  pointing,
		outputDir: outputDir,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range options {
		opt(d)
	}
	if d.workers <= 0 {
		d.workers = runtime.NumCPU()
	}
	return d, nil
}

// Run renders one image per filename. A nil list renders every record of the
// renderer's data set in filename order. A failed record is logged and
// reported in the returned error without stopping the others; cancelling
// ctx stops handing out new records.
func (d *BatchDriver) Run(ctx context.Context, filenames []string) error {
	if filenames == nil {
		filenames = sortedFilenames(d.renderer.Data())
	}
	total := len(filenames)
	workers := min(d.workers, max(total, 1))

	d.logger.Info("rendering records",
		slog.Int("records", total),
		slog.Int("workers", workers),
		slog.String("output", d.outputDir))

	jobs := make(chan string)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []error
		done     atomic.Int64
	)

	fail := func(err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	}

	for i := 0; i < workers; i++ {
		canvas, err := NewCanvas(d.renderer.canvas)
		if err != nil {
			close(jobs)
			wg.Wait()
			return fmt.Errorf("creating canvas: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer canvas.Close()

			for filename := range jobs {
				rendered, err := d.renderOne(canvas, filename)
				if err != nil {
					d.logger.Error("render failed", slog.String("filename", filename), slog.String("error", err.Error()))
					fail(fmt.Errorf("%s: %w", filename, err))
					continue
				}

				n := done.Add(1)
				if rendered {
					d.logger.Info("rendered", slog.String("filename", filename), slog.String("progress", fmt.Sprintf("%d of %d", n, total)))
				}
			}
		}()
	}

dispatch:
	for _, filename := range filenames {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- filename:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("batch render interrupted after %d of %d records: %w", done.Load(), total, err)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d of %d records failed: %w", len(failures), total, errors.Join(failures...))
	}
	return nil
}

// renderOne writes the image for filename and reports whether it rendered
// anything. The image is written to a temporary file first so that a
// partial file never takes the final name.
func (d *BatchDriver) renderOne(canvas *Canvas, filename string) (rendered bool, err error) {
	target := filepath.Join(d.outputDir, OutputName(filename, d.renderer.Format()))
	if d.skipExisting {
		if _, err := os.Stat(target); err == nil {
			d.logger.Debug("image exists, skipping", slog.String("filename", filename))
			return false, nil
		}
	}

	start := time.Now()
	defer func() {
		if rendered || err != nil {
			d.metrics.Rendered(time.Since(start), err)
		}
	}()

	tmp, err := os.CreateTemp(d.outputDir, ".render-*")
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = d.renderer.RenderOn(canvas, filename, d.pointing, tmp); err != nil {
		_ = tmp.Close()
		return false, err
	}
	if err = tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return false, err
	}
	if err = tmp.Close(); err != nil {
		return false, err
	}
	if err = os.Rename(tmp.Name(), target); err != nil {
		return false, err
	}
	return true, nil
}

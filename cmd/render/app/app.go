package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/roman-kulish/radio-telescope/internal/astro"
	"github.com/roman-kulish/radio-telescope/internal/render"
	"github.com/roman-kulish/radio-telescope/internal/spectrum"
	"github.com/roman-kulish/radio-telescope/internal/storage"
)

// Run renders one frame per record found in the data directory.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DataDirectory); err != nil {
		return fmt.Errorf("data directory '%s' is not readable: %w", config.DataDirectory, err)
	}

	if err := astro.LoadEnv(config.EnvFile); err != nil {
		return err
	}
	observer, err := astro.ObserverFromEnv()
	if err != nil {
		return fmt.Errorf("%w, set %s, %s and %s or provide them in %s",
			err, astro.EnvLatitude, astro.EnvLongitude, astro.EnvAltitude, config.EnvFile)
	}
	converter, err := astro.NewConverter(observer)
	if err != nil {
		return err
	}

	store, err := storage.NewFileStore(config.DataDirectory, storage.WithLogger(logger))
	if err != nil {
		return err
	}

	logger.Info("reading records", slog.String("dataDirectory", store.Dir()))
	ds, err := store.ReadAll(ctx)
	if err != nil {
		return err
	}
	logger.Info("records loaded", slog.Int("count", ds.Len()))

	renderer, err := createRenderer(ds, converter, config, logger)
	if err != nil {
		return err
	}

	driver, err := render.NewBatchDriver(renderer, config.Pointing(), config.OutputDirectory,
		render.WithBatchLogger(logger),
		render.WithWorkers(config.Workers),
		render.WithSkipExisting(config.SkipExisting))
	if err != nil {
		return err
	}

	start := time.Now()
	if err = driver.Run(ctx, nil); err != nil {
		return err
	}

	logger.Info("rendering complete",
		slog.String("output", config.OutputDirectory),
		slog.Duration("took", time.Since(start).Round(time.Millisecond)))

	return nil
}

func createRenderer(ds *storage.DataSet, converter render.Converter, config *Config, logger *slog.Logger) (*render.Renderer, error) {
	agg, err := spectrum.AggregatorByName(config.Aggregation)
	if err != nil {
		return nil, err
	}

	canvas := render.CanvasConfig{}
	if config.SkyMap != "" {
		if canvas.SkyMap, err = render.LoadSkyMap(config.SkyMap); err != nil {
			return nil, fmt.Errorf("loading sky map: %w", err)
		}
	}

	return render.New(ds, converter,
		render.WithLogger(logger),
		render.WithAggregator(agg),
		render.WithWaterfallTheme(config.Theme),
		render.WithFormat(config.Format),
		render.WithCanvas(canvas))
}

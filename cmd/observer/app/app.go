package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/roman-kulish/radio-telescope/internal/acquisition"
	"github.com/roman-kulish/radio-telescope/internal/api"
	"github.com/roman-kulish/radio-telescope/internal/astro"
	"github.com/roman-kulish/radio-telescope/internal/render"
	"github.com/roman-kulish/radio-telescope/internal/sdr"
	"github.com/roman-kulish/radio-telescope/internal/sdr/rtl"
	"github.com/roman-kulish/radio-telescope/internal/storage"
	"github.com/roman-kulish/radio-telescope/internal/telemetry"
	"github.com/roman-kulish/radio-telescope/internal/usb"
)

// Run wires the receivers, the store and the recovery method into an
// acquisition loop and runs it, together with the HTTP API when enabled,
// until ctx is cancelled.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	logger = logger.With(slog.String("station", config.Station.ID))

	store, err := createStorage(&config.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := telemetry.New(reg)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	loop, err := createLoop(config, store, metrics, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var apiErr error
	if config.Settings.Listen != "" {
		server, err := createServer(config, store, metrics, logger)
		if err != nil {
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if apiErr = server.Run(ctx); apiErr != nil {
				logger.Error("api server failed", slog.String("error", apiErr.Error()))
				cancel()
			}
		}()
	}

	logger.Info("starting acquisition",
		slog.String("sky", config.Capture.Sky.String()),
		slog.String("dataDirectory", store.Dir()),
		slog.String("recovery", config.Recovery.Method))

	err = loop.Run(ctx)
	cancel()
	wg.Wait()

	return errors.Join(err, apiErr)
}

func createLoop(config *Config, store *storage.FileStore, metrics *telemetry.Collector, logger *slog.Logger) (*acquisition.Loop, error) {
	sky, err := createDevice(acquisition.ChannelSky, config.Capture.Sky, logger)
	if err != nil {
		return nil, err
	}

	options := []func(l *acquisition.Loop){
		acquisition.WithLogger(logger),
		acquisition.WithMetrics(metrics),
		acquisition.WithSelector(config.selector()),
		acquisition.WithCaptureTimeout(config.Capture.Timeout.Duration()),
		acquisition.WithSettleDelay(
			config.Recovery.SettleDelay.Duration(),
			config.Recovery.BackoffMultiplier,
			config.Recovery.MaxBackoff.Duration()),
		acquisition.WithMaxAttempts(config.Recovery.MaxAttempts),
	}

	if config.Capture.Baseline != "" {
		baseline, err := storage.ReadSample(config.Capture.Baseline)
		if err != nil {
			return nil, fmt.Errorf("baseline file '%s' is not usable, record one with the antenna terminated or configure capture.background instead: %w", config.Capture.Baseline, err)
		}
		options = append(options, acquisition.WithBaseline(baseline))
	} else {
		background, err := createDevice(acquisition.ChannelBackground, config.Capture.Background, logger)
		if err != nil {
			return nil, err
		}
		options = append(options, acquisition.WithBackground(background))
	}

	resetter, err := createResetter(&config.Recovery, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create usb resetter: %w", err)
	}

	loop, err := acquisition.New(sky, store, resetter, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create acquisition loop: %w", err)
	}
	return loop, nil
}

func createDevice(channel string, config *rtl.Config, logger *slog.Logger) (*sdr.Device, error) {
	handler, err := rtl.New(config)
	if err != nil {
		return nil, fmt.Errorf("creating %s receiver: %w", channel, err)
	}
	return sdr.NewDevice(channel, handler, sdr.WithLogger(logger)), nil
}

func createResetter(config *RecoveryConfig, logger *slog.Logger) (usb.Resetter, error) {
	if config.Method == RecoveryCommand {
		return &usb.CommandResetter{
			ResetCommand:      config.ResetCommand,
			PowerCycleCommand: config.PowerCycleCommand,
			Logger:            logger.With(slog.String("component", "usb")),
		}, nil
	}

	options := []func(r *usb.SysfsResetter){usb.WithLogger(logger)}
	if d := config.PowerOffDelay.Duration(); d > 0 {
		options = append(options, usb.WithPowerOffDelay(d))
	}

	if config.Method == RecoveryLibusb {
		return usb.NewLibusbResetter(options...)
	}
	return usb.NewSysfsResetter(options...), nil
}

// createServer sets up the HTTP API. Rendering is enabled only when the
// observer location is known.
func createServer(config *Config, store *storage.FileStore, metrics *telemetry.Collector, logger *slog.Logger) (*api.Server, error) {
	options := []func(s *api.Server){api.WithLogger(logger), api.WithMetrics(metrics)}

	if err := astro.LoadEnv(config.Settings.EnvFile); err != nil {
		return nil, err
	}
	observer, err := astro.ObserverFromEnv()
	switch {
	case errors.Is(err, astro.ErrMissingObserver):
		logger.Warn("observer location not configured, rendering disabled", slog.String("error", err.Error()))
	case err != nil:
		return nil, err
	default:
		converter, err := astro.NewConverter(observer)
		if err != nil {
			return nil, err
		}

		canvas := render.CanvasConfig{}
		if config.Station.SkyMap != "" {
			if canvas.SkyMap, err = render.LoadSkyMap(config.Station.SkyMap); err != nil {
				return nil, err
			}
		}

		pointing := render.Pointing{Azimuth: config.Station.Azimuth, Elevation: config.Station.Elevation}
		options = append(options, api.WithRenderer(converter, pointing, render.WithCanvas(canvas)))
	}

	return api.NewServer(config.Settings.Listen, store, options...), nil
}

func createStorage(config *StorageConfig, logger *slog.Logger) (*storage.FileStore, error) {
	dir := config.DataDirectory
	if !filepath.IsAbs(dir) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current working directory: %w", err)
		}
		dir = filepath.Join(wd, dir)
	}

	return storage.NewFileStore(dir, storage.WithLogger(logger))
}

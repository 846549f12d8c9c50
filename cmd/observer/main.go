package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/roman-kulish/radio-telescope/cmd/observer/app"
	"github.com/roman-kulish/radio-telescope/internal/logging"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	var configPath string
	flag.StringVar(&configPath, "c", "", "Path to the configuration file")
	flag.Parse()

	if configPath == "" {
		logger.Error("no configuration file provided")
		os.Exit(1)
	}

	config, err := app.LoadConfig(configPath)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to load configuration file: %s", err.Error()), slog.String("path", configPath))
		os.Exit(1)
	}

	configured, _, closer, err := logging.New(config.LogConfig(), os.Stdout)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to set up logging: %s", err.Error()))
		os.Exit(1)
	}
	logger = configured

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err = app.Run(ctx, config, logger); err != nil {
		logger.Error(err.Error())

		cancel()
		_ = closer.Close()
		os.Exit(1)
	}

	_ = closer.Close()
}

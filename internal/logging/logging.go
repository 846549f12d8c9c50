// Package logging builds the slog logger shared by the commands, writing to
// stdout and optionally to a size-rotated log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config describes the logger. Zero values log at info level as text to
// stdout only.
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   File   `yaml:"file"`
}

// File configures the rotated log file. An empty Path disables it.
type File struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// ParseLevel maps debug, info, warn (or warning) and error to slog levels.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level '%s'", level)
	}
}

// Validate checks the level and format.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	switch c.Format {
	case "", FormatText, FormatJSON:
	default:
		return fmt.Errorf("invalid log format '%s'", c.Format)
	}
	if c.File.MaxSizeMB < 0 || c.File.MaxBackups < 0 || c.File.MaxAgeDays < 0 {
		return fmt.Errorf("log file rotation settings must not be negative")
	}
	return nil
}

// New creates the logger and returns the level variable to change the level
// at runtime, along with a closer for the log file.
func New(config Config, stdout io.Writer) (*slog.Logger, *slog.LevelVar, io.Closer, error) {
	if err := config.Validate(); err != nil {
		return nil, nil, nil, err
	}

	level, _ := ParseLevel(config.Level)
	lvl := new(slog.LevelVar)
	lvl.Set(level)

	if stdout == nil {
		stdout = os.Stdout
	}
	out := stdout
	var closer io.Closer = nopCloser{}

	if config.File.Path != "" {
		rotated := &lumberjack.Logger{
			Filename:   config.File.Path,
			MaxSize:    config.File.MaxSizeMB,
			MaxBackups: config.File.MaxBackups,
			MaxAge:     config.File.MaxAgeDays,
			Compress:   config.File.Compress,
		}
		out = io.MultiWriter(stdout, rotated)
		closer = rotated
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if config.Format == FormatJSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler), lvl, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

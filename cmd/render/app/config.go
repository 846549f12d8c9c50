package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/roman-kulish/radio-telescope/internal/render"
	"github.com/roman-kulish/radio-telescope/internal/spectrum"
)

const defaultOutputDirectory = "render_output"

type Config struct {
	DataDirectory   string
	OutputDirectory string
	Azimuth         float64
	Elevation       float64
	SkyMap          string
	EnvFile         string
	Workers         int
	SkipExisting    bool
	Format          render.ImageFormat
	Theme           render.ColorTheme
	Aggregation     string
	LogLevel        string
}

func NewConfig() *Config {
	return &Config{
		OutputDirectory: defaultOutputDirectory,
		EnvFile:         ".env",
		Workers:         runtime.NumCPU(),
		Format:          render.ImagePNG,
		Theme:           render.JetTheme,
		LogLevel:        "info",
	}
}

func NewConfigFromCLI() (*Config, error) {
	return ParseArgs(flag.CommandLine, os.Args[1:])
}

// ParseArgs parses the command line into a Config. The data directory and
// both pointing angles are required.
func ParseArgs(fs *flag.FlagSet, args []string) (*Config, error) {
	c := NewConfig()

	var imageFormat, theme string
	fs.StringVar(&c.DataDirectory, "data", "", "Directory with the observation records")
	fs.Float64Var(&c.Azimuth, "az", 0, "Telescope azimuth in degrees")
	fs.Float64Var(&c.Elevation, "el", 0, "Telescope elevation in degrees")
	fs.StringVar(&c.OutputDirectory, "o", c.OutputDirectory, "Output directory")
	fs.IntVar(&c.Workers, "workers", c.Workers, "Number of parallel render workers")
	fs.StringVar(&c.SkyMap, "sky", "", "Path to the all-sky background map")
	fs.BoolVar(&c.SkipExisting, "skip-existing", false, "Skip records that are already rendered")
	fs.StringVar(&c.EnvFile, "env", c.EnvFile, "Path to the .env file with the observer location")
	fs.StringVar(&imageFormat, "f", string(c.Format), "Output image format. [png, jpeg]")
	fs.StringVar(&theme, "theme", string(c.Theme), "Waterfall color theme")
	fs.StringVar(&c.Aggregation, "agg", "mean", "Power aggregation. [mean, median]")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level. [debug, info, warn, error]")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	var err error
	switch {
	case c.DataDirectory == "":
		err = errors.New("data directory is required")
	case !set["az"]:
		err = errors.New("azimuth is required")
	case !set["el"]:
		err = errors.New("elevation is required")
	case c.Elevation < -90 || c.Elevation > 90:
		err = fmt.Errorf("elevation must be between -90 and 90 degrees: %v", c.Elevation)
	case c.OutputDirectory == "":
		err = errors.New("output directory is required")
	}
	if err == nil {
		c.Format, err = render.ParseImageFormat(imageFormat)
	}
	if err == nil {
		c.Theme, err = render.ParseColorTheme(theme)
	}
	if err == nil {
		_, err = spectrum.AggregatorByName(c.Aggregation)
	}

	if err != nil {
		fs.Usage()
		return nil, err
	}

	return c, nil
}

func (c *Config) Pointing() render.Pointing {
	return render.Pointing{Azimuth: c.Azimuth, Elevation: c.Elevation}
}

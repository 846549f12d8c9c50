package app

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/radio-telescope/internal/acquisition"
	"github.com/roman-kulish/radio-telescope/internal/logging"
	"github.com/roman-kulish/radio-telescope/internal/sdr/rtl"
	"github.com/roman-kulish/radio-telescope/internal/usb"
)

const (
	RecoverySysfs   = "sysfs"
	RecoveryLibusb  = "libusb"
	RecoveryCommand = "command"

	defaultDataDirectory = "data"
)

// Config represents the observer configuration
type Config struct {
	Settings Settings       `yaml:"settings"`
	Station  StationConfig  `yaml:"station"`
	Storage  StorageConfig  `yaml:"storage"`
	Capture  CaptureConfig  `yaml:"capture"`
	Recovery RecoveryConfig `yaml:"recovery"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel  string       `yaml:"logLevel"`
	LogFormat string       `yaml:"logFormat"`
	LogFile   logging.File `yaml:"logFile"`

	// Listen is the HTTP API address, empty disables the API.
	Listen string `yaml:"listen"`

	// EnvFile is an optional .env file with the observer location.
	EnvFile string `yaml:"envFile"`
}

// StationConfig describes the telescope installation.
type StationConfig struct {
	ID        string  `yaml:"id"`
	Azimuth   float64 `yaml:"azimuth"`
	Elevation float64 `yaml:"elevation"`
	SkyMap    string  `yaml:"skyMap"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	DataDirectory string `yaml:"dataDirectory"`
}

// CaptureConfig configures the sky receiver and the background reference,
// either a second receiver or a baseline record file.
type CaptureConfig struct {
	Timeout    rtl.TimeDuration `yaml:"timeout"`
	Sky        *rtl.Config      `yaml:"sky"`
	Background *rtl.Config      `yaml:"background"`
	Baseline   string           `yaml:"baseline"`
}

// RecoveryConfig configures how hung receivers are recovered.
type RecoveryConfig struct {
	Method            string           `yaml:"method"`
	Device            string           `yaml:"device"` // vvvv:pppp
	ResetCommand      []string         `yaml:"resetCommand"`
	PowerCycleCommand []string         `yaml:"powerCycleCommand"`
	PowerOffDelay     rtl.TimeDuration `yaml:"powerOffDelay"`
	SettleDelay       rtl.TimeDuration `yaml:"settleDelay"`
	BackoffMultiplier float64          `yaml:"backoffMultiplier"`
	MaxBackoff        rtl.TimeDuration `yaml:"maxBackoff"`
	MaxAttempts       int              `yaml:"maxAttempts"`
}

// LoadConfig reads, defaults and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err = yaml.Unmarshal(b, &config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	config.SetDefaults()
	if err = config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// SetDefaults fills unset fields with the reference deployment values: sky
// on receiver 0, background on receiver 1.
func (c *Config) SetDefaults() {
	if c.Station.ID == "" {
		c.Station.ID = uuid.NewString()
	}
	if c.Storage.DataDirectory == "" {
		c.Storage.DataDirectory = defaultDataDirectory
	}

	if c.Capture.Timeout == 0 {
		c.Capture.Timeout = rtl.NewTimeDuration(acquisition.DefaultCaptureTimeout)
	}
	if c.Capture.Sky == nil {
		c.Capture.Sky = rtl.DefaultConfig(0)
	}
	c.Capture.Sky.SetDefaults()
	if c.Capture.Background == nil && c.Capture.Baseline == "" {
		c.Capture.Background = rtl.DefaultConfig(1)
	}
	if c.Capture.Background != nil {
		c.Capture.Background.SetDefaults()
	}

	if c.Recovery.Method == "" {
		c.Recovery.Method = defaultRecoveryMethod()
	}
	if c.Recovery.Device == "" {
		c.Recovery.Device = usb.Selector{VendorID: usb.RTLVendorID, ProductID: usb.RTLProductID}.String()
	}
	if c.Recovery.SettleDelay == 0 {
		c.Recovery.SettleDelay = rtl.NewTimeDuration(acquisition.DefaultSettleDelay)
	}
	if c.Recovery.BackoffMultiplier == 0 {
		c.Recovery.BackoffMultiplier = 1
	}
}

func (c *Config) Validate() error {
	if err := c.LogConfig().Validate(); err != nil {
		return fmt.Errorf("settings: %w", err)
	}

	if c.Station.Elevation < -90 || c.Station.Elevation > 90 {
		return fmt.Errorf("station: elevation must be between -90 and 90 degrees: %v", c.Station.Elevation)
	}

	if c.Capture.Timeout.Duration() <= 0 {
		return errors.New("capture: timeout must be positive")
	}
	if err := c.Capture.Sky.Validate(); err != nil {
		return fmt.Errorf("capture.sky: %w", err)
	}
	if c.Capture.Background != nil && c.Capture.Baseline != "" {
		return errors.New("capture: background and baseline are mutually exclusive")
	}
	if c.Capture.Background != nil {
		if err := c.Capture.Background.Validate(); err != nil {
			return fmt.Errorf("capture.background: %w", err)
		}
		if c.Capture.Background.DeviceIndex == c.Capture.Sky.DeviceIndex {
			return fmt.Errorf("capture: sky and background share device index %d", c.Capture.Sky.DeviceIndex)
		}
	}
	if c.Capture.Timeout.Duration() <= c.Capture.Sky.Time.Duration() {
		return fmt.Errorf("capture: timeout %s must exceed the integration time %s", c.Capture.Timeout, c.Capture.Sky.Time)
	}

	switch c.Recovery.Method {
	case RecoverySysfs:
	case RecoveryLibusb:
		if !usb.LibusbAvailable {
			return errors.New("recovery: the libusb method needs a build with -tags libusb")
		}
	case RecoveryCommand:
		if len(c.Recovery.ResetCommand) == 0 {
			return errors.New("recovery: resetCommand is required for the command method")
		}
	default:
		return fmt.Errorf("recovery: unknown method '%s'", c.Recovery.Method)
	}
	if _, err := usb.ParseSelector(c.Recovery.Device); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	if c.Recovery.BackoffMultiplier < 1 {
		return fmt.Errorf("recovery: backoffMultiplier must be at least 1: %v", c.Recovery.BackoffMultiplier)
	}
	if c.Recovery.MaxAttempts < 0 {
		return fmt.Errorf("recovery: maxAttempts must not be negative: %d", c.Recovery.MaxAttempts)
	}
	for name, d := range map[string]rtl.TimeDuration{
		"powerOffDelay": c.Recovery.PowerOffDelay,
		"settleDelay":   c.Recovery.SettleDelay,
		"maxBackoff":    c.Recovery.MaxBackoff,
	} {
		if d.Duration() < 0 {
			return fmt.Errorf("recovery: %s must not be negative: %s", name, d)
		}
	}

	return nil
}

// LogConfig returns the logger settings.
func (c *Config) LogConfig() logging.Config {
	return logging.Config{
		Level:  c.Settings.LogLevel,
		Format: c.Settings.LogFormat,
		File:   c.Settings.LogFile,
	}
}

// defaultRecoveryMethod prefers libusb when it is compiled in.
func defaultRecoveryMethod() string {
	if usb.LibusbAvailable {
		return RecoveryLibusb
	}
	return RecoverySysfs
}

func (c *Config) selector() usb.Selector {
	sel, _ := usb.ParseSelector(c.Recovery.Device)
	return sel
}

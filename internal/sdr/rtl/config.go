package rtl

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// HydrogenLineFrequency is the rest frequency of the 21cm neutral hydrogen line in Hz.
	HydrogenLineFrequency = 1_420_405_752

	DefaultGain            = 500
	DefaultIntegrationTime = TimeDuration(300 * time.Second)
	DefaultBins            = 512

	SampleRateMin = 225_001
	SampleRateMax = 3_200_000
)

// Usage example from the reference deployment:
//
//	rtlConfig := rtl.Config{
//	    DeviceIndex: 0,
//	    Gain:        500,
//	    Frequency:   1_420_405_752,
//	    Time:        rtl.NewTimeDuration(300 * time.Second),
//	    Bins:        512,
//	}
//	// Executes: rtl_power_fftw -d 0 -g 500 -f 1420405752 -t 300 -b 512

// Config is the `rtl_power_fftw` tool configuration
type Config struct {
	// Runtime overrides the binary name or path (default: rtl_power_fftw).
	Runtime string `yaml:"runtime" json:"runtime"`

	DeviceIndex int          `yaml:"deviceIndex" json:"deviceIndex"` // -d device_index (default: 0)
	Gain        int          `yaml:"gain" json:"gain"`               // -g gain in tenths of dB (default: 500)
	Frequency   int64        `yaml:"frequency" json:"frequency"`     // -f center frequency in Hz (default: hydrogen line)
	Time        TimeDuration `yaml:"time" json:"time"`               // -t integration time, whole seconds (default: 300s)
	Bins        int          `yaml:"bins" json:"bins"`               // -b number of bins (default: 512)

	SampleRate int64 `yaml:"sampleRate" json:"sampleRate"` // -r sample rate in Hz (default: tool default)
	PPMError   int   `yaml:"ppmError" json:"ppmError"`     // -p ppm_error (default: 0)
}

// DefaultConfig returns the configuration of the reference deployment for
// the given device index.
func DefaultConfig(deviceIndex int) *Config {
	return &Config{
		DeviceIndex: deviceIndex,
		Gain:        DefaultGain,
		Frequency:   HydrogenLineFrequency,
		Time:        DefaultIntegrationTime,
		Bins:        DefaultBins,
	}
}

// SetDefaults fills unset fields with the reference deployment values.
func (c *Config) SetDefaults() {
	if c.Gain == 0 {
		c.Gain = DefaultGain
	}
	if c.Frequency == 0 {
		c.Frequency = HydrogenLineFrequency
	}
	if c.Time == 0 {
		c.Time = DefaultIntegrationTime
	}
	if c.Bins == 0 {
		c.Bins = DefaultBins
	}
}

func (c *Config) Validate() error {
	if c.DeviceIndex < 0 {
		return fmt.Errorf("rtl.Config: device index must not be negative: %d", c.DeviceIndex)
	}
	if c.Gain < 0 {
		return fmt.Errorf("rtl.Config: gain must not be negative: %d", c.Gain)
	}
	if c.Frequency <= 0 {
		return fmt.Errorf("rtl.Config: frequency must be positive: %d", c.Frequency)
	}
	if err := c.Time.Validate(); err != nil {
		return fmt.Errorf("rtl.Config: invalid integration time: %w", err)
	}
	if c.Time.Duration()%time.Second != 0 {
		return fmt.Errorf("rtl.Config: integration time must be whole seconds: %s given", c.Time)
	}
	if c.Bins <= 0 {
		return fmt.Errorf("rtl.Config: number of bins must be positive: %d", c.Bins)
	}
	if c.SampleRate != 0 && (c.SampleRate < SampleRateMin || c.SampleRate > SampleRateMax) {
		return fmt.Errorf("rtl.Config: invalid sample rate: %d, must be between %d and %d Hz", c.SampleRate, SampleRateMin, SampleRateMax)
	}

	return nil
}

// Args returns the command line arguments for `rtl_power_fftw`
func (c *Config) Args() ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	args := []string{
		"-d", strconv.Itoa(c.DeviceIndex),
		"-g", strconv.Itoa(c.Gain),
		"-f", strconv.FormatInt(c.Frequency, 10),
	}

	if c.Time > 0 {
		args = append(args, "-t", strconv.FormatInt(c.Time.Seconds(), 10))
	}

	args = append(args, "-b", strconv.Itoa(c.Bins))

	if c.SampleRate > 0 {
		args = append(args, "-r", strconv.FormatInt(c.SampleRate, 10))
	}

	if c.PPMError != 0 {
		args = append(args, "-p", strconv.Itoa(c.PPMError))
	}

	return args, nil
}

func (c *Config) runtime() string {
	if c.Runtime != "" {
		return c.Runtime
	}
	return Runtime
}

func (c *Config) String() string {
	args, err := c.Args()
	if err != nil {
		return fmt.Sprintf("rtl.Config: failed to build args: %s", err)
	}
	return fmt.Sprintf("%s %s", c.runtime(), strings.Join(args, " "))
}

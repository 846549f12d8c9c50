package spectrum

import (
	"errors"
	"fmt"
	"time"
)

// ErrSizeMismatch is returned when two sequences that must be aligned by index
// have different lengths.
var ErrSizeMismatch = errors.New("size mismatch")

// Sample is a single power spectrum measured during one acquisition cycle.
// Samples are immutable once created; callers must not modify the slices.
type Sample struct {
	Timestamp   time.Time // UTC start of the acquisition cycle
	Frequencies []float64 // Bin frequencies in Hz, in source order
	Decibels    []float64 // Power per bin in dB, aligned by index with Frequencies
}

// NewSample creates a Sample, rejecting frequency and decibel sequences of
// different lengths.
func NewSample(ts time.Time, frequencies, decibels []float64) (*Sample, error) {
	if len(frequencies) != len(decibels) {
		return nil, fmt.Errorf("%w: %d frequencies, %d decibels", ErrSizeMismatch, len(frequencies), len(decibels))
	}

	return &Sample{
		Timestamp:   ts.UTC(),
		Frequencies: frequencies,
		Decibels:    decibels,
	}, nil
}

// Len returns the number of bins in the sample.
func (s *Sample) Len() int {
	return len(s.Frequencies)
}

// FrequencyStart returns the first bin frequency, or zero for an empty sample.
func (s *Sample) FrequencyStart() float64 {
	if len(s.Frequencies) == 0 {
		return 0
	}
	return s.Frequencies[0]
}

// FrequencyEnd returns the last bin frequency, or zero for an empty sample.
func (s *Sample) FrequencyEnd() float64 {
	if len(s.Frequencies) == 0 {
		return 0
	}
	return s.Frequencies[len(s.Frequencies)-1]
}

// PowerPoint is one point of a power trend: the aggregated power of a single
// sample paired with its timestamp.
type PowerPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Power     float64   `json:"power"` // dB
}

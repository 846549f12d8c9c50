package spectrum

import (
	"fmt"
	"math"
	"slices"
)

const (
	// EdgeMargin is the width in Hz excluded at both ends of a spectrum to
	// drop the filter roll-off before computing power.
	EdgeMargin = 2.0e5

	// HydrogenBandLow and HydrogenBandHigh bound the fixed band around the
	// 21cm neutral hydrogen line used by DataSet.BandPowerTrend.
	HydrogenBandLow  = 1419.75e6
	HydrogenBandHigh = 1421.25e6
)

// Aggregator reduces a non-empty sequence of linear power values to a scalar.
type Aggregator func(values []float64) float64

// Mean is the arithmetic mean.
func Mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Median is the middle value, or the mean of the two middle values for an
// even number of values. The input is not modified.
func Median(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// AggregatorByName resolves "mean" (also "average") and "median".
func AggregatorByName(name string) (Aggregator, error) {
	switch name {
	case "", "mean", "average", "avg":
		return Mean, nil
	case "median":
		return Median, nil
	default:
		return nil, fmt.Errorf("unknown aggregation %q, pick one of: mean, median", name)
	}
}

// TrimBand keeps the entries whose frequency lies strictly between low and
// high, preserving order. Boundary-equal frequencies are excluded. The result
// is empty, not nil-checked, when nothing lies inside the band.
func TrimBand(frequencies, decibels []float64, low, high float64) ([]float64, []float64) {
	n := min(len(frequencies), len(decibels))

	trimmedFreqs := make([]float64, 0, n)
	trimmedDBs := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if frequencies[i] > low && frequencies[i] < high {
			trimmedFreqs = append(trimmedFreqs, frequencies[i])
			trimmedDBs = append(trimmedDBs, decibels[i])
		}
	}

	return trimmedFreqs, trimmedDBs
}

// TrimEdges drops EdgeMargin Hz from both ends of the spectrum, using the
// first and last frequency as the spectrum edges.
func TrimEdges(frequencies, decibels []float64) ([]float64, []float64) {
	if len(frequencies) == 0 {
		return []float64{}, []float64{}
	}
	low := frequencies[0] + EdgeMargin
	high := frequencies[len(frequencies)-1] - EdgeMargin
	return TrimBand(frequencies, decibels, low, high)
}

// AggregatePower converts every value from dB to linear power, aggregates in
// linear space and converts the result back to dB. An empty input yields NaN.
func AggregatePower(decibels []float64, agg Aggregator) float64 {
	if len(decibels) == 0 {
		return math.NaN()
	}
	if agg == nil {
		agg = Mean
	}

	linear := make([]float64, len(decibels))
	for i, db := range decibels {
		linear[i] = math.Pow(10, db/10)
	}

	return 10 * math.Log10(agg(linear))
}

// Fuse subtracts the background decibels from the sky decibels element by
// element. Both sequences are aligned by index, so both captures must share
// the same frequency grid.
//
// The subtraction happens in the dB domain, i.e. it is a ratio of linear
// powers rather than a difference of them. This matches the records produced
// so far and is kept for compatibility.
func Fuse(sky, background []float64) ([]float64, error) {
	if len(sky) != len(background) {
		return nil, fmt.Errorf("fusing spectra: %w: sky has %d bins, background has %d", ErrSizeMismatch, len(sky), len(background))
	}

	fused := make([]float64, len(sky))
	for i := range sky {
		fused[i] = sky[i] - background[i]
	}
	return fused, nil
}

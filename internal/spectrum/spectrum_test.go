package spectrum

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

const tolerance = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= tolerance
}

func TestParseLines_SkipsInvalidLines(t *testing.T) {
	output := strings.Join([]string{
		"# rtl_power_fftw header",
		"Found 1 device(s):",
		"1420000000 -12.5",
		"",
		"garbage -1",
		"1420001000 -12.25 extra columns 42",
		"1420002000",
		"1420003000 nope",
		"1420003500 nan",
		"inf -3",
		"  1420004000\t-11.75  ",
	}, "\n")

	freqs, dbs, err := ParseLines(strings.NewReader(output))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedFreqs := []float64{1420000000, 1420001000, 1420004000}
	expectedDBs := []float64{-12.5, -12.25, -11.75}

	if len(freqs) != len(dbs) {
		t.Fatalf("expected equal lengths, got %d frequencies and %d decibels", len(freqs), len(dbs))
	}
	if len(freqs) != len(expectedFreqs) {
		t.Fatalf("expected %d entries, got %d", len(expectedFreqs), len(freqs))
	}
	for i := range expectedFreqs {
		if freqs[i] != expectedFreqs[i] || dbs[i] != expectedDBs[i] {
			t.Errorf("entry %d: expected (%v, %v), got (%v, %v)", i, expectedFreqs[i], expectedDBs[i], freqs[i], dbs[i])
		}
	}
}

func TestParseOutput_Empty(t *testing.T) {
	freqs, dbs := ParseOutput(nil)
	if len(freqs) != 0 || len(dbs) != 0 {
		t.Errorf("expected empty output, got %d/%d entries", len(freqs), len(dbs))
	}
}

func TestNewSample_LengthMismatch(t *testing.T) {
	_, err := NewSample(time.Now(), []float64{1, 2, 3}, []float64{1, 2})
	if !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}

	s, err := NewSample(time.Date(2024, 1, 1, 12, 0, 0, 0, time.FixedZone("X", 3600)), []float64{1, 2}, []float64{3, 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Timestamp.Location() != time.UTC {
		t.Errorf("expected UTC timestamp, got %s", s.Timestamp.Location())
	}
	if s.FrequencyStart() != 1 || s.FrequencyEnd() != 2 || s.Len() != 2 {
		t.Errorf("unexpected sample bounds: %v..%v (%d)", s.FrequencyStart(), s.FrequencyEnd(), s.Len())
	}
}

func TestTrimBand(t *testing.T) {
	freqs := []float64{10, 20, 30, 40, 50}
	dbs := []float64{1, 2, 3, 4, 5}

	testCases := []struct {
		name      string
		low, high float64
		expected  []float64
	}{
		{"strict boundaries", 20, 50, []float64{3, 4}},
		{"whole range", 0, 100, []float64{1, 2, 3, 4, 5}},
		{"nothing inside", 30, 30, []float64{}},
		{"inverted", 50, 10, []float64{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f, d := TrimBand(freqs, dbs, tc.low, tc.high)
			if f == nil || d == nil {
				t.Fatal("expected non-nil slices")
			}
			if len(f) != len(d) || len(d) != len(tc.expected) {
				t.Fatalf("expected %d entries, got %d/%d", len(tc.expected), len(f), len(d))
			}
			for i := range tc.expected {
				if d[i] != tc.expected[i] {
					t.Errorf("entry %d: expected %v, got %v", i, tc.expected[i], d[i])
				}
			}
		})
	}
}

func TestTrimEdges(t *testing.T) {
	freqs := []float64{1420.0e6, 1420.2e6, 1420.3e6, 1420.5e6, 1420.6e6}
	dbs := []float64{1, 2, 3, 4, 5}

	f, d := TrimEdges(freqs, dbs)
	if len(f) != 1 || d[0] != 3 {
		t.Fatalf("expected only the middle bin, got %v / %v", f, d)
	}

	f, d = TrimEdges(nil, nil)
	if len(f) != 0 || len(d) != 0 {
		t.Errorf("expected empty result for empty input")
	}
}

func TestAggregatePower(t *testing.T) {
	if got := AggregatePower([]float64{-7.3}, Mean); !almostEqual(got, -7.3) {
		t.Errorf("single value mean: expected -7.3, got %v", got)
	}
	if got := AggregatePower([]float64{-7.3}, Median); !almostEqual(got, -7.3) {
		t.Errorf("single value median: expected -7.3, got %v", got)
	}
	if got := AggregatePower([]float64{-10, -10, -10}, Mean); !almostEqual(got, -10) {
		t.Errorf("constant mean: expected -10, got %v", got)
	}

	expected := 10 * math.Log10((math.Pow(10, -1)+math.Pow(10, -0.7))/2)
	got := AggregatePower([]float64{-10, -7}, Mean)
	if !almostEqual(got, expected) {
		t.Errorf("mean of -10/-7: expected %v, got %v", expected, got)
	}
	if math.Abs(got-(-8.2391)) > 1e-3 {
		t.Errorf("mean of -10/-7: expected about -8.239, got %v", got)
	}

	skewed := []float64{-10, -10, 0}
	mean := AggregatePower(skewed, Mean)
	median := AggregatePower(skewed, Median)
	if almostEqual(mean, median) {
		t.Errorf("expected mean and median to diverge on skewed input, both %v", mean)
	}
	if !almostEqual(median, -10) {
		t.Errorf("median: expected -10, got %v", median)
	}

	if got := AggregatePower(nil, Mean); !math.IsNaN(got) {
		t.Errorf("empty input: expected NaN, got %v", got)
	}
}

func TestAggregatorByName(t *testing.T) {
	for _, name := range []string{"", "mean", "average", "median"} {
		if _, err := AggregatorByName(name); err != nil {
			t.Errorf("%q: unexpected error: %v", name, err)
		}
	}
	if _, err := AggregatorByName("mode"); err == nil {
		t.Error("expected error for unknown aggregation")
	}
}

func TestMedian_DoesNotModifyInput(t *testing.T) {
	values := []float64{3, 1, 2, 4}
	if got := Median(values); got != 2.5 {
		t.Errorf("expected 2.5, got %v", got)
	}
	if values[0] != 3 || values[1] != 1 {
		t.Errorf("input was modified: %v", values)
	}
}

func TestFuse(t *testing.T) {
	fused, err := Fuse([]float64{-5, -6, -7}, []float64{-1, -2, -3.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []float64{-4, -4, -3.5}
	for i := range expected {
		if !almostEqual(fused[i], expected[i]) {
			t.Errorf("entry %d: expected %v, got %v", i, expected[i], fused[i])
		}
	}

	if _, err = Fuse([]float64{1, 2, 3}, []float64{1, 2}); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("expected ErrSizeMismatch, got %v", err)
	}
}

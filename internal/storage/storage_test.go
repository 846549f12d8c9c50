package storage

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roman-kulish/radio-telescope/internal/spectrum"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newSample(t *testing.T, ts time.Time, offset float64) *spectrum.Sample {
	t.Helper()

	freqs := make([]float64, 11)
	dbs := make([]float64, 11)
	for i := range freqs {
		freqs[i] = 1419.9e6 + float64(i)*100e3
		dbs[i] = -6.4 + offset
	}

	s, err := spectrum.NewSample(ts, freqs, dbs)
	if err != nil {
		t.Fatalf("creating sample: %v", err)
	}
	return s
}

func newStore(t *testing.T, options ...func(s *FileStore)) *FileStore {
	t.Helper()

	store, err := NewFileStore(t.TempDir(), options...)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return store
}

func TestFileName(t *testing.T) {
	ts := time.Date(2024, 3, 1, 13, 4, 5, 999, time.FixedZone("CET", 3600))
	if got := FileName(ts); got != "telescope_data_20240301120405.json" {
		t.Errorf("unexpected filename: %s", got)
	}
	if !IsRecordFile(FileName(ts)) {
		t.Error("expected generated filename to be recognised")
	}
}

func TestFileStore_WriteRead(t *testing.T) {
	store := newStore(t)
	sample := newSample(t, baseTime.Add(123456*time.Microsecond), 0)

	filename, err := store.Write(sample)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filename != "telescope_data_20240301120000.json" {
		t.Errorf("unexpected filename: %s", filename)
	}

	b, err := os.ReadFile(filepath.Join(store.Dir(), filename))
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	if !strings.Contains(string(b), `"timestamp":"2024-03-01T12:00:00.123456Z"`) {
		t.Errorf("unexpected timestamp encoding: %s", b)
	}
	for _, key := range []string{`"frequency":[`, `"decibels":[`} {
		if !strings.Contains(string(b), key) {
			t.Errorf("expected key %s in %s", key, b)
		}
	}

	record, err := store.Read(filename)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !record.Timestamp.Equal(sample.Timestamp) {
		t.Errorf("expected timestamp %s, got %s", sample.Timestamp, record.Timestamp)
	}
	if record.Len() != sample.Len() {
		t.Errorf("expected %d bins, got %d", sample.Len(), record.Len())
	}

	if _, err = store.Write(sample); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists for second write, got %v", err)
	}

	entries, err := os.ReadDir(store.Dir())
	if err != nil {
		t.Fatalf("listing directory: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != filename {
		t.Errorf("expected only %s in the store, got %v", filename, entries)
	}
	info, err := entries[0].Info()
	if err != nil {
		t.Fatalf("stat record: %v", err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Errorf("unexpected record permissions %v", info.Mode().Perm())
	}

	b, err = os.ReadFile(filepath.Join(store.Dir(), filename))
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	if !strings.Contains(string(b), `"timestamp":"2024-03-01T12:00:00.123456Z"`) {
		t.Errorf("second write must not replace the record: %s", b)
	}
}

func TestFileStore_ReadAllSkipsMalformed(t *testing.T) {
	var logs bytes.Buffer
	store := newStore(t, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	// written out of order on purpose
	for _, offset := range []time.Duration{10 * time.Minute, 0, 5 * time.Minute} {
		if _, err := store.Write(newSample(t, baseTime.Add(offset), 0)); err != nil {
			t.Fatalf("writing sample: %v", err)
		}
	}

	files := map[string]string{
		"telescope_data_20240301115500.json": `{"timestamp": "2024-03-01T11:55:00", "frequency": [1, 2`,
		"telescope_data_20240301115000.json": `{"timestamp": "2024-03-01T11:50:00", "frequency": [1, 2], "decibels": [1]}`,
		"telescope_data_20240301114500.json": `{"timestamp": "2024-03-01T11:45:00.250000", "frequency": [1, 2], "decibels": [3, 4]}`,
		"telescope_data_20240301114000.png":  "not a record",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(store.Dir(), name), []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}

	ds, err := store.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{
		"telescope_data_20240301114500.json",
		"telescope_data_20240301120000.json",
		"telescope_data_20240301120500.json",
		"telescope_data_20240301121000.json",
	}
	got := ds.Filenames()
	if len(got) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("position %d: expected %s, got %s", i, expected[i], got[i])
		}
	}

	naive := ds.Records()[0]
	if naive.Timestamp.Location() != time.UTC || naive.Timestamp.Nanosecond() != 250000000 {
		t.Errorf("expected naive timestamp read as UTC, got %s", naive.Timestamp)
	}

	if strings.Count(logs.String(), "skipping malformed record") != 2 {
		t.Errorf("expected two warnings, got logs %q", logs.String())
	}
}

func TestParseTimestamp(t *testing.T) {
	testCases := []struct {
		input    string
		expected time.Time
	}{
		{"2024-03-01T12:00:00.123456", baseTime.Add(123456 * time.Microsecond)},
		{"2024-03-01T12:00:00", baseTime},
		{"2024-03-01 12:00:00", baseTime},
		{"2024-03-01T12:00:00Z", baseTime},
		{"2024-03-01T13:00:00+01:00", baseTime},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseTimestamp(tc.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tc.expected) || got.Location() != time.UTC {
				t.Errorf("expected %s, got %s", tc.expected, got)
			}
		})
	}

	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("expected error for invalid timestamp")
	}
}

func buildDataSet(t *testing.T, n int) *DataSet {
	t.Helper()

	records := make([]Record, n)
	for i := range records {
		ts := baseTime.Add(time.Duration(i) * 5 * time.Minute)
		records[i] = Record{Filename: FileName(ts), Sample: newSample(t, ts, float64(i)*0.01)}
	}
	return NewDataSet(records)
}

func TestDataSet_PrefixUpToIsMonotonic(t *testing.T) {
	ds := buildDataSet(t, 12)
	names := ds.Filenames()

	for i := 1; i < len(names); i++ {
		earlier := ds.PrefixUpTo(names[i-1])
		later := ds.PrefixUpTo(names[i])

		if earlier.Len() != i || later.Len() != i+1 {
			t.Fatalf("unexpected prefix sizes %d/%d at %d", earlier.Len(), later.Len(), i)
		}
		for _, r := range earlier.Records() {
			if _, ok := later.Find(r.Filename); !ok {
				t.Errorf("%s missing from the prefix of %s", r.Filename, names[i])
			}
		}

		last, err := later.Last()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if last.Filename != names[i] {
			t.Errorf("expected %s to be the last record, got %s", names[i], last.Filename)
		}
	}

	if ds.PrefixUpTo("telescope_data_19990101000000.json").Len() != 0 {
		t.Error("expected an empty prefix before the first record")
	}
}

func TestDataSet_TimeQueries(t *testing.T) {
	ds := buildDataSet(t, 6)

	if got := ds.Until(baseTime.Add(10 * time.Minute)).Len(); got != 3 {
		t.Errorf("Until: expected 3 records, got %d", got)
	}
	if got := ds.Until(baseTime.Add(-time.Second)).Len(); got != 0 {
		t.Errorf("Until: expected no records, got %d", got)
	}
	if got := ds.Since(baseTime.Add(20 * time.Minute)).Len(); got != 2 {
		t.Errorf("Since: expected 2 records, got %d", got)
	}
	if got := ds.Tail(4).Len(); got != 4 {
		t.Errorf("Tail: expected 4 records, got %d", got)
	}
	if got := ds.Tail(100).Len(); got != 6 {
		t.Errorf("Tail: expected 6 records, got %d", got)
	}

	if _, err := NewDataSet(nil).Last(); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestDataSet_PowerTrend(t *testing.T) {
	ds := buildDataSet(t, 3)

	points := ds.PowerTrend(spectrum.Mean)
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	for i, p := range points {
		expected := -6.4 + float64(i)*0.01
		if math.Abs(p.Power-expected) > 1e-9 {
			t.Errorf("point %d: expected %v, got %v", i, expected, p.Power)
		}
		if !p.Timestamp.Equal(baseTime.Add(time.Duration(i) * 5 * time.Minute)) {
			t.Errorf("point %d: unexpected timestamp %s", i, p.Timestamp)
		}
	}

	if got := ds.BandPowerTrend(spectrum.HydrogenBandLow, spectrum.HydrogenBandHigh, spectrum.Median); len(got) != 3 {
		t.Errorf("expected 3 band points, got %d", len(got))
	}
	if got := ds.BandPowerTrend(1e6, 2e6, spectrum.Mean); len(got) != 0 {
		t.Errorf("expected no points outside of the recorded band, got %d", len(got))
	}
}

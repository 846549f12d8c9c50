package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roman-kulish/radio-telescope/internal/spectrum"
)

const (
	// TimestampLayout is used when writing records: ISO-8601 in UTC with
	// microsecond precision.
	TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"
)

// naiveLayouts are accepted for records written without a zone, which are
// read as UTC. Fractional seconds are accepted by time.Parse implicitly.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// persistedRecord is the on-disk JSON representation of a sample.
type persistedRecord struct {
	Timestamp recordTime `json:"timestamp"`
	Frequency []float64  `json:"frequency"`
	Decibels  []float64  `json:"decibels"`
}

type recordTime time.Time

func (t recordTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(TimestampLayout))
}

func (t *recordTime) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}

	parsed, err := ParseTimestamp(v)
	if err != nil {
		return err
	}

	*t = recordTime(parsed)
	return nil
}

// ParseTimestamp parses an ISO-8601 timestamp with or without a zone.
// Timestamps without a zone are taken as UTC.
func ParseTimestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)

	if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return ts.UTC(), nil
	}

	for _, layout := range naiveLayouts {
		if ts, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return ts, nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid timestamp %q", v)
}

func encodeRecord(sample *spectrum.Sample) ([]byte, error) {
	return json.Marshal(persistedRecord{
		Timestamp: recordTime(sample.Timestamp),
		Frequency: nonNil(sample.Frequencies),
		Decibels:  nonNil(sample.Decibels),
	})
}

func decodeRecord(b []byte) (*spectrum.Sample, error) {
	var r persistedRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	if time.Time(r.Timestamp).IsZero() {
		return nil, fmt.Errorf("missing timestamp")
	}

	return spectrum.NewSample(time.Time(r.Timestamp), nonNil(r.Frequency), nonNil(r.Decibels))
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}

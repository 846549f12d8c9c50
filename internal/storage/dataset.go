package storage

import (
	"cmp"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/roman-kulish/radio-telescope/internal/spectrum"
)

// Record is a persisted sample annotated with its source filename.
type Record struct {
	Filename string
	*spectrum.Sample
}

// DataSet is an immutable, timestamp-ordered sequence of records. Queries
// return new data sets sharing the underlying samples.
type DataSet struct {
	records []Record
}

// NewDataSet orders records by timestamp, using the filename to break ties.
func NewDataSet(records []Record) *DataSet {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b Record) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.Filename, b.Filename)
	})

	return &DataSet{records: sorted}
}

// Len returns the number of records.
func (ds *DataSet) Len() int {
	return len(ds.records)
}

// Records returns the records in timestamp order.
func (ds *DataSet) Records() []Record {
	return slices.Clone(ds.records)
}

// Filenames returns the record filenames in timestamp order.
func (ds *DataSet) Filenames() []string {
	names := make([]string, len(ds.records))
	for i, r := range ds.records {
		names[i] = r.Filename
	}
	return names
}

// Last returns the most recent record.
func (ds *DataSet) Last() (Record, error) {
	if len(ds.records) == 0 {
		return Record{}, ErrNoData
	}
	return ds.records[len(ds.records)-1], nil
}

// Find returns the record with the given filename.
func (ds *DataSet) Find(filename string) (Record, bool) {
	for _, r := range ds.records {
		if r.Filename == filename {
			return r, true
		}
	}
	return Record{}, false
}

// PrefixUpTo returns every record whose filename is lexically less than or
// equal to filename. The result is everything known as of that record,
// provided filenames were derived from the record timestamps.
func (ds *DataSet) PrefixUpTo(filename string) *DataSet {
	return ds.filter(func(r Record) bool {
		return r.Filename <= filename
	})
}

// Until returns every record with a timestamp at or before t.
func (ds *DataSet) Until(t time.Time) *DataSet {
	n := sort.Search(len(ds.records), func(i int) bool {
		return ds.records[i].Timestamp.After(t)
	})
	return &DataSet{records: ds.records[:n:n]}
}

// Since returns every record with a timestamp at or after t.
func (ds *DataSet) Since(t time.Time) *DataSet {
	n := sort.Search(len(ds.records), func(i int) bool {
		return !ds.records[i].Timestamp.Before(t)
	})
	return &DataSet{records: ds.records[n:]}
}

// Tail returns at most the n most recent records.
func (ds *DataSet) Tail(n int) *DataSet {
	if n >= len(ds.records) {
		return ds
	}
	if n < 0 {
		n = 0
	}
	return &DataSet{records: ds.records[len(ds.records)-n:]}
}

// PowerTrend aggregates each record over its spectrum with the edge roll-off
// trimmed. Records with nothing left after trimming are left out.
func (ds *DataSet) PowerTrend(agg spectrum.Aggregator) []spectrum.PowerPoint {
	return ds.powerTrend(agg, func(r Record) ([]float64, []float64) {
		return spectrum.TrimEdges(r.Frequencies, r.Decibels)
	})
}

// BandPowerTrend aggregates each record over the fixed band (low, high).
// Records with no bins inside the band are left out.
func (ds *DataSet) BandPowerTrend(low, high float64, agg spectrum.Aggregator) []spectrum.PowerPoint {
	return ds.powerTrend(agg, func(r Record) ([]float64, []float64) {
		return spectrum.TrimBand(r.Frequencies, r.Decibels, low, high)
	})
}

func (ds *DataSet) powerTrend(agg spectrum.Aggregator, trim func(r Record) ([]float64, []float64)) []spectrum.PowerPoint {
	points := make([]spectrum.PowerPoint, 0, len(ds.records))
	for _, r := range ds.records {
		_, dbs := trim(r)

		power := spectrum.AggregatePower(dbs, agg)
		if math.IsNaN(power) || math.IsInf(power, 0) {
			continue
		}

		points = append(points, spectrum.PowerPoint{Timestamp: r.Timestamp, Power: power})
	}
	return points
}

func (ds *DataSet) filter(keep func(r Record) bool) *DataSet {
	records := make([]Record, 0, len(ds.records))
	for _, r := range ds.records {
		if keep(r) {
			records = append(records, r)
		}
	}
	return &DataSet{records: records}
}

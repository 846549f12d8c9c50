// Package storage persists one JSON record per acquisition cycle and loads
// them back as an ordered data set.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roman-kulish/radio-telescope/internal/spectrum"
)

const (
	filePrefix     = "telescope_data_"
	fileExt        = ".json"
	fileTimeLayout = "20060102150405"
	tempPattern    = ".record-*.tmp"
)

var (
	// ErrExists is returned when a record for the same second was already written.
	ErrExists = errors.New("record already exists")

	// ErrNoData indicates that no records are available for the given query.
	ErrNoData = errors.New("no data available")
)

// FileName returns the record filename for a cycle started at t. Filenames
// embed the UTC timestamp at second resolution, so their lexical order is
// their chronological order.
func FileName(t time.Time) string {
	return filePrefix + t.UTC().Format(fileTimeLayout) + fileExt
}

// IsRecordFile reports whether name looks like a record filename.
func IsRecordFile(name string) bool {
	return strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileExt)
}

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) func(s *FileStore) {
	return func(s *FileStore) {
		s.logger = logger.With(slog.String("component", "storage"))
	}
}

// FileStore writes and reads records in a single directory. Records are
// write-once: an existing file is never overwritten.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

// NewFileStore creates a store for dir, which must be an existing directory.
func NewFileStore(dir string, options ...func(s *FileStore)) (*FileStore, error) {
	stat, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("storage directory '%s' does not exist: %w", dir, err)
		}
		return nil, fmt.Errorf("checking storage directory '%s': %w", dir, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory '%s'", dir)
	}

	s := FileStore{
		dir:    dir,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	return &s, nil
}

// Dir returns the store directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the absolute location of a record filename.
func (s *FileStore) Path(filename string) string {
	return filepath.Join(s.dir, filepath.Base(filename))
}

// Write persists the sample under the filename derived from its timestamp
// and returns that filename. The record is written to a temporary file and
// linked into place, so readers never see a partial record and an existing
// record is never replaced.
func (s *FileStore) Write(sample *spectrum.Sample) (filename string, err error) {
	data, err := encodeRecord(sample)
	if err != nil {
		return "", fmt.Errorf("encoding record: %w", err)
	}

	filename = FileName(sample.Timestamp)
	path := s.Path(filename)

	tmp, err := os.CreateTemp(s.dir, tempPattern)
	if err != nil {
		return "", fmt.Errorf("creating record file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err = writeTemp(tmp, data); err != nil {
		return "", fmt.Errorf("writing record file: %w", err)
	}

	if err = os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrExists, filename)
		}
		return "", fmt.Errorf("placing record file: %w", err)
	}

	return filename, nil
}

func writeTemp(f *os.File, data []byte) (err error) {
	defer closeWithError(f, &err)

	if _, err = f.Write(data); err != nil {
		return err
	}
	if err = f.Chmod(0o644); err != nil {
		return err
	}
	return f.Sync()
}

// Read loads a single record.
func (s *FileStore) Read(filename string) (Record, error) {
	sample, err := ReadSample(s.Path(filename))
	if err != nil {
		return Record{}, err
	}

	return Record{Filename: filepath.Base(filename), Sample: sample}, nil
}

// ReadSample loads a record file from any location, e.g. a baseline
// recorded with the antenna terminated.
func ReadSample(path string) (*spectrum.Sample, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading record %s: %w", filepath.Base(path), err)
	}

	sample, err := decodeRecord(b)
	if err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", filepath.Base(path), err)
	}

	return sample, nil
}

// ReadAll loads every record in the directory and returns them ordered by
// timestamp. Files that cannot be read or decoded are skipped with a warning.
func (s *FileStore) ReadAll(ctx context.Context) (*DataSet, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !IsRecordFile(entry.Name()) {
			continue
		}

		record, err := s.Read(entry.Name())
		if err != nil {
			s.logger.Warn("skipping malformed record", slog.String("file", entry.Name()), slog.String("error", err.Error()))
			continue
		}

		records = append(records, record)
	}

	s.logger.Debug("records loaded", slog.Int("count", len(records)))

	return NewDataSet(records), nil
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

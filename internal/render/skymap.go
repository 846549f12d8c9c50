package render

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

var ErrEmptySkyMap = errors.New("sky map has no data")

// SkyMap is an all-sky intensity matrix covering right ascension 24h to 0h
// from left to right and declination +90 to -90 degrees from top to bottom.
type SkyMap struct {
	values [][]float64
	bounds PowerBounds
}

// LoadSkyMap reads a sky map file, see ParseSkyMap.
func LoadSkyMap(path string) (_ *SkyMap, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening sky map: %w", err)
	}
	defer closeWithError(f, &err)

	m, err := ParseSkyMap(f)
	if err != nil {
		return nil, fmt.Errorf("reading sky map '%s': %w", path, err)
	}
	return m, nil
}

// ParseSkyMap reads a whitespace separated numeric matrix, one row per line.
// Blank lines and lines starting with '#' are ignored. Columns in the source
// run from right ascension 0h to 24h and are mirrored so that the map reads
// like the sky seen from the ground, east to the left.
func ParseSkyMap(r io.Reader) (*SkyMap, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var values [][]float64
	bounds := PowerBounds{Min: math.Inf(1), Max: math.Inf(-1)}

	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		if len(values) > 0 && len(fields) != len(values[0]) {
			return nil, fmt.Errorf("line %d: expected %d columns, got %d", line, len(values[0]), len(fields))
		}

		row := make([]float64, len(fields))
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			row[len(fields)-1-i] = v

			if !math.IsNaN(v) {
				bounds.Min = math.Min(bounds.Min, v)
				bounds.Max = math.Max(bounds.Max, v)
			}
		}
		values = append(values, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(values) == 0 || len(values[0]) == 0 {
		return nil, ErrEmptySkyMap
	}
	if math.IsInf(bounds.Min, 0) {
		bounds = PowerBounds{Min: 0, Max: 1}
	}

	return &SkyMap{values: values, bounds: bounds}, nil
}

func (m *SkyMap) Rows() int {
	return len(m.values)
}

func (m *SkyMap) Cols() int {
	return len(m.values[0])
}

// Bounds returns the range of values in the map.
func (m *SkyMap) Bounds() PowerBounds {
	return m.bounds
}

// At returns the value at the given position, with row 0 at declination +90
// and column 0 at right ascension 24h.
func (m *SkyMap) At(row, col int) float64 {
	return m.values[row][col]
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cerr := cl.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

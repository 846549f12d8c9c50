package spectrum

import (
	"bufio"
	"bytes"
	"io"
	"math"
	"strconv"
	"strings"
)

// maxLineSize bounds a single line of capture tool output.
const maxLineSize = 1024 * 1024

// ParseLines reads line oriented capture output where each data line starts
// with a frequency and a power value separated by whitespace. Additional
// columns are ignored. Lines that do not start with two finite floats
// (headers, comments, diagnostics, nan/inf readings) are skipped. The returned slices always have the
// same length and keep the source order of the valid lines.
func ParseLines(r io.Reader) (frequencies, decibels []float64, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		freq, db, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}

		frequencies = append(frequencies, freq)
		decibels = append(decibels, db)
	}

	return frequencies, decibels, scanner.Err()
}

// ParseOutput is ParseLines over an in-memory buffer. Reading from memory
// cannot fail, except for lines exceeding the maximum line size, which end
// the parse at that point.
func ParseOutput(output []byte) (frequencies, decibels []float64) {
	frequencies, decibels, _ = ParseLines(bytes.NewReader(output))
	return
}

func parseLine(line string) (freq, db float64, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, 0, false
	}

	freq, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, false
	}

	db, err = strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, 0, false
	}

	if !isFinite(freq) || !isFinite(db) {
		return 0, 0, false
	}

	return freq, db, true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

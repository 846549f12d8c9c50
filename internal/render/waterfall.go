package render

// NewWaterfall returns exactly length rows built from rows, which must be
// ordered most recent first. Extra rows beyond length are dropped from the
// old end. Missing rows are appended after the real ones as rows filled with
// sentinel, each as wide as the most recent real row. With no real rows the
// padding rows are empty.
//
// The returned rows share backing arrays with the input rows.
func NewWaterfall(rows [][]float64, length int, sentinel float64) [][]float64 {
	if length <= 0 {
		return [][]float64{}
	}
	if len(rows) >= length {
		return rows[:length:length]
	}

	width := 0
	if len(rows) > 0 {
		width = len(rows[0])
	}

	out := make([][]float64, 0, length)
	out = append(out, rows...)

	var pad []float64
	if width > 0 {
		pad = make([]float64, width)
		for i := range pad {
			pad[i] = sentinel
		}
	} else {
		pad = []float64{}
	}
	for len(out) < length {
		out = append(out, pad)
	}
	return out
}

package features

import (
	"errors"
	"fmt"
	"math"

	"SignalServe/internal/domain/models"
)

// ErrNotEnoughRows is returned when a table is shorter than one window.
var ErrNotEnoughRows = errors.New("not enough rows for one window")

// Windowed is a table whose rows join every column over a range of time offsets.
type Windowed struct {
	Columns []string
	Rows    [][]float64
}

// ColumnName names variable i (0-based) at the given time offset.
func ColumnName(i, offset int) string {
	switch {
	case offset < 0:
		return fmt.Sprintf("var%d(t-%d)", i+1, -offset)
	case offset > 0:
		return fmt.Sprintf("var%d(t+%d)", i+1, offset)
	default:
		return fmt.Sprintf("var%d(t)", i+1)
	}
}

// Offsets returns the time offsets joined into one windowed row, oldest first.
func Offsets(pastRows, futureRows int) []int {
	out := make([]int, 0, pastRows+futureRows+1)
	for k := pastRows; k >= -futureRows; k-- {
		out = append(out, -k)
	}
	return out
}

// Window joins, for every row t, all columns at offsets t-pastRows ... t+futureRows.
// Positions that fall outside the table hold NaN. With dropIncomplete those rows
// are removed, leaving max(0, n-pastRows-futureRows) rows.
func Window(table models.FeatureTable, pastRows, futureRows int, dropIncomplete bool) (Windowed, error) {
	if pastRows < 0 || futureRows < 0 {
		return Windowed{}, fmt.Errorf("negative window bounds: past=%d future=%d", pastRows, futureRows)
	}
	if err := table.Validate(); err != nil {
		return Windowed{}, fmt.Errorf("window: %w", err)
	}

	n, width := table.Len(), table.Width()
	offsets := Offsets(pastRows, futureRows)

	cols := make([]string, 0, len(offsets)*width)
	for _, off := range offsets {
		for i := 0; i < width; i++ {
			cols = append(cols, ColumnName(i, off))
		}
	}

	rows := make([][]float64, 0, n)
	for t := 0; t < n; t++ {
		complete := t-pastRows >= 0 && t+futureRows < n
		if dropIncomplete && !complete {
			continue
		}
		row := make([]float64, 0, len(cols))
		for _, off := range offsets {
			src := t + off
			if src < 0 || src >= n {
				for i := 0; i < width; i++ {
					row = append(row, math.NaN())
				}
				continue
			}
			row = append(row, table.Rows[src]...)
		}
		rows = append(rows, row)
	}
	return Windowed{Columns: cols, Rows: rows}, nil
}

// Reshape reinterprets a flat windowed row as (timesteps, features), oldest block first.
func Reshape(row []float64, timesteps, features int) ([][]float64, error) {
	if timesteps <= 0 || features <= 0 {
		return nil, fmt.Errorf("invalid shape (%d, %d)", timesteps, features)
	}
	if len(row) != timesteps*features {
		return nil, fmt.Errorf("row has %d values, cannot reshape to (%d, %d)", len(row), timesteps, features)
	}
	out := make([][]float64, timesteps)
	for t := range out {
		out[t] = row[t*features : (t+1)*features]
	}
	return out, nil
}

// AlignLabels drops the first timesteps-1 labels so y[i] matches the window
// ending at original row i+timesteps-1.
func AlignLabels(labels []float64, timesteps int) ([]float64, error) {
	if timesteps <= 0 {
		return nil, fmt.Errorf("invalid timesteps %d", timesteps)
	}
	if len(labels) < timesteps {
		return nil, ErrNotEnoughRows
	}
	return labels[timesteps-1:], nil
}

// BuildSamples turns a labeled table into an (N, timesteps, F) batch and N labels.
func BuildSamples(table models.FeatureTable, labels []float64, timesteps int) (*models.Tensor3, []float64, error) {
	if timesteps <= 0 {
		return nil, nil, fmt.Errorf("invalid timesteps %d", timesteps)
	}
	if len(labels) != table.Len() {
		return nil, nil, fmt.Errorf("%d labels for %d rows", len(labels), table.Len())
	}
	if table.Len() < timesteps {
		return nil, nil, fmt.Errorf("%d rows, %d timesteps: %w", table.Len(), timesteps, ErrNotEnoughRows)
	}

	w, err := Window(table, timesteps-1, 0, true)
	if err != nil {
		return nil, nil, err
	}
	y, err := AlignLabels(labels, timesteps)
	if err != nil {
		return nil, nil, err
	}

	f := table.Width()
	x := models.NewTensor3(len(w.Rows), timesteps, f)
	for b, row := range w.Rows {
		// Time-major layout of a windowed row is already the tensor layout.
		copy(x.Sample(b), row)
	}
	out := make([]float64, len(y))
	copy(out, y)
	return x, out, nil
}

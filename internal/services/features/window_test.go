package features

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"SignalServe/internal/domain/models"
)

func sampleTable() models.FeatureTable {
	return models.FeatureTable{Rows: [][]float64{{1, 10}, {2, 20}, {3, 30}, {4, 40}}}
}

func TestWindowConcreteScenario(t *testing.T) {
	w, err := Window(sampleTable(), 2, 0, true)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(w.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(w.Rows))
	}
	wantCols := []string{"var1(t-2)", "var2(t-2)", "var1(t-1)", "var2(t-1)", "var1(t)", "var2(t)"}
	if !reflect.DeepEqual(w.Columns, wantCols) {
		t.Fatalf("unexpected columns %v", w.Columns)
	}

	want := [][][]float64{
		{{1, 10}, {2, 20}, {3, 30}},
		{{2, 20}, {3, 30}, {4, 40}},
	}
	for i, row := range w.Rows {
		got, err := Reshape(row, 3, 2)
		if err != nil {
			t.Fatalf("reshape: %v", err)
		}
		if !reflect.DeepEqual(got, want[i]) {
			t.Fatalf("row %d: got %v want %v", i, got, want[i])
		}
	}
}

func TestWindowDeterministic(t *testing.T) {
	a, err := Window(sampleTable(), 1, 1, true)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	b, err := Window(sampleTable(), 1, 1, true)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("window is not deterministic")
	}
}

func TestWindowRowCountLaw(t *testing.T) {
	tests := []struct {
		past, future, want int
	}{
		{0, 0, 4},
		{1, 0, 3},
		{2, 1, 1},
		{3, 0, 1},
		{3, 1, 0},
		{6, 2, 0},
	}
	for _, tt := range tests {
		w, err := Window(sampleTable(), tt.past, tt.future, true)
		if err != nil {
			t.Fatalf("window(%d,%d): %v", tt.past, tt.future, err)
		}
		if len(w.Rows) != tt.want {
			t.Fatalf("window(%d,%d): expected %d rows, got %d", tt.past, tt.future, tt.want, len(w.Rows))
		}
	}
}

func TestWindowKeepsIncompleteRows(t *testing.T) {
	w, err := Window(sampleTable(), 1, 1, false)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(w.Rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(w.Rows))
	}
	first := w.Rows[0]
	if !math.IsNaN(first[0]) || !math.IsNaN(first[1]) {
		t.Fatalf("expected leading NaNs, got %v", first)
	}
	if first[2] != 1 || first[4] != 2 {
		t.Fatalf("unexpected first row %v", first)
	}
	last := w.Rows[3]
	if !math.IsNaN(last[4]) || !math.IsNaN(last[5]) {
		t.Fatalf("expected trailing NaNs, got %v", last)
	}
	if w.Columns[4] != "var1(t+1)" {
		t.Fatalf("unexpected future column %q", w.Columns[4])
	}
}

func TestWindowRejectsRaggedTable(t *testing.T) {
	_, err := Window(models.FeatureTable{Rows: [][]float64{{1, 2}, {3}}}, 1, 0, true)
	if err == nil {
		t.Fatalf("expected error for ragged rows")
	}
}

func TestReshapeOrder(t *testing.T) {
	got, err := Reshape([]float64{1, 2, 3, 4, 5, 6}, 3, 2)
	if err != nil {
		t.Fatalf("reshape: %v", err)
	}
	if got[0][0] != 1 || got[2][1] != 6 {
		t.Fatalf("oldest block must come first, got %v", got)
	}
	if _, err := Reshape([]float64{1, 2, 3}, 2, 2); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestAlignLabels(t *testing.T) {
	y := []float64{0, 1, 2, 3, 4, 5}
	got, err := AlignLabels(y, 3)
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	for i := range got {
		if got[i] != y[i+2] {
			t.Fatalf("y_out[%d]=%v want %v", i, got[i], y[i+2])
		}
	}
}

func TestBuildSamplesShape(t *testing.T) {
	rows := make([][]float64, 10)
	labels := make([]float64, 10)
	for i := range rows {
		rows[i] = []float64{float64(i), float64(i * 10), float64(i * 100)}
		labels[i] = float64(i % 2)
	}
	x, y, err := BuildSamples(models.FeatureTable{Rows: rows}, labels, 4)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if x.Shape() != [3]int{7, 4, 3} {
		t.Fatalf("unexpected shape %v", x.Shape())
	}
	if len(y) != 7 {
		t.Fatalf("expected 7 labels, got %d", len(y))
	}
	// sample i ends at original row i+3 and carries its label
	for i := 0; i < 7; i++ {
		if x.At(i, 3, 0) != float64(i+3) || x.At(i, 0, 0) != float64(i) {
			t.Fatalf("sample %d misordered", i)
		}
		if y[i] != labels[i+3] {
			t.Fatalf("label %d misaligned", i)
		}
	}
}

func TestBuildSamplesTooShort(t *testing.T) {
	_, _, err := BuildSamples(sampleTable(), []float64{0, 1, 0, 1}, 5)
	if !errors.Is(err, ErrNotEnoughRows) {
		t.Fatalf("expected ErrNotEnoughRows, got %v", err)
	}
}

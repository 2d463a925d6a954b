package models

import "fmt"

// FeatureTable is an ordered set of feature rows, oldest first.
type FeatureTable struct {
	Rows [][]float64
}

// Len returns the number of rows.
func (t FeatureTable) Len() int { return len(t.Rows) }

// Width returns the row arity (0 for an empty table).
func (t FeatureTable) Width() int {
	if len(t.Rows) == 0 {
		return 0
	}
	return len(t.Rows[0])
}

// Validate checks that every row has the same arity.
func (t FeatureTable) Validate() error {
	w := t.Width()
	for i, r := range t.Rows {
		if len(r) != w {
			return fmt.Errorf("row %d has %d values, expected %d", i, len(r), w)
		}
	}
	return nil
}

// Tensor3 is a dense (batch, timesteps, features) array, stored batch-major
// then time-major.
type Tensor3 struct {
	Batch     int
	Timesteps int
	Features  int
	Data      []float64
}

// NewTensor3 allocates a zeroed tensor.
func NewTensor3(batch, timesteps, features int) *Tensor3 {
	return &Tensor3{
		Batch:     batch,
		Timesteps: timesteps,
		Features:  features,
		Data:      make([]float64, batch*timesteps*features),
	}
}

// WindowTensor builds a (1, T, F) tensor from T rows of F values each.
func WindowTensor(rows [][]float64) (*Tensor3, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("window has no rows")
	}
	f := len(rows[0])
	x := NewTensor3(1, len(rows), f)
	for t, r := range rows {
		if len(r) != f {
			return nil, fmt.Errorf("row %d has %d values, expected %d", t, len(r), f)
		}
		copy(x.Data[t*f:(t+1)*f], r)
	}
	return x, nil
}

func (x *Tensor3) index(b, t, f int) int {
	return (b*x.Timesteps+t)*x.Features + f
}

// At returns the value at (b, t, f).
func (x *Tensor3) At(b, t, f int) float64 { return x.Data[x.index(b, t, f)] }

// Set stores v at (b, t, f).
func (x *Tensor3) Set(b, t, f int, v float64) { x.Data[x.index(b, t, f)] = v }

// Sample returns the flat (T*F) block of batch entry b, sharing storage.
func (x *Tensor3) Sample(b int) []float64 {
	n := x.Timesteps * x.Features
	return x.Data[b*n : (b+1)*n]
}

// Samples returns every batch entry as a flat block.
func (x *Tensor3) Samples() [][]float64 {
	out := make([][]float64, x.Batch)
	for b := range out {
		out[b] = x.Sample(b)
	}
	return out
}

// Shape returns (batch, timesteps, features).
func (x *Tensor3) Shape() [3]int { return [3]int{x.Batch, x.Timesteps, x.Features} }

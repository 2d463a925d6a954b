package nn

import "math/rand"

// gate is one affine transform of the input and the previous hidden state,
// a = x·W + h·U + b. Recurrent cells are built from several of them.
type gate struct {
	W      *param
	U      *param
	b      *param
	in     int
	hidden int
}

func newGate(prefix string, in, hidden int) *gate {
	return &gate{
		W:      newParam(prefix+"/kernel", in, hidden),
		U:      newParam(prefix+"/recurrent_kernel", hidden, hidden),
		b:      newParam(prefix+"/bias", 1, hidden),
		in:     in,
		hidden: hidden,
	}
}

func (g *gate) init(rng *rand.Rand) {
	g.W.glorot(rng)
	g.U.glorot(rng)
}

func (g *gate) params() []*param { return []*param{g.W, g.U, g.b} }

func (g *gate) preact(x, h []float64) []float64 {
	H := g.hidden
	a := make([]float64, H)
	copy(a, g.b.w)
	for i, xi := range x {
		if xi == 0 {
			continue
		}
		row := g.W.w[i*H : (i+1)*H]
		for j := range a {
			a[j] += xi * row[j]
		}
	}
	for k, hk := range h {
		if hk == 0 {
			continue
		}
		row := g.U.w[k*H : (k+1)*H]
		for j := range a {
			a[j] += hk * row[j]
		}
	}
	return a
}

// accumulate adds the parameter gradients for upstream gradient da.
func (g *gate) accumulate(x, h, da []float64) {
	H := g.hidden
	for i, xi := range x {
		row := g.W.g[i*H : (i+1)*H]
		for j, d := range da {
			row[j] += xi * d
		}
	}
	for k, hk := range h {
		row := g.U.g[k*H : (k+1)*H]
		for j, d := range da {
			row[j] += hk * d
		}
	}
	for j, d := range da {
		g.b.g[j] += d
	}
}

// backHidden adds da·Uᵀ into dh.
func (g *gate) backHidden(da, dh []float64) {
	H := g.hidden
	for k := range dh {
		row := g.U.w[k*H : (k+1)*H]
		var s float64
		for j, d := range da {
			s += row[j] * d
		}
		dh[k] += s
	}
}

// dense is a fully connected layer y = x·W + b.
type dense struct {
	W   *param
	b   *param
	in  int
	out int
}

func newDense(prefix string, in, out int) *dense {
	return &dense{
		W:   newParam(prefix+"/kernel", in, out),
		b:   newParam(prefix+"/bias", 1, out),
		in:  in,
		out: out,
	}
}

func (d *dense) init(rng *rand.Rand) { d.W.glorot(rng) }

func (d *dense) params() []*param { return []*param{d.W, d.b} }

func (d *dense) forward(x []float64) []float64 {
	y := make([]float64, d.out)
	copy(y, d.b.w)
	for i, xi := range x {
		row := d.W.w[i*d.out : (i+1)*d.out]
		for j := range y {
			y[j] += xi * row[j]
		}
	}
	return y
}

func (d *dense) accumulate(x, dy []float64) {
	for i, xi := range x {
		row := d.W.g[i*d.out : (i+1)*d.out]
		for j, g := range dy {
			row[j] += xi * g
		}
	}
	for j, g := range dy {
		d.b.g[j] += g
	}
}

func (d *dense) backInput(dy []float64) []float64 {
	dx := make([]float64, d.in)
	for i := range dx {
		row := d.W.w[i*d.out : (i+1)*d.out]
		var s float64
		for j, g := range dy {
			s += row[j] * g
		}
		dx[i] = s
	}
	return dx
}

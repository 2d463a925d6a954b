package nn

import (
	"math"
	"math/rand"
)

// param is one named weight tensor with its gradient and optimizer moments.
type param struct {
	name string
	rows int
	cols int
	w    []float64
	g    []float64
	m    []float64
	v    []float64
}

func newParam(name string, rows, cols int) *param {
	n := rows * cols
	return &param{
		name: name,
		rows: rows,
		cols: cols,
		w:    make([]float64, n),
		g:    make([]float64, n),
		m:    make([]float64, n),
		v:    make([]float64, n),
	}
}

// glorot fills w from U(-limit, limit), limit = sqrt(6 / (fan_in + fan_out)).
func (p *param) glorot(rng *rand.Rand) {
	limit := math.Sqrt(6 / float64(p.rows+p.cols))
	for i := range p.w {
		p.w[i] = (rng.Float64()*2 - 1) * limit
	}
}

func (p *param) fill(v float64) {
	for i := range p.w {
		p.w[i] = v
	}
}

func (p *param) zeroGrad() {
	for i := range p.g {
		p.g[i] = 0
	}
}

// adam implements the Adam update with Keras default hyper-parameters.
type adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64
	step  int
}

func newAdam(lr float64) *adam {
	return &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-7}
}

func (a *adam) update(params []*param) {
	a.step++
	t := float64(a.step)
	lrT := a.lr * math.Sqrt(1-math.Pow(a.beta2, t)) / (1 - math.Pow(a.beta1, t))
	for _, p := range params {
		for i, g := range p.g {
			p.m[i] = a.beta1*p.m[i] + (1-a.beta1)*g
			p.v[i] = a.beta2*p.v[i] + (1-a.beta2)*g*g
			p.w[i] -= lrT * p.m[i] / (math.Sqrt(p.v[i]) + a.eps)
		}
	}
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

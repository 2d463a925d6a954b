package nn

import (
	"math"
	"math/rand"
)

// recurrent consumes a sequence and returns its last hidden state. The returned
// function backpropagates a gradient on that state through time, accumulating
// parameter gradients.
type recurrent interface {
	params() []*param
	init(rng *rand.Rand)
	run(seq [][]float64) (h []float64, back func(dh []float64))
}

// gru follows the Keras GRU with reset_after=false:
//
//	z  = σ(x·Wz + h·Uz + bz)
//	r  = σ(x·Wr + h·Ur + br)
//	ĥ  = tanh(x·Wh + (r⊙h)·Uh + bh)
//	h' = z⊙h + (1-z)⊙ĥ
type gru struct {
	z, r, h *gate
	units   int
}

func newGRU(in, units int) *gru {
	return &gru{
		z:     newGate("gru/update", in, units),
		r:     newGate("gru/reset", in, units),
		h:     newGate("gru/candidate", in, units),
		units: units,
	}
}

func (c *gru) params() []*param {
	out := c.z.params()
	out = append(out, c.r.params()...)
	return append(out, c.h.params()...)
}

func (c *gru) init(rng *rand.Rand) {
	c.z.init(rng)
	c.r.init(rng)
	c.h.init(rng)
}

type gruStep struct {
	x, hPrev, z, r, rh, cand []float64
}

func (c *gru) run(seq [][]float64) ([]float64, func([]float64)) {
	H := c.units
	h := make([]float64, H)
	steps := make([]gruStep, len(seq))
	for t, x := range seq {
		s := gruStep{x: x, hPrev: h}
		s.z = c.z.preact(x, h)
		s.r = c.r.preact(x, h)
		s.rh = make([]float64, H)
		for j := 0; j < H; j++ {
			s.z[j] = sigmoid(s.z[j])
			s.r[j] = sigmoid(s.r[j])
			s.rh[j] = s.r[j] * h[j]
		}
		s.cand = c.h.preact(x, s.rh)
		next := make([]float64, H)
		for j := 0; j < H; j++ {
			s.cand[j] = math.Tanh(s.cand[j])
			next[j] = s.z[j]*h[j] + (1-s.z[j])*s.cand[j]
		}
		steps[t] = s
		h = next
	}

	back := func(dh []float64) {
		dh = append([]float64(nil), dh...)
		for t := len(steps) - 1; t >= 0; t-- {
			s := steps[t]
			daZ := make([]float64, H)
			daH := make([]float64, H)
			dPrev := make([]float64, H)
			for j := 0; j < H; j++ {
				dz := dh[j] * (s.hPrev[j] - s.cand[j])
				dc := dh[j] * (1 - s.z[j])
				dPrev[j] = dh[j] * s.z[j]
				daZ[j] = dz * s.z[j] * (1 - s.z[j])
				daH[j] = dc * (1 - s.cand[j]*s.cand[j])
			}
			c.h.accumulate(s.x, s.rh, daH)

			dRH := make([]float64, H)
			c.h.backHidden(daH, dRH)
			daR := make([]float64, H)
			for j := 0; j < H; j++ {
				dPrev[j] += dRH[j] * s.r[j]
				dr := dRH[j] * s.hPrev[j]
				daR[j] = dr * s.r[j] * (1 - s.r[j])
			}
			c.z.accumulate(s.x, s.hPrev, daZ)
			c.r.accumulate(s.x, s.hPrev, daR)
			c.z.backHidden(daZ, dPrev)
			c.r.backHidden(daR, dPrev)
			dh = dPrev
		}
	}
	return h, back
}

// lstm follows the Keras LSTM with unit_forget_bias=true:
//
//	i = σ(x·Wi + h·Ui + bi)    f = σ(x·Wf + h·Uf + bf)
//	g = tanh(x·Wc + h·Uc + bc) o = σ(x·Wo + h·Uo + bo)
//	c' = f⊙c + i⊙g             h' = o⊙tanh(c')
type lstm struct {
	i, f, g, o *gate
	units      int
}

func newLSTM(in, units int) *lstm {
	return &lstm{
		i:     newGate("lstm/input", in, units),
		f:     newGate("lstm/forget", in, units),
		g:     newGate("lstm/cell", in, units),
		o:     newGate("lstm/output", in, units),
		units: units,
	}
}

func (c *lstm) params() []*param {
	var out []*param
	for _, g := range []*gate{c.i, c.f, c.g, c.o} {
		out = append(out, g.params()...)
	}
	return out
}

func (c *lstm) init(rng *rand.Rand) {
	for _, g := range []*gate{c.i, c.f, c.g, c.o} {
		g.init(rng)
	}
	c.f.b.fill(1)
}

type lstmStep struct {
	x, hPrev, cPrev, i, f, g, o, tc []float64
}

func (c *lstm) run(seq [][]float64) ([]float64, func([]float64)) {
	H := c.units
	h := make([]float64, H)
	cell := make([]float64, H)
	steps := make([]lstmStep, len(seq))
	for t, x := range seq {
		s := lstmStep{x: x, hPrev: h, cPrev: cell}
		s.i = c.i.preact(x, h)
		s.f = c.f.preact(x, h)
		s.g = c.g.preact(x, h)
		s.o = c.o.preact(x, h)
		s.tc = make([]float64, H)
		nextH := make([]float64, H)
		nextC := make([]float64, H)
		for j := 0; j < H; j++ {
			s.i[j] = sigmoid(s.i[j])
			s.f[j] = sigmoid(s.f[j])
			s.g[j] = math.Tanh(s.g[j])
			s.o[j] = sigmoid(s.o[j])
			nextC[j] = s.f[j]*cell[j] + s.i[j]*s.g[j]
			s.tc[j] = math.Tanh(nextC[j])
			nextH[j] = s.o[j] * s.tc[j]
		}
		steps[t] = s
		h, cell = nextH, nextC
	}

	back := func(dh []float64) {
		dh = append([]float64(nil), dh...)
		dc := make([]float64, H)
		for t := len(steps) - 1; t >= 0; t-- {
			s := steps[t]
			daI := make([]float64, H)
			daF := make([]float64, H)
			daG := make([]float64, H)
			daO := make([]float64, H)
			dcPrev := make([]float64, H)
			for j := 0; j < H; j++ {
				do := dh[j] * s.tc[j]
				dcj := dc[j] + dh[j]*s.o[j]*(1-s.tc[j]*s.tc[j])
				daI[j] = dcj * s.g[j] * s.i[j] * (1 - s.i[j])
				daF[j] = dcj * s.cPrev[j] * s.f[j] * (1 - s.f[j])
				daG[j] = dcj * s.i[j] * (1 - s.g[j]*s.g[j])
				daO[j] = do * s.o[j] * (1 - s.o[j])
				dcPrev[j] = dcj * s.f[j]
			}
			dPrev := make([]float64, H)
			for _, p := range []struct {
				g  *gate
				da []float64
			}{{c.i, daI}, {c.f, daF}, {c.g, daG}, {c.o, daO}} {
				p.g.accumulate(s.x, s.hPrev, p.da)
				p.g.backHidden(p.da, dPrev)
			}
			dh, dc = dPrev, dcPrev
		}
	}
	return h, back
}

// Package nn is a small recurrent binary classifier: a GRU or LSTM layer,
// dropout, a relu dense layer and a single sigmoid output, trained with binary
// cross-entropy and Adam.
//
// A Network is not safe for concurrent use.
package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

const (
	CellGRU  = "gru"
	CellLSTM = "lstm"

	bceEpsilon = 1e-7
)

// ErrShape is returned when a sample does not have timesteps*features values.
var ErrShape = errors.New("sample shape does not match network input")

// Config sizes and tunes a network.
type Config struct {
	Cell         string  `yaml:"cell" default:"gru" validate:"oneof=gru lstm"`
	Units        int     `yaml:"units" default:"32" validate:"gte=1"`
	DenseUnits   int     `yaml:"dense_units" default:"32" validate:"gte=1"`
	Dropout      float64 `yaml:"dropout" default:"0.2" validate:"gte=0,lt=1"`
	LearningRate float64 `yaml:"learning_rate" default:"0.001" validate:"gt=0"`
	Seed         int64   `yaml:"seed"`
}

// DefaultConfig returns the architecture the training script has always used.
func DefaultConfig() Config {
	return Config{
		Cell:         CellGRU,
		Units:        32,
		DenseUnits:   32,
		Dropout:      0.2,
		LearningRate: 0.001,
	}
}

func (c Config) validate() error {
	if c.Cell != CellGRU && c.Cell != CellLSTM {
		return fmt.Errorf("unknown cell %q", c.Cell)
	}
	if c.Units <= 0 || c.DenseUnits <= 0 {
		return fmt.Errorf("units must be positive: units=%d dense=%d", c.Units, c.DenseUnits)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout %v out of range [0,1)", c.Dropout)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive")
	}
	return nil
}

// Network is the model: recurrent -> dropout -> dense(relu) -> dense(sigmoid).
type Network struct {
	cfg       Config
	timesteps int
	features  int

	rnn    recurrent
	hidden *dense
	out    *dense

	opt *adam
	rng *rand.Rand
}

// New builds a freshly initialized network for (timesteps, features) input.
func New(cfg Config, timesteps, features int) (*Network, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if timesteps <= 0 || features <= 0 {
		return nil, fmt.Errorf("invalid input shape (%d, %d)", timesteps, features)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	n := &Network{
		cfg:       cfg,
		timesteps: timesteps,
		features:  features,
		hidden:    newDense("dense", cfg.Units, cfg.DenseUnits),
		out:       newDense("dense_1", cfg.DenseUnits, 1),
		opt:       newAdam(cfg.LearningRate),
		rng:       rand.New(rand.NewSource(seed)),
	}
	switch cfg.Cell {
	case CellLSTM:
		n.rnn = newLSTM(features, cfg.Units)
	default:
		n.rnn = newGRU(features, cfg.Units)
	}
	n.rnn.init(n.rng)
	n.hidden.init(n.rng)
	n.out.init(n.rng)
	return n, nil
}

// Config returns the network configuration.
func (n *Network) Config() Config { return n.cfg }

// Timesteps returns the expected sequence length.
func (n *Network) Timesteps() int { return n.timesteps }

// Features returns the expected values per timestep.
func (n *Network) Features() int { return n.features }

func (n *Network) params() []*param {
	ps := n.rnn.params()
	ps = append(ps, n.hidden.params()...)
	return append(ps, n.out.params()...)
}

func (n *Network) sequence(sample []float64) ([][]float64, error) {
	if len(sample) != n.timesteps*n.features {
		return nil, fmt.Errorf("%w: got %d values, want %d x %d", ErrShape, len(sample), n.timesteps, n.features)
	}
	seq := make([][]float64, n.timesteps)
	for t := range seq {
		seq[t] = sample[t*n.features : (t+1)*n.features]
	}
	return seq, nil
}

// forward runs one sample. When train is set, dropout is applied and the
// returned function backpropagates dLoss/dLogit into the parameter gradients.
func (n *Network) forward(seq [][]float64, train bool) (float64, func(dlogit float64)) {
	h, backRNN := n.rnn.run(seq)

	mask := make([]float64, len(h))
	dropped := make([]float64, len(h))
	keep := 1 - n.cfg.Dropout
	for j := range h {
		mask[j] = 1
		if train && n.cfg.Dropout > 0 {
			if n.rng.Float64() < n.cfg.Dropout {
				mask[j] = 0
			} else {
				mask[j] = 1 / keep
			}
		}
		dropped[j] = h[j] * mask[j]
	}

	pre := n.hidden.forward(dropped)
	act := make([]float64, len(pre))
	for j, v := range pre {
		if v > 0 {
			act[j] = v
		}
	}
	logit := n.out.forward(act)[0]
	p := sigmoid(logit)

	if !train {
		return p, nil
	}
	back := func(dlogit float64) {
		dy := []float64{dlogit}
		n.out.accumulate(act, dy)
		dAct := n.out.backInput(dy)
		for j := range dAct {
			if pre[j] <= 0 {
				dAct[j] = 0
			}
		}
		n.hidden.accumulate(dropped, dAct)
		dDrop := n.hidden.backInput(dAct)
		for j := range dDrop {
			dDrop[j] *= mask[j]
		}
		backRNN(dDrop)
	}
	return p, back
}

// Predict returns the sigmoid output for one flat (timesteps*features) sample.
func (n *Network) Predict(sample []float64) (float64, error) {
	seq, err := n.sequence(sample)
	if err != nil {
		return 0, err
	}
	p, _ := n.forward(seq, false)
	return p, nil
}

// Fit trains for the given number of epochs over shuffled mini-batches and
// returns the mean training loss of every epoch.
func (n *Network) Fit(samples [][]float64, labels []float64, epochs, batchSize int) ([]float64, error) {
	if len(samples) == 0 {
		return nil, errors.New("no training samples")
	}
	if len(samples) != len(labels) {
		return nil, fmt.Errorf("%d samples, %d labels", len(samples), len(labels))
	}
	if epochs <= 0 || batchSize <= 0 {
		return nil, fmt.Errorf("invalid epochs=%d batch_size=%d", epochs, batchSize)
	}
	seqs := make([][][]float64, len(samples))
	for i, s := range samples {
		seq, err := n.sequence(s)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		seqs[i] = seq
	}

	params := n.params()
	order := make([]int, len(samples))
	for i := range order {
		order[i] = i
	}
	history := make([]float64, 0, epochs)

	for e := 0; e < epochs; e++ {
		n.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		var total float64
		for start := 0; start < len(order); start += batchSize {
			end := start + batchSize
			if end > len(order) {
				end = len(order)
			}
			for _, p := range params {
				p.zeroGrad()
			}
			scale := 1 / float64(end-start)
			for _, idx := range order[start:end] {
				p, back := n.forward(seqs[idx], true)
				total += bce(p, labels[idx])
				back((p - labels[idx]) * scale)
			}
			n.opt.update(params)
		}
		history = append(history, total/float64(len(order)))
	}
	return history, nil
}

// Evaluate returns mean binary cross-entropy and accuracy at threshold 0.5.
func (n *Network) Evaluate(samples [][]float64, labels []float64) (loss, acc float64, err error) {
	if len(samples) == 0 {
		return 0, 0, errors.New("no evaluation samples")
	}
	if len(samples) != len(labels) {
		return 0, 0, fmt.Errorf("%d samples, %d labels", len(samples), len(labels))
	}
	var correct int
	for i, s := range samples {
		p, err := n.Predict(s)
		if err != nil {
			return 0, 0, fmt.Errorf("sample %d: %w", i, err)
		}
		loss += bce(p, labels[i])
		if (p > 0.5) == (labels[i] > 0.5) {
			correct++
		}
	}
	count := float64(len(samples))
	return loss / count, float64(correct) / count, nil
}

func bce(p, y float64) float64 {
	p = math.Min(math.Max(p, bceEpsilon), 1-bceEpsilon)
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}

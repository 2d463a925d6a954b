package nn

import (
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func smallConfig(cell string) Config {
	return Config{Cell: cell, Units: 3, DenseUnits: 4, Dropout: 0, LearningRate: 0.01, Seed: 7}
}

func sampleLoss(n *Network, sample []float64, y float64) float64 {
	p, err := n.Predict(sample)
	if err != nil {
		panic(err)
	}
	return bce(p, y)
}

func TestGradientsMatchNumerical(t *testing.T) {
	for _, cell := range []string{CellGRU, CellLSTM} {
		t.Run(cell, func(t *testing.T) {
			n, err := New(smallConfig(cell), 3, 2)
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			sample := []float64{0.5, -0.2, 0.1, 0.8, -0.6, 0.3}
			const y = 1.0

			seq, _ := n.sequence(sample)
			for _, p := range n.params() {
				p.zeroGrad()
			}
			p, back := n.forward(seq, true)
			back(p - y)

			const eps = 1e-5
			for _, prm := range n.params() {
				for i := range prm.w {
					orig := prm.w[i]
					prm.w[i] = orig + eps
					plus := sampleLoss(n, sample, y)
					prm.w[i] = orig - eps
					minus := sampleLoss(n, sample, y)
					prm.w[i] = orig

					numeric := (plus - minus) / (2 * eps)
					if diff := math.Abs(numeric - prm.g[i]); diff > 1e-5+1e-3*math.Abs(numeric) {
						t.Fatalf("%s[%d]: analytic %.8f numeric %.8f", prm.name, i, prm.g[i], numeric)
					}
				}
			}
		})
	}
}

func toyData(n, timesteps, features int) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(3))
	xs := make([][]float64, n)
	ys := make([]float64, n)
	for i := range xs {
		s := make([]float64, timesteps*features)
		for j := range s {
			s[j] = rng.Float64()*2 - 1
		}
		if s[(timesteps-1)*features] > 0 {
			ys[i] = 1
		}
		xs[i] = s
	}
	return xs, ys
}

func TestFitReducesLoss(t *testing.T) {
	for _, cell := range []string{CellGRU, CellLSTM} {
		t.Run(cell, func(t *testing.T) {
			cfg := smallConfig(cell)
			cfg.Units = 8
			cfg.DenseUnits = 8
			n, err := New(cfg, 4, 2)
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			xs, ys := toyData(64, 4, 2)

			before, _, err := n.Evaluate(xs, ys)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			history, err := n.Fit(xs, ys, 30, 8)
			if err != nil {
				t.Fatalf("fit: %v", err)
			}
			if len(history) != 30 {
				t.Fatalf("expected 30 epoch losses, got %d", len(history))
			}
			after, acc, err := n.Evaluate(xs, ys)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if after >= before {
				t.Fatalf("loss did not decrease: before=%f after=%f", before, after)
			}
			if acc < 0 || acc > 1 {
				t.Fatalf("accuracy out of range: %f", acc)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 11
	n, err := New(cfg, 4, 3)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	path := filepath.Join(t.TempDir(), "models", "buy.model")
	desc, err := n.Save(path)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if desc.Input.Name != "gru_input:0" || desc.Output.Name != OutputTensor {
		t.Fatalf("unexpected tensor names %q %q", desc.Input.Name, desc.Output.Name)
	}
	if _, err := os.Stat(DescriptorPath(path)); err != nil {
		t.Fatalf("descriptor not written: %v", err)
	}

	loaded, got, err := Load(path, Config{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Digest != desc.Digest {
		t.Fatalf("digest changed: %s vs %s", got.Digest, desc.Digest)
	}
	if loaded.Timesteps() != 4 || loaded.Features() != 3 {
		t.Fatalf("unexpected shape (%d, %d)", loaded.Timesteps(), loaded.Features())
	}

	xs, _ := toyData(5, 4, 3)
	for i, s := range xs {
		a, _ := n.Predict(s)
		b, _ := loaded.Predict(s)
		if a != b {
			t.Fatalf("sample %d: %v != %v", i, a, b)
		}
	}
}

func TestLoadRejectsTamperedWeights(t *testing.T) {
	n, err := New(smallConfig(CellLSTM), 2, 2)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	path := filepath.Join(t.TempDir(), "sell.model")
	if _, err := n.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	raw[len(raw)-1] ^= 0xff
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := Load(path, Config{}); !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("expected ErrDigestMismatch, got %v", err)
	}
}

func TestLoadMissingDescriptor(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "nope.model"), Config{}); err == nil {
		t.Fatalf("expected error for missing artifact")
	}
}

func TestPredictShapeError(t *testing.T) {
	n, err := New(smallConfig(CellGRU), 3, 2)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := n.Predict([]float64{1, 2, 3}); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cell = "rnn"
	if _, err := New(cfg, 2, 2); err == nil {
		t.Fatalf("expected error for unknown cell")
	}
	if _, err := New(DefaultConfig(), 0, 2); err == nil {
		t.Fatalf("expected error for zero timesteps")
	}
}

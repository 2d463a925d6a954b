package repository

import (
	"errors"
	"fmt"
	"sync"

	"SignalServe/internal/domain/models"
	"SignalServe/internal/domain/repository"
	"SignalServe/pkg/nn"
)

// NNRuntime implements ModelRuntime on top of pkg/nn.
type NNRuntime struct {
	cfg nn.Config
}

// NewNNRuntime creates a runtime that builds and trains networks with cfg.
func NewNNRuntime(cfg nn.Config) repository.ModelRuntime {
	return &NNRuntime{cfg: cfg}
}

func signatureOf(n *nn.Network) models.ModelSignature {
	d := n.Describe()
	return models.ModelSignature{
		InputName:  d.Input.Name,
		OutputName: d.Output.Name,
		Timesteps:  n.Timesteps(),
		Features:   n.Features(),
	}
}

func (r *NNRuntime) Load(path string) (repository.InferenceModel, error) {
	n, desc, err := nn.Load(path, r.cfg)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	return &nnModel{net: n, sig: signatureOf(n), digest: desc.Digest}, nil
}

func (r *NNRuntime) NewTrainable(spec repository.ModelSpec) (repository.TrainableModel, error) {
	n, err := nn.New(r.cfg, spec.Timesteps, spec.Features)
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}
	return &nnTrainable{net: n}, nil
}

func (r *NNRuntime) Export(m repository.TrainableModel, path string) error {
	t, ok := m.(*nnTrainable)
	if !ok {
		return fmt.Errorf("export: unsupported model type %T", m)
	}
	if _, err := t.net.Save(path); err != nil {
		return fmt.Errorf("export model %s: %w", path, err)
	}
	return nil
}

var errModelClosed = errors.New("model handle closed")

type nnModel struct {
	mu     sync.Mutex
	net    *nn.Network
	sig    models.ModelSignature
	digest string
}

func (m *nnModel) Signature() models.ModelSignature { return m.sig }

func (m *nnModel) Digest() string { return m.digest }

func (m *nnModel) Infer(x *models.Tensor3) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.net == nil {
		return 0, errModelClosed
	}
	if x.Batch != 1 {
		return 0, fmt.Errorf("batch of %d, want 1", x.Batch)
	}
	return m.net.Predict(x.Sample(0))
}

// Close drops the weights; further Infer calls fail.
func (m *nnModel) Close() error {
	m.mu.Lock()
	m.net = nil
	m.mu.Unlock()
	return nil
}

type nnTrainable struct {
	net *nn.Network
}

func (t *nnTrainable) Signature() models.ModelSignature { return signatureOf(t.net) }

func (t *nnTrainable) Fit(x *models.Tensor3, y []float64, epochs, batchSize int) error {
	_, err := t.net.Fit(x.Samples(), y, epochs, batchSize)
	return err
}

func (t *nnTrainable) Evaluate(x *models.Tensor3, y []float64) (float64, float64, error) {
	return t.net.Evaluate(x.Samples(), y)
}

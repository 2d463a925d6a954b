package nn

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// FormatVersion identifies the artifact layout.
	FormatVersion = "signalserve-nn/v1"
	// DescriptorSuffix is appended to the weights path to name the sidecar.
	DescriptorSuffix = ".meta.yaml"
	// OutputTensor names the sigmoid output.
	OutputTensor = "dense_1/Sigmoid:0"
)

// ErrDigestMismatch is returned when the weights file does not match its descriptor.
var ErrDigestMismatch = errors.New("weights digest mismatch")

// TensorSpec names a tensor and its shape; -1 is the batch dimension.
type TensorSpec struct {
	Name  string `yaml:"name"`
	Shape []int  `yaml:"shape"`
}

// Descriptor is the YAML sidecar written next to every weights file.
type Descriptor struct {
	Format     string     `yaml:"format"`
	Cell       string     `yaml:"cell"`
	Units      int        `yaml:"units"`
	DenseUnits int        `yaml:"dense_units"`
	Input      TensorSpec `yaml:"input"`
	Output     TensorSpec `yaml:"output"`
	Weights    string     `yaml:"weights"`
	Digest     string     `yaml:"digest"`
	CreatedAt  time.Time  `yaml:"created_at"`
}

// InputTensor names the input placeholder of a cell type.
func InputTensor(cell string) string { return cell + "_input:0" }

// DescriptorPath returns the sidecar path for a weights file.
func DescriptorPath(weightsPath string) string { return weightsPath + DescriptorSuffix }

type weightsFile struct {
	Cell       string               `json:"cell"`
	Timesteps  int                  `json:"timesteps"`
	Features   int                  `json:"features"`
	Units      int                  `json:"units"`
	DenseUnits int                  `json:"dense_units"`
	Params     map[string][]float64 `json:"params"`
}

// Describe returns the descriptor of n without a digest.
func (n *Network) Describe() Descriptor {
	return Descriptor{
		Format:     FormatVersion,
		Cell:       n.cfg.Cell,
		Units:      n.cfg.Units,
		DenseUnits: n.cfg.DenseUnits,
		Input:      TensorSpec{Name: InputTensor(n.cfg.Cell), Shape: []int{-1, n.timesteps, n.features}},
		Output:     TensorSpec{Name: OutputTensor, Shape: []int{-1, 1}},
	}
}

// Save writes gzip-compressed JSON weights to path and the descriptor to
// DescriptorPath(path). It returns the written descriptor.
func (n *Network) Save(path string) (Descriptor, error) {
	wf := weightsFile{
		Cell:       n.cfg.Cell,
		Timesteps:  n.timesteps,
		Features:   n.features,
		Units:      n.cfg.Units,
		DenseUnits: n.cfg.DenseUnits,
		Params:     make(map[string][]float64),
	}
	for _, p := range n.params() {
		wf.Params[p.name] = p.w
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(wf); err != nil {
		return Descriptor{}, fmt.Errorf("encode weights: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Descriptor{}, fmt.Errorf("compress weights: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Descriptor{}, fmt.Errorf("create dir: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return Descriptor{}, fmt.Errorf("write weights: %w", err)
	}

	desc := n.Describe()
	desc.Weights = filepath.Base(path)
	desc.Digest = digest(buf.Bytes())
	desc.CreatedAt = time.Now().UTC()

	meta, err := yaml.Marshal(desc)
	if err != nil {
		return Descriptor{}, fmt.Errorf("encode descriptor: %w", err)
	}
	if err := os.WriteFile(DescriptorPath(path), meta, 0o644); err != nil {
		return Descriptor{}, fmt.Errorf("write descriptor: %w", err)
	}
	return desc, nil
}

// ReadDescriptor reads the sidecar of a weights file.
func ReadDescriptor(weightsPath string) (Descriptor, error) {
	var desc Descriptor
	raw, err := os.ReadFile(DescriptorPath(weightsPath))
	if err != nil {
		return desc, fmt.Errorf("read descriptor: %w", err)
	}
	if err := yaml.Unmarshal(raw, &desc); err != nil {
		return desc, fmt.Errorf("parse descriptor: %w", err)
	}
	if desc.Format != FormatVersion {
		return desc, fmt.Errorf("unsupported artifact format %q", desc.Format)
	}
	return desc, nil
}

// Load reads a network saved by Save. The weights digest must match the
// descriptor. The returned network uses cfg only for training hyper-parameters.
func Load(path string, cfg Config) (*Network, Descriptor, error) {
	desc, err := ReadDescriptor(path)
	if err != nil {
		return nil, desc, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, desc, fmt.Errorf("read weights: %w", err)
	}
	if got := digest(raw); got != desc.Digest {
		return nil, desc, fmt.Errorf("%w: descriptor %s, file %s", ErrDigestMismatch, desc.Digest, got)
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, desc, fmt.Errorf("decompress weights: %w", err)
	}
	defer zr.Close()
	var wf weightsFile
	if err := json.NewDecoder(zr).Decode(&wf); err != nil {
		return nil, desc, fmt.Errorf("decode weights: %w", err)
	}

	cfg.Cell = wf.Cell
	cfg.Units = wf.Units
	cfg.DenseUnits = wf.DenseUnits
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = DefaultConfig().LearningRate
	}
	n, err := New(cfg, wf.Timesteps, wf.Features)
	if err != nil {
		return nil, desc, fmt.Errorf("rebuild network: %w", err)
	}
	for _, p := range n.params() {
		w, ok := wf.Params[p.name]
		if !ok {
			return nil, desc, fmt.Errorf("weights missing %s", p.name)
		}
		if len(w) != len(p.w) {
			return nil, desc, fmt.Errorf("weights %s: got %d values, want %d", p.name, len(w), len(p.w))
		}
		copy(p.w, w)
	}
	return n, desc, nil
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}

package usecase

import (
	"context"
	"errors"
	"fmt"

	"SignalServe/internal/domain/models"
	"SignalServe/internal/domain/repository"
)

type fakeModel struct {
	sig    models.ModelSignature
	digest string
	value  float64
	infers int
	closed bool
	panics bool
}

func (m *fakeModel) Signature() models.ModelSignature { return m.sig }
func (m *fakeModel) Digest() string                   { return m.digest }

func (m *fakeModel) Close() error {
	m.closed = true
	return nil
}

func (m *fakeModel) Infer(x *models.Tensor3) (float64, error) {
	if m.panics {
		panic("runtime exploded")
	}
	if m.closed {
		return 0, errors.New("closed")
	}
	m.infers++
	return m.value, nil
}

type fakeTrainable struct {
	sig    models.ModelSignature
	epochs int
}

func (t *fakeTrainable) Signature() models.ModelSignature { return t.sig }

func (t *fakeTrainable) Fit(x *models.Tensor3, y []float64, epochs, batchSize int) error {
	t.epochs += epochs
	return nil
}

func (t *fakeTrainable) Evaluate(x *models.Tensor3, y []float64) (float64, float64, error) {
	return 0.5 / float64(t.epochs), 0.75, nil
}

// fakeRuntime serves models registered by path. Load always builds a new
// handle so slots never share one.
type fakeRuntime struct {
	artifacts map[string]models.ModelSignature
	loaded    []*fakeModel
	exported  map[string]*fakeTrainable
	values    map[string]float64
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		artifacts: map[string]models.ModelSignature{},
		exported:  map[string]*fakeTrainable{},
		values:    map[string]float64{},
	}
}

func (r *fakeRuntime) add(path string, timesteps, features int, value float64) {
	r.artifacts[path] = models.ModelSignature{
		InputName:  "gru_input:0",
		OutputName: "dense_1/Sigmoid:0",
		Timesteps:  timesteps,
		Features:   features,
	}
	r.values[path] = value
}

func (r *fakeRuntime) Load(path string) (repository.InferenceModel, error) {
	sig, ok := r.artifacts[path]
	if !ok {
		return nil, fmt.Errorf("open %s: no such file", path)
	}
	m := &fakeModel{sig: sig, digest: "sha256:" + path, value: r.values[path]}
	r.loaded = append(r.loaded, m)
	return m, nil
}

func (r *fakeRuntime) NewTrainable(spec repository.ModelSpec) (repository.TrainableModel, error) {
	return &fakeTrainable{sig: models.ModelSignature{Timesteps: spec.Timesteps, Features: spec.Features}}, nil
}

func (r *fakeRuntime) Export(m repository.TrainableModel, path string) error {
	t, ok := m.(*fakeTrainable)
	if !ok {
		return errors.New("foreign model")
	}
	r.exported[path] = t
	r.add(path, t.sig.Timesteps, t.sig.Features, 0.5)
	return nil
}

type fakeTables map[string]struct {
	table  models.FeatureTable
	labels []float64
}

func (f fakeTables) Load(path string) (models.FeatureTable, []float64, error) {
	e, ok := f[path]
	if !ok {
		return models.FeatureTable{}, nil, fmt.Errorf("open %s: no such file", path)
	}
	return e.table, e.labels, nil
}

type recordedEvents struct{ events []models.Event }

func (p *recordedEvents) Publish(_ context.Context, ev models.Event) error {
	p.events = append(p.events, ev)
	return nil
}
func (p *recordedEvents) Close() error { return nil }

type recordedRuns struct{ runs []models.TrainingRun }

func (r *recordedRuns) Record(_ context.Context, run models.TrainingRun) error {
	r.runs = append(r.runs, run)
	return nil
}
func (r *recordedRuns) Recent(context.Context, int) ([]models.TrainingRun, error) { return r.runs, nil }
func (r *recordedRuns) Close() error                                              { return nil }

type countingMetrics struct {
	noopMetrics
	outcomes map[string]int
	kinds    map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{outcomes: map[string]int{}, kinds: map[string]int{}}
}

func (m *countingMetrics) RecordCommand(command, outcome string) {
	m.outcomes[command+"/"+outcome]++
}

func (m *countingMetrics) RecordError(kind string) { m.kinds[kind]++ }

type mapCache map[string]float64

func (c mapCache) key(slot models.SlotName, digest string, rows [][]float64) string {
	return fmt.Sprint(slot, digest, rows)
}

func (c mapCache) Get(_ context.Context, slot models.SlotName, digest string, rows [][]float64) (float64, bool) {
	v, ok := c[c.key(slot, digest, rows)]
	return v, ok
}

func (c mapCache) Set(_ context.Context, slot models.SlotName, digest string, rows [][]float64, v float64) {
	c[c.key(slot, digest, rows)] = v
}

func seqTable(n, width int) (models.FeatureTable, []float64) {
	rows := make([][]float64, n)
	labels := make([]float64, n)
	for i := range rows {
		rows[i] = make([]float64, width)
		for j := range rows[i] {
			rows[i][j] = float64(i*10 + j)
		}
		labels[i] = float64(i % 2)
	}
	return models.FeatureTable{Rows: rows}, labels
}

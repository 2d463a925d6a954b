package repository

import (
	"context"

	"SignalServe/internal/domain/models"
)

// InferenceModel is a loaded, inference-only model handle.
type InferenceModel interface {
	Signature() models.ModelSignature
	Digest() string
	Infer(x *models.Tensor3) (float64, error)
	Close() error
}

// TrainableModel is an in-memory model that accumulates training.
type TrainableModel interface {
	Signature() models.ModelSignature
	Fit(x *models.Tensor3, y []float64, epochs, batchSize int) error
	Evaluate(x *models.Tensor3, y []float64) (loss, acc float64, err error)
}

// ModelSpec sizes a fresh trainable model.
type ModelSpec struct {
	Timesteps int
	Features  int
}

// ModelRuntime is the boundary to the numerical runtime.
type ModelRuntime interface {
	Load(path string) (InferenceModel, error)
	NewTrainable(spec ModelSpec) (TrainableModel, error)
	Export(m TrainableModel, path string) error
}

// TableLoader reads a labeled feature table.
type TableLoader interface {
	Load(path string) (models.FeatureTable, []float64, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev models.Event) error
	Close() error
}

type TrainingLog interface {
	Record(ctx context.Context, run models.TrainingRun) error
	Recent(ctx context.Context, limit int) ([]models.TrainingRun, error)
	Close() error
}

// PredictionCache memoizes inference results. digest identifies the loaded
// artifact, so a reload never serves values computed by the previous model.
type PredictionCache interface {
	Get(ctx context.Context, slot models.SlotName, digest string, rows [][]float64) (float64, bool)
	Set(ctx context.Context, slot models.SlotName, digest string, rows [][]float64, value float64)
}

type Metrics interface {
	RecordCommand(command, outcome string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordSlotLoaded(slot string, loaded bool)
	RecordTraining(loss, acc float64)
	RecordConnection(delta int)
}

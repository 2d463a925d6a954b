package usecase

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"SignalServe/internal/domain/models"
	"SignalServe/internal/domain/repository"
)

// TrainingSession is one in-progress trainable model with its prepared data.
// Fits accumulate across calls.
type TrainingSession struct {
	ID        string
	Model     repository.TrainableModel
	Inputs    *models.Tensor3
	Targets   []float64
	CSVPath   string
	EpochsRun int
	LastFit   *models.FitResult
	CreatedAt time.Time
}

func NewTrainingSession(m repository.TrainableModel, x *models.Tensor3, y []float64, csvPath string, at time.Time) *TrainingSession {
	return &TrainingSession{
		ID:        uuid.NewString(),
		Model:     m,
		Inputs:    x,
		Targets:   y,
		CSVPath:   csvPath,
		CreatedAt: at,
	}
}

func (s *TrainingSession) Timesteps() int { return s.Inputs.Timesteps }
func (s *TrainingSession) Features() int  { return s.Inputs.Features }
func (s *TrainingSession) Samples() int   { return s.Inputs.Batch }

// Fit trains for epochs more epochs, then evaluates on the same data.
func (s *TrainingSession) Fit(epochs, batchSize int) (models.FitResult, error) {
	start := time.Now()
	if err := s.Model.Fit(s.Inputs, s.Targets, epochs, batchSize); err != nil {
		return models.FitResult{}, fmt.Errorf("fit: %w", err)
	}
	loss, acc, err := s.Model.Evaluate(s.Inputs, s.Targets)
	if err != nil {
		return models.FitResult{}, fmt.Errorf("evaluate: %w", err)
	}
	res := models.FitResult{
		Epochs:    epochs,
		BatchSize: batchSize,
		Loss:      loss,
		Accuracy:  acc,
		Seconds:   time.Since(start).Seconds(),
	}
	s.EpochsRun += epochs
	s.LastFit = &res
	return res, nil
}

// Run describes the latest fit for the training log.
func (s *TrainingSession) Run(res models.FitResult, at time.Time) models.TrainingRun {
	return models.TrainingRun{
		SessionID:   s.ID,
		Timestamp:   at,
		CSVPath:     s.CSVPath,
		Timesteps:   s.Timesteps(),
		Features:    s.Features(),
		Samples:     s.Samples(),
		TotalEpochs: s.EpochsRun,
		Fit:         res,
	}
}

func (s *TrainingSession) State() models.SessionState {
	created := s.CreatedAt
	st := models.SessionState{
		Active:    true,
		ID:        s.ID,
		CSVPath:   s.CSVPath,
		Samples:   s.Samples(),
		Timesteps: s.Timesteps(),
		Features:  s.Features(),
		EpochsRun: s.EpochsRun,
		CreatedAt: &created,
	}
	if s.LastFit != nil {
		fit := *s.LastFit
		st.LastFit = &fit
	}
	return st
}

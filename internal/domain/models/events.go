package models

import "time"

// Event types published to the event stream.
const (
	EventModelLoaded   = "model_loaded"
	EventPrediction    = "prediction"
	EventTrainingFit   = "training_fit"
	EventModelExported = "model_exported"
)

// Event is an audit record of a state-changing or inference command.
type Event struct {
	Type      string     `json:"type"`
	Slot      SlotName   `json:"slot,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Path      string     `json:"path,omitempty"`
	Digest    string     `json:"digest,omitempty"`
	Value     *float64   `json:"value,omitempty"`
	Fit       *FitResult `json:"fit,omitempty"`
	Timestamp int64      `json:"t"` // ms
}

// Key returns the partition key: slot for slot events, session otherwise.
func (e Event) Key() string {
	if e.Slot != "" {
		return string(e.Slot)
	}
	return e.SessionID
}

// TrainingRun is one persisted train_fit result.
type TrainingRun struct {
	SessionID   string    `json:"session_id"`
	Timestamp   time.Time `json:"ts"`
	CSVPath     string    `json:"csv_path"`
	Timesteps   int       `json:"timesteps"`
	Features    int       `json:"features"`
	Samples     int       `json:"samples"`
	TotalEpochs int       `json:"total_epochs"`
	Fit         FitResult `json:"fit"`
}

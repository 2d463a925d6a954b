package models

import "time"

// ModelSignature describes the tensors a model consumes and produces.
type ModelSignature struct {
	InputName  string `json:"input_name"`
	OutputName string `json:"output_name"`
	Timesteps  int    `json:"timesteps"`
	Features   int    `json:"features"`
}

// SlotState is a read-only view of a slot.
type SlotState struct {
	Name      SlotName        `json:"name"`
	Loaded    bool            `json:"loaded"`
	Path      string          `json:"path,omitempty"`
	Digest    string          `json:"digest,omitempty"`
	Signature *ModelSignature `json:"signature,omitempty"`
	LoadedAt  *time.Time      `json:"loaded_at,omitempty"`
}

// SessionState is a read-only view of the training session.
type SessionState struct {
	Active    bool       `json:"active"`
	ID        string     `json:"id,omitempty"`
	CSVPath   string     `json:"csv_path,omitempty"`
	Samples   int        `json:"samples,omitempty"`
	Timesteps int        `json:"timesteps,omitempty"`
	Features  int        `json:"features,omitempty"`
	EpochsRun int        `json:"epochs_run,omitempty"`
	LastFit   *FitResult `json:"last_fit,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// ServerState is a snapshot of all process-wide state.
type ServerState struct {
	Slots   []SlotState  `json:"slots"`
	Session SessionState `json:"session"`
}

// FitResult summarizes one train_fit call.
type FitResult struct {
	Epochs    int     `json:"epochs"`
	BatchSize int     `json:"batch_size"`
	Loss      float64 `json:"loss"`
	Accuracy  float64 `json:"accuracy"`
	Seconds   float64 `json:"seconds"`
}

package usecase

import (
	"time"

	"SignalServe/internal/domain/models"
	"SignalServe/internal/domain/repository"
)

// Slot holds at most one loaded inference model. Not safe for concurrent use;
// the worker owns every slot.
type Slot struct {
	name     models.SlotName
	model    repository.InferenceModel
	path     string
	loadedAt time.Time
}

func NewSlot(name models.SlotName) *Slot {
	return &Slot{name: name}
}

func (s *Slot) Name() models.SlotName { return s.name }

// Model returns the current handle, if any.
func (s *Slot) Model() (repository.InferenceModel, bool) {
	return s.model, s.model != nil
}

// Replace installs m and releases the previous handle. The new handle is in
// place even when closing the old one fails.
func (s *Slot) Replace(m repository.InferenceModel, path string, at time.Time) error {
	old := s.model
	s.model, s.path, s.loadedAt = m, path, at
	if old != nil && old != m {
		return old.Close()
	}
	return nil
}

// Close releases the handle and empties the slot.
func (s *Slot) Close() error {
	old := s.model
	s.model, s.path, s.loadedAt = nil, "", time.Time{}
	if old != nil {
		return old.Close()
	}
	return nil
}

func (s *Slot) State() models.SlotState {
	st := models.SlotState{Name: s.name, Loaded: s.model != nil}
	if s.model == nil {
		return st
	}
	sig := s.model.Signature()
	at := s.loadedAt
	st.Path = s.path
	st.Digest = s.model.Digest()
	st.Signature = &sig
	st.LoadedAt = &at
	return st
}

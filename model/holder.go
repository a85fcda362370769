package model

import (
	"sync/atomic"
	"time"

	"sigverify/sigerr"
	"sigverify/siamese"
	"sigverify/types"
)

// Snapshot is a published model. Nothing in it changes after Publish, so a
// request that loaded it may keep using it while a newer one is installed.
type Snapshot struct {
	Artifact *Artifact
	Path     string
	LoadedAt time.Time
	// Test is the held-out split of the run that produced the model, when known
	Test types.Dataset
}

// NewSnapshot wraps an artifact loaded from (or saved to) path
func NewSnapshot(a *Artifact, path string, test types.Dataset) *Snapshot {
	return &Snapshot{Artifact: a, Path: path, LoadedAt: time.Now(), Test: test}
}

// Network returns the snapshot's network
func (s *Snapshot) Network() *siamese.Network {
	return s.Artifact.Network
}

// Holder is the process-wide slot for the serving model
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// NewHolder returns an empty holder
func NewHolder() *Holder {
	return &Holder{}
}

// Publish makes s the model every later Current call returns
func (h *Holder) Publish(s *Snapshot) {
	h.current.Store(s)
}

// Current returns the published snapshot or a ModelNotLoadedError
func (h *Holder) Current() (*Snapshot, error) {
	s := h.current.Load()
	if s == nil {
		return nil, &sigerr.ModelNotLoadedError{Reason: "no model has been trained or loaded"}
	}
	return s, nil
}

// Loaded reports whether a snapshot has been published
func (h *Holder) Loaded() bool {
	return h.current.Load() != nil
}

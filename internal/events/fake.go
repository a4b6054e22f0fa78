package events

import (
	"context"
	"sync"

	"github.com/lyzr/flowcore/internal/planning"
)

// Recorder is an in-memory Publish sink for tests — no Redis dependency.
type Recorder struct {
	mu      sync.Mutex
	ByRunID map[string][]planning.Event
}

// NewRecorder builds an empty event recorder.
func NewRecorder() *Recorder {
	return &Recorder{ByRunID: make(map[string][]planning.Event)}
}

// Publish records every event under runID.
func (r *Recorder) Publish(_ context.Context, runID string, evts []planning.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ByRunID[runID] = append(r.ByRunID[runID], evts...)
}

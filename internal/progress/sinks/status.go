package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/scholar-citations/internal/progress"
)

// Status is a point-in-time view of the current run.
type Status struct {
	RunID      string    `json:"run_id,omitempty"`
	State      string    `json:"state"`
	Total      int       `json:"total"`
	NextIndex  int       `json:"next_index"`
	Resolved   int       `json:"resolved"`
	NoResult   int       `json:"no_result"`
	Errored    int       `json:"errored"`
	Citations  int       `json:"citations"`
	Endpoint   string    `json:"endpoint,omitempty"`
	Suspended  bool      `json:"suspended"`
	LastNote   string    `json:"last_note,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
	Checkpoint int       `json:"checkpoints"`
}

// Run states reported by StatusSink.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
)

// StatusSink folds events into a Status snapshot for the status endpoint.
type StatusSink struct {
	mu     sync.RWMutex
	status Status
}

// NewStatusSink returns a sink reporting the idle state.
func NewStatusSink() *StatusSink {
	return &StatusSink{status: Status{State: StateIdle}}
}

// Consume applies the batch to the snapshot.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.apply(evt)
	}
	return nil
}

func (s *StatusSink) apply(evt progress.Event) {
	st := &s.status
	st.UpdatedAt = evt.TS
	switch evt.Stage {
	case progress.StageRunStart:
		*st = Status{
			RunID:     evt.RunUUID().String(),
			State:     StateRunning,
			Total:     evt.Total,
			NextIndex: evt.Index,
			Endpoint:  evt.Endpoint,
			UpdatedAt: evt.TS,
		}
	case progress.StageRunDone:
		st.State = StateDone
		st.Suspended = false
	case progress.StageRunError:
		st.State = StateFailed
		st.Suspended = false
		st.LastNote = evt.Note
	case progress.StageItemDone:
		st.NextIndex = evt.Index + 1
		switch evt.Outcome {
		case progress.OutcomeOK:
			st.Resolved++
			st.Citations += evt.Citations
		case progress.OutcomeNoResult:
			st.NoResult++
		case progress.OutcomeError:
			st.Errored++
			st.LastNote = evt.Note
		}
	case progress.StageCaptchaSuspend:
		st.Suspended = true
	case progress.StageCaptchaResume:
		st.Suspended = false
	case progress.StageEndpointRotate:
		st.Endpoint = evt.Endpoint
	case progress.StageCheckpointSaved:
		st.Checkpoint++
	}
}

// Snapshot returns a copy of the current status.
func (s *StatusSink) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Close implements the Sink interface; it performs no action.
func (s *StatusSink) Close(context.Context) error {
	return nil
}

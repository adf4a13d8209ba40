package progress

import "time"

// Recorder stamps events with the run ID and time before emitting them. A nil
// Recorder drops everything, so components can run without observers.
type Recorder struct {
	emitter Emitter
	runID   [16]byte
	now     func() time.Time
}

// NewRecorder binds an emitter to a run. now defaults to time.Now in UTC.
func NewRecorder(emitter Emitter, runID [16]byte, now func() time.Time) *Recorder {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Recorder{emitter: emitter, runID: runID, now: now}
}

// Record fills RunID and TS and forwards the event.
func (r *Recorder) Record(evt Event) {
	if r == nil || r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	if evt.TS.IsZero() {
		evt.TS = r.now()
	}
	r.emitter.Emit(evt)
}

// Package progress defines the events emitted by the retrieval engine and the
// hub that fans them out to observers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart        Stage = "RUN_START"
	StageRunDone         Stage = "RUN_DONE"
	StageRunError        Stage = "RUN_ERROR"
	StageItemDone        Stage = "ITEM_DONE"
	StageCaptchaSuspend  Stage = "CAPTCHA_SUSPEND"
	StageCaptchaResume   Stage = "CAPTCHA_RESUME"
	StageEndpointRotate  Stage = "ENDPOINT_ROTATE"
	StageCheckpointSaved Stage = "CHECKPOINT_SAVED"
)

// Item outcome labels carried by ITEM_DONE events.
const (
	OutcomeOK       = "ok"
	OutcomeNoResult = "no_result"
	OutcomeError    = "error"
)

// Event captures a single step of run progress.
type Event struct {
	// RunID identifies one invocation of the engine using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Index is the item position the event refers to (or the next index for
	// run and checkpoint events).
	Index int
	// Total is the number of items in the run; only set on RUN_START.
	Total    int
	Endpoint string
	URL      string
	// Outcome is one of the Outcome* labels for ITEM_DONE events.
	Outcome   string
	Citations int
	Dur       time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageCheckpointSaved, StageCaptchaSuspend, StageCaptchaResume:
	case StageItemDone:
		switch e.Outcome {
		case OutcomeOK, OutcomeNoResult, OutcomeError:
		default:
			return fmt.Errorf("item done requires a known outcome, got %q", e.Outcome)
		}
	case StageEndpointRotate:
		if e.Endpoint == "" {
			return errors.New("endpoint rotate requires endpoint")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Index < 0 {
		return errors.New("index must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

package retrieval

import (
	"context"
	"time"
)

// Fetcher performs one navigation and returns the rendered document root.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Classifier decides what a fetched page means and extracts citation counts
// from result payloads.
type Classifier interface {
	Classify(page []byte) (Classification, error)
	Citations(payload string) int
}

// Rotator owns the current search endpoint. Rotate returns an error wrapping
// endpoint.ErrExhausted once every variant has been used.
type Rotator interface {
	Current() string
	Rotate() (string, error)
}

// URLBuilder renders a search URL for a query against an endpoint.
type URLBuilder interface {
	SearchURL(endpoint string, query Query) string
}

// CheckpointStore persists full snapshots only.
type CheckpointStore interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context) (Checkpoint, bool, error)
}

// Checkpointer snapshots the caller's progress. The state machine calls it
// before every recovery action.
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// Resumer blocks until a human signals that a CAPTCHA has been solved.
type Resumer interface {
	AwaitResume(ctx context.Context) error
}

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, question string, def bool) (bool, error)
}

// Sleeper pauses for a fixed duration unless ctx ends first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

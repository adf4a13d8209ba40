package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-citations/internal/progress"
)

// State is a node of the per-item retrieval loop.
type State int

// Machine states. Resolve starts in StateBuildQuery and returns from one of
// the three terminal states.
const (
	StateBuildQuery State = iota
	StateFetch
	StateClassify
	StateResolveOK
	StateRetryCaptcha
	StateSuspended
	StateRetryRotated
	StateRetryTitleFallback
	StateDoneNoResult
	StateDoneError
)

func (s State) String() string {
	switch s {
	case StateBuildQuery:
		return "BUILD_QUERY"
	case StateFetch:
		return "FETCH"
	case StateClassify:
		return "CLASSIFY"
	case StateResolveOK:
		return "RESOLVE_OK"
	case StateRetryCaptcha:
		return "RETRY_CAPTCHA"
	case StateSuspended:
		return "SUSPENDED"
	case StateRetryRotated:
		return "RETRY_ROTATED"
	case StateRetryTitleFallback:
		return "RETRY_TITLE_FALLBACK"
	case StateDoneNoResult:
		return "DONE_NO_RESULT"
	case StateDoneError:
		return "DONE_ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Machine resolves one item at a time. The endpoint (held by the rotator) and
// the suspended flag are the only state that outlives a Resolve call.
type Machine struct {
	fetcher    Fetcher
	classifier Classifier
	rotator    Rotator
	urls       URLBuilder
	resumer    Resumer
	clock      Clock
	recorder   *progress.Recorder
	logger     *zap.Logger
	suspended  atomic.Bool
}

// NewMachine wires the collaborators of the retrieval loop. recorder may be nil.
func NewMachine(
	fetcher Fetcher,
	classifier Classifier,
	rotator Rotator,
	urls URLBuilder,
	resumer Resumer,
	clock Clock,
	recorder *progress.Recorder,
	logger *zap.Logger,
) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		fetcher:    fetcher,
		classifier: classifier,
		rotator:    rotator,
		urls:       urls,
		resumer:    resumer,
		clock:      clock,
		recorder:   recorder,
		logger:     logger,
	}
}

// Suspended reports whether the machine is waiting for a human to solve a
// CAPTCHA.
func (m *Machine) Suspended() bool {
	return m.suspended.Load()
}

// Endpoint returns the endpoint the next query will use.
func (m *Machine) Endpoint() string {
	return m.rotator.Current()
}

// Resolve runs the state machine for one item. cp is invoked before every
// recovery action. The returned error is non-nil only when the run must stop:
// endpoint exhaustion, a failed checkpoint, or ctx cancellation. Per-item
// failures are reported in the Result note instead.
func (m *Machine) Resolve(ctx context.Context, item Item, cp Checkpointer) (Result, error) {
	start := m.clock.Now()
	logger := m.logger.With(zap.Int("index", item.Index))

	var (
		state   = StateBuildQuery
		query   Query
		target  string
		page    []byte
		verdict Classification
		failure error
	)
	for {
		switch state {
		case StateBuildQuery:
			query = LinkQuery(item)
			target = m.urls.SearchURL(m.rotator.Current(), query)
			state = StateFetch

		case StateFetch:
			body, err := m.fetcher.Fetch(ctx, target)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return Result{}, ctxErr
				}
				failure = fmt.Errorf("fetch %s: %w", target, err)
				state = StateDoneError
				continue
			}
			page = body
			state = StateClassify

		case StateClassify:
			v, err := m.classifier.Classify(page)
			if err != nil {
				failure = err
				state = StateDoneError
				continue
			}
			verdict = v
			state = m.next(verdict, query)
			if state == StateDoneError {
				failure = fmt.Errorf("unexpected outcome %s", verdict.Outcome)
			}

		case StateRetryCaptcha:
			logger.Warn("captcha required", zap.String("url", target))
			if err := m.checkpoint(ctx, cp); err != nil {
				return Result{}, err
			}
			state = StateSuspended

		case StateSuspended:
			if err := m.suspend(ctx, item, target); err != nil {
				return Result{}, err
			}
			state = StateFetch

		case StateRetryRotated:
			current := m.rotator.Current()
			logger.Warn("automated queries detected", zap.String("endpoint", current))
			if err := m.checkpoint(ctx, cp); err != nil {
				return Result{}, err
			}
			next, err := m.rotator.Rotate()
			if err != nil {
				return Result{}, fmt.Errorf("%w: rotate away from %s: %w", ErrFatal, current, err)
			}
			logger.Info("endpoint rotated", zap.String("endpoint", next))
			m.recorder.Record(progress.Event{
				Stage:    progress.StageEndpointRotate,
				Index:    item.Index,
				Endpoint: next,
			})
			target = m.urls.SearchURL(next, query)
			state = StateFetch

		case StateRetryTitleFallback:
			logger.Debug("no result for link query, retrying by title", zap.String("title", item.Title))
			query = TitleQuery(item)
			target = m.urls.SearchURL(m.rotator.Current(), query)
			state = StateFetch

		case StateResolveOK:
			res := Result{Citations: m.classifier.Citations(verdict.Payload)}
			m.finish(item, progress.OutcomeOK, res, target, start)
			return res, nil

		case StateDoneNoResult:
			logger.Warn("no search results", zap.String("title", item.Title))
			res := Result{Note: NoResultsNote}
			m.finish(item, progress.OutcomeNoResult, res, target, start)
			return res, nil

		case StateDoneError:
			logger.Warn("item failed", zap.String("url", target), zap.Error(failure))
			res := Result{Note: failure.Error()}
			m.finish(item, progress.OutcomeError, res, target, start)
			return res, nil

		default:
			return Result{}, fmt.Errorf("retrieval machine reached unknown state %s", state)
		}
	}
}

func (m *Machine) next(verdict Classification, query Query) State {
	switch verdict.Outcome {
	case OutcomeOK:
		return StateResolveOK
	case OutcomeCaptcha:
		return StateRetryCaptcha
	case OutcomeRateLimited:
		return StateRetryRotated
	case OutcomeNoResult:
		if query.Kind == QueryByTitle {
			return StateDoneNoResult
		}
		return StateRetryTitleFallback
	default:
		return StateDoneError
	}
}

func (m *Machine) checkpoint(ctx context.Context, cp Checkpointer) error {
	if cp == nil {
		return nil
	}
	if err := cp.Checkpoint(ctx); err != nil {
		return fmt.Errorf("%w: checkpoint before recovery: %w", ErrFatal, err)
	}
	return nil
}

func (m *Machine) suspend(ctx context.Context, item Item, target string) error {
	if m.resumer == nil {
		return errors.New("captcha required but no resumer configured")
	}
	m.suspended.Store(true)
	defer m.suspended.Store(false)
	m.recorder.Record(progress.Event{Stage: progress.StageCaptchaSuspend, Index: item.Index, URL: target})
	if err := m.resumer.AwaitResume(ctx); err != nil {
		return fmt.Errorf("await captcha resume: %w", err)
	}
	m.recorder.Record(progress.Event{Stage: progress.StageCaptchaResume, Index: item.Index, URL: target})
	return nil
}

func (m *Machine) finish(item Item, outcome string, res Result, target string, start time.Time) {
	dur := m.clock.Now().Sub(start)
	if dur < 0 {
		dur = 0
	}
	m.recorder.Record(progress.Event{
		Stage:     progress.StageItemDone,
		Index:     item.Index,
		URL:       target,
		Outcome:   outcome,
		Citations: res.Citations,
		Dur:       dur,
		Note:      res.Note,
	})
}

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-citations/internal/progress"
)

// DefaultPacing is the pause between consecutive items.
const DefaultPacing = 500 * time.Millisecond

// RestoreQuestion is asked when a checkpoint exists at startup.
const RestoreQuestion = "Restore from checkpoint?"

// Resolver turns one item into exactly one Result. *Machine implements it.
type Resolver interface {
	Resolve(ctx context.Context, item Item, cp Checkpointer) (Result, error)
	Endpoint() string
}

// DriverConfig tunes the batch loop.
type DriverConfig struct {
	Pacing time.Duration
}

// Driver walks the item list in order and owns the results sequence and the
// next index. It is not safe for concurrent use.
type Driver struct {
	resolver  Resolver
	store     CheckpointStore
	confirmer Confirmer
	sleeper   Sleeper
	cfg       DriverConfig
	recorder  *progress.Recorder
	logger    *zap.Logger

	next    int
	results []Result
}

// NewDriver constructs a Driver. A nil confirmer accepts every restore.
func NewDriver(
	resolver Resolver,
	store CheckpointStore,
	confirmer Confirmer,
	sleeper Sleeper,
	cfg DriverConfig,
	recorder *progress.Recorder,
	logger *zap.Logger,
) *Driver {
	if cfg.Pacing < 0 {
		cfg.Pacing = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		resolver:  resolver,
		store:     store,
		confirmer: confirmer,
		sleeper:   sleeper,
		cfg:       cfg,
		recorder:  recorder,
		logger:    logger,
	}
}

// Run resolves items[next:] where next comes from a restored checkpoint or 0.
// On success len(results) == len(items). On a fatal error the results gathered
// so far are returned with the error; the last checkpoint was written before
// the failing recovery action.
func (d *Driver) Run(ctx context.Context, items []Item) ([]Result, error) {
	for i, item := range items {
		if item.Index != i {
			return nil, fmt.Errorf("item at position %d has index %d", i, item.Index)
		}
	}
	if err := d.restore(ctx, len(items)); err != nil {
		return nil, err
	}

	d.recorder.Record(progress.Event{
		Stage:    progress.StageRunStart,
		Index:    d.next,
		Total:    len(items),
		Endpoint: d.resolver.Endpoint(),
	})
	d.logger.Info("retrieval started",
		zap.Int("start_index", d.next),
		zap.Int("items", len(items)),
		zap.String("endpoint", d.resolver.Endpoint()),
	)

	for d.next < len(items) {
		item := items[d.next]
		res, err := d.resolver.Resolve(ctx, item, d)
		if err != nil {
			return d.fail(err)
		}
		d.results = append(d.results, res)
		d.next++
		d.logger.Debug("item resolved",
			zap.Int("index", item.Index),
			zap.Int("citations", res.Citations),
			zap.String("note", res.Note),
		)
		if d.next < len(items) && d.cfg.Pacing > 0 {
			if err := d.sleeper.Sleep(ctx, d.cfg.Pacing); err != nil {
				return d.fail(err)
			}
		}
	}

	if err := d.Checkpoint(ctx); err != nil {
		return d.fail(err)
	}
	d.recorder.Record(progress.Event{Stage: progress.StageRunDone, Index: d.next})
	d.logger.Info("retrieval finished", zap.Int("items", len(d.results)))
	return d.snapshot().Results, nil
}

// Checkpoint persists {next, results}. The machine calls it before recovery
// actions and Run calls it once after the last item.
func (d *Driver) Checkpoint(ctx context.Context) error {
	cp := d.snapshot()
	if err := cp.Validate(); err != nil {
		return err
	}
	if err := d.store.Save(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint at %d: %w", cp.NextIndex, err)
	}
	d.recorder.Record(progress.Event{Stage: progress.StageCheckpointSaved, Index: cp.NextIndex})
	d.logger.Debug("checkpoint saved", zap.Int("next_index", cp.NextIndex))
	return nil
}

func (d *Driver) restore(ctx context.Context, total int) error {
	d.next = 0
	d.results = make([]Result, 0, total)

	cp, found, err := d.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if !found {
		return nil
	}
	accept := true
	if d.confirmer != nil {
		accept, err = d.confirmer.Confirm(ctx, RestoreQuestion, true)
		if err != nil {
			return fmt.Errorf("confirm restore: %w", err)
		}
	}
	if !accept {
		d.logger.Info("checkpoint declined, starting from the first item", zap.Int("discarded_next_index", cp.NextIndex))
		return nil
	}
	if err := cp.Validate(); err != nil {
		return err
	}
	if cp.NextIndex > total {
		return fmt.Errorf("%w: next_index %d beyond %d items", ErrInvalidCheckpoint, cp.NextIndex, total)
	}
	d.next = cp.NextIndex
	d.results = append(d.results, cp.Results...)
	d.logger.Info("restored checkpoint", zap.Int("next_index", d.next))
	return nil
}

func (d *Driver) fail(err error) ([]Result, error) {
	note := err.Error()
	if errors.Is(err, context.Canceled) {
		note = "interrupted"
	}
	d.recorder.Record(progress.Event{Stage: progress.StageRunError, Index: d.next, Note: note})
	d.logger.Error("retrieval stopped", zap.Int("next_index", d.next), zap.Error(err))
	return d.snapshot().Results, err
}

func (d *Driver) snapshot() Checkpoint {
	return Checkpoint{NextIndex: d.next, Results: d.results}.Clone()
}

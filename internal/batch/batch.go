// Package batch drains unprocessed transcripts through the classification
// pipeline and records each result exactly once.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/voc-classifier/internal/config"
	"github.com/sells-group/voc-classifier/internal/cost"
	"github.com/sells-group/voc-classifier/internal/lock"
	"github.com/sells-group/voc-classifier/internal/model"
	"github.com/sells-group/voc-classifier/internal/sink"
	"github.com/sells-group/voc-classifier/internal/store"
)

const lockName = "batch"

// ErrBatchInProgress is returned when another run holds the batch lock.
var ErrBatchInProgress = eris.New("batch: another run is in progress")

// Classifier turns one raw record into a normalized record.
type Classifier interface {
	Classify(ctx context.Context, raw model.RawRecord) (*model.NormalizedRecord, model.Usage, error)
}

// Store is the subset of store.Store a batch run needs.
type Store interface {
	ListUnprocessed(ctx context.Context, limit int) ([]model.RawRecord, error)
	Complete(ctx context.Context, rec *model.NormalizedRecord) error
}

// Notifier is told about every finished batch.
type Notifier interface {
	Notify(ctx context.Context, s *model.BatchSummary) int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLocker replaces the default in-process lock.
func WithLocker(l lock.Locker) Option {
	return func(c *Coordinator) { c.locker = l }
}

// WithSink publishes every committed record to s.
func WithSink(s sink.Sink) Option {
	return func(c *Coordinator) { c.sink = s }
}

// WithNotifier reports each summary to n after the run.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithPricing prices the run's token usage for modelID.
func WithPricing(calc *cost.Calculator, modelID string) Option {
	return func(c *Coordinator) {
		c.pricer = calc
		c.modelID = modelID
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator runs batches. It is safe for concurrent use; overlapping runs
// are rejected through the locker.
type Coordinator struct {
	store      Store
	classifier Classifier
	cfg        config.BatchConfig
	locker     lock.Locker
	sink       sink.Sink
	notifier   Notifier
	pricer     *cost.Calculator
	modelID    string
	now        func() time.Time
}

// New creates a Coordinator.
func New(st Store, classifier Classifier, cfg config.BatchConfig, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      st,
		classifier: classifier,
		cfg:        cfg,
		locker:     lock.NewLocal(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunBatch classifies up to maxItems unprocessed records (the configured
// default when maxItems <= 0). Only lock acquisition and the initial fetch
// fail the run; item failures are counted in the summary.
//
// Cancelling ctx stops new items from starting. Items already started run to
// completion so no record is left half persisted.
func (c *Coordinator) RunBatch(ctx context.Context, maxItems int) (*model.BatchSummary, error) {
	if maxItems <= 0 {
		maxItems = c.cfg.DefaultSize
	}

	release, err := c.locker.TryLock(ctx, lockName, c.lockTTL())
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, ErrBatchInProgress
		}
		return nil, eris.Wrap(err, "batch: acquire lock")
	}
	defer release()

	start := c.now()
	summary := &model.BatchSummary{
		RunID:     uuid.NewString(),
		Requested: maxItems,
		StartedAt: start,
	}
	log := zap.L().With(zap.String("run_id", summary.RunID))

	records, err := c.store.ListUnprocessed(ctx, maxItems)
	if err != nil {
		return nil, eris.Wrap(err, "batch: list unprocessed")
	}
	summary.Fetched = len(records)

	if len(records) == 0 {
		log.Info("batch: nothing to process")
		summary.ElapsedMs = c.now().Sub(start).Milliseconds()
		return summary, nil
	}

	log.Info("batch: processing",
		zap.Int("records", len(records)),
		zap.Int("concurrency", c.concurrency()),
	)

	// Started items finish on a context that ignores the caller's cancel.
	work := context.WithoutCancel(ctx)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.concurrency())

	for _, raw := range records {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// A slot may free up after cancellation.
			if ctx.Err() != nil {
				return nil
			}
			res := c.process(work, log, raw)
			mu.Lock()
			summary.Record(res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary.Cancelled = ctx.Err() != nil
	summary.ElapsedMs = c.now().Sub(start).Milliseconds()
	if c.pricer != nil {
		summary.CostUSD = c.pricer.Usage(c.modelID, summary.Usage)
	}

	log.Info("batch: complete",
		zap.Int("processed", summary.ProcessedCount),
		zap.Int("errors", summary.ErrorCount),
		zap.Int("skipped", summary.SkippedCount),
		zap.Bool("cancelled", summary.Cancelled),
		zap.Int64("tokens", summary.Usage.Total()),
		zap.Float64("cost_usd", summary.CostUSD),
		zap.Int64("elapsed_ms", summary.ElapsedMs),
	)

	if c.notifier != nil {
		c.notifier.Notify(work, summary)
	}
	return summary, nil
}

// process classifies and persists one record. It never returns an error;
// the outcome is carried by the ItemResult.
func (c *Coordinator) process(ctx context.Context, log *zap.Logger, raw model.RawRecord) model.ItemResult {
	res := model.ItemResult{RawID: raw.ID, SourceID: raw.SourceID}
	log = log.With(zap.Int64("raw_id", raw.ID), zap.String("source_id", raw.SourceID))

	rec, usage, err := c.classifier.Classify(ctx, raw)
	res.Usage = usage
	if err != nil {
		res.Stage, res.Err = model.StageClassify, err
		log.Error("batch: item failed", zap.String("stage", string(res.Stage)), zap.Error(err))
		return res
	}

	if err := c.store.Complete(ctx, rec); err != nil {
		if errors.Is(err, store.ErrAlreadyProcessed) {
			res.Stage = model.StageSkipped
			log.Info("batch: item already processed, skipped")
			return res
		}
		res.Stage, res.Err = model.StagePersist, err
		log.Error("batch: item failed", zap.String("stage", string(res.Stage)), zap.Error(err))
		return res
	}

	res.Stage, res.Record = model.StageDone, rec
	if c.sink != nil {
		if err := c.sink.Publish(ctx, *rec); err != nil {
			log.Warn("batch: sink publish failed", zap.String("sink", c.sink.Name()), zap.Error(err))
		}
	}
	return res
}

func (c *Coordinator) concurrency() int {
	if c.cfg.Concurrency <= 0 {
		return 4
	}
	return c.cfg.Concurrency
}

// lockTTL is the lease length. Shared lockers renew it while the run holds
// the lock, so it only bounds how long a crashed run blocks the next one.
func (c *Coordinator) lockTTL() time.Duration {
	if c.cfg.LockTTLSecs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.cfg.LockTTLSecs) * time.Second
}

// Package sink forwards finished classifications to downstream consumers.
// Sinks are non-critical: a failed publish never fails the record.
package sink

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/voc-classifier/internal/model"
)

// Sink receives a NormalizedRecord after it has been committed.
type Sink interface {
	Publish(ctx context.Context, rec model.NormalizedRecord) error
	Name() string
}

// Multi fans a record out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Name() string { return "multi" }

func (m Multi) Publish(ctx context.Context, rec model.NormalizedRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async publishes on a background worker through a bounded queue. Publish
// never blocks and never returns an error: overflow and downstream failures
// are logged and dropped.
type Async struct {
	next    Sink
	queue   chan model.NormalizedRecord
	timeout time.Duration
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

// NewAsync starts the worker. queueSize <= 0 defaults to 256 and
// timeout <= 0 to 10s per publish.
func NewAsync(next Sink, queueSize int, timeout time.Duration) *Async {
	if queueSize <= 0 {
		queueSize = 256
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	a := &Async{
		next:    next,
		queue:   make(chan model.NormalizedRecord, queueSize),
		timeout: timeout,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) Name() string { return "async(" + a.next.Name() + ")" }

func (a *Async) Publish(_ context.Context, rec model.NormalizedRecord) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		zap.L().Warn("sink: publish after close dropped",
			zap.String("sink", a.next.Name()), zap.Int64("raw_id", rec.RawID))
		return nil
	}

	select {
	case a.queue <- rec:
	default:
		zap.L().Warn("sink: queue full, record dropped",
			zap.String("sink", a.next.Name()),
			zap.Int64("raw_id", rec.RawID),
			zap.Int("queue_size", cap(a.queue)),
		)
	}
	return nil
}

func (a *Async) run() {
	defer a.wg.Done()
	for rec := range a.queue {
		a.deliver(rec)
	}
}

func (a *Async) deliver(rec model.NormalizedRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.next.Publish(ctx, rec); err != nil {
		zap.L().Error("sink: publish failed",
			zap.String("sink", a.next.Name()),
			zap.Int64("id", rec.ID),
			zap.Int64("raw_id", rec.RawID),
			zap.Error(err),
		)
		return
	}
	zap.L().Debug("sink: published",
		zap.String("sink", a.next.Name()),
		zap.Int64("id", rec.ID),
	)
}

// Close stops accepting records and waits for the queue to drain or ctx to
// expire, whichever comes first.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

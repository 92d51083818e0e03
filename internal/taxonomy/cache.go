// Package taxonomy caches the consulting category set that drives prompt
// construction and category resolution.
package taxonomy

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/voc-classifier/internal/model"
)

const (
	// DefaultTTL is how long a fetched category set stays fresh.
	DefaultTTL = 30 * time.Minute
	// DefaultFetchTimeout bounds a single source fetch.
	DefaultFetchTimeout = 15 * time.Second

	flightKey = "categories"
)

// Source fetches the authoritative category set.
type Source interface {
	FetchCategories(ctx context.Context) ([]model.Category, error)
}

// Stats describes the current cache state.
type Stats struct {
	Count     int       `json:"count"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
	Fresh     bool      `json:"fresh"`
}

// snapshot is swapped whole so readers never see categories paired with
// another fetch's timestamp.
type snapshot struct {
	categories []model.Category
	fetchedAt  time.Time
}

// Cache is a TTL cache over a Source. A miss blocks on a fetch; concurrent
// misses share one fetch. Fetch failures are returned to the caller and the
// previous snapshot is never served past its TTL.
type Cache struct {
	source       Source
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	snap  atomic.Pointer[snapshot]
	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithFetchTimeout overrides DefaultFetchTimeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithClock sets the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates a cache over src.
func NewCache(src Source, opts ...Option) *Cache {
	c := &Cache{
		source:       src,
		ttl:          DefaultTTL,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Categories returns the cached category set, fetching from the source when
// the snapshot is missing or older than the TTL. The returned slice is a copy.
func (c *Cache) Categories(ctx context.Context) ([]model.Category, error) {
	if s := c.fresh(); s != nil {
		return slices.Clone(s.categories), nil
	}

	ch := c.group.DoChan(flightKey, func() (any, error) {
		// Another flight may have landed while this one was queued.
		if s := c.fresh(); s != nil {
			return s, nil
		}
		return c.fetch(ctx)
	})

	select {
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "taxonomy: wait for fetch")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.(*snapshot).categories), nil
	}
}

// Invalidate drops the snapshot so the next read fetches.
func (c *Cache) Invalidate() {
	c.snap.Store(nil)
	c.group.Forget(flightKey)
	zap.L().Info("taxonomy: cache invalidated")
}

// Refresh invalidates the snapshot and fetches immediately.
func (c *Cache) Refresh(ctx context.Context) ([]model.Category, error) {
	c.Invalidate()
	return c.Categories(ctx)
}

// Stats reports the snapshot size, its fetch time and whether it is fresh.
func (c *Cache) Stats() Stats {
	s := c.snap.Load()
	if s == nil {
		return Stats{}
	}
	return Stats{
		Count:     len(s.categories),
		FetchedAt: s.fetchedAt,
		Fresh:     c.now().Sub(s.fetchedAt) < c.ttl,
	}
}

func (c *Cache) fresh() *snapshot {
	s := c.snap.Load()
	if s == nil || c.now().Sub(s.fetchedAt) >= c.ttl {
		return nil
	}
	return s
}

// fetch is detached from the caller's cancellation since other readers may
// share it. The fetch timeout bounds it.
func (c *Cache) fetch(ctx context.Context) (*snapshot, error) {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
	defer cancel()

	start := c.now()
	categories, err := c.source.FetchCategories(fetchCtx)
	if err != nil {
		err = classify(err)
		zap.L().Error("taxonomy: fetch failed", zap.Error(err))
		return nil, err
	}
	if len(categories) == 0 {
		zap.L().Error("taxonomy: fetch returned no categories")
		return nil, ErrEmptyTaxonomy
	}

	s := &snapshot{categories: slices.Clone(categories), fetchedAt: c.now()}
	c.snap.Store(s)

	zap.L().Info("taxonomy: categories fetched",
		zap.Int("count", len(categories)),
		zap.Duration("elapsed", s.fetchedAt.Sub(start)),
	)
	return s, nil
}

// classify keeps the typed failure classes intact and treats anything else
// as a transport failure.
func classify(err error) error {
	var te *TransportError
	var me *MalformedResponseError
	var ee *EmptyTaxonomyError
	if errors.As(err, &te) || errors.As(err, &me) || errors.As(err, &ee) {
		return err
	}
	return &TransportError{Err: err}
}

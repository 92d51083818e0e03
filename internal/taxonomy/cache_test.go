package taxonomy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/voc-classifier/internal/model"
)

type fakeSource struct {
	calls atomic.Int32
	delay time.Duration

	mu         sync.Mutex
	categories []model.Category
	err        error
}

func (f *fakeSource) FetchCategories(ctx context.Context) ([]model.Category, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.categories, f.err
}

func (f *fakeSource) set(categories []model.Category, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categories = categories
	f.err = err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sampleCategories() []model.Category {
	return []model.Category{
		{ID: "23515d46", Name: "이용내역 안내"},
		{ID: "235166ea", Name: "도난/분실 신청/해제"},
	}
}

func newTestCache(src Source) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewCache(src, WithClock(clock.Now), WithTTL(30*time.Minute)), clock
}

func TestCategories_ServesSnapshotWithinTTL(t *testing.T) {
	src := &fakeSource{categories: sampleCategories()}
	cache, clock := newTestCache(src)
	ctx := context.Background()

	got, err := cache.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleCategories(), got)

	clock.Advance(29 * time.Minute)
	_, err = cache.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestCategories_RefetchesAfterTTL(t *testing.T) {
	src := &fakeSource{categories: sampleCategories()}
	cache, clock := newTestCache(src)
	ctx := context.Background()

	_, err := cache.Categories(ctx)
	require.NoError(t, err)

	updated := append(sampleCategories(), model.Category{ID: "235167ff", Name: "선결제/즉시출금"})
	src.set(updated, nil)
	clock.Advance(30 * time.Minute)

	got, err := cache.Categories(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestCategories_StaleSnapshotNotServedOnFailure(t *testing.T) {
	src := &fakeSource{categories: sampleCategories()}
	cache, clock := newTestCache(src)
	ctx := context.Background()

	_, err := cache.Categories(ctx)
	require.NoError(t, err)

	src.set(nil, errors.New("connection refused"))
	clock.Advance(31 * time.Minute)

	got, err := cache.Categories(ctx)
	require.Error(t, err)
	assert.Nil(t, got)

	var te *TransportError
	assert.True(t, errors.As(err, &te))
}

func TestCategories_EmptyListIsError(t *testing.T) {
	src := &fakeSource{categories: []model.Category{}}
	cache, _ := newTestCache(src)

	got, err := cache.Categories(context.Background())
	require.Error(t, err)
	assert.Nil(t, got)

	var ee *EmptyTaxonomyError
	assert.True(t, errors.As(err, &ee))
	assert.Equal(t, 0, cache.Stats().Count)
}

func TestCategories_TypedErrorsPassThrough(t *testing.T) {
	malformed := &MalformedResponseError{Err: errors.New("bad json")}
	src := &fakeSource{err: malformed}
	cache, _ := newTestCache(src)

	_, err := cache.Categories(context.Background())
	var me *MalformedResponseError
	require.True(t, errors.As(err, &me))
	assert.Same(t, malformed, me)
}

func TestCategories_ConcurrentMissesShareOneFetch(t *testing.T) {
	src := &fakeSource{categories: sampleCategories(), delay: 50 * time.Millisecond}
	cache, _ := newTestCache(src)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := cache.Categories(context.Background())
			if err == nil && len(got) != 2 {
				err = errors.New("unexpected category count")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestCategories_FetchTimeout(t *testing.T) {
	src := &fakeSource{categories: sampleCategories(), delay: time.Second}
	cache := NewCache(src, WithFetchTimeout(20*time.Millisecond))

	_, err := cache.Categories(context.Background())
	require.Error(t, err)
	var te *TransportError
	assert.True(t, errors.As(err, &te))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCategories_ReturnsCopy(t *testing.T) {
	src := &fakeSource{categories: sampleCategories()}
	cache, _ := newTestCache(src)

	got, err := cache.Categories(context.Background())
	require.NoError(t, err)
	got[0].Name = "mutated"

	again, err := cache.Categories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "이용내역 안내", again[0].Name)
}

func TestInvalidateAndRefresh(t *testing.T) {
	src := &fakeSource{categories: sampleCategories()}
	cache, _ := newTestCache(src)
	ctx := context.Background()

	_, err := cache.Categories(ctx)
	require.NoError(t, err)
	assert.True(t, cache.Stats().Fresh)

	cache.Invalidate()
	assert.Equal(t, Stats{}, cache.Stats())

	got, err := cache.Refresh(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestStats(t *testing.T) {
	src := &fakeSource{categories: sampleCategories()}
	cache, clock := newTestCache(src)

	_, err := cache.Categories(context.Background())
	require.NoError(t, err)

	stats := cache.Stats()
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, clock.Now(), stats.FetchedAt)
	assert.True(t, stats.Fresh)

	clock.Advance(45 * time.Minute)
	assert.False(t, cache.Stats().Fresh)
}

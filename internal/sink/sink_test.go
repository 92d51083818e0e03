package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sells-group/voc-classifier/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingSink collects published records and can block or fail on demand.
type recordingSink struct {
	mu    sync.Mutex
	got   []int64
	err   error
	block chan struct{}
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(ctx context.Context, rec model.NormalizedRecord) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, rec.ID)
	return s.err
}

func (s *recordingSink) ids() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.got...)
}

func TestAsync_DeliversAndDrains(t *testing.T) {
	next := &recordingSink{}
	a := NewAsync(next, 8, time.Second)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, a.Publish(context.Background(), model.NormalizedRecord{ID: i}))
	}
	require.NoError(t, a.Close(context.Background()))

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, next.ids())
}

func TestAsync_SwallowsFailures(t *testing.T) {
	next := &recordingSink{err: errors.New("dashboard down")}
	a := NewAsync(next, 4, time.Second)

	assert.NoError(t, a.Publish(context.Background(), model.NormalizedRecord{ID: 1}))
	require.NoError(t, a.Close(context.Background()))
	assert.Equal(t, []int64{1}, next.ids())
}

func TestAsync_DropsWhenFull(t *testing.T) {
	next := &recordingSink{block: make(chan struct{})}
	a := NewAsync(next, 1, time.Second)

	// The worker takes the first record and blocks; the second fills the
	// queue and the rest are dropped.
	require.NoError(t, a.Publish(context.Background(), model.NormalizedRecord{ID: 1}))
	require.Eventually(t, func() bool { return len(a.queue) == 0 }, time.Second, time.Millisecond)
	for i := int64(2); i <= 5; i++ {
		require.NoError(t, a.Publish(context.Background(), model.NormalizedRecord{ID: i}))
	}

	close(next.block)
	require.NoError(t, a.Close(context.Background()))
	assert.Equal(t, []int64{1, 2}, next.ids())
}

func TestAsync_PublishAfterClose(t *testing.T) {
	next := &recordingSink{}
	a := NewAsync(next, 1, time.Second)
	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))

	assert.NoError(t, a.Publish(context.Background(), model.NormalizedRecord{ID: 1}))
	assert.Empty(t, next.ids())
}

func TestAsync_CloseHonoursDeadline(t *testing.T) {
	next := &recordingSink{block: make(chan struct{})}
	a := NewAsync(next, 1, time.Minute)
	require.NoError(t, a.Publish(context.Background(), model.NormalizedRecord{ID: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Close(ctx), context.DeadlineExceeded)

	close(next.block)
	require.NoError(t, a.Close(context.Background()))
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{err: errors.New("boom")}

	err := Multi{ok, bad}.Publish(context.Background(), model.NormalizedRecord{ID: 7})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []int64{7}, ok.ids())
	assert.Equal(t, []int64{7}, bad.ids())

	assert.NoError(t, Multi{}.Publish(context.Background(), model.NormalizedRecord{}))
}

package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/voc-classifier/internal/batch"
	"github.com/sells-group/voc-classifier/internal/model"
)

type mockBatchRunner struct {
	mock.Mock
}

func (m *mockBatchRunner) RunBatch(ctx context.Context, maxItems int) (*model.BatchSummary, error) {
	args := m.Called(ctx, maxItems)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BatchSummary), args.Error(1)
}

func TestNewScheduler(t *testing.T) {
	c, err := newScheduler("0 2 * * *", "Asia/Seoul", func() {})
	require.NoError(t, err)
	require.Len(t, c.Entries(), 1)
	assert.Equal(t, "Asia/Seoul", c.Location().String())

	_, err = newScheduler("every night", "Asia/Seoul", func() {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse cron")

	_, err = newScheduler("0 2 * * *", "Mars/Olympus", func() {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load timezone")
}

func TestRunScheduledBatch(t *testing.T) {
	runner := &mockBatchRunner{}
	runner.On("RunBatch", mock.Anything, 0).Return(&model.BatchSummary{RunID: "r1", ProcessedCount: 3}, nil).Once()
	runner.On("RunBatch", mock.Anything, 0).Return(nil, batch.ErrBatchInProgress).Once()
	runner.On("RunBatch", mock.Anything, 0).Return(nil, errors.New("db down")).Once()

	for range 3 {
		runScheduledBatch(context.Background(), runner)
	}
	runner.AssertNumberOfCalls(t, "RunBatch", 3)
}

func TestRunScheduledBatch_SkipsAfterShutdown(t *testing.T) {
	runner := &mockBatchRunner{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runScheduledBatch(ctx, runner)
	runner.AssertNotCalled(t, "RunBatch", mock.Anything, mock.Anything)
}

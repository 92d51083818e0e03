package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchSummary_Record(t *testing.T) {
	var s BatchSummary

	s.Record(ItemResult{RawID: 1, Stage: StageDone, Usage: Usage{InputTokens: 10, OutputTokens: 5}})
	s.Record(ItemResult{RawID: 2, SourceID: "S2", Stage: StageClassify, Err: errors.New("model timeout")})
	s.Record(ItemResult{RawID: 3, Stage: StageSkipped})
	s.Record(ItemResult{RawID: 4, Stage: StageDone, Usage: Usage{InputTokens: 1, OutputTokens: 1}})

	assert.Equal(t, 2, s.ProcessedCount)
	assert.Equal(t, 1, s.ErrorCount)
	assert.Equal(t, 1, s.SkippedCount)
	assert.Equal(t, int64(17), s.Usage.Total())
	if assert.Len(t, s.Errors, 1) {
		assert.Equal(t, int64(2), s.Errors[0].RawID)
		assert.Equal(t, "S2", s.Errors[0].SourceID)
		assert.Equal(t, StageClassify, s.Errors[0].Stage)
		assert.Equal(t, "model timeout", s.Errors[0].Error)
	}
	assert.InDelta(t, 1.0/3.0, s.ErrorRate(), 0.0001)
}

func TestBatchSummary_ErrorRateEmpty(t *testing.T) {
	var s BatchSummary
	assert.Zero(t, s.ErrorRate())
}

func TestItemResult_OK(t *testing.T) {
	assert.True(t, ItemResult{Stage: StageDone}.OK())
	assert.False(t, ItemResult{Stage: StageDone, Err: errors.New("x")}.OK())
	assert.False(t, ItemResult{Stage: StageSkipped}.OK())
}

// Package monitoring reports processing progress and alerts on unhealthy
// batches.
package monitoring

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/voc-classifier/internal/model"
	"github.com/sells-group/voc-classifier/internal/store"
)

// RecentLimit is the number of recently processed records in a Status.
const RecentLimit = 5

// StatusSource is the read-only part of store.Store the Reporter needs.
type StatusSource interface {
	CountRaw(ctx context.Context) (store.RawCounts, error)
	CountNormalized(ctx context.Context) (int64, error)
	RecentProcessed(ctx context.Context, limit int) ([]model.RawRecord, error)
}

// Reporter builds point-in-time progress views. It never writes.
type Reporter struct {
	src StatusSource
	now func() time.Time
}

// NewReporter creates a Reporter over src.
func NewReporter(src StatusSource) *Reporter {
	return &Reporter{src: src, now: time.Now}
}

// Status collects counts, progress and the most recently processed records.
func (r *Reporter) Status(ctx context.Context) (*model.Status, error) {
	counts, err := r.src.CountRaw(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count raw")
	}
	normalized, err := r.src.CountNormalized(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count normalized")
	}
	recent, err := r.src.RecentProcessed(ctx, RecentLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: recent processed")
	}
	if recent == nil {
		recent = []model.RawRecord{}
	}

	return &model.Status{
		TotalRaw:        counts.Total,
		Processed:       counts.Processed,
		Unprocessed:     counts.Unprocessed(),
		Normalized:      normalized,
		ProgressPercent: progress(counts.Processed, counts.Total),
		RecentProcessed: recent,
		CollectedAt:     r.now().UTC(),
	}, nil
}

// progress returns processed/total as a percentage rounded to two decimals.
func progress(processed, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(processed)/float64(total)*10000) / 100
}

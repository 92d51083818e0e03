// Package store persists raw consulting transcripts and their classified
// results. Marking a raw record processed and inserting its normalized row
// always happen in one transaction.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/voc-classifier/internal/config"
	"github.com/sells-group/voc-classifier/internal/model"
)

var (
	// ErrAlreadyProcessed is returned by Complete when the raw record was
	// marked processed by someone else. Nothing is written in that case.
	ErrAlreadyProcessed = eris.New("store: raw record already processed")

	// ErrNotFound is returned by single-row lookups.
	ErrNotFound = eris.New("store: not found")
)

// RawCounts is the processed/unprocessed split of voc_raw.
type RawCounts struct {
	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
}

// Unprocessed returns Total minus Processed.
func (c RawCounts) Unprocessed() int64 {
	return c.Total - c.Processed
}

// Store defines the persistence interface for the classification pipeline.
type Store interface {
	// Raw records
	InsertRaw(ctx context.Context, records []model.RawRecord) (int64, error)
	ListUnprocessed(ctx context.Context, limit int) ([]model.RawRecord, error)
	RecentProcessed(ctx context.Context, limit int) ([]model.RawRecord, error)
	CountRaw(ctx context.Context) (RawCounts, error)

	// Complete inserts rec and flips its raw record to processed in one
	// transaction. rec.ID, CreatedAt and UpdatedAt are set on success.
	Complete(ctx context.Context, rec *model.NormalizedRecord) error

	// Normalized records
	GetNormalized(ctx context.Context, id int64) (*model.NormalizedRecord, error)
	// ListNormalized returns one page of records matching f, newest
	// consulting date first, and the number of records matching f.
	ListNormalized(ctx context.Context, f NormalizedFilter) ([]model.NormalizedRecord, int64, error)
	CountNormalized(ctx context.Context) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "postgres", "postgresql":
		st, err := NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
		if err != nil {
			return nil, err
		}
		return st, nil
	case "sqlite":
		st, err := NewSQLite(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "mysql":
		st, err := NewMySQL(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Driver)
	}
}

// NormalizedFilter selects normalized records by consulting date. From and
// To are inclusive days; a zero value leaves that end open.
type NormalizedFilter struct {
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// dateBounds returns the half-open range [from, until) on consulting_date.
func (f NormalizedFilter) dateBounds() (from, until *time.Time) {
	if !f.From.IsZero() {
		d := startOfDay(f.From)
		from = &d
	}
	if !f.To.IsZero() {
		d := startOfDay(f.To).AddDate(0, 0, 1)
		until = &d
	}
	return from, until
}

func (f NormalizedFilter) offset() int {
	return max(f.Offset, 0)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const defaultListLimit = 100

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}

// rawColumns is the column order used by every backend for voc_raw inserts.
var rawColumns = []string{
	"source_id", "consulting_date", "client_gender", "client_age",
	"consulting_turns", "consulting_length", "consulting_content",
	"processed", "created_at", "updated_at",
}

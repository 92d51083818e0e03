package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/voc-classifier/internal/model"
)

// Inserter persists raw records.
type Inserter interface {
	InsertRaw(ctx context.Context, records []model.RawRecord) (int64, error)
}

// Options configures an import.
type Options struct {
	Charset string // CSV only
	Sheet   string // XLSX only
	DryRun  bool
}

// Report summarizes one imported file.
type Report struct {
	File     string      `json:"file"`
	Rows     int         `json:"rows"`
	Imported int64       `json:"imported"`
	Rejected []Rejection `json:"rejected,omitempty"`
}

// ImportFile reads path (.csv or .xlsx), validates every row and inserts the
// valid ones. Rejected rows are reported, never inserted.
func ImportFile(ctx context.Context, ins Inserter, path string, opts Options) (*Report, error) {
	rows, err := readFile(path, opts)
	if err != nil {
		return nil, err
	}

	records, rejected, err := ParseRows(rows)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: %s", filepath.Base(path))
	}

	report := &Report{
		File:     path,
		Rows:     len(records) + len(rejected),
		Rejected: rejected,
	}
	log := zap.L().With(zap.String("file", path))
	for _, r := range rejected {
		log.Warn("ingest: row rejected", zap.Int("row", r.Row), zap.String("source_id", r.SourceID), zap.String("reason", r.Reason))
	}

	if opts.DryRun || len(records) == 0 {
		log.Info("ingest: nothing inserted", zap.Bool("dry_run", opts.DryRun), zap.Int("valid", len(records)))
		return report, nil
	}

	n, err := ins.InsertRaw(ctx, records)
	report.Imported = n
	if err != nil {
		return report, eris.Wrap(err, "ingest: insert raw records")
	}

	log.Info("ingest: file imported", zap.Int64("imported", n), zap.Int("rejected", len(rejected)))
	return report, nil
}

func readFile(path string, opts Options) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: open file")
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(f, opts.Charset)
	case ".xlsx":
		return ReadXLSX(path, opts.Sheet)
	default:
		return nil, eris.Errorf("ingest: unsupported file type %q", filepath.Ext(path))
	}
}

package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts rows into table using the COPY protocol.
func CopyFrom(ctx context.Context, pool Pool, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	return n, nil
}

// CopyInChunks copies rows in slices of at most chunk rows so a single bad
// file does not hold one huge COPY open. It returns the rows copied before
// any failure.
func CopyInChunks(ctx context.Context, pool Pool, table string, columns []string, rows [][]any, chunk int) (int64, error) {
	if chunk <= 0 {
		chunk = 1000
	}

	var total int64
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		n, err := CopyFrom(ctx, pool, table, columns, rows[start:end])
		total += n
		if err != nil {
			return total, eris.Wrapf(err, "db: chunk starting at row %d", start)
		}
	}
	return total, nil
}

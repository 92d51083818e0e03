package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/voc-classifier/internal/db"
	"github.com/sells-group/voc-classifier/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlListUnprocessed  = `SELECT id, source_id, consulting_date, client_gender, client_age, consulting_turns, consulting_length, consulting_content, processed, processed_at, created_at, updated_at FROM voc_raw WHERE processed = false ORDER BY id ASC LIMIT $1`
	sqlMarkProcessed    = `UPDATE voc_raw SET processed = true, processed_at = $1, updated_at = $1 WHERE id = $2 AND processed = false`
	sqlInsertNormalized = `INSERT INTO voc_normalized (raw_id, source_id, consulting_date, client_gender, client_age, consulting_turns, consulting_length, consulting_content, consulting_category, category_id, confidence, analysis_result, processing_time, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14) RETURNING id`
	sqlNormalizedSelect = `SELECT id, raw_id, source_id, consulting_date, client_gender, client_age, consulting_turns, consulting_length, consulting_content, consulting_category, category_id, confidence, analysis_result, processing_time, created_at, updated_at FROM voc_normalized`
	sqlGetNormalized    = sqlNormalizedSelect + ` WHERE id = $1`
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS voc_raw (
	id                 BIGSERIAL PRIMARY KEY,
	source_id          TEXT NOT NULL,
	consulting_date    DATE,
	client_gender      TEXT NOT NULL DEFAULT '',
	client_age         INTEGER NOT NULL DEFAULT 0,
	consulting_turns   INTEGER NOT NULL DEFAULT 0,
	consulting_length  INTEGER NOT NULL DEFAULT 0,
	consulting_content TEXT NOT NULL,
	processed          BOOLEAN NOT NULL DEFAULT false,
	processed_at       TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_voc_raw_unprocessed ON voc_raw(id) WHERE processed = false;
CREATE INDEX IF NOT EXISTS idx_voc_raw_processed_at ON voc_raw(processed_at DESC) WHERE processed = true;

CREATE TABLE IF NOT EXISTS voc_normalized (
	id                  BIGSERIAL PRIMARY KEY,
	raw_id              BIGINT NOT NULL UNIQUE REFERENCES voc_raw(id),
	source_id           TEXT NOT NULL,
	consulting_date     DATE,
	client_gender       TEXT NOT NULL DEFAULT '',
	client_age          INTEGER NOT NULL DEFAULT 0,
	consulting_turns    INTEGER NOT NULL DEFAULT 0,
	consulting_length   INTEGER NOT NULL DEFAULT 0,
	consulting_content  TEXT NOT NULL,
	consulting_category TEXT NOT NULL,
	category_id         TEXT NOT NULL,
	confidence          DOUBLE PRECISION NOT NULL,
	analysis_result     JSONB NOT NULL,
	processing_time     DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_voc_normalized_category_id ON voc_normalized(category_id);
CREATE INDEX IF NOT EXISTS idx_voc_normalized_consulting_date ON voc_normalized(consulting_date DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// InsertRaw loads records with COPY. IDs are assigned by the database.
func (s *PostgresStore) InsertRaw(ctx context.Context, records []model.RawRecord) (int64, error) {
	now := s.now().UTC()
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			r.SourceID, nullDate(r.ConsultingDate), r.ClientGender, r.ClientAge,
			r.ConsultingTurns, r.ConsultingLength, r.Content,
			false, now, now,
		})
	}

	n, err := db.CopyInChunks(ctx, s.pool, "voc_raw", rawColumns, rows, 1000)
	if err != nil {
		return n, eris.Wrap(err, "postgres: insert raw")
	}
	return n, nil
}

func (s *PostgresStore) ListUnprocessed(ctx context.Context, limit int) ([]model.RawRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, sqlListUnprocessed, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unprocessed")
	}
	return collectRaw(rows)
}

func (s *PostgresStore) RecentProcessed(ctx context.Context, limit int) ([]model.RawRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_id, consulting_date, client_gender, client_age, consulting_turns, consulting_length, consulting_content, processed, processed_at, created_at, updated_at
		FROM voc_raw WHERE processed = true ORDER BY processed_at DESC, id DESC LIMIT $1`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent processed")
	}
	return collectRaw(rows)
}

func (s *PostgresStore) CountRaw(ctx context.Context) (RawCounts, error) {
	var c RawCounts
	err := s.pool.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE processed) FROM voc_raw`,
	).Scan(&c.Total, &c.Processed)
	if err != nil {
		return RawCounts{}, eris.Wrap(err, "postgres: count raw")
	}
	return c, nil
}

func (s *PostgresStore) CountNormalized(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM voc_normalized`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count normalized")
	}
	return n, nil
}

// Complete flips processed first so the row lock serializes concurrent
// completions of the same raw record.
func (s *PostgresStore) Complete(ctx context.Context, rec *model.NormalizedRecord) error {
	doc, err := json.Marshal(rec.AnalysisResult)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal analysis result")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin complete")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := s.now().UTC()
	tag, err := tx.Exec(ctx, sqlMarkProcessed, now, rec.RawID)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark raw %d processed", rec.RawID)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyProcessed
	}

	var id int64
	err = tx.QueryRow(ctx, sqlInsertNormalized,
		rec.RawID, rec.SourceID, nullDate(rec.ConsultingDate), rec.ClientGender, rec.ClientAge,
		rec.ConsultingTurns, rec.ConsultingLength, rec.Content,
		rec.ConsultingCategory, rec.CategoryID, rec.Confidence, doc, rec.ProcessingTimeSeconds, now,
	).Scan(&id)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert normalized for raw %d", rec.RawID)
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrapf(err, "postgres: commit raw %d", rec.RawID)
	}

	rec.ID = id
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}

func (s *PostgresStore) GetNormalized(ctx context.Context, id int64) (*model.NormalizedRecord, error) {
	rec, err := scanNormalized(s.pool.QueryRow(ctx, sqlGetNormalized, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get normalized %d", id)
	}
	return rec, nil
}

func (s *PostgresStore) ListNormalized(ctx context.Context, f NormalizedFilter) ([]model.NormalizedRecord, int64, error) {
	where, args := postgresNormalizedWhere(f)

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM voc_normalized`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count normalized")
	}

	n := len(args)
	args = append(args, clampLimit(f.Limit), f.offset())
	rows, err := s.pool.Query(ctx,
		sqlNormalizedSelect+where+fmt.Sprintf(` ORDER BY consulting_date DESC NULLS LAST, id DESC LIMIT $%d OFFSET $%d`, n+1, n+2),
		args...,
	)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list normalized")
	}
	defer rows.Close()

	var out []model.NormalizedRecord
	for rows.Next() {
		rec, err := scanNormalized(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan normalized")
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: iterate normalized")
	}
	return out, total, nil
}

func postgresNormalizedWhere(f NormalizedFilter) (string, []any) {
	from, until := f.dateBounds()
	var conds []string
	var args []any
	if from != nil {
		args = append(args, *from)
		conds = append(conds, fmt.Sprintf("consulting_date >= $%d", len(args)))
	}
	if until != nil {
		args = append(args, *until)
		conds = append(conds, fmt.Sprintf("consulting_date < $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func collectRaw(rows pgx.Rows) ([]model.RawRecord, error) {
	defer rows.Close()

	var out []model.RawRecord
	for rows.Next() {
		var r model.RawRecord
		var date *time.Time
		if err := rows.Scan(&r.ID, &r.SourceID, &date, &r.ClientGender, &r.ClientAge,
			&r.ConsultingTurns, &r.ConsultingLength, &r.Content,
			&r.Processed, &r.ProcessedAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw")
		}
		if date != nil {
			r.ConsultingDate = *date
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate raw")
	}
	return out, nil
}

func scanNormalized(row scannable) (*model.NormalizedRecord, error) {
	var r model.NormalizedRecord
	var date *time.Time
	var doc []byte
	if err := row.Scan(&r.ID, &r.RawID, &r.SourceID, &date, &r.ClientGender, &r.ClientAge,
		&r.ConsultingTurns, &r.ConsultingLength, &r.Content,
		&r.ConsultingCategory, &r.CategoryID, &r.Confidence, &doc, &r.ProcessingTimeSeconds,
		&r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if date != nil {
		r.ConsultingDate = *date
	}
	if err := json.Unmarshal(doc, &r.AnalysisResult); err != nil {
		return nil, eris.Wrap(err, "unmarshal analysis result")
	}
	return &r, nil
}

// nullDate maps the zero time to SQL NULL.
func nullDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

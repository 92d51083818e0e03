package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/voc-classifier/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection and SQLite has a single writer anyway.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS voc_raw (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id          TEXT NOT NULL,
	consulting_date    DATE,
	client_gender      TEXT NOT NULL DEFAULT '',
	client_age         INTEGER NOT NULL DEFAULT 0,
	consulting_turns   INTEGER NOT NULL DEFAULT 0,
	consulting_length  INTEGER NOT NULL DEFAULT 0,
	consulting_content TEXT NOT NULL,
	processed          BOOLEAN NOT NULL DEFAULT 0,
	processed_at       DATETIME,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_voc_raw_processed ON voc_raw(processed, id);

CREATE TABLE IF NOT EXISTS voc_normalized (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	raw_id              INTEGER NOT NULL UNIQUE REFERENCES voc_raw(id),
	source_id           TEXT NOT NULL,
	consulting_date     DATE,
	client_gender       TEXT NOT NULL DEFAULT '',
	client_age          INTEGER NOT NULL DEFAULT 0,
	consulting_turns    INTEGER NOT NULL DEFAULT 0,
	consulting_length   INTEGER NOT NULL DEFAULT 0,
	consulting_content  TEXT NOT NULL,
	consulting_category TEXT NOT NULL,
	category_id         TEXT NOT NULL,
	confidence          REAL NOT NULL,
	analysis_result     TEXT NOT NULL,
	processing_time     REAL NOT NULL DEFAULT 0,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_voc_normalized_category_id ON voc_normalized(category_id);
CREATE INDEX IF NOT EXISTS idx_voc_normalized_consulting_date ON voc_normalized(consulting_date);
`

const (
	sqliteRawSelect        = `SELECT id, source_id, consulting_date, client_gender, client_age, consulting_turns, consulting_length, consulting_content, processed, processed_at, created_at, updated_at FROM voc_raw`
	sqliteNormalizedSelect = `SELECT id, raw_id, source_id, consulting_date, client_gender, client_age, consulting_turns, consulting_length, consulting_content, consulting_category, category_id, confidence, analysis_result, processing_time, created_at, updated_at FROM voc_normalized`
)

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertRaw(ctx context.Context, records []model.RawRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert raw")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO voc_raw (source_id, consulting_date, client_gender, client_age, consulting_turns, consulting_length, consulting_content, processed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert raw")
	}
	defer stmt.Close() //nolint:errcheck

	now := s.now().UTC()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.SourceID, nullDate(r.ConsultingDate), r.ClientGender, r.ClientAge,
			r.ConsultingTurns, r.ConsultingLength, r.Content, now, now); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert raw %s", r.SourceID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert raw")
	}
	return int64(len(records)), nil
}

func (s *SQLiteStore) ListUnprocessed(ctx context.Context, limit int) ([]model.RawRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, sqliteRawSelect+` WHERE processed = 0 ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unprocessed")
	}
	return s.collectRaw(rows)
}

func (s *SQLiteStore) RecentProcessed(ctx context.Context, limit int) ([]model.RawRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		sqliteRawSelect+` WHERE processed = 1 ORDER BY processed_at DESC, id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent processed")
	}
	return s.collectRaw(rows)
}

func (s *SQLiteStore) CountRaw(ctx context.Context) (RawCounts, error) {
	var c RawCounts
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*), coalesce(sum(CASE WHEN processed THEN 1 ELSE 0 END), 0) FROM voc_raw`,
	).Scan(&c.Total, &c.Processed)
	if err != nil {
		return RawCounts{}, eris.Wrap(err, "sqlite: count raw")
	}
	return c, nil
}

func (s *SQLiteStore) CountNormalized(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM voc_normalized`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count normalized")
	}
	return n, nil
}

func (s *SQLiteStore) Complete(ctx context.Context, rec *model.NormalizedRecord) error {
	doc, err := json.Marshal(rec.AnalysisResult)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal analysis result")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin complete")
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE voc_raw SET processed = 1, processed_at = ?, updated_at = ? WHERE id = ? AND processed = 0`,
		now, now, rec.RawID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark raw %d processed", rec.RawID)
	}
	if err := checkRowsAffected(res); err != nil {
		return err
	}

	res, err = tx.ExecContext(ctx,
		`INSERT INTO voc_normalized (raw_id, source_id, consulting_date, client_gender, client_age, consulting_turns, consulting_length, consulting_content, consulting_category, category_id, confidence, analysis_result, processing_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RawID, rec.SourceID, nullDate(rec.ConsultingDate), rec.ClientGender, rec.ClientAge,
		rec.ConsultingTurns, rec.ConsultingLength, rec.Content,
		rec.ConsultingCategory, rec.CategoryID, rec.Confidence, string(doc), rec.ProcessingTimeSeconds, now, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert normalized for raw %d", rec.RawID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: last insert id")
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrapf(err, "sqlite: commit raw %d", rec.RawID)
	}

	rec.ID = id
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) GetNormalized(ctx context.Context, id int64) (*model.NormalizedRecord, error) {
	rec, err := scanSQLiteNormalized(s.db.QueryRowContext(ctx, sqliteNormalizedSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get normalized %d", id)
	}
	return rec, nil
}

func (s *SQLiteStore) ListNormalized(ctx context.Context, f NormalizedFilter) ([]model.NormalizedRecord, int64, error) {
	where, args := sqliteNormalizedWhere(f)

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM voc_normalized`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count normalized")
	}

	// NULL dates sort last under DESC.
	args = append(args, clampLimit(f.Limit), f.offset())
	rows, err := s.db.QueryContext(ctx,
		sqliteNormalizedSelect+where+` ORDER BY consulting_date DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list normalized")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.NormalizedRecord
	for rows.Next() {
		rec, err := scanSQLiteNormalized(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "sqlite: scan normalized")
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: iterate normalized")
	}
	return out, total, nil
}

func sqliteNormalizedWhere(f NormalizedFilter) (string, []any) {
	from, until := f.dateBounds()
	var conds []string
	var args []any
	if from != nil {
		conds = append(conds, "consulting_date >= ?")
		args = append(args, *from)
	}
	if until != nil {
		conds = append(conds, "consulting_date < ?")
		args = append(args, *until)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// checkRowsAffected maps a zero-row guarded update to ErrAlreadyProcessed.
func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrAlreadyProcessed
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) collectRaw(rows *sql.Rows) ([]model.RawRecord, error) {
	defer rows.Close() //nolint:errcheck

	var out []model.RawRecord
	for rows.Next() {
		var r model.RawRecord
		var date, processedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.SourceID, &date, &r.ClientGender, &r.ClientAge,
			&r.ConsultingTurns, &r.ConsultingLength, &r.Content,
			&r.Processed, &processedAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw")
		}
		if date.Valid {
			r.ConsultingDate = date.Time
		}
		if processedAt.Valid {
			t := processedAt.Time
			r.ProcessedAt = &t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate raw")
	}
	return out, nil
}

func scanSQLiteNormalized(row scannable) (*model.NormalizedRecord, error) {
	var r model.NormalizedRecord
	var date sql.NullTime
	var doc string
	if err := row.Scan(&r.ID, &r.RawID, &r.SourceID, &date, &r.ClientGender, &r.ClientAge,
		&r.ConsultingTurns, &r.ConsultingLength, &r.Content,
		&r.ConsultingCategory, &r.CategoryID, &r.Confidence, &doc, &r.ProcessingTimeSeconds,
		&r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if date.Valid {
		r.ConsultingDate = date.Time
	}
	if err := json.Unmarshal([]byte(doc), &r.AnalysisResult); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal analysis result")
	}
	return &r, nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sells-group/voc-classifier/internal/model"
)

// MySQLStore implements Store on MySQL through gorm. The column layout
// matches the consulting database the transcripts are exported from.
type MySQLStore struct {
	db  *gorm.DB
	now func() time.Time
}

type mysqlRaw struct {
	ID                int64      `gorm:"primaryKey;autoIncrement"`
	SourceID          string     `gorm:"size:64;not null"`
	ConsultingDate    *time.Time `gorm:"type:date"`
	ClientGender      string     `gorm:"size:16;not null;default:''"`
	ClientAge         int        `gorm:"not null;default:0"`
	ConsultingTurns   int        `gorm:"not null;default:0"`
	ConsultingLength  int        `gorm:"not null;default:0"`
	ConsultingContent string     `gorm:"type:longtext;not null"`
	Processed         bool       `gorm:"not null;default:false;index:idx_voc_raw_processed,priority:1"`
	ProcessedAt       *time.Time `gorm:"index"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (mysqlRaw) TableName() string { return "voc_raw" }

type mysqlNormalized struct {
	ID                 int64      `gorm:"primaryKey;autoIncrement"`
	RawID              int64      `gorm:"not null;uniqueIndex"`
	SourceID           string     `gorm:"size:64;not null"`
	ConsultingDate     *time.Time `gorm:"type:date;index"`
	ClientGender       string     `gorm:"size:16;not null;default:''"`
	ClientAge          int        `gorm:"not null;default:0"`
	ConsultingTurns    int        `gorm:"not null;default:0"`
	ConsultingLength   int        `gorm:"not null;default:0"`
	ConsultingContent  string     `gorm:"type:longtext;not null"`
	ConsultingCategory string     `gorm:"size:128;not null"`
	CategoryID         string     `gorm:"size:64;not null;index"`
	Confidence         float64    `gorm:"not null"`
	AnalysisResult     string     `gorm:"type:json;not null"`
	ProcessingTime     float64    `gorm:"not null;default:0"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (mysqlNormalized) TableName() string { return "voc_normalized" }

// NewMySQL opens a gorm connection to dsn. The DSN must carry parseTime=true.
func NewMySQL(dsn string) (*MySQLStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, eris.Wrap(err, "mysql: open")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, eris.Wrap(err, "mysql: get sql.DB")
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return newMySQLStore(db), nil
}

func newMySQLStore(db *gorm.DB) *MySQLStore {
	return &MySQLStore{db: db, now: time.Now}
}

func (s *MySQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return eris.Wrap(err, "mysql: ping")
	}
	return eris.Wrap(sqlDB.PingContext(ctx), "mysql: ping")
}

func (s *MySQLStore) Migrate(ctx context.Context) error {
	return eris.Wrap(s.db.WithContext(ctx).AutoMigrate(&mysqlRaw{}, &mysqlNormalized{}), "mysql: migrate")
}

func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return eris.Wrap(err, "mysql: close")
	}
	return sqlDB.Close()
}

func (s *MySQLStore) InsertRaw(ctx context.Context, records []model.RawRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	now := s.now().UTC()
	rows := make([]mysqlRaw, 0, len(records))
	for _, r := range records {
		rows = append(rows, mysqlRaw{
			SourceID:          r.SourceID,
			ConsultingDate:    nullDate(r.ConsultingDate),
			ClientGender:      r.ClientGender,
			ClientAge:         r.ClientAge,
			ConsultingTurns:   r.ConsultingTurns,
			ConsultingLength:  r.ConsultingLength,
			ConsultingContent: r.Content,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}

	res := s.db.WithContext(ctx).CreateInBatches(&rows, 500)
	if res.Error != nil {
		return res.RowsAffected, eris.Wrap(res.Error, "mysql: insert raw")
	}
	return res.RowsAffected, nil
}

func (s *MySQLStore) unprocessedQuery(tx *gorm.DB, limit int) *gorm.DB {
	return tx.Model(&mysqlRaw{}).Where("processed = ?", false).Order("id ASC").Limit(limit)
}

func (s *MySQLStore) ListUnprocessed(ctx context.Context, limit int) ([]model.RawRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []mysqlRaw
	if err := s.unprocessedQuery(s.db.WithContext(ctx), limit).Find(&rows).Error; err != nil {
		return nil, eris.Wrap(err, "mysql: list unprocessed")
	}
	return fromMySQLRaw(rows), nil
}

func (s *MySQLStore) RecentProcessed(ctx context.Context, limit int) ([]model.RawRecord, error) {
	var rows []mysqlRaw
	err := s.db.WithContext(ctx).
		Where("processed = ?", true).
		Order("processed_at DESC").Order("id DESC").
		Limit(clampLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, eris.Wrap(err, "mysql: recent processed")
	}
	return fromMySQLRaw(rows), nil
}

func (s *MySQLStore) CountRaw(ctx context.Context) (RawCounts, error) {
	var c RawCounts
	err := s.db.WithContext(ctx).Model(&mysqlRaw{}).
		Select("count(*) AS total, coalesce(sum(processed), 0) AS processed").
		Scan(&c).Error
	if err != nil {
		return RawCounts{}, eris.Wrap(err, "mysql: count raw")
	}
	return c, nil
}

func (s *MySQLStore) CountNormalized(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&mysqlNormalized{}).Count(&n).Error; err != nil {
		return 0, eris.Wrap(err, "mysql: count normalized")
	}
	return n, nil
}

func (s *MySQLStore) markProcessed(tx *gorm.DB, rawID int64, now time.Time) *gorm.DB {
	return tx.Model(&mysqlRaw{}).
		Where("id = ? AND processed = ?", rawID, false).
		Updates(map[string]any{"processed": true, "processed_at": now, "updated_at": now})
}

func (s *MySQLStore) Complete(ctx context.Context, rec *model.NormalizedRecord) error {
	doc, err := json.Marshal(rec.AnalysisResult)
	if err != nil {
		return eris.Wrap(err, "mysql: marshal analysis result")
	}

	now := s.now().UTC()
	row := toMySQLNormalized(rec, string(doc), now)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := s.markProcessed(tx, rec.RawID, now)
		if res.Error != nil {
			return eris.Wrapf(res.Error, "mysql: mark raw %d processed", rec.RawID)
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyProcessed
		}
		if err := tx.Create(&row).Error; err != nil {
			return eris.Wrapf(err, "mysql: insert normalized for raw %d", rec.RawID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	rec.ID = row.ID
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}

func (s *MySQLStore) GetNormalized(ctx context.Context, id int64) (*model.NormalizedRecord, error) {
	var row mysqlNormalized
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "mysql: get normalized %d", id)
	}
	return fromMySQLNormalized(row)
}

func (s *MySQLStore) ListNormalized(ctx context.Context, f NormalizedFilter) ([]model.NormalizedRecord, int64, error) {
	var total int64
	if err := s.normalizedQuery(s.db.WithContext(ctx), f).Count(&total).Error; err != nil {
		return nil, 0, eris.Wrap(err, "mysql: count normalized")
	}

	var rows []mysqlNormalized
	if err := s.normalizedPage(s.db.WithContext(ctx), f).Find(&rows).Error; err != nil {
		return nil, 0, eris.Wrap(err, "mysql: list normalized")
	}

	out := make([]model.NormalizedRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := fromMySQLNormalized(row)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *rec)
	}
	return out, total, nil
}

func (s *MySQLStore) normalizedQuery(tx *gorm.DB, f NormalizedFilter) *gorm.DB {
	q := tx.Model(&mysqlNormalized{})
	from, until := f.dateBounds()
	if from != nil {
		q = q.Where("consulting_date >= ?", *from)
	}
	if until != nil {
		q = q.Where("consulting_date < ?", *until)
	}
	return q
}

// normalizedPage orders newest consulting date first; MySQL sorts NULL
// dates last under DESC.
func (s *MySQLStore) normalizedPage(tx *gorm.DB, f NormalizedFilter) *gorm.DB {
	return s.normalizedQuery(tx, f).
		Order("consulting_date DESC").Order("id DESC").
		Limit(clampLimit(f.Limit)).
		Offset(f.offset())
}

func fromMySQLRaw(rows []mysqlRaw) []model.RawRecord {
	out := make([]model.RawRecord, 0, len(rows))
	for _, r := range rows {
		rec := model.RawRecord{
			ID:               r.ID,
			SourceID:         r.SourceID,
			ClientGender:     r.ClientGender,
			ClientAge:        r.ClientAge,
			ConsultingTurns:  r.ConsultingTurns,
			ConsultingLength: r.ConsultingLength,
			Content:          r.ConsultingContent,
			Processed:        r.Processed,
			ProcessedAt:      r.ProcessedAt,
			CreatedAt:        r.CreatedAt,
			UpdatedAt:        r.UpdatedAt,
		}
		if r.ConsultingDate != nil {
			rec.ConsultingDate = *r.ConsultingDate
		}
		out = append(out, rec)
	}
	return out
}

func toMySQLNormalized(rec *model.NormalizedRecord, doc string, now time.Time) mysqlNormalized {
	return mysqlNormalized{
		RawID:              rec.RawID,
		SourceID:           rec.SourceID,
		ConsultingDate:     nullDate(rec.ConsultingDate),
		ClientGender:       rec.ClientGender,
		ClientAge:          rec.ClientAge,
		ConsultingTurns:    rec.ConsultingTurns,
		ConsultingLength:   rec.ConsultingLength,
		ConsultingContent:  rec.Content,
		ConsultingCategory: rec.ConsultingCategory,
		CategoryID:         rec.CategoryID,
		Confidence:         rec.Confidence,
		AnalysisResult:     doc,
		ProcessingTime:     rec.ProcessingTimeSeconds,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func fromMySQLNormalized(row mysqlNormalized) (*model.NormalizedRecord, error) {
	rec := &model.NormalizedRecord{
		ID:                    row.ID,
		RawID:                 row.RawID,
		SourceID:              row.SourceID,
		ClientGender:          row.ClientGender,
		ClientAge:             row.ClientAge,
		ConsultingTurns:       row.ConsultingTurns,
		ConsultingLength:      row.ConsultingLength,
		Content:               row.ConsultingContent,
		ConsultingCategory:    row.ConsultingCategory,
		CategoryID:            row.CategoryID,
		Confidence:            row.Confidence,
		ProcessingTimeSeconds: row.ProcessingTime,
		CreatedAt:             row.CreatedAt,
		UpdatedAt:             row.UpdatedAt,
	}
	if row.ConsultingDate != nil {
		rec.ConsultingDate = *row.ConsultingDate
	}
	if err := json.Unmarshal([]byte(row.AnalysisResult), &rec.AnalysisResult); err != nil {
		return nil, eris.Wrapf(err, "mysql: unmarshal analysis result %d", row.ID)
	}
	return rec, nil
}

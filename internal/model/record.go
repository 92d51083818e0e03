// Package model defines the records that flow through the classification pipeline.
package model

import (
	"time"
)

// RawRecord is an unclassified consulting transcript waiting to be processed.
type RawRecord struct {
	ID               int64      `json:"id"`
	SourceID         string     `json:"source_id"`
	ConsultingDate   time.Time  `json:"consulting_date"`
	ClientGender     string     `json:"client_gender"`
	ClientAge        int        `json:"client_age"`
	ConsultingTurns  int        `json:"consulting_turns"`
	ConsultingLength int        `json:"consulting_length"`
	Content          string     `json:"consulting_content"`
	Processed        bool       `json:"processed"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NormalizedRecord is the persisted, structured result of classifying a RawRecord.
// Exactly one exists per processed RawRecord (RawID is unique in storage).
type NormalizedRecord struct {
	ID                    int64            `json:"id"`
	RawID                 int64            `json:"raw_id"`
	SourceID              string           `json:"source_id"`
	ConsultingDate        time.Time        `json:"consulting_date"`
	ClientGender          string           `json:"client_gender"`
	ClientAge             int              `json:"client_age"`
	ConsultingTurns       int              `json:"consulting_turns"`
	ConsultingLength      int              `json:"consulting_length"`
	Content               string           `json:"consulting_content"`
	ConsultingCategory    string           `json:"consulting_category"`
	CategoryID            string           `json:"category_id"`
	Confidence            float64          `json:"confidence"`
	AnalysisResult        AnalysisDocument `json:"analysis_result"`
	ProcessingTimeSeconds float64          `json:"processing_time"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// NewNormalizedRecord copies the source fields of raw into a NormalizedRecord
// carrying the given classification and analysis.
func NewNormalizedRecord(raw RawRecord, cls ClassificationResult, analysis AnalysisResult, elapsed time.Duration) *NormalizedRecord {
	return &NormalizedRecord{
		RawID:                 raw.ID,
		SourceID:              raw.SourceID,
		ConsultingDate:        raw.ConsultingDate,
		ClientGender:          raw.ClientGender,
		ClientAge:             raw.ClientAge,
		ConsultingTurns:       raw.ConsultingTurns,
		ConsultingLength:      raw.ConsultingLength,
		Content:               raw.Content,
		ConsultingCategory:    cls.Category,
		CategoryID:            cls.CategoryID,
		Confidence:            cls.Confidence,
		AnalysisResult:        NewAnalysisDocument(cls, analysis),
		ProcessingTimeSeconds: elapsed.Seconds(),
	}
}

package model

import "time"

// Usage counts the tokens consumed by one model call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// ItemStage names the step at which a batch item stopped.
type ItemStage string

const (
	StageClassify ItemStage = "classify"
	StagePersist  ItemStage = "persist"
	StageSkipped  ItemStage = "skipped"
	StageDone     ItemStage = "done"
)

// ItemResult is the outcome of processing one RawRecord inside a batch.
type ItemResult struct {
	RawID    int64             `json:"raw_id"`
	SourceID string            `json:"source_id"`
	Stage    ItemStage         `json:"stage"`
	Record   *NormalizedRecord `json:"-"`
	Usage    Usage             `json:"usage"`
	Err      error             `json:"-"`
}

// OK reports whether the item was classified and persisted.
func (r ItemResult) OK() bool {
	return r.Err == nil && r.Stage == StageDone
}

// ItemError is the loggable form of a failed item.
type ItemError struct {
	RawID    int64     `json:"raw_id"`
	SourceID string    `json:"source_id"`
	Stage    ItemStage `json:"stage"`
	Error    string    `json:"error"`
}

// BatchSummary aggregates the results of one RunBatch call.
type BatchSummary struct {
	RunID          string      `json:"run_id"`
	Requested      int         `json:"requested"`
	Fetched        int         `json:"fetched"`
	ProcessedCount int         `json:"processed_count"`
	ErrorCount     int         `json:"error_count"`
	SkippedCount   int         `json:"skipped_count"`
	ElapsedMs      int64       `json:"elapsed_ms"`
	Usage          Usage       `json:"usage"`
	CostUSD        float64     `json:"cost_usd"`
	Cancelled      bool        `json:"cancelled"`
	Errors         []ItemError `json:"errors,omitempty"`
	StartedAt      time.Time   `json:"started_at"`
}

// Record folds one item result into the summary.
func (s *BatchSummary) Record(r ItemResult) {
	s.Usage.Add(r.Usage)
	switch {
	case r.OK():
		s.ProcessedCount++
	case r.Stage == StageSkipped:
		s.SkippedCount++
	default:
		s.ErrorCount++
		msg := ""
		if r.Err != nil {
			msg = r.Err.Error()
		}
		s.Errors = append(s.Errors, ItemError{
			RawID:    r.RawID,
			SourceID: r.SourceID,
			Stage:    r.Stage,
			Error:    msg,
		})
	}
}

// ErrorRate returns the fraction of attempted items that failed.
func (s *BatchSummary) ErrorRate() float64 {
	attempted := s.ProcessedCount + s.ErrorCount
	if attempted == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(attempted)
}

// Status is a point-in-time view of processing progress.
type Status struct {
	TotalRaw        int64       `json:"total_raw_count"`
	Processed       int64       `json:"processed_count"`
	Unprocessed     int64       `json:"unprocessed_count"`
	Normalized      int64       `json:"normalized_count"`
	ProgressPercent float64     `json:"processing_progress"`
	RecentProcessed []RawRecord `json:"recent_processed"`
	CollectedAt     time.Time   `json:"collected_at"`
}

// CostEstimate projects the spend needed to process the remaining records.
type CostEstimate struct {
	UnprocessedCount  int64   `json:"unprocessed_count"`
	TokensPerRequest  int     `json:"estimated_tokens_per_request"`
	CostPerRequestUSD float64 `json:"cost_per_request_usd"`
	TotalCostUSD      float64 `json:"total_cost_usd"`
	TotalCostKRW      float64 `json:"total_cost_krw"`
	Note              string  `json:"note"`
}

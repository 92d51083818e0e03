package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/voc-classifier/internal/model"
)

const (
	receivePath = "/api/classifications/receive"
	healthPath  = "/api/health"
)

// DashboardOption configures the Dashboard sink.
type DashboardOption func(*Dashboard)

// WithDashboardHTTPClient sets a custom HTTP client.
func WithDashboardHTTPClient(hc *http.Client) DashboardOption {
	return func(d *Dashboard) {
		d.http = hc
	}
}

// Dashboard posts classified records to the dashboard service.
type Dashboard struct {
	baseURL string
	http    *http.Client
}

// NewDashboard creates a Dashboard sink for baseURL.
func NewDashboard(baseURL string, opts ...DashboardOption) *Dashboard {
	d := &Dashboard{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dashboard) Name() string { return "dashboard" }

// Publish sends rec as a flat map keyed by column name.
func (d *Dashboard) Publish(ctx context.Context, rec model.NormalizedRecord) error {
	body, err := json.Marshal(dashboardPayload(rec))
	if err != nil {
		return eris.Wrap(err, "dashboard: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+receivePath, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "dashboard: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "dashboard: post record %d", rec.ID)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return eris.Errorf("dashboard: post record %d: status %d: %s", rec.ID, resp.StatusCode, msg)
	}
	return nil
}

// Ping reports whether the dashboard health endpoint answers 2xx.
func (d *Dashboard) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+healthPath, nil)
	if err != nil {
		return eris.Wrap(err, "dashboard: create request")
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "dashboard: health")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return eris.Errorf("dashboard: health returned status %d", resp.StatusCode)
	}
	return nil
}

func dashboardPayload(rec model.NormalizedRecord) map[string]any {
	var date any
	if !rec.ConsultingDate.IsZero() {
		date = rec.ConsultingDate.Format(time.DateOnly)
	}
	return map[string]any{
		"id":                  rec.ID,
		"source_id":           rec.SourceID,
		"consulting_date":     date,
		"client_gender":       rec.ClientGender,
		"client_age":          rec.ClientAge,
		"consulting_turns":    rec.ConsultingTurns,
		"consulting_length":   rec.ConsultingLength,
		"consulting_content":  rec.Content,
		"processing_time":     rec.ProcessingTimeSeconds,
		"consulting_category": rec.ConsultingCategory,
		"category_id":         rec.CategoryID,
		"analysis_result":     rec.AnalysisResult,
		"created_at":          rec.CreatedAt,
		"updated_at":          rec.UpdatedAt,
	}
}

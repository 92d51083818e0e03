package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/voc-classifier/internal/config"
	"github.com/sells-group/voc-classifier/internal/model"
)

func TestAlerter_EvaluateBatch_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.3, MinItems: 5, CostThresholdUSD: 5})

	alerts := a.EvaluateBatch(&model.BatchSummary{RunID: "r1", ProcessedCount: 95, ErrorCount: 5, CostUSD: 0.12})
	assert.Empty(t, alerts)
}

func TestAlerter_EvaluateBatch_FailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.3, MinItems: 5})

	alerts := a.EvaluateBatch(&model.BatchSummary{RunID: "r1", ProcessedCount: 6, ErrorCount: 4})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertBatchFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
	assert.Equal(t, 10, alerts[0].Details["attempted"])
}

func TestAlerter_EvaluateBatch_BelowMinItems(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.3, MinItems: 5})

	alerts := a.EvaluateBatch(&model.BatchSummary{RunID: "r1", ProcessedCount: 1, ErrorCount: 3})
	assert.Empty(t, alerts)
}

func TestAlerter_EvaluateBatch_Cost(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.3, CostThresholdUSD: 1})

	alerts := a.EvaluateBatch(&model.BatchSummary{RunID: "r1", ProcessedCount: 100, CostUSD: 1.5})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertBatchCost, alerts[0].Type)
}

func TestAlerter_EvaluateStatus(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{BacklogThreshold: 1000})

	assert.Empty(t, a.EvaluateStatus(&model.Status{Unprocessed: 1000}))
	alerts := a.EvaluateStatus(&model.Status{Unprocessed: 1001, ProgressPercent: 12.5})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertBacklog, alerts[0].Type)

	disabled := NewAlerter(config.MonitoringConfig{})
	assert.Empty(t, disabled.EvaluateStatus(&model.Status{Unprocessed: 1_000_000}))
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body["text"], "failure rate")
		assert.NotEmpty(t, body["blocks"])

		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{SlackWebhookURL: srv.URL, FailureRateThreshold: 0.3, MinItems: 5})
	sent := a.Notify(context.Background(), &model.BatchSummary{RunID: "r1", ProcessedCount: 2, ErrorCount: 8})

	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{SlackWebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertBacklog, Message: "x"}})
	assert.Zero(t, sent)
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertBacklog}}))
}

func TestWebhookMessage_Layout(t *testing.T) {
	msg := webhookMessage(Alert{
		Type:     AlertBatchFailureRate,
		Severity: "high",
		Message:  "Batch r1 failure rate 80.0%",
		Details:  map[string]any{"run_id": "r1", "failed": 8},
	})

	assert.Equal(t, "Batch r1 failure rate 80.0%", msg.Text)
	require.NotNil(t, msg.Blocks)
	assert.Len(t, msg.Blocks.BlockSet, 4)
}

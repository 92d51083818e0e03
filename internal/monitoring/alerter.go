package monitoring

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/sells-group/voc-classifier/internal/config"
	"github.com/sells-group/voc-classifier/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertBatchFailureRate AlertType = "batch_failure_rate"
	AlertBatchCost        AlertType = "batch_cost"
	AlertBacklog          AlertType = "backlog"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates batch summaries and status snapshots against configured
// thresholds and posts breaches to a Slack incoming webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// EvaluateBatch checks one batch summary. Batches with fewer than MinItems
// attempted records never trigger a failure-rate alert.
func (a *Alerter) EvaluateBatch(s *model.BatchSummary) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	attempted := s.ProcessedCount + s.ErrorCount
	minItems := a.cfg.MinItems
	if minItems <= 0 {
		minItems = 5
	}
	if attempted >= minItems && s.ErrorRate() > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertBatchFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Batch %s failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d attempted)",
				s.RunID, s.ErrorRate()*100, a.cfg.FailureRateThreshold*100, s.ErrorCount, attempted,
			),
			Details: map[string]any{
				"run_id":       s.RunID,
				"failure_rate": s.ErrorRate(),
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       s.ErrorCount,
				"attempted":    attempted,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdUSD > 0 && s.CostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertBatchCost,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Batch %s cost $%.4f exceeds threshold $%.4f (%d tokens)",
				s.RunID, s.CostUSD, a.cfg.CostThresholdUSD, s.Usage.Total(),
			),
			Details: map[string]any{
				"run_id":        s.RunID,
				"cost_usd":      s.CostUSD,
				"threshold_usd": a.cfg.CostThresholdUSD,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// EvaluateStatus raises a backlog alert when unprocessed records pile up.
func (a *Alerter) EvaluateStatus(st *model.Status) []Alert {
	if a.cfg.BacklogThreshold <= 0 || st.Unprocessed <= a.cfg.BacklogThreshold {
		return nil
	}
	return []Alert{{
		Type:     AlertBacklog,
		Severity: "medium",
		Message: fmt.Sprintf("%d unprocessed transcripts exceed backlog threshold %d (%.2f%% processed)",
			st.Unprocessed, a.cfg.BacklogThreshold, st.ProgressPercent),
		Details: map[string]any{
			"unprocessed": st.Unprocessed,
			"threshold":   a.cfg.BacklogThreshold,
		},
		Timestamp: a.now().UTC(),
	}}
}

// SendAlerts delivers alerts to the Slack webhook. Failures are logged and
// swallowed. Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.SlackWebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.post(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// Notify evaluates a finished batch and sends any resulting alerts.
func (a *Alerter) Notify(ctx context.Context, s *model.BatchSummary) int {
	return a.SendAlerts(ctx, a.EvaluateBatch(s))
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	msg := webhookMessage(alert)
	if err := slack.PostWebhookCustomHTTPContext(ctx, a.cfg.SlackWebhookURL, a.client, msg); err != nil {
		return eris.Wrap(err, "monitoring: post slack webhook")
	}
	return nil
}

func webhookMessage(alert Alert) *slack.WebhookMessage {
	fields := make([]*slack.TextBlockObject, 0, len(alert.Details))
	for _, k := range slices.Sorted(maps.Keys(alert.Details)) {
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*%s*\n%v", k, alert.Details[k]), false, false))
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType,
			fmt.Sprintf("[%s] %s", alert.Severity, alert.Type), false, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, alert.Message, false, false), nil, nil),
	}
	if len(fields) > 0 {
		blocks = append(blocks, slack.NewSectionBlock(nil, fields, nil))
	}
	blocks = append(blocks, slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType, "voc-classifier • "+strconv.FormatInt(alert.Timestamp.Unix(), 10), false, false)))

	return &slack.WebhookMessage{
		Text:   alert.Message,
		Blocks: &slack.Blocks{BlockSet: blocks},
	}
}

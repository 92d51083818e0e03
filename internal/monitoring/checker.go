package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/voc-classifier/internal/config"
)

// Checker periodically checks the processing backlog in the background.
type Checker struct {
	reporter *Reporter
	alerter  *Alerter
	cfg      config.MonitoringConfig
}

// NewChecker creates a background backlog checker.
func NewChecker(reporter *Reporter, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		reporter: reporter,
		alerter:  alerter,
		cfg:      cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting backlog checker",
		zap.Duration("interval", interval),
		zap.Int64("backlog_threshold", c.cfg.BacklogThreshold),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("backlog checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	st, err := c.reporter.Status(ctx)
	if err != nil {
		log.Error("monitoring: failed to collect status", zap.Error(err))
		return 0
	}

	alerts := c.alerter.EvaluateStatus(st)
	if len(alerts) == 0 {
		log.Debug("monitoring: backlog within threshold", zap.Int64("unprocessed", st.Unprocessed))
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: backlog check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}

package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/voc-classifier/internal/batch"
	"github.com/sells-group/voc-classifier/internal/model"
	"github.com/sells-group/voc-classifier/internal/monitoring"
)

var scheduleCron string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run batches on a cron schedule until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		spec := scheduleCron
		if spec == "" {
			spec = cfg.Schedule.Cron
		}
		if spec == "" {
			return eris.New("schedule: schedule.cron is required")
		}

		env, err := initEnv(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := newScheduler(spec, cfg.Schedule.Timezone, func() {
			runScheduledBatch(ctx, env.Batch)
		})
		if err != nil {
			return err
		}

		if cfg.Monitoring.BacklogThreshold > 0 {
			go monitoring.NewChecker(env.Reporter, env.Alerter, cfg.Monitoring).Run(ctx)
		}

		c.Start()
		zap.L().Info("scheduler started",
			zap.String("cron", spec),
			zap.String("timezone", cfg.Schedule.Timezone),
			zap.Time("next", c.Entries()[0].Next),
		)

		<-ctx.Done()
		zap.L().Info("scheduler stopping, waiting for running batch")
		<-c.Stop().Done()
		return nil
	},
}

// newScheduler builds a cron runner for a standard 5-field spec evaluated in
// timezone. Overlapping ticks are skipped while a batch is still running.
func newScheduler(spec, timezone string, job func()) (*cron.Cron, error) {
	loc := time.Local
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, eris.Wrapf(err, "schedule: load timezone %q", timezone)
		}
		loc = l
	}

	logger := cronLogger{log: zap.L().Sugar()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, job); err != nil {
		return nil, eris.Wrapf(err, "schedule: parse cron %q", spec)
	}
	return c, nil
}

type batchRunner interface {
	RunBatch(ctx context.Context, maxItems int) (*model.BatchSummary, error)
}

func runScheduledBatch(ctx context.Context, runner batchRunner) {
	if ctx.Err() != nil {
		return
	}
	summary, err := runner.RunBatch(ctx, 0)
	switch {
	case errors.Is(err, batch.ErrBatchInProgress):
		zap.L().Info("scheduled batch skipped, another run is in progress")
	case err != nil:
		zap.L().Error("scheduled batch failed", zap.Error(err))
	default:
		zap.L().Info("scheduled batch finished",
			zap.String("run_id", summary.RunID),
			zap.Int("processed", summary.ProcessedCount),
			zap.Int("errors", summary.ErrorCount),
		)
	}
}

// cronLogger routes cron's internal logging through zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleCron, "cron", "", "cron spec, e.g. \"0 2 * * *\" (default from config)")
	rootCmd.AddCommand(scheduleCmd)
}

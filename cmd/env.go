package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/voc-classifier/internal/batch"
	"github.com/sells-group/voc-classifier/internal/cost"
	"github.com/sells-group/voc-classifier/internal/llm"
	"github.com/sells-group/voc-classifier/internal/lock"
	"github.com/sells-group/voc-classifier/internal/monitoring"
	"github.com/sells-group/voc-classifier/internal/pipeline"
	"github.com/sells-group/voc-classifier/internal/resilience"
	"github.com/sells-group/voc-classifier/internal/response"
	"github.com/sells-group/voc-classifier/internal/sink"
	"github.com/sells-group/voc-classifier/internal/store"
	"github.com/sells-group/voc-classifier/internal/taxonomy"
	"github.com/sells-group/voc-classifier/pkg/adminapi"
)

// appEnv holds everything the commands need. Fields are nil when the mode
// passed to initEnv does not require them.
type appEnv struct {
	Store     store.Store
	Taxonomy  *taxonomy.Cache
	Pipeline  *pipeline.Pipeline
	Batch     *batch.Coordinator
	Reporter  *monitoring.Reporter
	Alerter   *monitoring.Alerter
	Estimator *cost.Estimator
	Dashboard *sink.Dashboard

	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// initEnv validates cfg for mode and builds the components it needs.
// Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &appEnv{
		Alerter:   monitoring.NewAlerter(cfg.Monitoring),
		Estimator: cost.NewEstimator(cfg.Cost),
	}

	needStore := mode != "classify"
	needModel := mode != "store"

	if needStore {
		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
		env.Store = st
		env.closers = append(env.closers, func() { _ = st.Close() })
		env.Reporter = monitoring.NewReporter(st)
	}

	if needModel {
		env.Taxonomy = initTaxonomy()

		completer, err := llm.New(ctx, cfg.LLM, cfg.Batch.Concurrency)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Pipeline = pipeline.New(env.Taxonomy, completer,
			response.NewParser(cfg.Classify.FallbackCategoryID), llm.RequestFromConfig(cfg.LLM))
	}

	if needStore && needModel {
		coord, err := initCoordinator(ctx, env)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Batch = coord
	}

	return env, nil
}

func initTaxonomy() *taxonomy.Cache {
	var src taxonomy.Source
	if cfg.Taxonomy.Source == "file" {
		src = taxonomy.NewFileSource(cfg.Taxonomy.FilePath)
	} else {
		src = taxonomy.NewAdminSource(adminapi.NewClient(
			adminapi.WithBaseURL(cfg.Taxonomy.AdminBaseURL),
			adminapi.WithRetry(resilience.DefaultRetryConfig()),
		))
	}
	return taxonomy.NewCache(src,
		taxonomy.WithTTL(time.Duration(cfg.Taxonomy.CacheTTLMinutes)*time.Minute),
		taxonomy.WithFetchTimeout(time.Duration(cfg.Taxonomy.FetchTimeoutSecs)*time.Second),
	)
}

func initCoordinator(ctx context.Context, env *appEnv) (*batch.Coordinator, error) {
	opts := []batch.Option{
		batch.WithNotifier(env.Alerter),
		batch.WithPricing(cost.NewCalculatorFromConfig(cfg.Pricing), cfg.LLM.Model),
	}

	if cfg.Redis.Addr != "" {
		rdb, err := lock.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, func() { _ = rdb.Close() })
		opts = append(opts, batch.WithLocker(lock.NewRedis(rdb)))
	}

	if s := initSinks(env); s != nil {
		opts = append(opts, batch.WithSink(s))
	}

	return batch.New(env.Store, env.Pipeline, cfg.Batch, opts...), nil
}

// initSinks returns the downstream publisher, or nil when none is configured.
func initSinks(env *appEnv) sink.Sink {
	var sinks sink.Multi
	if cfg.Dashboard.BaseURL != "" {
		timeout := time.Duration(cfg.Dashboard.TimeoutSecs) * time.Second
		env.Dashboard = sink.NewDashboard(cfg.Dashboard.BaseURL,
			sink.WithDashboardHTTPClient(&http.Client{Timeout: timeout}))
		sinks = append(sinks, env.Dashboard)
	}
	if cfg.Kafka.Brokers != "" {
		k := sink.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		sinks = append(sinks, k)
		env.closers = append(env.closers, func() {
			if err := k.Close(); err != nil {
				zap.L().Warn("kafka writer close failed", zap.Error(err))
			}
		})
	}
	if len(sinks) == 0 {
		return nil
	}

	async := sink.NewAsync(sinks, cfg.Dashboard.QueueSize, time.Duration(cfg.Dashboard.TimeoutSecs)*time.Second)
	env.closers = append(env.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := async.Close(ctx); err != nil {
			zap.L().Warn("sink drain incomplete", zap.Error(eris.Wrap(err, "sink: close")))
		}
	})
	return async
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/voc-classifier/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the classification HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Monitoring.BacklogThreshold > 0 {
			go monitoring.NewChecker(env.Reporter, env.Alerter, cfg.Monitoring).Run(ctx)
		}

		api := &server{
			classifier:       env.Pipeline,
			categories:       env.Taxonomy,
			batch:            env.Batch,
			status:           env.Reporter,
			estimator:        env.Estimator,
			records:          env.Store,
			defaultBatchSize: cfg.Batch.DefaultSize,
		}
		if env.Dashboard != nil {
			api.dashboard = env.Dashboard
			checkDashboard(ctx, env.Dashboard)
		}
		handler := buildRouter(api, cfg.Server.AllowedOrigins)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// checkDashboard logs whether the dashboard answers. Startup continues
// either way.
func checkDashboard(ctx context.Context, p pinger) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		zap.L().Warn("dashboard unreachable at startup", zap.Error(err))
		return
	}
	zap.L().Info("dashboard reachable")
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

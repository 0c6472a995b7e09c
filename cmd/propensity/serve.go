package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/animus-labs/propensity/internal/platform/httpserver"
	"github.com/animus-labs/propensity/internal/platform/metrics"
	"github.com/animus-labs/propensity/internal/platform/objectstore"
)

const serviceName = "propensity"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve predictions and on-demand training over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srvCfg, err := httpserver.ConfigFromEnv(serviceName)
		if err != nil {
			return err
		}
		a, err := newApp(ctx, logger, configPath)
		if err != nil {
			return err
		}
		defer a.close()

		orch, err := a.orchestrator()
		if err != nil {
			return err
		}
		svc, err := a.predictionService()
		if err != nil {
			return err
		}

		api := &propensityAPI{
			logger:    logger,
			runner:    orch,
			predictor: svc,
			models:    a.registry,
			modelKey:  svc.ModelKey(),
		}
		if a.ledger != nil {
			api.runs = a.ledger
		}

		checks := []httpserver.ReadinessCheck{{
			Name: "minio",
			Check: func(ctx context.Context) error {
				ctx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return objectstore.CheckBuckets(ctx, a.client, a.storeCfg)
			},
		}}
		if a.db != nil {
			checks = append(checks, httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					ctx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return a.db.PingContext(ctx)
				},
			})
		}

		mux := http.NewServeMux()
		mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
		mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks(serviceName, checks...))
		mux.Handle("GET /metrics", metrics.Handler(a.gatherer))
		api.register(mux)

		return httpserver.Run(ctx, logger, srvCfg, httpserver.Wrap(logger, mux))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

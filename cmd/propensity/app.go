package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/animus-labs/propensity/internal/pipeline"
	"github.com/animus-labs/propensity/internal/platform/metrics"
	"github.com/animus-labs/propensity/internal/platform/objectstore"
	"github.com/animus-labs/propensity/internal/platform/postgres"
	"github.com/animus-labs/propensity/internal/prediction"
	"github.com/animus-labs/propensity/internal/registry"
	repopg "github.com/animus-labs/propensity/internal/repo/postgres"
	"github.com/animus-labs/propensity/internal/stages"
)

// app holds the process-wide dependencies shared by every command.
type app struct {
	logger   *slog.Logger
	cfg      pipeline.Config
	storeCfg objectstore.Config
	client   *minio.Client
	store    objectstore.Store
	registry *registry.Registry
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	db       *sql.DB
	ledger   *repopg.RunLedger
}

func newApp(ctx context.Context, logger *slog.Logger, configPath string) (*app, error) {
	cfg, err := pipeline.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("object store config: %w", err)
	}
	client, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := objectstore.EnsureBuckets(startupCtx, client, storeCfg); err != nil {
		return nil, fmt.Errorf("object store unavailable: %w", err)
	}
	store, err := objectstore.NewMinioStoreWithClient(client)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(promReg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	reg, err := registry.New(store, storeCfg.BucketModels, logger, registry.WithObserver(m))
	if err != nil {
		return nil, err
	}

	a := &app{
		logger:   logger,
		cfg:      cfg,
		storeCfg: storeCfg,
		client:   client,
		store:    store,
		registry: reg,
		metrics:  m,
		gatherer: promReg,
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("database config: %w", err)
	}
	if dbCfg.Enabled() {
		db, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			return nil, fmt.Errorf("database unavailable: %w", err)
		}
		ledger := repopg.NewRunLedger(db)
		if err := ledger.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		a.db, a.ledger = db, ledger
	}

	logger.Info("propensity initialized",
		"object_store", storeCfg.String(),
		"model_key", cfg.Pusher.ModelKey,
		"artifact_root", cfg.ArtifactRoot,
		"run_ledger", a.ledger != nil,
	)
	return a, nil
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

func (a *app) orchestrator() (*pipeline.Orchestrator, error) {
	eval, err := stages.NewEvaluation(a.registry, a.logger)
	if err != nil {
		return nil, err
	}
	push, err := stages.NewPusher(a.registry, a.logger)
	if err != nil {
		return nil, err
	}
	opts := []pipeline.Option{pipeline.WithObserver(a.metrics)}
	if a.ledger != nil {
		opts = append(opts, pipeline.WithRecorder(a.ledger))
	}
	return pipeline.New(a.cfg, pipeline.Components{
		Ingestor:    stages.NewIngestion(a.store, a.storeCfg.BucketDatasets, a.logger),
		Validator:   stages.NewValidation(a.logger),
		Transformer: stages.NewTransformation(a.logger),
		Trainer:     stages.NewTrainer(a.logger),
		Evaluator:   eval,
		Pusher:      push,
	}, a.logger, opts...)
}

func (a *app) predictionService() (*prediction.Service, error) {
	return prediction.NewService(a.registry, a.cfg.Pusher.ModelKey, a.logger, prediction.WithObserver(a.metrics))
}

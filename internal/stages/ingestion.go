// Package stages implements the training pipeline stages on local files,
// the object store and the model registry.
package stages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/animus-labs/propensity/internal/dataset"
	"github.com/animus-labs/propensity/internal/pipeline"
	"github.com/animus-labs/propensity/internal/platform/objectstore"
)

// ObjectSourcePrefix marks an ingestion source stored in the datasets bucket.
const ObjectSourcePrefix = "objectstore://"

func discardLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// Ingestion reads the raw dataset, exports it to the run's feature store
// and splits it into train and test files.
type Ingestion struct {
	store  objectstore.Store
	bucket string
	logger *slog.Logger
}

// NewIngestion builds the ingestion stage. store may be nil when every
// source is a local path.
func NewIngestion(store objectstore.Store, datasetsBucket string, logger *slog.Logger) *Ingestion {
	return &Ingestion{store: store, bucket: strings.TrimSpace(datasetsBucket), logger: discardLogger(logger)}
}

func (s *Ingestion) Ingest(ctx context.Context, run pipeline.RunContext, cfg pipeline.IngestionConfig) (pipeline.IngestionArtifact, error) {
	frame, err := s.read(ctx, cfg.Source)
	if err != nil {
		return pipeline.IngestionArtifact{}, err
	}
	if frame.Len() < 2 {
		return pipeline.IngestionArtifact{}, fmt.Errorf("source %s has %d rows, need at least 2", cfg.Source, frame.Len())
	}

	dir := run.StageDir(pipeline.StageIngest)
	art := pipeline.IngestionArtifact{
		FeatureStorePath: filepath.Join(dir, "feature_store", cfg.FeatureStoreFile),
		TrainPath:        filepath.Join(dir, "ingested", cfg.TrainFile),
		TestPath:         filepath.Join(dir, "ingested", cfg.TestFile),
	}
	if err := frame.WriteCSVFile(art.FeatureStorePath); err != nil {
		return pipeline.IngestionArtifact{}, fmt.Errorf("export feature store: %w", err)
	}

	train, test, err := dataset.Split(frame, cfg.TestRatio, cfg.Seed)
	if err != nil {
		return pipeline.IngestionArtifact{}, fmt.Errorf("split: %w", err)
	}
	if err := train.WriteCSVFile(art.TrainPath); err != nil {
		return pipeline.IngestionArtifact{}, fmt.Errorf("write train split: %w", err)
	}
	if err := test.WriteCSVFile(art.TestPath); err != nil {
		return pipeline.IngestionArtifact{}, fmt.Errorf("write test split: %w", err)
	}

	s.logger.Info("data ingested",
		"run_id", run.RunID,
		"source", cfg.Source,
		"rows", frame.Len(),
		"train_rows", train.Len(),
		"test_rows", test.Len(),
	)
	return art, nil
}

func (s *Ingestion) read(ctx context.Context, source string) (*dataset.Frame, error) {
	source = strings.TrimSpace(source)
	if !strings.HasPrefix(source, ObjectSourcePrefix) {
		f, err := dataset.ReadCSVFile(source)
		if err != nil {
			return nil, fmt.Errorf("read source: %w", err)
		}
		return f, nil
	}

	key := strings.Trim(strings.TrimPrefix(source, ObjectSourcePrefix), "/")
	if s.store == nil || s.bucket == "" {
		return nil, errors.New("object source requires a configured datasets bucket")
	}
	if key == "" {
		return nil, errors.New("object source key is required")
	}
	body, _, err := s.store.Get(ctx, s.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", s.bucket, key, err)
	}
	defer func() { _ = body.Close() }()
	f, err := dataset.ReadCSV(body)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", s.bucket, key, err)
	}
	return f, nil
}

package stages

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/animus-labs/propensity/internal/dataset"
	"github.com/animus-labs/propensity/internal/model"
	"github.com/animus-labs/propensity/internal/pipeline"
)

// Transformation fits the preprocessing transform on the train split and
// writes it together with the transformed train and test matrices.
type Transformation struct {
	logger *slog.Logger
}

func NewTransformation(logger *slog.Logger) *Transformation {
	return &Transformation{logger: discardLogger(logger)}
}

func (s *Transformation) Transform(ctx context.Context, run pipeline.RunContext, in pipeline.IngestionArtifact, v pipeline.ValidationArtifact, cfg pipeline.TransformationConfig) (pipeline.TransformationArtifact, error) {
	if !v.Status {
		return pipeline.TransformationArtifact{}, fmt.Errorf("%w: %s", pipeline.ErrValidationFailed, v.Message)
	}

	train, yTrain, err := loadLabeled(in.TrainPath, cfg.Schema)
	if err != nil {
		return pipeline.TransformationArtifact{}, fmt.Errorf("train split: %w", err)
	}
	test, yTest, err := loadLabeled(in.TestPath, cfg.Schema)
	if err != nil {
		return pipeline.TransformationArtifact{}, fmt.Errorf("test split: %w", err)
	}

	pre, err := model.FitStandardizer(train, cfg.Schema.Standardizer())
	if err != nil {
		return pipeline.TransformationArtifact{}, fmt.Errorf("fit preprocessor: %w", err)
	}
	xTrain, err := pre.Transform(train)
	if err != nil {
		return pipeline.TransformationArtifact{}, fmt.Errorf("transform train split: %w", err)
	}
	xTest, err := pre.Transform(test)
	if err != nil {
		return pipeline.TransformationArtifact{}, fmt.Errorf("transform test split: %w", err)
	}

	dir := run.StageDir(pipeline.StageTransform)
	art := pipeline.TransformationArtifact{
		PreprocessorPath: filepath.Join(dir, "transformed_object", cfg.PreprocessorFile),
		TrainArrayPath:   filepath.Join(dir, "transformed", cfg.TrainArrayFile),
		TestArrayPath:    filepath.Join(dir, "transformed", cfg.TestArrayFile),
	}
	if err := model.WriteTransformerFile(art.PreprocessorPath, pre); err != nil {
		return pipeline.TransformationArtifact{}, err
	}
	if err := dataset.WriteMatrixFile(art.TrainArrayPath, xTrain, yTrain); err != nil {
		return pipeline.TransformationArtifact{}, fmt.Errorf("write train array: %w", err)
	}
	if err := dataset.WriteMatrixFile(art.TestArrayPath, xTest, yTest); err != nil {
		return pipeline.TransformationArtifact{}, fmt.Errorf("write test array: %w", err)
	}

	s.logger.Info("data transformed", "run_id", run.RunID, "features", pre.Width(), "train_rows", train.Len(), "test_rows", test.Len())
	return art, nil
}

// loadLabeled reads a raw split, maps its target column to 0/1 and drops
// the target and the configured drop columns from the features.
func loadLabeled(path string, schema pipeline.SchemaConfig) (*dataset.Frame, []float64, error) {
	f, err := dataset.ReadCSVFile(path)
	if err != nil {
		return nil, nil, err
	}
	raw, err := f.Column(schema.Target)
	if err != nil {
		return nil, nil, err
	}
	y, err := schema.Labels(raw)
	if err != nil {
		return nil, nil, err
	}
	drop := append([]string{schema.Target}, schema.Drop...)
	return f.Drop(drop...), y, nil
}

package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/animus-labs/propensity/internal/dataset"
	"github.com/animus-labs/propensity/internal/model"
	"github.com/animus-labs/propensity/internal/pipeline"
)

// ErrBelowExpectedScore is returned when the trained model misses the
// configured minimum accuracy on the test split.
var ErrBelowExpectedScore = errors.New("model accuracy below expected score")

// Trainer fits the classifier on the transformed train split and writes the
// complete bundle (preprocessor plus classifier) for the run.
type Trainer struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewTrainer(logger *slog.Logger) *Trainer {
	return &Trainer{logger: discardLogger(logger), now: time.Now}
}

func (s *Trainer) Train(ctx context.Context, run pipeline.RunContext, in pipeline.TransformationArtifact, cfg pipeline.TrainerConfig) (pipeline.TrainerArtifact, error) {
	xTrain, yTrain, err := dataset.ReadMatrixFile(in.TrainArrayPath)
	if err != nil {
		return pipeline.TrainerArtifact{}, fmt.Errorf("read train array: %w", err)
	}
	xTest, yTest, err := dataset.ReadMatrixFile(in.TestArrayPath)
	if err != nil {
		return pipeline.TrainerArtifact{}, fmt.Errorf("read test array: %w", err)
	}
	pre, err := model.ReadTransformerFile(in.PreprocessorPath)
	if err != nil {
		return pipeline.TrainerArtifact{}, err
	}
	if err := ctx.Err(); err != nil {
		return pipeline.TrainerArtifact{}, err
	}

	start := time.Now()
	clf, err := model.FitLogisticRegression(xTrain, yTrain, model.LogisticOptions{
		LearningRate: cfg.LearningRate,
		Epochs:       cfg.Epochs,
		L2:           cfg.L2,
		Balanced:     cfg.Balanced,
		Threshold:    cfg.Threshold,
	})
	if err != nil {
		return pipeline.TrainerArtifact{}, fmt.Errorf("fit classifier: %w", err)
	}
	predicted, err := clf.Predict(xTest)
	if err != nil {
		return pipeline.TrainerArtifact{}, fmt.Errorf("predict test array: %w", err)
	}
	metrics, err := model.Score(yTest, predicted)
	if err != nil {
		return pipeline.TrainerArtifact{}, fmt.Errorf("score: %w", err)
	}
	s.logger.Info("model trained",
		"run_id", run.RunID,
		"duration_ms", time.Since(start).Milliseconds(),
		"accuracy", metrics.Accuracy,
		"precision", metrics.Precision,
		"recall", metrics.Recall,
		"f1", metrics.F1,
	)
	if metrics.Accuracy < cfg.ExpectedScore {
		return pipeline.TrainerArtifact{}, fmt.Errorf("%w: %.4f < %.4f", ErrBelowExpectedScore, metrics.Accuracy, cfg.ExpectedScore)
	}

	bundle, err := model.NewBundle(pre, clf, model.Meta{
		RunID:     run.RunID,
		CreatedAt: s.now().UTC(),
		Metrics:   metrics.Map(),
	})
	if err != nil {
		return pipeline.TrainerArtifact{}, err
	}
	path := filepath.Join(run.StageDir(pipeline.StageTrain), "trained_model", cfg.ModelFile)
	if err := model.WriteFile(path, bundle); err != nil {
		return pipeline.TrainerArtifact{}, err
	}
	return pipeline.TrainerArtifact{ModelPath: path, Metrics: metrics}, nil
}

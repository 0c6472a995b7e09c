package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/animus-labs/propensity/internal/dataset"
	"github.com/animus-labs/propensity/internal/model"
	"github.com/animus-labs/propensity/internal/pipeline"
	"github.com/animus-labs/propensity/internal/registry"
)

// Evaluation scores the trained bundle against the production bundle on the
// raw test split. Each bundle applies its own preprocessor.
type Evaluation struct {
	registry *registry.Registry
	logger   *slog.Logger
}

func NewEvaluation(reg *registry.Registry, logger *slog.Logger) (*Evaluation, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	return &Evaluation{registry: reg, logger: discardLogger(logger)}, nil
}

func (s *Evaluation) Evaluate(ctx context.Context, run pipeline.RunContext, in pipeline.IngestionArtifact, t pipeline.TrainerArtifact, cfg pipeline.EvaluationConfig) (pipeline.EvaluationArtifact, error) {
	test, y, err := loadLabeled(in.TestPath, cfg.Schema)
	if err != nil {
		return pipeline.EvaluationArtifact{}, fmt.Errorf("test split: %w", err)
	}

	trained, err := model.ReadFile(t.ModelPath)
	if err != nil {
		return pipeline.EvaluationArtifact{}, err
	}
	trainedScore, err := score(trained, test, y, cfg.Metric)
	if err != nil {
		return pipeline.EvaluationArtifact{}, fmt.Errorf("score trained model: %w", err)
	}

	art := pipeline.EvaluationArtifact{
		TrainedModelPath: t.ModelPath,
		TrainedScore:     trainedScore,
		Metric:           cfg.Metric,
	}
	// Only a missing object means bootstrap; transport or corrupt errors abort.
	production, err := s.registry.Load(ctx, cfg.ModelKey)
	switch {
	case errors.Is(err, registry.ErrNotFound):
	case err != nil:
		return pipeline.EvaluationArtifact{}, fmt.Errorf("load production model: %w", err)
	default:
		art.ProductionScore, err = score(production, test, y, cfg.Metric)
		if err != nil {
			return pipeline.EvaluationArtifact{}, fmt.Errorf("score production model %s: %w", production, err)
		}
		art.HasProduction = true
	}

	d := pipeline.Decide(art.TrainedScore, art.ProductionScore, art.HasProduction, cfg.MinImprovement)
	art.IsModelAccepted = d.Accepted
	art.ChangedScore = d.Changed

	s.logger.Info("model evaluated",
		"run_id", run.RunID,
		"metric", cfg.Metric,
		"trained_score", art.TrainedScore,
		"production_score", art.ProductionScore,
		"has_production", art.HasProduction,
		"changed_score", art.ChangedScore,
		"accepted", art.IsModelAccepted,
	)
	return art, nil
}

func score(b *model.Bundle, f *dataset.Frame, y []float64, metric string) (float64, error) {
	predicted, err := b.Predict(f)
	if err != nil {
		return 0, err
	}
	m, err := model.Score(y, predicted)
	if err != nil {
		return 0, err
	}
	return m.Get(metric)
}

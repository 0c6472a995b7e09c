package stages

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/animus-labs/propensity/internal/pipeline"
	"github.com/animus-labs/propensity/internal/registry"
)

// Pusher publishes an accepted bundle to the production key.
type Pusher struct {
	registry *registry.Registry
	logger   *slog.Logger
}

func NewPusher(reg *registry.Registry, logger *slog.Logger) (*Pusher, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	return &Pusher{registry: reg, logger: discardLogger(logger)}, nil
}

func (s *Pusher) Push(ctx context.Context, run pipeline.RunContext, in pipeline.EvaluationArtifact, cfg pipeline.PusherConfig) (pipeline.PusherArtifact, error) {
	if !in.IsModelAccepted {
		return pipeline.PusherArtifact{}, errors.New("refusing to push a model that was not accepted")
	}
	art := pipeline.PusherArtifact{Bucket: s.registry.Bucket(), ModelKey: cfg.ModelKey}

	if prefix := strings.Trim(cfg.ArchivePrefix, "/"); prefix != "" {
		art.ArchiveKey = path.Join(prefix, run.RunID, filepath.Base(in.TrainedModelPath))
		if err := s.registry.SaveRawFile(ctx, in.TrainedModelPath, art.ArchiveKey, false); err != nil {
			return pipeline.PusherArtifact{}, err
		}
	}
	// Production key last.
	if err := s.registry.SaveRawFile(ctx, in.TrainedModelPath, cfg.ModelKey, cfg.RemoveLocal); err != nil {
		return pipeline.PusherArtifact{}, err
	}

	s.logger.Info("model pushed",
		"run_id", run.RunID,
		"bucket", art.Bucket,
		"key", art.ModelKey,
		"archive_key", art.ArchiveKey,
		"metric", in.Metric,
		"trained_score", in.TrainedScore,
	)
	return art, nil
}

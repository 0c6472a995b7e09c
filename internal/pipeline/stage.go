package pipeline

import "context"

type Stage string

const (
	StageIngest    Stage = "ingest"
	StageValidate  Stage = "validate"
	StageTransform Stage = "transform"
	StageTrain     Stage = "train"
	StageEvaluate  Stage = "evaluate"
	StagePush      Stage = "push"
)

// Stages in run order.
var Stages = []Stage{StageIngest, StageValidate, StageTransform, StageTrain, StageEvaluate, StagePush}

// RunContext identifies a run and the directory its stages write under.
type RunContext struct {
	RunID string
	Dir   string
}

type Ingestor interface {
	Ingest(ctx context.Context, run RunContext, cfg IngestionConfig) (IngestionArtifact, error)
}

type Validator interface {
	Validate(ctx context.Context, run RunContext, in IngestionArtifact, cfg ValidationConfig) (ValidationArtifact, error)
}

type Transformer interface {
	Transform(ctx context.Context, run RunContext, in IngestionArtifact, v ValidationArtifact, cfg TransformationConfig) (TransformationArtifact, error)
}

type Trainer interface {
	Train(ctx context.Context, run RunContext, in TransformationArtifact, cfg TrainerConfig) (TrainerArtifact, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, run RunContext, in IngestionArtifact, t TrainerArtifact, cfg EvaluationConfig) (EvaluationArtifact, error)
}

type Pusher interface {
	Push(ctx context.Context, run RunContext, in EvaluationArtifact, cfg PusherConfig) (PusherArtifact, error)
}

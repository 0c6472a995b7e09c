package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrRunInProgress is returned when Run is called while another run of the
// same orchestrator has not finished.
var ErrRunInProgress = errors.New("pipeline run already in progress")

const (
	OutcomePushed   = "pushed"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Components holds one implementation per stage.
type Components struct {
	Ingestor    Ingestor
	Validator   Validator
	Transformer Transformer
	Trainer     Trainer
	Evaluator   Evaluator
	Pusher      Pusher
}

func (c Components) validate() error {
	switch {
	case c.Ingestor == nil:
		return errors.New("ingestor is required")
	case c.Validator == nil:
		return errors.New("validator is required")
	case c.Transformer == nil:
		return errors.New("transformer is required")
	case c.Trainer == nil:
		return errors.New("trainer is required")
	case c.Evaluator == nil:
		return errors.New("evaluator is required")
	case c.Pusher == nil:
		return errors.New("pusher is required")
	}
	return nil
}

// Recorder persists run history. Recorder failures are logged and never
// change the outcome of a run.
type Recorder interface {
	StartRun(ctx context.Context, run RunContext, cfg Config) error
	RecordStage(ctx context.Context, runID string, stage Stage, d time.Duration, artifact any, stageErr error) error
	FinishRun(ctx context.Context, res Result, runErr error) error
}

// Observer receives timing events, typically for metrics.
type Observer interface {
	StageDone(stage Stage, d time.Duration, err error)
	RunDone(outcome string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) StageDone(Stage, time.Duration, error) {}
func (nopObserver) RunDone(string, time.Duration)         {}

// Result summarizes a finished run. Pusher is set only when Outcome is
// OutcomePushed.
type Result struct {
	RunID          string
	Dir            string
	Outcome        string
	Accepted       bool
	StartedAt      time.Time
	FinishedAt     time.Time
	Ingestion      IngestionArtifact
	Validation     ValidationArtifact
	Transformation TransformationArtifact
	Trainer        TrainerArtifact
	Evaluation     EvaluationArtifact
	Pusher         *PusherArtifact
}

type Orchestrator struct {
	cfg      Config
	stages   Components
	logger   *slog.Logger
	recorder Recorder
	observer Observer
	runID    func() string
	now      func() time.Time
	running  atomic.Bool
}

type Option func(*Orchestrator)

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithRunID fixes the run identifier generator. A constant id makes a rerun
// rewrite the same artifact paths.
func WithRunID(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.runID = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func New(cfg Config, stages Components, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	cfg.bind()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := stages.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	o := &Orchestrator{
		cfg:      cfg,
		stages:   stages,
		logger:   logger,
		observer: nopObserver{},
		runID:    uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *Orchestrator) Config() Config { return o.cfg }

// Running reports whether a run is in progress.
func (o *Orchestrator) Running() bool { return o.running.Load() }

// Run executes every stage in order on the calling goroutine. A rejected
// model is a normal outcome with a nil error. Any stage failure aborts the
// run with a *StageError and the pusher is not called.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	if !o.running.CompareAndSwap(false, true) {
		return Result{}, ErrRunInProgress
	}
	defer o.running.Store(false)

	runID := o.runID()
	run := RunContext{RunID: runID, Dir: filepath.Join(o.cfg.ArtifactRoot, runID)}
	res := Result{RunID: runID, Dir: run.Dir, Outcome: OutcomeFailed, StartedAt: o.now().UTC()}
	logger := o.logger.With("run_id", runID)
	logger.Info("pipeline run started", "dir", run.Dir, "model_key", o.cfg.Pusher.ModelKey)

	if o.recorder != nil {
		if err := o.recorder.StartRun(ctx, run, o.cfg); err != nil {
			logger.Warn("run ledger start failed", "error", err)
		}
	}

	err := o.run(ctx, run, &res)
	res.FinishedAt = o.now().UTC()
	duration := res.FinishedAt.Sub(res.StartedAt)
	o.observer.RunDone(res.Outcome, duration)

	if o.recorder != nil {
		// A canceled run is still recorded as finished.
		if rerr := o.recorder.FinishRun(context.WithoutCancel(ctx), res, err); rerr != nil {
			logger.Warn("run ledger finish failed", "error", rerr)
		}
	}

	if err != nil {
		stage, _ := StageOf(err)
		logger.Error("pipeline run failed", "stage", stage, "duration_ms", duration.Milliseconds(), "error", err)
		return res, err
	}
	logger.Info("pipeline run finished", "outcome", res.Outcome, "duration_ms", duration.Milliseconds())
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, run RunContext, res *Result) error {
	var err error
	cfg := o.cfg

	if res.Ingestion, err = step(ctx, o, run, StageIngest, func() (IngestionArtifact, error) {
		return o.stages.Ingestor.Ingest(ctx, run, cfg.Ingestion)
	}); err != nil {
		return err
	}
	if res.Validation, err = step(ctx, o, run, StageValidate, func() (ValidationArtifact, error) {
		return o.stages.Validator.Validate(ctx, run, res.Ingestion, cfg.Validation)
	}); err != nil {
		return err
	}
	if res.Transformation, err = step(ctx, o, run, StageTransform, func() (TransformationArtifact, error) {
		return o.stages.Transformer.Transform(ctx, run, res.Ingestion, res.Validation, cfg.Transformation)
	}); err != nil {
		return err
	}
	if res.Trainer, err = step(ctx, o, run, StageTrain, func() (TrainerArtifact, error) {
		return o.stages.Trainer.Train(ctx, run, res.Transformation, cfg.Trainer)
	}); err != nil {
		return err
	}
	if res.Evaluation, err = step(ctx, o, run, StageEvaluate, func() (EvaluationArtifact, error) {
		return o.stages.Evaluator.Evaluate(ctx, run, res.Ingestion, res.Trainer, cfg.Evaluation)
	}); err != nil {
		return err
	}

	ev := res.Evaluation
	if !ev.IsModelAccepted {
		res.Outcome = OutcomeRejected
		o.logger.Info("trained model rejected",
			"run_id", run.RunID,
			"metric", ev.Metric,
			"trained_score", ev.TrainedScore,
			"production_score", ev.ProductionScore,
			"changed_score", ev.ChangedScore,
			"min_improvement", cfg.Evaluation.MinImprovement,
		)
		return nil
	}
	res.Accepted = true

	pushed, err := step(ctx, o, run, StagePush, func() (PusherArtifact, error) {
		return o.stages.Pusher.Push(ctx, run, ev, cfg.Pusher)
	})
	if err != nil {
		return err
	}
	res.Pusher = &pushed
	res.Outcome = OutcomePushed
	return nil
}

func step[T any](ctx context.Context, o *Orchestrator, run RunContext, stage Stage, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, &StageError{Stage: stage, Err: err}
	}

	start := time.Now()
	o.logger.Debug("stage started", "run_id", run.RunID, "stage", stage)
	out, err := fn()
	d := time.Since(start)
	o.observer.StageDone(stage, d, err)

	if o.recorder != nil {
		var artifact any = out
		if err != nil {
			artifact = nil
		}
		if rerr := o.recorder.RecordStage(ctx, run.RunID, stage, d, artifact, err); rerr != nil {
			o.logger.Warn("run ledger stage record failed", "run_id", run.RunID, "stage", stage, "error", rerr)
		}
	}

	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			return zero, err
		}
		return zero, &StageError{Stage: stage, Err: err}
	}
	o.logger.Info("stage completed", "run_id", run.RunID, "stage", stage, "duration_ms", d.Milliseconds())
	return out, nil
}

// StageDir is the directory a stage writes its outputs under.
func (r RunContext) StageDir(stage Stage) string {
	return filepath.Join(r.Dir, string(stage))
}

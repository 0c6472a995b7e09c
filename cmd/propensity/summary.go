package main

import (
	"github.com/animus-labs/propensity/internal/model"
	"github.com/animus-labs/propensity/internal/pipeline"
)

type runSummary struct {
	RunID      string                       `json:"run_id"`
	Outcome    string                       `json:"outcome"`
	Accepted   bool                         `json:"accepted"`
	DurationMs int64                        `json:"duration_ms"`
	Metrics    *model.Metrics               `json:"metrics,omitempty"`
	Evaluation *pipeline.EvaluationArtifact `json:"evaluation,omitempty"`
	Published  *pipeline.PusherArtifact     `json:"published,omitempty"`
	Stage      string                       `json:"stage,omitempty"`
	Error      string                       `json:"error,omitempty"`
}

func summarize(res pipeline.Result, err error) runSummary {
	s := runSummary{
		RunID:      res.RunID,
		Outcome:    res.Outcome,
		Accepted:   res.Accepted,
		DurationMs: res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
		Published:  res.Pusher,
	}
	if res.Trainer.ModelPath != "" {
		m := res.Trainer.Metrics
		s.Metrics = &m
	}
	if res.Evaluation.Metric != "" {
		ev := res.Evaluation
		s.Evaluation = &ev
	}
	if err != nil {
		stage, _ := pipeline.StageOf(err)
		s.Stage = string(stage)
		s.Error = err.Error()
	}
	return s
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/propensity/internal/pipeline"
)

const (
	schemaQuery = `CREATE TABLE IF NOT EXISTS training_runs (
		run_id TEXT PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		outcome TEXT,
		error_stage TEXT,
		error_message TEXT,
		model_key TEXT NOT NULL,
		config JSONB NOT NULL,
		evaluation JSONB,
		integrity_sha256 TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS training_run_stages (
		run_id TEXT NOT NULL REFERENCES training_runs (run_id) ON DELETE CASCADE,
		stage TEXT NOT NULL,
		status TEXT NOT NULL,
		duration_ms BIGINT NOT NULL,
		artifact JSONB,
		error_message TEXT,
		recorded_at TIMESTAMPTZ NOT NULL,
		integrity_sha256 TEXT NOT NULL,
		PRIMARY KEY (run_id, stage)
	)`

	startRunQuery = `INSERT INTO training_runs (
		run_id,
		started_at,
		model_key,
		config,
		integrity_sha256
	) VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT (run_id) DO UPDATE SET
		started_at = EXCLUDED.started_at,
		finished_at = NULL,
		outcome = NULL,
		error_stage = NULL,
		error_message = NULL,
		model_key = EXCLUDED.model_key,
		config = EXCLUDED.config,
		evaluation = NULL,
		integrity_sha256 = EXCLUDED.integrity_sha256`

	recordStageQuery = `INSERT INTO training_run_stages (
		run_id,
		stage,
		status,
		duration_ms,
		artifact,
		error_message,
		recorded_at,
		integrity_sha256
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	ON CONFLICT (run_id, stage) DO UPDATE SET
		status = EXCLUDED.status,
		duration_ms = EXCLUDED.duration_ms,
		artifact = EXCLUDED.artifact,
		error_message = EXCLUDED.error_message,
		recorded_at = EXCLUDED.recorded_at,
		integrity_sha256 = EXCLUDED.integrity_sha256`

	finishRunQuery = `UPDATE training_runs SET
		finished_at = $2,
		outcome = $3,
		error_stage = $4,
		error_message = $5,
		evaluation = $6
	WHERE run_id = $1`

	listRunsQuery = `SELECT run_id, started_at, finished_at, outcome, error_stage, error_message, model_key, evaluation
	 FROM training_runs
	 ORDER BY started_at DESC, run_id ASC
	 LIMIT $1`
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// RunLedger records training runs and their stage outcomes. It implements
// pipeline.Recorder.
type RunLedger struct {
	db  DB
	now func() time.Time
}

func NewRunLedger(db DB) *RunLedger {
	if db == nil {
		return nil
	}
	return &RunLedger{db: db, now: time.Now}
}

func (l *RunLedger) EnsureSchema(ctx context.Context) error {
	if l == nil || l.db == nil {
		return errors.New("run ledger not initialized")
	}
	if _, err := l.db.ExecContext(ctx, schemaQuery); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (l *RunLedger) StartRun(ctx context.Context, run pipeline.RunContext, cfg pipeline.Config) error {
	if l == nil || l.db == nil {
		return errors.New("run ledger not initialized")
	}
	runID := strings.TrimSpace(run.RunID)
	if runID == "" {
		return errors.New("run id is required")
	}
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	startedAt := normalizeTime(l.now())
	integrity, err := integritySHA256(struct {
		RunID     string          `json:"run_id"`
		StartedAt time.Time       `json:"started_at"`
		ModelKey  string          `json:"model_key"`
		Config    json.RawMessage `json:"config"`
	}{runID, startedAt, cfg.Pusher.ModelKey, configJSON})
	if err != nil {
		return err
	}
	if _, err := l.db.ExecContext(ctx, startRunQuery, runID, startedAt, cfg.Pusher.ModelKey, configJSON, integrity); err != nil {
		return fmt.Errorf("insert training run: %w", err)
	}
	return nil
}

func (l *RunLedger) RecordStage(ctx context.Context, runID string, stage pipeline.Stage, d time.Duration, artifact any, stageErr error) error {
	if l == nil || l.db == nil {
		return errors.New("run ledger not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return errors.New("run id is required")
	}
	status := StatusSucceeded
	var errMsg string
	if stageErr != nil {
		status = StatusFailed
		errMsg = stageErr.Error()
	}
	artifactJSON, err := encodeJSON(artifact)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	recordedAt := normalizeTime(l.now())
	integrity, err := integritySHA256(struct {
		RunID      string          `json:"run_id"`
		Stage      string          `json:"stage"`
		Status     string          `json:"status"`
		DurationMs int64           `json:"duration_ms"`
		Artifact   json.RawMessage `json:"artifact,omitempty"`
		Error      string          `json:"error,omitempty"`
	}{runID, string(stage), status, d.Milliseconds(), artifactJSON, errMsg})
	if err != nil {
		return err
	}
	if _, err := l.db.ExecContext(ctx, recordStageQuery,
		runID,
		string(stage),
		status,
		d.Milliseconds(),
		artifactJSON,
		nullIfEmpty(errMsg),
		recordedAt,
		integrity,
	); err != nil {
		return fmt.Errorf("insert training run stage: %w", err)
	}
	return nil
}

func (l *RunLedger) FinishRun(ctx context.Context, res pipeline.Result, runErr error) error {
	if l == nil || l.db == nil {
		return errors.New("run ledger not initialized")
	}
	runID := strings.TrimSpace(res.RunID)
	if runID == "" {
		return errors.New("run id is required")
	}
	var stage, errMsg string
	if runErr != nil {
		s, _ := pipeline.StageOf(runErr)
		stage = string(s)
		errMsg = runErr.Error()
	}
	var evaluation []byte
	if res.Evaluation.Metric != "" {
		var err error
		if evaluation, err = json.Marshal(res.Evaluation); err != nil {
			return fmt.Errorf("encode evaluation: %w", err)
		}
	}
	finishedAt := res.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = l.now()
	}
	if _, err := l.db.ExecContext(ctx, finishRunQuery,
		runID,
		finishedAt.UTC(),
		res.Outcome,
		nullIfEmpty(stage),
		nullIfEmpty(errMsg),
		evaluation,
	); err != nil {
		return fmt.Errorf("update training run: %w", err)
	}
	return nil
}

// RunSummary is one row of the ledger.
type RunSummary struct {
	RunID        string                       `json:"run_id"`
	StartedAt    time.Time                    `json:"started_at"`
	FinishedAt   *time.Time                   `json:"finished_at,omitempty"`
	Outcome      string                       `json:"outcome,omitempty"`
	ErrorStage   string                       `json:"error_stage,omitempty"`
	ErrorMessage string                       `json:"error_message,omitempty"`
	ModelKey     string                       `json:"model_key"`
	Evaluation   *pipeline.EvaluationArtifact `json:"evaluation,omitempty"`
}

// ListRuns returns the most recent runs first.
func (l *RunLedger) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if l == nil || l.db == nil {
		return nil, errors.New("run ledger not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, listRunsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("list training runs: %w", err)
	}
	defer rows.Close()

	out := make([]RunSummary, 0)
	for rows.Next() {
		var (
			r          RunSummary
			finishedAt sql.NullTime
			outcome    sql.NullString
			stage      sql.NullString
			errMsg     sql.NullString
			evaluation []byte
		)
		if err := rows.Scan(&r.RunID, &r.StartedAt, &finishedAt, &outcome, &stage, &errMsg, &r.ModelKey, &evaluation); err != nil {
			return nil, fmt.Errorf("scan training run: %w", err)
		}
		if finishedAt.Valid {
			t := finishedAt.Time.UTC()
			r.FinishedAt = &t
		}
		r.Outcome = outcome.String
		r.ErrorStage = stage.String
		r.ErrorMessage = errMsg.String
		if len(evaluation) > 0 {
			var ev pipeline.EvaluationArtifact
			if err := json.Unmarshal(evaluation, &ev); err != nil {
				return nil, fmt.Errorf("decode evaluation: %w", err)
			}
			r.Evaluation = &ev
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list training runs: %w", err)
	}
	return out, nil
}

package stages

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/propensity/internal/dataset"
	"github.com/animus-labs/propensity/internal/pipeline"
	"github.com/animus-labs/propensity/internal/platform/fsutil"
)

// maxReportedRows caps the offending row numbers listed per column.
const maxReportedRows = 10

// Validation checks both splits against the schema and writes a YAML
// report. Data problems produce a failed artifact, not an error.
type Validation struct {
	logger *slog.Logger
}

func NewValidation(logger *slog.Logger) *Validation {
	return &Validation{logger: discardLogger(logger)}
}

type ValidationReport struct {
	Status  bool        `yaml:"status"`
	Message string      `yaml:"message"`
	Train   SplitReport `yaml:"train"`
	Test    SplitReport `yaml:"test"`
}

type SplitReport struct {
	Path           string           `yaml:"path"`
	Rows           int              `yaml:"rows"`
	Columns        int              `yaml:"columns"`
	MissingColumns []string         `yaml:"missing_columns,omitempty"`
	InvalidNumeric map[string][]int `yaml:"invalid_numeric,omitempty"`
	InvalidTarget  []int            `yaml:"invalid_target,omitempty"`
}

func (r SplitReport) problems(minRows int) []string {
	var out []string
	if r.Rows < minRows {
		out = append(out, fmt.Sprintf("%d rows, need at least %d", r.Rows, minRows))
	}
	if len(r.MissingColumns) > 0 {
		out = append(out, "missing columns "+strings.Join(r.MissingColumns, ","))
	}
	cols := make([]string, 0, len(r.InvalidNumeric))
	for col := range r.InvalidNumeric {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		out = append(out, fmt.Sprintf("non-numeric values in %s", col))
	}
	if len(r.InvalidTarget) > 0 {
		out = append(out, "unknown target values")
	}
	return out
}

func (s *Validation) Validate(ctx context.Context, run pipeline.RunContext, in pipeline.IngestionArtifact, cfg pipeline.ValidationConfig) (pipeline.ValidationArtifact, error) {
	train, err := dataset.ReadCSVFile(in.TrainPath)
	if err != nil {
		return pipeline.ValidationArtifact{}, fmt.Errorf("read train split: %w", err)
	}
	test, err := dataset.ReadCSVFile(in.TestPath)
	if err != nil {
		return pipeline.ValidationArtifact{}, fmt.Errorf("read test split: %w", err)
	}

	report := ValidationReport{
		Train: checkSplit(in.TrainPath, train, cfg.Schema),
		Test:  checkSplit(in.TestPath, test, cfg.Schema),
	}
	var problems []string
	for _, p := range report.Train.problems(cfg.MinRows) {
		problems = append(problems, "train: "+p)
	}
	for _, p := range report.Test.problems(1) {
		problems = append(problems, "test: "+p)
	}
	report.Status = len(problems) == 0
	report.Message = "ok"
	if !report.Status {
		report.Message = strings.Join(problems, "; ")
	}

	data, err := yaml.Marshal(report)
	if err != nil {
		return pipeline.ValidationArtifact{}, fmt.Errorf("encode report: %w", err)
	}
	path := filepath.Join(run.StageDir(pipeline.StageValidate), cfg.ReportFile)
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return pipeline.ValidationArtifact{}, fmt.Errorf("write report: %w", err)
	}

	if report.Status {
		s.logger.Info("data validated", "run_id", run.RunID, "train_rows", report.Train.Rows, "test_rows", report.Test.Rows)
	} else {
		s.logger.Warn("data validation failed", "run_id", run.RunID, "message", report.Message)
	}
	return pipeline.ValidationArtifact{Status: report.Status, Message: report.Message, ReportPath: path}, nil
}

func checkSplit(path string, f *dataset.Frame, schema pipeline.SchemaConfig) SplitReport {
	r := SplitReport{Path: path, Rows: f.Len(), Columns: len(f.Columns())}
	for _, col := range schema.Columns() {
		if !f.Has(col) {
			r.MissingColumns = append(r.MissingColumns, col)
		}
	}
	for _, nc := range schema.Numeric {
		values, err := f.Column(nc.Column)
		if err != nil {
			continue
		}
		var bad []int
		for i, v := range values {
			if _, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err != nil {
				bad = append(bad, i)
				if len(bad) == maxReportedRows {
					break
				}
			}
		}
		if len(bad) > 0 {
			if r.InvalidNumeric == nil {
				r.InvalidNumeric = make(map[string][]int)
			}
			r.InvalidNumeric[nc.Column] = bad
		}
	}
	if values, err := f.Column(schema.Target); err == nil {
		for i, v := range values {
			if _, err := schema.Labels([]string{v}); err != nil {
				r.InvalidTarget = append(r.InvalidTarget, i)
				if len(r.InvalidTarget) == maxReportedRows {
					break
				}
			}
		}
	}
	return r
}

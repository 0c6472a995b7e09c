package pipeline

import "github.com/animus-labs/propensity/internal/model"

// Artifacts are plain values produced by one stage and handed forward.
// Paths point at files the producing stage has finished writing.

type IngestionArtifact struct {
	FeatureStorePath string `json:"feature_store_path"`
	TrainPath        string `json:"train_path"`
	TestPath         string `json:"test_path"`
}

type ValidationArtifact struct {
	Status     bool   `json:"status"`
	Message    string `json:"message"`
	ReportPath string `json:"report_path"`
}

type TransformationArtifact struct {
	PreprocessorPath string `json:"preprocessor_path"`
	TrainArrayPath   string `json:"train_array_path"`
	TestArrayPath    string `json:"test_array_path"`
}

type TrainerArtifact struct {
	ModelPath string        `json:"model_path"`
	Metrics   model.Metrics `json:"metrics"`
}

// EvaluationArtifact records the acceptance decision. ProductionScore is
// meaningful only when HasProduction is set.
type EvaluationArtifact struct {
	IsModelAccepted  bool    `json:"is_model_accepted"`
	ChangedScore     float64 `json:"changed_score"`
	TrainedModelPath string  `json:"trained_model_path"`
	TrainedScore     float64 `json:"trained_score"`
	ProductionScore  float64 `json:"production_score"`
	HasProduction    bool    `json:"has_production"`
	Metric           string  `json:"metric"`
}

type PusherArtifact struct {
	Bucket     string `json:"bucket"`
	ModelKey   string `json:"model_key"`
	ArchiveKey string `json:"archive_key,omitempty"`
}

package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/animus-labs/propensity/internal/model"
	"github.com/animus-labs/propensity/internal/platform/env"
)

const (
	DefaultModelKey       = "models/model.bundle"
	DefaultMetric         = model.MetricF1
	DefaultMinImprovement = 0.02
	DefaultTestRatio      = 0.25
)

// Config is the full pipeline configuration. Stage configs receive a copy
// of Schema and the production key when the config is loaded.
type Config struct {
	ArtifactRoot   string               `yaml:"artifact_root" validate:"required"`
	Schema         SchemaConfig         `yaml:"schema"`
	Ingestion      IngestionConfig      `yaml:"ingestion"`
	Validation     ValidationConfig     `yaml:"validation"`
	Transformation TransformationConfig `yaml:"transformation"`
	Trainer        TrainerConfig        `yaml:"trainer"`
	Evaluation     EvaluationConfig     `yaml:"evaluation"`
	Pusher         PusherConfig         `yaml:"pusher"`
}

// SchemaConfig describes the raw tabular layout.
type SchemaConfig struct {
	Target         string                `yaml:"target" validate:"required"`
	PositiveValues []string              `yaml:"positive_values" validate:"min=1,dive,required"`
	NegativeValues []string              `yaml:"negative_values" validate:"min=1,dive,required"`
	Drop           []string              `yaml:"drop"`
	Numeric        []model.NumericColumn `yaml:"numeric" validate:"dive"`
	Categorical    []string              `yaml:"categorical" validate:"dive,required"`
}

type IngestionConfig struct {
	// Source is a local CSV path or objectstore://<key> in the datasets bucket.
	Source           string  `yaml:"source" validate:"required"`
	TestRatio        float64 `yaml:"test_ratio" validate:"gt=0,lt=1"`
	Seed             uint64  `yaml:"seed"`
	FeatureStoreFile string  `yaml:"feature_store_file" validate:"required"`
	TrainFile        string  `yaml:"train_file" validate:"required"`
	TestFile         string  `yaml:"test_file" validate:"required"`
}

type ValidationConfig struct {
	MinRows    int          `yaml:"min_rows" validate:"gte=2"`
	ReportFile string       `yaml:"report_file" validate:"required"`
	Schema     SchemaConfig `yaml:"-" json:"-" validate:"-"`
}

type TransformationConfig struct {
	PreprocessorFile string       `yaml:"preprocessor_file" validate:"required"`
	TrainArrayFile   string       `yaml:"train_array_file" validate:"required"`
	TestArrayFile    string       `yaml:"test_array_file" validate:"required"`
	Schema           SchemaConfig `yaml:"-" json:"-" validate:"-"`
}

type TrainerConfig struct {
	ModelFile string `yaml:"model_file" validate:"required"`
	// ExpectedScore is the minimum held-out accuracy a trained model must reach.
	ExpectedScore float64 `yaml:"expected_score" validate:"gte=0,lte=1"`
	LearningRate  float64 `yaml:"learning_rate" validate:"gt=0"`
	Epochs        int     `yaml:"epochs" validate:"gte=1"`
	L2            float64 `yaml:"l2" validate:"gte=0"`
	Balanced      bool    `yaml:"balanced"`
	Threshold     float64 `yaml:"threshold" validate:"gt=0,lt=1"`
}

type EvaluationConfig struct {
	Metric         string       `yaml:"metric" validate:"oneof=accuracy precision recall f1"`
	MinImprovement float64      `yaml:"min_improvement" validate:"gte=0"`
	ModelKey       string       `yaml:"-" json:"-" validate:"-"`
	Schema         SchemaConfig `yaml:"-" json:"-" validate:"-"`
}

type PusherConfig struct {
	ModelKey string `yaml:"model_key" validate:"required"`
	// ArchivePrefix, when set, also keeps a copy at <prefix>/<run_id>/<file>.
	ArchivePrefix string `yaml:"archive_prefix"`
	RemoveLocal   bool   `yaml:"remove_local"`
}

func DefaultConfig() Config {
	cfg := Config{
		ArtifactRoot: "artifacts",
		Schema: SchemaConfig{
			Target:         "Response",
			PositiveValues: []string{"1", "yes", "Yes"},
			NegativeValues: []string{"0", "no", "No"},
			Drop:           []string{"id"},
			Numeric: []model.NumericColumn{
				{Column: "Age", Scaling: model.ScalingStandard},
				{Column: "Vintage", Scaling: model.ScalingStandard},
				{Column: "Annual_Premium", Scaling: model.ScalingMinMax},
				{Column: "Region_Code", Scaling: model.ScalingMinMax},
				{Column: "Policy_Sales_Channel", Scaling: model.ScalingMinMax},
				{Column: "Driving_License", Scaling: model.ScalingNone},
				{Column: "Previously_Insured", Scaling: model.ScalingNone},
				{Column: "Vehicle_Age_lt_1_Year", Scaling: model.ScalingNone},
				{Column: "Vehicle_Age_gt_2_Years", Scaling: model.ScalingNone},
				{Column: "Vehicle_Damage_Yes", Scaling: model.ScalingNone},
			},
			Categorical: []string{"Gender"},
		},
		Ingestion: IngestionConfig{
			Source:           "data/vehicles.csv",
			TestRatio:        DefaultTestRatio,
			Seed:             42,
			FeatureStoreFile: "data.csv",
			TrainFile:        "train.csv",
			TestFile:         "test.csv",
		},
		Validation: ValidationConfig{
			MinRows:    10,
			ReportFile: "report.yaml",
		},
		Transformation: TransformationConfig{
			PreprocessorFile: "preprocessor.cbor",
			TrainArrayFile:   "train.csv",
			TestArrayFile:    "test.csv",
		},
		Trainer: TrainerConfig{
			ModelFile:     "model.bundle",
			ExpectedScore: 0.6,
			LearningRate:  0.1,
			Epochs:        500,
			L2:            1e-4,
			Threshold:     0.5,
		},
		Evaluation: EvaluationConfig{
			Metric:         DefaultMetric,
			MinImprovement: DefaultMinImprovement,
		},
		Pusher: PusherConfig{
			ModelKey: DefaultModelKey,
		},
	}
	cfg.bind()
	return cfg
}

// LoadConfig reads path over DefaultConfig, applies PROPENSITY_* overrides
// and validates the result. An empty path uses defaults only.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.bind()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.ArtifactRoot = env.String("PROPENSITY_ARTIFACT_ROOT", c.ArtifactRoot)
	c.Ingestion.Source = env.String("PROPENSITY_DATA_SOURCE", c.Ingestion.Source)
	c.Evaluation.Metric = env.String("PROPENSITY_EVAL_METRIC", c.Evaluation.Metric)
	c.Pusher.ModelKey = env.String("PROPENSITY_MODEL_KEY", c.Pusher.ModelKey)

	var err error
	if c.Ingestion.TestRatio, err = env.Float64("PROPENSITY_TEST_RATIO", c.Ingestion.TestRatio); err != nil {
		return err
	}
	if c.Evaluation.MinImprovement, err = env.Float64("PROPENSITY_MIN_IMPROVEMENT", c.Evaluation.MinImprovement); err != nil {
		return err
	}
	if c.Trainer.ExpectedScore, err = env.Float64("PROPENSITY_EXPECTED_SCORE", c.Trainer.ExpectedScore); err != nil {
		return err
	}
	return nil
}

func (c *Config) bind() {
	c.Evaluation.Metric = strings.ToLower(strings.TrimSpace(c.Evaluation.Metric))
	c.Pusher.ModelKey = strings.Trim(strings.TrimSpace(c.Pusher.ModelKey), "/")
	c.Validation.Schema = c.Schema
	c.Transformation.Schema = c.Schema
	c.Evaluation.Schema = c.Schema
	c.Evaluation.ModelKey = c.Pusher.ModelKey
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			ve := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q", ve.Namespace(), ve.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return c.Schema.validate()
}

func (s SchemaConfig) validate() error {
	if len(s.Numeric) == 0 && len(s.Categorical) == 0 {
		return errors.New("invalid config: schema has no feature columns")
	}
	seen := map[string]string{s.Target: "target"}
	mark := func(name, role string) error {
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("invalid config: column %q is both %s and %s", name, prev, role)
		}
		seen[name] = role
		return nil
	}
	for _, name := range s.Drop {
		if err := mark(name, "drop"); err != nil {
			return err
		}
	}
	for _, nc := range s.Numeric {
		if err := mark(nc.Column, "numeric"); err != nil {
			return err
		}
	}
	for _, name := range s.Categorical {
		if err := mark(name, "categorical"); err != nil {
			return err
		}
	}
	for _, v := range s.PositiveValues {
		for _, n := range s.NegativeValues {
			if v == n {
				return fmt.Errorf("invalid config: target value %q is both positive and negative", v)
			}
		}
	}
	return nil
}

// Standardizer returns the fit spec for the schema's feature columns.
func (s SchemaConfig) Standardizer() model.StandardizerSpec {
	return model.StandardizerSpec{
		Numeric:     append([]model.NumericColumn(nil), s.Numeric...),
		Categorical: append([]string(nil), s.Categorical...),
	}
}

// Columns lists every column the raw data must carry.
func (s SchemaConfig) Columns() []string {
	out := []string{s.Target}
	out = append(out, s.Drop...)
	for _, nc := range s.Numeric {
		out = append(out, nc.Column)
	}
	out = append(out, s.Categorical...)
	return out
}

// Labels maps raw target values to 1 or 0.
func (s SchemaConfig) Labels(values []string) ([]float64, error) {
	out := make([]float64, len(values))
	for i, raw := range values {
		v := strings.TrimSpace(raw)
		switch {
		case contains(s.PositiveValues, v):
			out[i] = 1
		case contains(s.NegativeValues, v):
			out[i] = 0
		default:
			if f, err := strconv.ParseFloat(v, 64); err == nil && (f == 0 || f == 1) {
				out[i] = f
				continue
			}
			return nil, fmt.Errorf("row %d: unknown %s value %q", i, s.Target, raw)
		}
	}
	return out, nil
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

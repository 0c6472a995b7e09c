package stages

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/propensity/internal/dataset"
	"github.com/animus-labs/propensity/internal/pipeline"
	"github.com/animus-labs/propensity/internal/platform/objectstore"
	"github.com/animus-labs/propensity/internal/registry"
)

const (
	modelsBucket   = "models"
	datasetsBucket = "datasets"
)

func writeSynthetic(t *testing.T, n int, seed uint64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vehicles.csv")
	if err := dataset.SyntheticVehicles(n, seed, 1.5).WriteCSVFile(path); err != nil {
		t.Fatalf("WriteCSVFile() err=%v", err)
	}
	return path
}

func testConfig(t *testing.T, source string) pipeline.Config {
	t.Helper()
	cfg := pipeline.DefaultConfig()
	cfg.ArtifactRoot = t.TempDir()
	cfg.Ingestion.Source = source
	return cfg
}

type harness struct {
	store    *objectstore.MemoryStore
	registry *registry.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := objectstore.NewMemoryStore()
	reg, err := registry.New(store, modelsBucket, nil)
	if err != nil {
		t.Fatalf("registry.New() err=%v", err)
	}
	return &harness{store: store, registry: reg}
}

func (h *harness) orchestrator(t *testing.T, cfg pipeline.Config, runID string) *pipeline.Orchestrator {
	t.Helper()
	eval, err := NewEvaluation(h.registry, nil)
	if err != nil {
		t.Fatal(err)
	}
	push, err := NewPusher(h.registry, nil)
	if err != nil {
		t.Fatal(err)
	}
	o, err := pipeline.New(cfg, pipeline.Components{
		Ingestor:    NewIngestion(h.store, datasetsBucket, nil),
		Validator:   NewValidation(nil),
		Transformer: NewTransformation(nil),
		Trainer:     NewTrainer(nil),
		Evaluator:   eval,
		Pusher:      push,
	}, nil, pipeline.WithRunID(func() string { return runID }))
	if err != nil {
		t.Fatalf("pipeline.New() err=%v", err)
	}
	return o
}

func TestPipelineBootstrapPublishes(t *testing.T) {
	h := newHarness(t)
	cfg := testConfig(t, writeSynthetic(t, 600, 1))
	ctx := context.Background()

	if h.registry.Exists(ctx, cfg.Pusher.ModelKey) {
		t.Fatalf("registry not empty before first run")
	}
	res, err := h.orchestrator(t, cfg, "run-1").Run(ctx)
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if res.Outcome != pipeline.OutcomePushed {
		t.Fatalf("Outcome=%q, want pushed", res.Outcome)
	}
	if res.Evaluation.HasProduction || !res.Evaluation.IsModelAccepted {
		t.Fatalf("Evaluation=%+v, want bootstrap acceptance", res.Evaluation)
	}
	if res.Trainer.Metrics.Accuracy < cfg.Trainer.ExpectedScore {
		t.Fatalf("Accuracy=%v below expected score", res.Trainer.Metrics.Accuracy)
	}

	fresh, err := registry.New(h.store, modelsBucket, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := fresh.Load(ctx, cfg.Pusher.ModelKey)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if b.Meta().RunID != "run-1" {
		t.Fatalf("RunID=%q, want run-1", b.Meta().RunID)
	}
	test, err := dataset.ReadCSVFile(res.Ingestion.TestPath)
	if err != nil {
		t.Fatal(err)
	}
	labels, err := fresh.Predict(ctx, test, cfg.Pusher.ModelKey)
	if err != nil {
		t.Fatalf("Predict() err=%v", err)
	}
	if len(labels) != test.Len() {
		t.Fatalf("Predict() returned %d labels for %d rows", len(labels), test.Len())
	}
	if _, err := os.Stat(res.Trainer.ModelPath); err != nil {
		t.Fatalf("local bundle removed with remove_local=false: %v", err)
	}
}

func TestPipelineRejectLeavesProductionUntouched(t *testing.T) {
	h := newHarness(t)
	source := writeSynthetic(t, 600, 2)
	ctx := context.Background()

	cfg := testConfig(t, source)
	if _, err := h.orchestrator(t, cfg, "run-1").Run(ctx); err != nil {
		t.Fatalf("first Run() err=%v", err)
	}
	before, ok := h.store.Bytes(modelsBucket, cfg.Pusher.ModelKey)
	if !ok {
		t.Fatalf("first run did not publish")
	}

	// Same data and seed retrains the same model, so the improvement is zero.
	cfg.Evaluation.MinImprovement = 0.05
	res, err := h.orchestrator(t, cfg, "run-2").Run(ctx)
	if err != nil {
		t.Fatalf("second Run() err=%v", err)
	}
	if res.Outcome != pipeline.OutcomeRejected || res.Pusher != nil {
		t.Fatalf("Result=%+v, want rejected", res)
	}
	if !res.Evaluation.HasProduction || res.Evaluation.ChangedScore >= 0.05 {
		t.Fatalf("Evaluation=%+v", res.Evaluation)
	}
	after, _ := h.store.Bytes(modelsBucket, cfg.Pusher.ModelKey)
	if !bytes.Equal(before, after) {
		t.Fatalf("production bundle changed after a rejected run")
	}
}

func TestPipelineValidationFailureStopsBeforeTraining(t *testing.T) {
	h := newHarness(t)
	f := dataset.SyntheticVehicles(100, 3, 1.5)
	rows := make([][]string, f.Len())
	for i := range rows {
		rows[i] = f.Row(i)
	}
	ageIdx := 2
	for i := range rows {
		rows[i][ageIdx] = "unknown"
	}
	broken, err := dataset.NewFrame(f.Columns(), rows)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "broken.csv")
	if err := broken.WriteCSVFile(path); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(t, path)
	res, err := h.orchestrator(t, cfg, "run-1").Run(context.Background())
	if !errors.Is(err, pipeline.ErrValidationFailed) {
		t.Fatalf("Run() err=%v, want ErrValidationFailed", err)
	}
	if stage, _ := pipeline.StageOf(err); stage != pipeline.StageTransform {
		t.Fatalf("stage=%q, want transform", stage)
	}
	if res.Validation.Status || !strings.Contains(res.Validation.Message, "Age") {
		t.Fatalf("Validation=%+v, want failure naming Age", res.Validation)
	}

	data, err := os.ReadFile(res.Validation.ReportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var report ValidationReport
	if err := yaml.Unmarshal(data, &report); err != nil {
		t.Fatalf("parse report: %v", err)
	}
	if report.Status || len(report.Train.InvalidNumeric["Age"]) == 0 {
		t.Fatalf("report=%+v, want invalid Age rows", report)
	}
	if h.registry.Exists(context.Background(), cfg.Pusher.ModelKey) {
		t.Fatalf("model published after failed validation")
	}
}

func TestValidationMissingColumns(t *testing.T) {
	f := dataset.SyntheticVehicles(50, 4, 1).Drop("Vintage")
	dir := t.TempDir()
	train := filepath.Join(dir, "train.csv")
	test := filepath.Join(dir, "test.csv")
	if err := f.WriteCSVFile(train); err != nil {
		t.Fatal(err)
	}
	if err := f.WriteCSVFile(test); err != nil {
		t.Fatal(err)
	}
	cfg := pipeline.DefaultConfig()
	run := pipeline.RunContext{RunID: "run-1", Dir: dir}
	art, err := NewValidation(nil).Validate(context.Background(), run, pipeline.IngestionArtifact{TrainPath: train, TestPath: test}, cfg.Validation)
	if err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	if art.Status || !strings.Contains(art.Message, "Vintage") {
		t.Fatalf("Validate()=%+v, want missing Vintage", art)
	}
}

func TestIngestionFromObjectStore(t *testing.T) {
	h := newHarness(t)
	var buf bytes.Buffer
	if err := dataset.SyntheticVehicles(80, 5, 1).WriteCSV(&buf); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := h.store.Put(ctx, datasetsBucket, "raw/vehicles.csv", bytes.NewReader(buf.Bytes()), int64(buf.Len()), "text/csv"); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(t, ObjectSourcePrefix+"raw/vehicles.csv")
	run := pipeline.RunContext{RunID: "run-1", Dir: filepath.Join(cfg.ArtifactRoot, "run-1")}
	art, err := NewIngestion(h.store, datasetsBucket, nil).Ingest(ctx, run, cfg.Ingestion)
	if err != nil {
		t.Fatalf("Ingest() err=%v", err)
	}
	train, err := dataset.ReadCSVFile(art.TrainPath)
	if err != nil {
		t.Fatal(err)
	}
	test, err := dataset.ReadCSVFile(art.TestPath)
	if err != nil {
		t.Fatal(err)
	}
	if train.Len() != 60 || test.Len() != 20 {
		t.Fatalf("split=%d/%d, want 60/20", train.Len(), test.Len())
	}
	if !strings.HasPrefix(art.FeatureStorePath, run.StageDir(pipeline.StageIngest)) {
		t.Fatalf("FeatureStorePath=%q outside stage dir", art.FeatureStorePath)
	}

	cfg.Ingestion.Source = ObjectSourcePrefix + "raw/missing.csv"
	if _, err := NewIngestion(h.store, datasetsBucket, nil).Ingest(ctx, run, cfg.Ingestion); !errors.Is(err, objectstore.ErrObjectNotFound) {
		t.Fatalf("Ingest() err=%v, want ErrObjectNotFound", err)
	}
	if _, err := NewIngestion(nil, "", nil).Ingest(ctx, run, cfg.Ingestion); err == nil {
		t.Fatalf("Ingest() expected error without a datasets bucket")
	}
}

func TestIngestionRerunRewritesSamePaths(t *testing.T) {
	cfg := testConfig(t, writeSynthetic(t, 120, 6))
	run := pipeline.RunContext{RunID: "run-1", Dir: filepath.Join(cfg.ArtifactRoot, "run-1")}
	ing := NewIngestion(nil, "", nil)

	first, err := ing.Ingest(context.Background(), run, cfg.Ingestion)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := os.ReadFile(first.TrainPath)
	second, err := ing.Ingest(context.Background(), run, cfg.Ingestion)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("artifact changed between reruns: %+v vs %+v", first, second)
	}
	got, _ := os.ReadFile(second.TrainPath)
	if !bytes.Equal(want, got) {
		t.Fatalf("train split differs between reruns")
	}
}

func TestTrainerEnforcesExpectedScore(t *testing.T) {
	h := newHarness(t)
	cfg := testConfig(t, writeSynthetic(t, 300, 7))
	cfg.Trainer.ExpectedScore = 0.999

	_, err := h.orchestrator(t, cfg, "run-1").Run(context.Background())
	if !errors.Is(err, ErrBelowExpectedScore) {
		t.Fatalf("Run() err=%v, want ErrBelowExpectedScore", err)
	}
	if stage, _ := pipeline.StageOf(err); stage != pipeline.StageTrain {
		t.Fatalf("stage=%q, want train", stage)
	}
}

func TestEvaluationCorruptProductionIsFatal(t *testing.T) {
	h := newHarness(t)
	cfg := testConfig(t, writeSynthetic(t, 300, 8))
	garbage := []byte("not a bundle at all")
	if err := h.store.Put(context.Background(), modelsBucket, cfg.Pusher.ModelKey, bytes.NewReader(garbage), int64(len(garbage)), "application/octet-stream"); err != nil {
		t.Fatal(err)
	}

	_, err := h.orchestrator(t, cfg, "run-1").Run(context.Background())
	if !errors.Is(err, registry.ErrCorrupt) {
		t.Fatalf("Run() err=%v, want registry.ErrCorrupt", err)
	}
	if stage, _ := pipeline.StageOf(err); stage != pipeline.StageEvaluate {
		t.Fatalf("stage=%q, want evaluate", stage)
	}
	got, _ := h.store.Bytes(modelsBucket, cfg.Pusher.ModelKey)
	if !bytes.Equal(got, garbage) {
		t.Fatalf("production object overwritten after failed evaluation")
	}
}

type unreachableStore struct {
	*objectstore.MemoryStore
}

func (unreachableStore) Get(context.Context, string, string) (io.ReadCloser, objectstore.ObjectInfo, error) {
	return nil, objectstore.ObjectInfo{}, errors.New("dial tcp: connection refused")
}

func TestEvaluationTransportFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	reg, err := registry.New(unreachableStore{h.store}, modelsBucket, nil)
	if err != nil {
		t.Fatal(err)
	}
	h.registry = reg
	cfg := testConfig(t, writeSynthetic(t, 300, 10))

	_, err = h.orchestrator(t, cfg, "run-1").Run(context.Background())
	if !errors.Is(err, registry.ErrTransport) {
		t.Fatalf("Run() err=%v, want registry.ErrTransport", err)
	}
	if stage, _ := pipeline.StageOf(err); stage != pipeline.StageEvaluate {
		t.Fatalf("stage=%q, want evaluate", stage)
	}
	if _, ok := h.store.Bytes(modelsBucket, cfg.Pusher.ModelKey); ok {
		t.Fatalf("model published although production state was unknown")
	}
}

func TestPusherArchivesAndRemovesLocal(t *testing.T) {
	h := newHarness(t)
	cfg := testConfig(t, writeSynthetic(t, 400, 9))
	cfg.Pusher.ArchivePrefix = "models/history"
	cfg.Pusher.RemoveLocal = true

	res, err := h.orchestrator(t, cfg, "run-7").Run(context.Background())
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if res.Pusher.ArchiveKey != "models/history/run-7/model.bundle" {
		t.Fatalf("ArchiveKey=%q", res.Pusher.ArchiveKey)
	}
	prod, ok := h.store.Bytes(modelsBucket, cfg.Pusher.ModelKey)
	archived, ok2 := h.store.Bytes(modelsBucket, res.Pusher.ArchiveKey)
	if !ok || !ok2 || !bytes.Equal(prod, archived) {
		t.Fatalf("archive and production objects differ")
	}
	if _, err := os.Stat(res.Trainer.ModelPath); !os.IsNotExist(err) {
		t.Fatalf("local bundle kept with remove_local=true: %v", err)
	}
}

func TestPusherRefusesRejectedModel(t *testing.T) {
	h := newHarness(t)
	p, err := NewPusher(h.registry, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Push(context.Background(), pipeline.RunContext{RunID: "r"}, pipeline.EvaluationArtifact{IsModelAccepted: false}, pipeline.PusherConfig{ModelKey: "k"})
	if err == nil {
		t.Fatalf("Push() expected error for rejected model")
	}
}

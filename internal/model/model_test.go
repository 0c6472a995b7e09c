package model

import (
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/animus-labs/propensity/internal/dataset"
)

var testSpec = StandardizerSpec{
	Numeric: []NumericColumn{
		{Column: "Age", Scaling: ScalingStandard},
		{Column: "Annual_Premium", Scaling: ScalingMinMax},
		{Column: "Previously_Insured", Scaling: ScalingNone},
		{Column: "Vehicle_Damage_Yes", Scaling: ScalingNone},
		{Column: "Vehicle_Age_gt_2_Years", Scaling: ScalingNone},
		{Column: "Vehicle_Age_lt_1_Year", Scaling: ScalingNone},
	},
	Categorical: []string{"Gender"},
}

func labels(t *testing.T, f *dataset.Frame) []float64 {
	t.Helper()
	col, err := f.Column("Response")
	if err != nil {
		t.Fatal(err)
	}
	out := make([]float64, len(col))
	for i, v := range col {
		out[i], _ = strconv.ParseFloat(v, 64)
	}
	return out
}

func fitBundle(t *testing.T, f *dataset.Frame) *Bundle {
	t.Helper()
	s, err := FitStandardizer(f, testSpec)
	if err != nil {
		t.Fatalf("FitStandardizer() err=%v", err)
	}
	x, err := s.Transform(f)
	if err != nil {
		t.Fatalf("Transform() err=%v", err)
	}
	lr, err := FitLogisticRegression(x, labels(t, f), DefaultLogisticOptions())
	if err != nil {
		t.Fatalf("FitLogisticRegression() err=%v", err)
	}
	b, err := NewBundle(s, lr, Meta{RunID: "run-1", CreatedAt: time.Unix(1700000000, 0), Metrics: map[string]float64{"f1": 0.5}})
	if err != nil {
		t.Fatalf("NewBundle() err=%v", err)
	}
	return b
}

func TestStandardizerTransform(t *testing.T) {
	f, _ := dataset.NewFrame([]string{"Age", "Color"}, [][]string{{"10", "red"}, {"20", "blue"}, {"30", "red"}})
	s, err := FitStandardizer(f, StandardizerSpec{
		Numeric:     []NumericColumn{{Column: "Age", Scaling: ScalingMinMax}},
		Categorical: []string{"Color"},
	})
	if err != nil {
		t.Fatalf("FitStandardizer() err=%v", err)
	}
	if s.Width() != 3 {
		t.Fatalf("Width()=%d, want 3", s.Width())
	}
	x, err := s.Transform(f)
	if err != nil {
		t.Fatalf("Transform() err=%v", err)
	}
	want := mat.NewDense(3, 3, []float64{
		0, 0, 1,
		0.5, 1, 0,
		1, 0, 1,
	})
	if !mat.EqualApprox(x, want, 1e-12) {
		t.Fatalf("Transform()=\n%v\nwant\n%v", mat.Formatted(x), mat.Formatted(want))
	}

	unseen, _ := dataset.NewFrame([]string{"Age", "Color"}, [][]string{{"40", "green"}})
	x, err = s.Transform(unseen)
	if err != nil {
		t.Fatalf("Transform() err=%v", err)
	}
	if x.At(0, 1) != 0 || x.At(0, 2) != 0 {
		t.Fatalf("unseen level should encode as zeros, got %v", mat.Formatted(x))
	}

	missing, _ := dataset.NewFrame([]string{"Color"}, [][]string{{"red"}})
	if _, err := s.Transform(missing); err == nil {
		t.Fatalf("expected error for missing column")
	}
	bad, _ := dataset.NewFrame([]string{"Age", "Color"}, [][]string{{"old", "red"}})
	if _, err := s.Transform(bad); err == nil {
		t.Fatalf("expected error for non-numeric cell")
	}
}

func TestLogisticRegressionBeatsBaseline(t *testing.T) {
	train := dataset.SyntheticVehicles(1500, 7, 1.5)
	test := dataset.SyntheticVehicles(500, 8, 1.5)
	b := fitBundle(t, train)

	pred, err := b.Predict(test)
	if err != nil {
		t.Fatalf("Predict() err=%v", err)
	}
	got, err := Score(labels(t, test), pred)
	if err != nil {
		t.Fatal(err)
	}

	y := labels(t, train)
	base, _ := FitMajorityClass(y)
	baseBundle, err := NewBundle(b.Transformer(), base, Meta{})
	if err != nil {
		t.Fatal(err)
	}
	basePred, _ := baseBundle.Predict(test)
	baseScore, _ := Score(labels(t, test), basePred)
	if got.F1 <= baseScore.F1 {
		t.Fatalf("trained f1 %.3f did not beat baseline %.3f", got.F1, baseScore.F1)
	}
	if got.Accuracy < 0.6 {
		t.Fatalf("accuracy %.3f unexpectedly low", got.Accuracy)
	}
}

func TestFitLogisticRegressionValidatesInput(t *testing.T) {
	x := mat.NewDense(2, 1, []float64{1, 2})
	if _, err := FitLogisticRegression(x, []float64{1}, DefaultLogisticOptions()); err == nil {
		t.Fatalf("expected error for label mismatch")
	}
	if _, err := FitLogisticRegression(x, []float64{1, 2}, DefaultLogisticOptions()); err == nil {
		t.Fatalf("expected error for non-binary label")
	}
	lr, err := FitLogisticRegression(x, []float64{0, 1}, DefaultLogisticOptions())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := lr.Predict(mat.NewDense(1, 2, nil)); err == nil {
		t.Fatalf("expected error for width mismatch")
	}
}

func TestNewBundleRejectsMismatchedWidths(t *testing.T) {
	s := &Standardizer{Numeric: []NumericFeature{{Column: "a", Scale: 1}}}
	lr := &LogisticRegression{Weights: []float64{1, 2}, Threshold: 0.5}
	if _, err := NewBundle(s, lr, Meta{}); err == nil {
		t.Fatalf("expected width mismatch error")
	}
	if _, err := NewBundle(nil, lr, Meta{}); err == nil {
		t.Fatalf("expected error for missing transformer")
	}
	if _, err := NewBundle(s, &MajorityClass{}, Meta{}); err != nil {
		t.Fatalf("majority class should accept any width: %v", err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := fitBundle(t, dataset.SyntheticVehicles(400, 1, 1))
	ref := dataset.SyntheticVehicles(100, 2, 1)
	want, err := b.Predict(ref)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "model.bundle")
	if err := WriteFile(path, b); err != nil {
		t.Fatalf("WriteFile() err=%v", err)
	}
	back, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() err=%v", err)
	}
	got, err := back.Predict(ref)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("prediction %d differs after round trip: %d vs %d", i, got[i], want[i])
		}
	}
	if back.Meta().RunID != "run-1" || back.Meta().Metrics["f1"] != 0.5 {
		t.Fatalf("Meta()=%+v", back.Meta())
	}
	if !back.Meta().CreatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("CreatedAt=%v", back.Meta().CreatedAt)
	}

	again, err := Encode(back)
	if err != nil {
		t.Fatal(err)
	}
	first, _ := Encode(b)
	if string(again) != string(first) {
		t.Fatalf("encoding is not deterministic")
	}
}

func TestDecodeRejectsCorruptData(t *testing.T) {
	b := fitBundle(t, dataset.SyntheticVehicles(200, 3, 1))
	good, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	transformerOnly, _ := EncodeTransformer(b.Transformer())

	tampered := func() []byte {
		var env envelope
		if err := cbor.Unmarshal(good, &env); err != nil {
			t.Fatal(err)
		}
		env.Payload[len(env.Payload)-1] ^= 0xff
		out, _ := cbor.Marshal(env)
		return out
	}()

	missingClassifier := func() []byte {
		tc, _ := encodeComponent(b.Transformer())
		out, err := seal(BundleSchemaV1, bundlePayload{Transformer: tc})
		if err != nil {
			t.Fatal(err)
		}
		return out
	}()

	unknownKind := func() []byte {
		tc, _ := encodeComponent(b.Transformer())
		out, _ := seal(BundleSchemaV1, bundlePayload{Transformer: tc, Classifier: component{Kind: "random_forest", Params: []byte{0xa0}}})
		return out
	}()

	cases := map[string][]byte{
		"empty":              nil,
		"truncated":          good[:len(good)/2],
		"garbage":            []byte("not a bundle"),
		"wrong schema":       transformerOnly,
		"checksum mismatch":  tampered,
		"missing classifier": missingClassifier,
		"unknown kind":       unknownKind,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(data); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("Decode() err=%v, want ErrCorrupt", err)
			}
		})
	}
}

func TestTransformerFileRoundTrip(t *testing.T) {
	f := dataset.SyntheticVehicles(50, 4, 1)
	s, err := FitStandardizer(f, testSpec)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "preprocessing.cbor")
	if err := WriteTransformerFile(path, s); err != nil {
		t.Fatalf("WriteTransformerFile() err=%v", err)
	}
	back, err := ReadTransformerFile(path)
	if err != nil {
		t.Fatalf("ReadTransformerFile() err=%v", err)
	}
	x1, _ := s.Transform(f)
	x2, _ := back.Transform(f)
	if !mat.Equal(x1, x2) {
		t.Fatalf("transformer changed after round trip")
	}
}

func TestScore(t *testing.T) {
	m, err := Score([]float64{1, 0, 1, 0}, []int{1, 1, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if m.Accuracy != 0.5 || m.Precision != 0.5 || m.Recall != 0.5 || m.F1 != 0.5 {
		t.Fatalf("Score()=%+v", m)
	}
	if v, err := m.Get("F1"); err != nil || v != 0.5 {
		t.Fatalf("Get(F1)=%v err=%v", v, err)
	}
	if _, err := m.Get("auc"); err == nil {
		t.Fatalf("expected error for unknown metric")
	}
	if _, err := Score([]float64{1}, nil); err == nil {
		t.Fatalf("expected error for length mismatch")
	}
}

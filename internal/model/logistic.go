package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const KindLogisticRegression = "logistic_regression"

// LogisticOptions configures batch gradient descent.
type LogisticOptions struct {
	LearningRate float64
	Epochs       int
	L2           float64
	// Balanced reweights samples inversely to class frequency.
	Balanced  bool
	Threshold float64
}

func DefaultLogisticOptions() LogisticOptions {
	return LogisticOptions{LearningRate: 0.1, Epochs: 500, L2: 1e-4, Threshold: 0.5}
}

type LogisticRegression struct {
	Weights   []float64 `cbor:"weights"`
	Bias      float64   `cbor:"bias"`
	Threshold float64   `cbor:"threshold"`
}

// FitLogisticRegression fits weights on x against binary labels y.
func FitLogisticRegression(x *mat.Dense, y []float64, opts LogisticOptions) (*LogisticRegression, error) {
	if x == nil {
		return nil, errors.New("feature matrix is required")
	}
	n, d := x.Dims()
	if n == 0 || d == 0 {
		return nil, errors.New("feature matrix is empty")
	}
	if len(y) != n {
		return nil, fmt.Errorf("label count %d does not match %d rows", len(y), n)
	}
	if opts.LearningRate <= 0 || opts.Epochs <= 0 || opts.L2 < 0 {
		return nil, fmt.Errorf("invalid options: %+v", opts)
	}
	if opts.Threshold <= 0 || opts.Threshold >= 1 {
		opts.Threshold = 0.5
	}

	sampleWeight := make([]float64, n)
	var positives float64
	for i, label := range y {
		if label != 0 && label != 1 {
			return nil, fmt.Errorf("label %v at row %d is not binary", label, i)
		}
		positives += label
	}
	for i, label := range y {
		sampleWeight[i] = 1
		if opts.Balanced && positives > 0 && positives < float64(n) {
			if label == 1 {
				sampleWeight[i] = float64(n) / (2 * positives)
			} else {
				sampleWeight[i] = float64(n) / (2 * (float64(n) - positives))
			}
		}
	}

	w := mat.NewVecDense(d, nil)
	z := mat.NewVecDense(n, nil)
	resid := mat.NewVecDense(n, nil)
	grad := mat.NewVecDense(d, nil)
	var bias float64
	scale := 1 / float64(n)
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		z.MulVec(x, w)
		var gradBias float64
		for i := 0; i < n; i++ {
			r := (sigmoid(z.AtVec(i)+bias) - y[i]) * sampleWeight[i]
			resid.SetVec(i, r)
			gradBias += r
		}
		grad.MulVec(x.T(), resid)
		grad.ScaleVec(scale, grad)
		grad.AddScaledVec(grad, opts.L2, w)
		w.AddScaledVec(w, -opts.LearningRate, grad)
		bias -= opts.LearningRate * gradBias * scale
	}

	weights := make([]float64, d)
	copy(weights, w.RawVector().Data)
	return &LogisticRegression{Weights: weights, Bias: bias, Threshold: opts.Threshold}, nil
}

func (m *LogisticRegression) Kind() string { return KindLogisticRegression }

func (m *LogisticRegression) Width() int { return len(m.Weights) }

// Probabilities returns P(label=1) per row.
func (m *LogisticRegression) Probabilities(x *mat.Dense) ([]float64, error) {
	if x == nil {
		return nil, errors.New("feature matrix is required")
	}
	n, d := x.Dims()
	if d != len(m.Weights) {
		return nil, fmt.Errorf("got %d features, model expects %d", d, len(m.Weights))
	}
	z := mat.NewVecDense(n, nil)
	z.MulVec(x, mat.NewVecDense(d, append([]float64(nil), m.Weights...)))
	out := make([]float64, n)
	for i := range out {
		out[i] = sigmoid(z.AtVec(i) + m.Bias)
	}
	return out, nil
}

func (m *LogisticRegression) Predict(x *mat.Dense) ([]int, error) {
	probs, err := m.Probabilities(x)
	if err != nil {
		return nil, err
	}
	labels := make([]int, len(probs))
	for i, p := range probs {
		if p >= m.Threshold {
			labels[i] = 1
		}
	}
	return labels, nil
}

func (m *LogisticRegression) validate() error {
	if len(m.Weights) == 0 {
		return errors.New("logistic regression has no weights")
	}
	if floats.HasNaN(m.Weights) || math.IsNaN(m.Bias) || math.IsInf(m.Bias, 0) {
		return errors.New("logistic regression has non-finite parameters")
	}
	for _, v := range m.Weights {
		if math.IsInf(v, 0) {
			return errors.New("logistic regression has non-finite parameters")
		}
	}
	if m.Threshold <= 0 || m.Threshold >= 1 {
		return fmt.Errorf("threshold %v out of range", m.Threshold)
	}
	return nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

const KindMajorityClass = "majority_class"

// MajorityClass always predicts the most frequent training label. It is the
// baseline a trained classifier has to beat.
type MajorityClass struct {
	Label int `cbor:"label"`
}

func FitMajorityClass(y []float64) (*MajorityClass, error) {
	if len(y) == 0 {
		return nil, errors.New("labels are required")
	}
	var positives int
	for _, v := range y {
		if v == 1 {
			positives++
		}
	}
	if positives*2 > len(y) {
		return &MajorityClass{Label: 1}, nil
	}
	return &MajorityClass{Label: 0}, nil
}

func (m *MajorityClass) Kind() string { return KindMajorityClass }

func (m *MajorityClass) Width() int { return -1 }

func (m *MajorityClass) Predict(x *mat.Dense) ([]int, error) {
	if x == nil {
		return nil, errors.New("feature matrix is required")
	}
	n, _ := x.Dims()
	out := make([]int, n)
	for i := range out {
		out[i] = m.Label
	}
	return out, nil
}

func (m *MajorityClass) validate() error {
	if m.Label != 0 && m.Label != 1 {
		return fmt.Errorf("label %d is not binary", m.Label)
	}
	return nil
}

package model

import (
	"fmt"
	"strings"
)

const (
	MetricAccuracy  = "accuracy"
	MetricPrecision = "precision"
	MetricRecall    = "recall"
	MetricF1        = "f1"
)

// Metrics are binary classification scores with label 1 as the positive class.
type Metrics struct {
	Accuracy  float64 `json:"accuracy" yaml:"accuracy"`
	Precision float64 `json:"precision" yaml:"precision"`
	Recall    float64 `json:"recall" yaml:"recall"`
	F1        float64 `json:"f1" yaml:"f1"`
}

func Score(truth []float64, predicted []int) (Metrics, error) {
	if len(truth) != len(predicted) {
		return Metrics{}, fmt.Errorf("got %d predictions for %d labels", len(predicted), len(truth))
	}
	if len(truth) == 0 {
		return Metrics{}, fmt.Errorf("no samples to score")
	}
	var tp, fp, fn, correct float64
	for i, want := range truth {
		got := predicted[i]
		switch {
		case got == 1 && want == 1:
			tp++
		case got == 1:
			fp++
		case want == 1:
			fn++
		}
		if float64(got) == want {
			correct++
		}
	}
	m := Metrics{Accuracy: correct / float64(len(truth))}
	if tp+fp > 0 {
		m.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		m.Recall = tp / (tp + fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m, nil
}

// Get returns the named metric.
func (m Metrics) Get(name string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case MetricAccuracy:
		return m.Accuracy, nil
	case MetricPrecision:
		return m.Precision, nil
	case MetricRecall:
		return m.Recall, nil
	case MetricF1:
		return m.F1, nil
	default:
		return 0, fmt.Errorf("unknown metric %q", name)
	}
}

func (m Metrics) Map() map[string]float64 {
	return map[string]float64{
		MetricAccuracy:  m.Accuracy,
		MetricPrecision: m.Precision,
		MetricRecall:    m.Recall,
		MetricF1:        m.F1,
	}
}

// ValidMetric reports whether name is a metric Get understands.
func ValidMetric(name string) bool {
	_, err := Metrics{}.Get(name)
	return err == nil
}

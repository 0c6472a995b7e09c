// Package model defines the fitted pieces of a deployable classifier and the
// bundle that pairs them.
package model

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/animus-labs/propensity/internal/dataset"
)

// Transformer turns raw tabular input into a feature matrix.
type Transformer interface {
	Kind() string
	// Width is the number of feature columns Transform produces.
	Width() int
	Transform(f *dataset.Frame) (*mat.Dense, error)
}

// Classifier predicts binary labels from a feature matrix.
type Classifier interface {
	Kind() string
	// Width is the number of features expected, or -1 for any.
	Width() int
	Predict(x *mat.Dense) ([]int, error)
}

// Meta describes where a bundle came from.
type Meta struct {
	RunID     string             `cbor:"run_id"`
	CreatedAt time.Time          `cbor:"created_at"`
	Metrics   map[string]float64 `cbor:"metrics,omitempty"`
}

// Bundle is a fitted (transformer, classifier) pair. It is immutable once
// built and safe for concurrent use.
type Bundle struct {
	transformer Transformer
	classifier  Classifier
	meta        Meta
}

func NewBundle(t Transformer, c Classifier, meta Meta) (*Bundle, error) {
	if t == nil {
		return nil, errors.New("transformer is required")
	}
	if c == nil {
		return nil, errors.New("classifier is required")
	}
	if w := c.Width(); w >= 0 && w != t.Width() {
		return nil, fmt.Errorf("classifier expects %d features, transformer produces %d", w, t.Width())
	}
	metrics := make(map[string]float64, len(meta.Metrics))
	for k, v := range meta.Metrics {
		metrics[k] = v
	}
	meta.Metrics = metrics
	meta.CreatedAt = meta.CreatedAt.UTC()
	return &Bundle{transformer: t, classifier: c, meta: meta}, nil
}

func (b *Bundle) Transformer() Transformer { return b.transformer }

func (b *Bundle) Classifier() Classifier { return b.classifier }

func (b *Bundle) Meta() Meta {
	out := b.meta
	out.Metrics = make(map[string]float64, len(b.meta.Metrics))
	for k, v := range b.meta.Metrics {
		out.Metrics[k] = v
	}
	return out
}

// Predict applies the bundle's own preprocessing and then its classifier.
func (b *Bundle) Predict(f *dataset.Frame) ([]int, error) {
	if f == nil {
		return nil, errors.New("frame is required")
	}
	x, err := b.transformer.Transform(f)
	if err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}
	labels, err := b.classifier.Predict(x)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	return labels, nil
}

func (b *Bundle) String() string {
	return fmt.Sprintf("Bundle(transformer=%s, classifier=%s)", b.transformer.Kind(), b.classifier.Kind())
}

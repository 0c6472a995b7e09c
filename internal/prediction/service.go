// Package prediction scores single records against the production bundle.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/animus-labs/propensity/internal/dataset"
	"github.com/animus-labs/propensity/internal/registry"
)

var (
	// ErrModelNotDeployed means nothing is published at the production key.
	ErrModelNotDeployed = errors.New("model not deployed")
	ErrInvalidRecord    = errors.New("invalid record")
)

type Label int

const (
	LabelNo  Label = 0
	LabelYes Label = 1
)

func (l Label) String() string {
	if l == LabelYes {
		return "Response-Yes"
	}
	return "Response-No"
}

func (l Label) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// Predictor applies the bundle stored at key. *registry.Registry
// implements it.
type Predictor interface {
	Predict(ctx context.Context, frame *dataset.Frame, key string) ([]int, error)
}

// Observer receives prediction outcomes, typically for metrics.
type Observer interface {
	Prediction(label Label, err error)
}

type nopObserver struct{}

func (nopObserver) Prediction(Label, error) {}

type Service struct {
	predictor Predictor
	key       string
	logger    *slog.Logger
	observer  Observer
	validate  *validator.Validate
}

type Option func(*Service)

func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

func NewService(p Predictor, modelKey string, logger *slog.Logger, opts ...Option) (*Service, error) {
	if p == nil {
		return nil, errors.New("predictor is required")
	}
	modelKey = strings.TrimSpace(modelKey)
	if modelKey == "" {
		return nil, errors.New("model key is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s := &Service{
		predictor: p,
		key:       modelKey,
		logger:    logger,
		observer:  nopObserver{},
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) ModelKey() string { return s.key }

// Predict validates rec and scores it with the production bundle.
func (s *Service) Predict(ctx context.Context, rec Record) (Label, error) {
	label, err := s.predict(ctx, rec)
	s.observer.Prediction(label, err)
	return label, err
}

func (s *Service) predict(ctx context.Context, rec Record) (Label, error) {
	if err := s.validate.Struct(rec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			ve := verrs[0]
			return LabelNo, fmt.Errorf("%w: %s failed %q", ErrInvalidRecord, ve.Field(), ve.Tag())
		}
		return LabelNo, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	frame, err := rec.Frame()
	if err != nil {
		return LabelNo, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	labels, err := s.predictor.Predict(ctx, frame, s.key)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return LabelNo, fmt.Errorf("%w: %v", ErrModelNotDeployed, err)
		}
		s.logger.Error("prediction failed", "key", s.key, "error", err)
		return LabelNo, err
	}
	if len(labels) != 1 {
		return LabelNo, fmt.Errorf("predictor returned %d labels for one record", len(labels))
	}
	return Label(labels[0]), nil
}

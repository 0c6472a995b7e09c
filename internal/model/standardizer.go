package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/animus-labs/propensity/internal/dataset"
)

const KindStandardizer = "standardizer"

// Scaling selects how a numeric column is rescaled.
type Scaling string

const (
	ScalingStandard Scaling = "standard"
	ScalingMinMax   Scaling = "minmax"
	ScalingNone     Scaling = "none"
)

// StandardizerSpec lists the columns to fit. Output order is numeric columns
// in the given order followed by one-hot blocks for categorical columns.
type StandardizerSpec struct {
	Numeric     []NumericColumn `yaml:"numeric"`
	Categorical []string        `yaml:"categorical"`
}

type NumericColumn struct {
	Column  string  `yaml:"column" validate:"required"`
	Scaling Scaling `yaml:"scaling" validate:"omitempty,oneof=standard minmax none"`
}

// NumericFeature maps v to (v - Offset) / Scale.
type NumericFeature struct {
	Column string  `cbor:"column"`
	Offset float64 `cbor:"offset"`
	Scale  float64 `cbor:"scale"`
}

// CategoricalFeature one-hot encodes Levels. Unseen values encode as zeros.
type CategoricalFeature struct {
	Column string   `cbor:"column"`
	Levels []string `cbor:"levels"`
}

type Standardizer struct {
	Numeric     []NumericFeature     `cbor:"numeric"`
	Categorical []CategoricalFeature `cbor:"categorical"`
}

// FitStandardizer learns scaling statistics and category levels from f.
func FitStandardizer(f *dataset.Frame, spec StandardizerSpec) (*Standardizer, error) {
	if f == nil || f.Len() == 0 {
		return nil, errors.New("cannot fit on an empty frame")
	}
	if len(spec.Numeric) == 0 && len(spec.Categorical) == 0 {
		return nil, errors.New("no feature columns configured")
	}
	s := &Standardizer{}
	for _, nc := range spec.Numeric {
		values, err := numericColumn(f, nc.Column)
		if err != nil {
			return nil, err
		}
		feature := NumericFeature{Column: nc.Column, Scale: 1}
		switch nc.Scaling {
		case ScalingStandard, "":
			mean, std := stat.PopMeanStdDev(values, nil)
			feature.Offset = mean
			if std > 0 {
				feature.Scale = std
			}
		case ScalingMinMax:
			lo, hi := values[0], values[0]
			for _, v := range values {
				lo = math.Min(lo, v)
				hi = math.Max(hi, v)
			}
			feature.Offset = lo
			if hi > lo {
				feature.Scale = hi - lo
			}
		case ScalingNone:
		default:
			return nil, fmt.Errorf("column %q: unknown scaling %q", nc.Column, nc.Scaling)
		}
		s.Numeric = append(s.Numeric, feature)
	}
	for _, name := range spec.Categorical {
		values, err := f.Column(name)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool)
		levels := make([]string, 0)
		for _, v := range values {
			v = strings.TrimSpace(v)
			if !seen[v] {
				seen[v] = true
				levels = append(levels, v)
			}
		}
		sort.Strings(levels)
		s.Categorical = append(s.Categorical, CategoricalFeature{Column: name, Levels: levels})
	}
	return s, nil
}

func (s *Standardizer) Kind() string { return KindStandardizer }

func (s *Standardizer) Width() int {
	w := len(s.Numeric)
	for _, c := range s.Categorical {
		w += len(c.Levels)
	}
	return w
}

// Columns returns the raw input columns the transform reads.
func (s *Standardizer) Columns() []string {
	out := make([]string, 0, len(s.Numeric)+len(s.Categorical))
	for _, n := range s.Numeric {
		out = append(out, n.Column)
	}
	for _, c := range s.Categorical {
		out = append(out, c.Column)
	}
	return out
}

func (s *Standardizer) Transform(f *dataset.Frame) (*mat.Dense, error) {
	if f == nil || f.Len() == 0 {
		return nil, errors.New("cannot transform an empty frame")
	}
	rows, width := f.Len(), s.Width()
	out := mat.NewDense(rows, width, nil)
	col := 0
	for _, nf := range s.Numeric {
		values, err := numericColumn(f, nf.Column)
		if err != nil {
			return nil, err
		}
		for r, v := range values {
			out.Set(r, col, (v-nf.Offset)/nf.Scale)
		}
		col++
	}
	for _, cf := range s.Categorical {
		values, err := f.Column(cf.Column)
		if err != nil {
			return nil, err
		}
		for r, v := range values {
			i := sort.SearchStrings(cf.Levels, strings.TrimSpace(v))
			if i < len(cf.Levels) && cf.Levels[i] == strings.TrimSpace(v) {
				out.Set(r, col+i, 1)
			}
		}
		col += len(cf.Levels)
	}
	return out, nil
}

func (s *Standardizer) validate() error {
	if len(s.Numeric) == 0 && len(s.Categorical) == 0 {
		return errors.New("standardizer has no features")
	}
	for _, n := range s.Numeric {
		if strings.TrimSpace(n.Column) == "" {
			return errors.New("numeric feature without column")
		}
		if n.Scale == 0 || math.IsNaN(n.Scale) || math.IsInf(n.Scale, 0) || math.IsNaN(n.Offset) {
			return fmt.Errorf("numeric feature %q has invalid scaling", n.Column)
		}
	}
	for _, c := range s.Categorical {
		if strings.TrimSpace(c.Column) == "" {
			return errors.New("categorical feature without column")
		}
		if !sort.StringsAreSorted(c.Levels) {
			return fmt.Errorf("categorical feature %q levels are not sorted", c.Column)
		}
	}
	return nil
}

func numericColumn(f *dataset.Frame, name string) ([]float64, error) {
	raw, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(raw))
	for i, cell := range raw {
		v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil {
			return nil, fmt.Errorf("column %q row %d: %w", name, i, err)
		}
		out[i] = v
	}
	return out, nil
}

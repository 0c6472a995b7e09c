package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/animus-labs/propensity/internal/platform/fsutil"
)

const (
	BundleSchemaV1      = "propensity.bundle.v1"
	TransformerSchemaV1 = "propensity.transformer.v1"

	// ContentType is the media type used when bundles are uploaded.
	ContentType = "application/cbor"
)

// ErrCorrupt marks data that does not decode into a well formed bundle.
var ErrCorrupt = errors.New("corrupt model data")

type envelope struct {
	Schema   string `cbor:"schema"`
	Payload  []byte `cbor:"payload"`
	Checksum string `cbor:"checksum"`
}

type component struct {
	Kind   string          `cbor:"kind"`
	Params cbor.RawMessage `cbor:"params"`
}

type bundlePayload struct {
	Transformer component `cbor:"transformer"`
	Classifier  component `cbor:"classifier"`
	Meta        Meta      `cbor:"meta"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	var err error
	if encMode, err = encOpts.EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}).DecMode(); err != nil {
		panic(err)
	}
}

// Encode serializes both halves of the bundle into a single blob.
func Encode(b *Bundle) ([]byte, error) {
	if b == nil {
		return nil, errors.New("bundle is required")
	}
	t, err := encodeComponent(b.transformer)
	if err != nil {
		return nil, fmt.Errorf("encode transformer: %w", err)
	}
	c, err := encodeComponent(b.classifier)
	if err != nil {
		return nil, fmt.Errorf("encode classifier: %w", err)
	}
	return seal(BundleSchemaV1, bundlePayload{Transformer: t, Classifier: c, Meta: b.meta})
}

// Decode parses a blob produced by Encode. Any structural problem is
// reported as ErrCorrupt.
func Decode(data []byte) (*Bundle, error) {
	var p bundlePayload
	if err := open(BundleSchemaV1, data, &p); err != nil {
		return nil, err
	}
	t, err := decodeTransformer(p.Transformer)
	if err != nil {
		return nil, err
	}
	c, err := decodeClassifier(p.Classifier)
	if err != nil {
		return nil, err
	}
	b, err := NewBundle(t, c, p.Meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return b, nil
}

// EncodeTransformer serializes a transformer on its own, as produced by the
// transformation stage before a classifier exists.
func EncodeTransformer(t Transformer) ([]byte, error) {
	comp, err := encodeComponent(t)
	if err != nil {
		return nil, err
	}
	return seal(TransformerSchemaV1, comp)
}

func DecodeTransformer(data []byte) (Transformer, error) {
	var comp component
	if err := open(TransformerSchemaV1, data, &comp); err != nil {
		return nil, err
	}
	return decodeTransformer(comp)
}

// WriteFile atomically writes the encoded bundle to path.
func WriteFile(path string, b *Bundle) error {
	data, err := Encode(b)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o644)
}

func ReadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

func WriteTransformerFile(path string, t Transformer) error {
	data, err := EncodeTransformer(t)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o644)
}

func ReadTransformerFile(path string) (Transformer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeTransformer(data)
}

// ReadFrom decodes a bundle from r.
func ReadFrom(r io.Reader) (*Bundle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

func seal(schema string, v any) ([]byte, error) {
	payload, err := encMode.Marshal(v)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(payload)
	return encMode.Marshal(envelope{Schema: schema, Payload: payload, Checksum: hex.EncodeToString(sum[:])})
}

func open(schema string, data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty data", ErrCorrupt)
	}
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: decode envelope: %v", ErrCorrupt, err)
	}
	if env.Schema != schema {
		return fmt.Errorf("%w: schema %q, want %q", ErrCorrupt, env.Schema, schema)
	}
	sum := sha256.Sum256(env.Payload)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	if err := decMode.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: decode payload: %v", ErrCorrupt, err)
	}
	return nil
}

func encodeComponent(v interface{ Kind() string }) (component, error) {
	if v == nil {
		return component{}, errors.New("component is required")
	}
	params, err := encMode.Marshal(v)
	if err != nil {
		return component{}, err
	}
	return component{Kind: v.Kind(), Params: params}, nil
}

func decodeTransformer(c component) (Transformer, error) {
	switch c.Kind {
	case KindStandardizer:
		var s Standardizer
		if err := decodeParams(c, &s); err != nil {
			return nil, err
		}
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return &s, nil
	case "":
		return nil, fmt.Errorf("%w: transformer missing", ErrCorrupt)
	default:
		return nil, fmt.Errorf("%w: unknown transformer kind %q", ErrCorrupt, c.Kind)
	}
}

func decodeClassifier(c component) (Classifier, error) {
	switch c.Kind {
	case KindLogisticRegression:
		var m LogisticRegression
		if err := decodeParams(c, &m); err != nil {
			return nil, err
		}
		if err := m.validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return &m, nil
	case KindMajorityClass:
		var m MajorityClass
		if err := decodeParams(c, &m); err != nil {
			return nil, err
		}
		if err := m.validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return &m, nil
	case "":
		return nil, fmt.Errorf("%w: classifier missing", ErrCorrupt)
	default:
		return nil, fmt.Errorf("%w: unknown classifier kind %q", ErrCorrupt, c.Kind)
	}
}

func decodeParams(c component, v any) error {
	if len(c.Params) == 0 {
		return fmt.Errorf("%w: %s has no params", ErrCorrupt, c.Kind)
	}
	if err := decMode.Unmarshal(c.Params, v); err != nil {
		return fmt.Errorf("%w: %s params: %v", ErrCorrupt, c.Kind, err)
	}
	return nil
}

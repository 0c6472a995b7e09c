package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/propensity/internal/platform/env"
)

type Config struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
	BucketModels   string
	BucketDatasets string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("PROPENSITY_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:       env.String("PROPENSITY_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:      env.String("PROPENSITY_MINIO_ACCESS_KEY", "propensity"),
		SecretKey:      env.String("PROPENSITY_MINIO_SECRET_KEY", "propensityminio"),
		Region:         env.String("PROPENSITY_MINIO_REGION", "us-east-1"),
		UseSSL:         useSSL,
		BucketModels:   env.String("PROPENSITY_MINIO_BUCKET_MODELS", "models"),
		BucketDatasets: env.String("PROPENSITY_MINIO_BUCKET_DATASETS", "datasets"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketModels) == "" {
		return errors.New("models bucket is required")
	}
	if strings.TrimSpace(c.BucketDatasets) == "" {
		return errors.New("datasets bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}

// String renders the config for logs without credentials.
func (c Config) String() string {
	return fmt.Sprintf("endpoint=%s region=%s ssl=%t models=%s datasets=%s",
		c.Endpoint, c.Region, c.UseSSL, c.BucketModels, c.BucketDatasets)
}

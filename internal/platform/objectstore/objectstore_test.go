package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Endpoint:       "localhost:9000",
		AccessKey:      "a",
		SecretKey:      "b",
		Region:         "us-east-1",
		BucketModels:   "models",
		BucketDatasets: "datasets",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for scheme in endpoint")
	}

	invalid = valid
	invalid.BucketModels = " "
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for empty models bucket")
	}
}

func TestConfigStringOmitsCredentials(t *testing.T) {
	cfg := Config{Endpoint: "minio:9000", AccessKey: "ak-123", SecretKey: "sk-456", Region: "eu", BucketModels: "m", BucketDatasets: "d"}
	s := cfg.String()
	if strings.Contains(s, "ak-123") || strings.Contains(s, "sk-456") {
		t.Fatalf("String() leaked credentials: %s", s)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Stat(ctx, "models", "a"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("Stat() err=%v, want ErrObjectNotFound", err)
	}
	if err := s.Put(ctx, "models", "a", strings.NewReader("hello"), 5, "text/plain"); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	info, err := s.Stat(ctx, "models", "a")
	if err != nil {
		t.Fatalf("Stat() err=%v", err)
	}
	if info.Size != 5 || info.ContentType != "text/plain" || info.ETag == "" {
		t.Fatalf("Stat()=%+v", info)
	}
	body, _, err := s.Get(ctx, "models", "a")
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	got, _ := io.ReadAll(body)
	if string(got) != "hello" {
		t.Fatalf("Get()=%q, want hello", got)
	}
	if s.Gets() != 1 {
		t.Fatalf("Gets()=%d, want 1", s.Gets())
	}
	if err := s.Delete(ctx, "models", "a"); err != nil {
		t.Fatalf("Delete() err=%v", err)
	}
	if _, _, err := s.Get(ctx, "models", "a"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("Get() err=%v, want ErrObjectNotFound", err)
	}
}

type failingReader struct{ n int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.n == 0 {
		return 0, errors.New("connection reset")
	}
	r.n--
	p[0] = 'x'
	return 1, nil
}

func TestMemoryStoreFailedPutKeepsPreviousObject(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Put(ctx, "models", "k", strings.NewReader("v1"), 2, ""); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	if err := s.Put(ctx, "models", "k", &failingReader{n: 3}, 10, ""); err == nil {
		t.Fatalf("Put() expected error")
	}
	if err := s.Put(ctx, "models", "k", strings.NewReader("abc"), 10, ""); err == nil {
		t.Fatalf("Put() expected short body error")
	}
	got, ok := s.Bytes("models", "k")
	if !ok || string(got) != "v1" {
		t.Fatalf("Bytes()=%q ok=%v, want v1", got, ok)
	}
}

func TestUploadAndDownloadFile(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	dir := t.TempDir()
	src := filepath.Join(dir, "src.csv")
	if err := os.WriteFile(src, []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := UploadFile(ctx, s, "datasets", "raw/data.csv", src, "text/csv"); err != nil {
		t.Fatalf("UploadFile() err=%v", err)
	}
	dst := filepath.Join(dir, "nested", "dst.csv")
	info, err := DownloadFile(ctx, s, "datasets", "raw/data.csv", dst)
	if err != nil {
		t.Fatalf("DownloadFile() err=%v", err)
	}
	if info.Size != 8 {
		t.Fatalf("size=%d, want 8", info.Size)
	}
	got, err := os.ReadFile(dst)
	if err != nil || !bytes.Equal(got, []byte("a,b\n1,2\n")) {
		t.Fatalf("downloaded=%q err=%v", got, err)
	}

	missing := filepath.Join(dir, "missing.csv")
	if _, err := DownloadFile(ctx, s, "datasets", "nope", missing); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("DownloadFile() err=%v, want ErrObjectNotFound", err)
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Fatalf("expected no file at %s", missing)
	}
}

func TestMapError(t *testing.T) {
	if mapError(nil) != nil {
		t.Fatalf("mapError(nil) != nil")
	}
	err := mapError(minio.ErrorResponse{Code: "NoSuchKey", Key: "models/model.bundle", StatusCode: 404})
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("mapError() err=%v, want ErrObjectNotFound", err)
	}
	err = mapError(minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403})
	if errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("mapError() mapped access denied to not found")
	}
	err = mapError(minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: 404})
	if errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("mapError() mapped missing bucket to not found")
	}
}

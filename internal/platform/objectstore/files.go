package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// UploadFile streams a local file to bucket/key.
func UploadFile(ctx context.Context, s Store, bucket, key, path, contentType string) error {
	if s == nil {
		return errors.New("object store is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	return s.Put(ctx, bucket, key, f, st.Size(), contentType)
}

// DownloadFile copies bucket/key to path. The destination is written through
// a temporary sibling and renamed, so path never holds a partial object.
func DownloadFile(ctx context.Context, s Store, bucket, key, path string) (ObjectInfo, error) {
	if s == nil {
		return ObjectInfo{}, errors.New("object store is required")
	}
	body, info, err := s.Get(ctx, bucket, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer func() { _ = body.Close() }()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ObjectInfo{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return ObjectInfo{}, err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return ObjectInfo{}, fmt.Errorf("download %s/%s: %w", bucket, key, err)
	}
	if err := tmp.Close(); err != nil {
		return ObjectInfo{}, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return ObjectInfo{}, err
	}
	return info, nil
}

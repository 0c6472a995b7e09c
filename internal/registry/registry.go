// Package registry stores deployable model bundles in object storage and
// keeps loaded bundles in memory for the life of the process.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/animus-labs/propensity/internal/dataset"
	"github.com/animus-labs/propensity/internal/model"
	"github.com/animus-labs/propensity/internal/platform/objectstore"
)

// Observer receives registry events, typically for metrics.
type Observer interface {
	CacheHit(key string)
	Fetch(key string, d time.Duration, err error)
	Publish(key string, size int64, err error)
}

type nopObserver struct{}

func (nopObserver) CacheHit(string)                    {}
func (nopObserver) Fetch(string, time.Duration, error) {}
func (nopObserver) Publish(string, int64, error)       {}

// Version identifies the object currently stored at a key.
type Version struct {
	Key          string
	ETag         string
	Size         int64
	LastModified time.Time
}

type cacheEntry struct {
	bundle *model.Bundle
	etag   string
}

// Registry is the single reader and writer of published bundles. It never
// retries; callers own retry and timeout policy through ctx.
type Registry struct {
	store    objectstore.Store
	bucket   string
	logger   *slog.Logger
	observer Observer

	mu    sync.RWMutex
	cache map[string]cacheEntry
	// gen counts publishes and evictions per key. A fetch stores its result
	// only if the generation it started under is still current.
	gen   map[string]uint64
	group singleflight.Group
}

type Option func(*Registry)

func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observer = o
		}
	}
}

func New(store objectstore.Store, bucket string, logger *slog.Logger, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	r := &Registry{
		store:    store,
		bucket:   bucket,
		logger:   logger,
		observer: nopObserver{},
		cache:    make(map[string]cacheEntry),
		gen:      make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Registry) Bucket() string { return r.bucket }

// Exists reports whether a complete object is addressable at key. Lookup
// failures are logged and reported as false.
func (r *Registry) Exists(ctx context.Context, key string) bool {
	key = normalizeKey(key)
	if key == "" {
		return false
	}
	info, err := r.store.Stat(ctx, r.bucket, key)
	if err != nil {
		if !errors.Is(err, objectstore.ErrObjectNotFound) {
			r.logger.Warn("registry exists check failed", "bucket", r.bucket, "key", key, "error", err)
		}
		return false
	}
	return info.Size > 0
}

// Version stats the object at key without downloading it.
func (r *Registry) Version(ctx context.Context, key string) (Version, error) {
	key = normalizeKey(key)
	info, err := r.store.Stat(ctx, r.bucket, key)
	if err != nil {
		return Version{}, r.storeError("version", key, err)
	}
	return Version{Key: key, ETag: info.ETag, Size: info.Size, LastModified: info.LastModified}, nil
}

// Load returns the bundle at key, downloading it at most once per process
// until Evict is called. Concurrent first loads share one fetch, which is
// not canceled when one of the waiting callers gives up.
func (r *Registry) Load(ctx context.Context, key string) (*model.Bundle, error) {
	key = normalizeKey(key)
	if key == "" {
		return nil, r.errorf("load", key, ErrNotFound, errors.New("key is required"))
	}
	if b, ok := r.cached(key); ok {
		r.observer.CacheHit(key)
		return b, nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (any, error) {
		r.mu.RLock()
		e, ok := r.cache[key]
		gen := r.gen[key]
		r.mu.RUnlock()
		if ok {
			return e.bundle, nil
		}

		start := time.Now()
		b, etag, err := r.fetch(fetchCtx, key)
		r.observer.Fetch(key, time.Since(start), err)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		stale := r.gen[key] != gen
		if !stale {
			r.cache[key] = cacheEntry{bundle: b, etag: etag}
		}
		r.mu.Unlock()
		if stale {
			r.logger.Info("model bundle superseded during load", "bucket", r.bucket, "key", key, "etag", etag)
			return b, nil
		}
		r.logger.Info("model bundle loaded", "bucket", r.bucket, "key", key, "etag", etag, "bundle", b.String(), "duration_ms", time.Since(start).Milliseconds())
		return b, nil
	})

	select {
	case <-ctx.Done():
		return nil, r.errorf("load", key, ErrTransport, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Bundle), nil
	}
}

// Evict drops the cached bundle for key so the next Load fetches again.
func (r *Registry) Evict(key string) {
	key = normalizeKey(key)
	r.mu.Lock()
	delete(r.cache, key)
	r.gen[key]++
	r.mu.Unlock()
	r.group.Forget(key)
}

// Save encodes bundle as one object and uploads it to key, replacing any
// previous object. The cache entry for key is replaced on success.
func (r *Registry) Save(ctx context.Context, bundle *model.Bundle, key string) error {
	key = normalizeKey(key)
	if key == "" {
		return r.errorf("save", key, ErrTransport, errors.New("key is required"))
	}
	data, err := model.Encode(bundle)
	if err != nil {
		return r.errorf("save", key, ErrCorrupt, err)
	}
	return r.publish(ctx, "save", key, data, bundle)
}

// SaveRawFile publishes a bundle that was already serialized to localPath.
// The file must decode as a complete bundle. The local copy is removed only
// after the upload is confirmed and only when removeLocal is set.
func (r *Registry) SaveRawFile(ctx context.Context, localPath, key string, removeLocal bool) error {
	key = normalizeKey(key)
	if key == "" {
		return r.errorf("save_raw_file", key, ErrTransport, errors.New("key is required"))
	}
	data, err := os.ReadFile(localPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return r.errorf("save_raw_file", key, ErrNotFound, fmt.Errorf("read %s: %w", localPath, err))
	case err != nil:
		return fmt.Errorf("registry save_raw_file: read local bundle %s: %w", localPath, err)
	}
	bundle, err := model.Decode(data)
	if err != nil {
		return r.errorf("save_raw_file", key, ErrCorrupt, fmt.Errorf("%s: %w", localPath, err))
	}
	if err := r.publish(ctx, "save_raw_file", key, data, bundle); err != nil {
		return err
	}
	if removeLocal {
		if err := os.Remove(localPath); err != nil {
			r.logger.Warn("remove local bundle failed", "path", localPath, "error", err)
		}
	}
	return nil
}

// Predict loads the bundle at key (from cache when possible) and applies it.
func (r *Registry) Predict(ctx context.Context, frame *dataset.Frame, key string) ([]int, error) {
	b, err := r.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	labels, err := b.Predict(frame)
	if err != nil {
		return nil, fmt.Errorf("predict with %s/%s: %w", r.bucket, normalizeKey(key), err)
	}
	return labels, nil
}

func (r *Registry) publish(ctx context.Context, op, key string, data []byte, bundle *model.Bundle) error {
	start := time.Now()
	err := r.store.Put(ctx, r.bucket, key, bytes.NewReader(data), int64(len(data)), model.ContentType)
	r.observer.Publish(key, int64(len(data)), err)
	if err != nil {
		return r.storeError(op, key, err)
	}

	etag := ""
	if info, err := r.store.Stat(ctx, r.bucket, key); err == nil {
		etag = info.ETag
	}
	r.mu.Lock()
	r.cache[key] = cacheEntry{bundle: bundle, etag: etag}
	r.gen[key]++
	r.mu.Unlock()
	r.group.Forget(key)

	r.logger.Info("model bundle published", "op", op, "bucket", r.bucket, "key", key, "size_bytes", len(data), "etag", etag, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (r *Registry) fetch(ctx context.Context, key string) (*model.Bundle, string, error) {
	body, info, err := r.store.Get(ctx, r.bucket, key)
	if err != nil {
		return nil, "", r.storeError("load", key, err)
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", r.storeError("load", key, err)
	}
	if info.Size > 0 && int64(len(data)) != info.Size {
		return nil, "", r.errorf("load", key, ErrTransport, fmt.Errorf("read %d of %d bytes", len(data), info.Size))
	}
	b, err := model.Decode(data)
	if err != nil {
		return nil, "", r.errorf("load", key, ErrCorrupt, err)
	}
	return b, info.ETag, nil
}

func (r *Registry) cached(key string) (*model.Bundle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cache[key]
	return e.bundle, ok
}

func (r *Registry) storeError(op, key string, err error) error {
	if errors.Is(err, objectstore.ErrObjectNotFound) {
		return r.errorf(op, key, ErrNotFound, err)
	}
	return r.errorf(op, key, ErrTransport, err)
}

func normalizeKey(key string) string {
	return strings.Trim(strings.TrimSpace(key), "/")
}

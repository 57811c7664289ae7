package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"

	"github.com/mediakit/metacache/backend"
)

var log = logging.Logger("metacache/remote")

// removeConcurrency bounds the parallel object deletions issued by Cleanup.
const removeConcurrency = 10

// Schema describes the options accepted by the remote backend.
var Schema = backend.Schema{
	"bucket":     {Type: backend.TypeString, Default: "cache"},
	"prefix":     {Type: backend.TypeString, Default: "cache"},
	"region":     {Type: backend.TypeString, Default: "us-east-1"},
	"endpoint":   {Type: backend.TypeString},
	"access_key": {Type: backend.TypeString},
	"secret_key": {Type: backend.TypeString},
	"use_ssl":    {Type: backend.TypeBool, Default: true},
}

func init() {
	backend.Register(backend.KindRemote, func(ctx context.Context, opts backend.Options) (backend.Backend, error) {
		return Open(ctx, opts)
	})
}

// ObjectStore is the narrow object-storage surface the backend needs. The
// production implementation wraps *minio.Client; tests substitute an
// in-memory fake.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, body []byte) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Remove(ctx context.Context, bucket, key string) error
	List(ctx context.Context, bucket, prefix string) <-chan minio.ObjectInfo
	RemoveBatch(ctx context.Context, bucket string, objects <-chan minio.ObjectInfo) <-chan minio.RemoveObjectError
}

// minioStore adapts *minio.Client to ObjectStore.
type minioStore struct {
	client *minio.Client
}

func (m *minioStore) Put(ctx context.Context, bucket, key string, body []byte) error {
	_, err := m.client.PutObject(ctx, bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	return err
}

func (m *minioStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	// GetObject is lazy; missing-object errors surface on the first read.
	return io.ReadAll(obj)
}

func (m *minioStore) Remove(ctx context.Context, bucket, key string) error {
	return m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
}

func (m *minioStore) List(ctx context.Context, bucket, prefix string) <-chan minio.ObjectInfo {
	return m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
}

func (m *minioStore) RemoveBatch(ctx context.Context, bucket string, objects <-chan minio.ObjectInfo) <-chan minio.RemoveObjectError {
	return m.client.RemoveObjects(ctx, bucket, objects, minio.RemoveObjectsOptions{})
}

// notFound reports whether err is the object store's missing key or missing
// bucket condition.
func notFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}

// Store is the object-storage cache backend. It is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	store  ObjectStore
	bucket string
	prefix string
	reg    map[string]int64 // key → expiry, unix milliseconds
}

// Open constructs a remote backend from opts, dialing the object store and
// loading the registry snapshot. The endpoint option is required; access
// keys may be empty for anonymous access.
func Open(ctx context.Context, opts backend.Options) (*Store, error) {
	validated, err := Schema.Validate(opts)
	if err != nil {
		return nil, err
	}
	endpoint := validated.String("endpoint")
	if endpoint == "" {
		return nil, fmt.Errorf("option %q is required", "endpoint")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(validated.String("access_key"), validated.String("secret_key"), ""),
		Secure: validated.Bool("use_ssl"),
		Region: validated.String("region"),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating object store client: %v", backend.ErrUnavailable, err)
	}
	return NewWithStore(ctx, &minioStore{client: client}, validated.String("bucket"), validated.String("prefix"))
}

// NewWithStore constructs a remote backend over an existing object store
// client and loads the registry snapshot from it.
func NewWithStore(ctx context.Context, store ObjectStore, bucket, prefix string) (*Store, error) {
	s := &Store{
		store:  store,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		reg:    make(map[string]int64),
	}
	if err := s.loadRegistry(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) objectKey(key string) string {
	return path.Join(s.prefix, key)
}

// Put writes the value object, records the key's expiry in the registry and
// persists the registry.
func (s *Store) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := backend.EncodeValue(value)
	if err != nil {
		return err
	}
	expiry := time.Now().Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Put(ctx, s.bucket, s.objectKey(key), raw); err != nil {
		return fmt.Errorf("writing cache object %q: %w", key, err)
	}
	s.reg[key] = expiry.UnixMilli()
	return s.persistRegistry(ctx)
}

// Get consults the registry first: unregistered keys are absent without a
// network round-trip, expired keys are reaped in place. A registered object
// that cannot be fetched or decoded is reported absent rather than failing
// the read.
func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiryMs, ok := s.reg[key]
	if !ok {
		return nil, false, nil
	}
	if !time.UnixMilli(expiryMs).After(time.Now()) {
		if err := s.store.Remove(ctx, s.bucket, s.objectKey(key)); err != nil && !notFound(err) {
			log.Warnw("removing expired cache object", "key", key, "err", err)
		}
		delete(s.reg, key)
		if err := s.persistRegistry(ctx); err != nil {
			log.Warnw("persisting cache registry", "err", err)
		}
		return nil, false, nil
	}
	raw, err := s.store.Get(ctx, s.bucket, s.objectKey(key))
	if err != nil {
		log.Warnw("fetching cache object, treating as absent", "key", key, "err", err)
		return nil, false, nil
	}
	value, err := backend.DecodeValue(raw)
	if err != nil {
		log.Warnw("decoding cache object, treating as absent", "key", key, "err", err)
		return nil, false, nil
	}
	return value, true, nil
}

// Delete removes the value object and the key's registry entry, then
// persists the registry. Absent keys are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Remove(ctx, s.bucket, s.objectKey(key)); err != nil && !notFound(err) {
		return fmt.Errorf("removing cache object %q: %w", key, err)
	}
	if _, ok := s.reg[key]; !ok {
		return nil
	}
	delete(s.reg, key)
	return s.persistRegistry(ctx)
}

// Clear removes every object under the prefix, the registry object
// included, then persists a fresh empty registry.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	toRemove := make(chan minio.ObjectInfo, 64)
	var listErr error
	go func() {
		defer close(toRemove)
		for object := range s.store.List(ctx, s.bucket, s.prefix+"/") {
			if object.Err != nil {
				listErr = object.Err
				return
			}
			toRemove <- object
		}
	}()

	var errs error
	for removeErr := range s.store.RemoveBatch(ctx, s.bucket, toRemove) {
		if removeErr.Err != nil {
			errs = multierror.Append(errs, fmt.Errorf("removing %s: %w", removeErr.ObjectName, removeErr.Err))
		}
	}
	if listErr != nil {
		errs = multierror.Append(errs, fmt.Errorf("listing cache objects: %w", listErr))
	}
	if errs != nil {
		return fmt.Errorf("clearing cache objects: %w", errs)
	}

	s.reg = make(map[string]int64)
	return s.persistRegistry(ctx)
}

// Cleanup deletes every expired value object, concurrently and bounded,
// drops their registry entries and persists the registry once at the end.
func (s *Store) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var expired []string
	for key, expiryMs := range s.reg {
		if !time.UnixMilli(expiryMs).After(now) {
			expired = append(expired, key)
		}
	}
	if len(expired) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(removeConcurrency)
	for _, key := range expired {
		g.Go(func() error {
			if err := s.store.Remove(gctx, s.bucket, s.objectKey(key)); err != nil && !notFound(err) {
				return fmt.Errorf("removing expired cache object %q: %w", key, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Registry entries stay put so the next sweep retries; a dangling
		// entry only costs a miss.
		return err
	}

	for _, key := range expired {
		delete(s.reg, key)
	}
	log.Debugw("swept expired cache objects", "count", len(expired))
	return s.persistRegistry(ctx)
}

// Close is a no-op; the object store client holds no local resources.
func (s *Store) Close() error { return nil }

// Len reports the number of registered keys, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reg)
}

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediakit/metacache/backend"
)

// fakeStore is an in-memory ObjectStore with injectable failures.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failGet map[string]error
	failPut map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects: make(map[string][]byte),
		failGet: make(map[string]error),
		failPut: make(map[string]error),
	}
}

func errNoSuchKey(key string) error {
	return minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist.", Key: key}
}

func (f *fakeStore) Put(ctx context.Context, bucket, key string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failPut[key]; ok {
		return err
	}
	f.objects[key] = append([]byte(nil), body...)
	return nil
}

func (f *fakeStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failGet[key]; ok {
		return nil, err
	}
	body, ok := f.objects[key]
	if !ok {
		return nil, errNoSuchKey(key)
	}
	return append([]byte(nil), body...), nil
}

func (f *fakeStore) Remove(ctx context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeStore) List(ctx context.Context, bucket, prefix string) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo)
	go func() {
		defer close(ch)
		f.mu.Lock()
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		f.mu.Unlock()
		sort.Strings(keys)
		for _, k := range keys {
			ch <- minio.ObjectInfo{Key: k}
		}
	}()
	return ch
}

func (f *fakeStore) RemoveBatch(ctx context.Context, bucket string, objects <-chan minio.ObjectInfo) <-chan minio.RemoveObjectError {
	errCh := make(chan minio.RemoveObjectError)
	go func() {
		defer close(errCh)
		for obj := range objects {
			f.mu.Lock()
			delete(f.objects, obj.Key)
			f.mu.Unlock()
		}
	}()
	return errCh
}

// registrySnapshot decodes the persisted registry object.
func registrySnapshot(t *testing.T, f *fakeStore, prefix string) map[string]int64 {
	t.Helper()
	f.mu.Lock()
	raw, ok := f.objects[path.Join(prefix, registryObject)]
	f.mu.Unlock()
	require.True(t, ok, "registry object should be persisted")
	reg := make(map[string]int64)
	require.NoError(t, json.Unmarshal(raw, &reg))
	return reg
}

func (f *fakeStore) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func newTestStore(t *testing.T, f *fakeStore) *Store {
	t.Helper()
	s, err := NewWithStore(context.Background(), f, "media", "cache")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	s := newTestStore(t, newFakeStore())
	ctx := context.Background()

	value := map[string]any{"title": "T"}
	require.NoError(t, s.Put(ctx, "video:abc", value, 10*time.Second))

	got, found, err := s.Get(ctx, "video:abc")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, value, got)
}

func TestGetMissingKey(t *testing.T) {
	s := newTestStore(t, newFakeStore())

	got, found, err := s.Get(context.Background(), "video:missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestRegistryLoadedAtInit(t *testing.T) {
	f := newFakeStore()
	ctx := context.Background()

	s1 := newTestStore(t, f)
	require.NoError(t, s1.Put(ctx, "video:abc", "payload", time.Hour))

	s2 := newTestStore(t, f)
	got, found, err := s2.Get(ctx, "video:abc")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "payload", got)
}

func TestPutPersistsRegistry(t *testing.T) {
	f := newFakeStore()
	s := newTestStore(t, f)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", 1, time.Hour))
	require.NoError(t, s.Put(ctx, "b", 2, time.Hour))

	reg := registrySnapshot(t, f, "cache")
	assert.Len(t, reg, 2)
	assert.Contains(t, reg, "a")
	assert.Contains(t, reg, "b")
}

func TestExpiredEntryReapedOnGet(t *testing.T) {
	f := newFakeStore()
	s := newTestStore(t, f)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", "v", time.Millisecond))
	time.Sleep(10 * time.Millisecond)

	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	assert.False(t, f.has("cache/k"), "expired value object should be removed")
	assert.NotContains(t, registrySnapshot(t, f, "cache"), "k")
}

func TestZeroTTLExpiresImmediately(t *testing.T) {
	s := newTestStore(t, newFakeStore())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", "v", 0))

	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFetchFailureTreatedAsAbsent(t *testing.T) {
	f := newFakeStore()
	s := newTestStore(t, f)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", "v", time.Hour))
	f.mu.Lock()
	f.failGet["cache/k"] = errors.New("connection reset")
	f.mu.Unlock()

	got, found, err := s.Get(ctx, "k")
	require.NoError(t, err, "fetch failures must not surface from reads")
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestStaleRegistryEntryAbsent(t *testing.T) {
	f := newFakeStore()
	s := newTestStore(t, f)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", "v", time.Hour))
	// The object vanishes out from under the registry.
	require.NoError(t, f.Remove(ctx, "media", "cache/k"))

	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUndecodableObjectAbsent(t *testing.T) {
	f := newFakeStore()
	s := newTestStore(t, f)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", "v", time.Hour))
	require.NoError(t, f.Put(ctx, "media", "cache/k", []byte{0xc1}))

	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDelete(t *testing.T) {
	f := newFakeStore()
	s := newTestStore(t, f)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", "v", time.Hour))
	require.NoError(t, s.Delete(ctx, "k"))

	assert.False(t, f.has("cache/k"))
	assert.NotContains(t, registrySnapshot(t, f, "cache"), "k")

	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeleteAbsentKey(t *testing.T) {
	s := newTestStore(t, newFakeStore())
	assert.NoError(t, s.Delete(context.Background(), "nope"))
}

func TestClear(t *testing.T) {
	f := newFakeStore()
	s := newTestStore(t, f)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", 1, time.Hour))
	require.NoError(t, s.Put(ctx, "b", 2, time.Hour))
	require.NoError(t, s.Clear(ctx))

	assert.False(t, f.has("cache/a"))
	assert.False(t, f.has("cache/b"))
	assert.Empty(t, registrySnapshot(t, f, "cache"))

	_, found, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, s.Len())
}

func TestCleanupRemovesOnlyExpired(t *testing.T) {
	f := newFakeStore()
	s := newTestStore(t, f)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "short", 1, time.Millisecond))
	require.NoError(t, s.Put(ctx, "long", 2, time.Hour))
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, s.Cleanup(ctx))

	assert.False(t, f.has("cache/short"))
	assert.True(t, f.has("cache/long"))

	reg := registrySnapshot(t, f, "cache")
	assert.NotContains(t, reg, "short")
	assert.Contains(t, reg, "long")
}

func TestCleanupNothingExpired(t *testing.T) {
	f := newFakeStore()
	s := newTestStore(t, f)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", "v", time.Hour))
	require.NoError(t, s.Cleanup(ctx))

	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
}

// Two instances over the same bucket/prefix each persist their own registry
// view; the last writer wins and earlier registrations degrade to misses.
func TestConcurrentInstancesLoseRegistryUpdates(t *testing.T) {
	f := newFakeStore()
	ctx := context.Background()

	s1 := newTestStore(t, f)
	s2 := newTestStore(t, f)

	require.NoError(t, s1.Put(ctx, "from_s1", 1, time.Hour))
	require.NoError(t, s2.Put(ctx, "from_s2", 2, time.Hour))

	s3 := newTestStore(t, f)
	_, found, err := s3.Get(ctx, "from_s1")
	require.NoError(t, err)
	assert.False(t, found, "s2's registry write overwrote s1's registration")

	_, found, err = s3.Get(ctx, "from_s2")
	require.NoError(t, err)
	assert.True(t, found)

	// The value object itself is still there, only its registration is lost.
	assert.True(t, f.has("cache/from_s1"))
}

func TestInitUnavailableStore(t *testing.T) {
	f := newFakeStore()
	f.failGet[path.Join("cache", registryObject)] = errors.New("dial tcp: connection refused")

	_, err := NewWithStore(context.Background(), f, "media", "cache")
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrUnavailable)
}

func TestInitCorruptRegistry(t *testing.T) {
	f := newFakeStore()
	require.NoError(t, f.Put(context.Background(), "media", path.Join("cache", registryObject), []byte("{not json")))

	_, err := NewWithStore(context.Background(), f, "media", "cache")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding cache registry")
}

func TestOpenConfigErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		opts    backend.Options
		wantErr string
	}{
		{"unknown option", backend.Options{"buckets": "x"}, "unknown options"},
		{"missing endpoint", backend.Options{"bucket": "media"}, `option "endpoint" is required`},
		{"bad use_ssl", backend.Options{"endpoint": "localhost:9000", "use_ssl": "no"}, "expected a boolean"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(ctx, tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

package remote

import (
	"context"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mediakit/metacache/backend"
)

// setupMinIO starts a MinIO container, creates the test bucket and returns
// the container endpoint.
func setupMinIO(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "minioadmin",
			"MINIO_ROOT_PASSWORD": "minioadmin",
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
	}

	minioC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start MinIO container")
	t.Cleanup(func() { _ = minioC.Terminate(ctx) })

	endpoint, err := minioC.Endpoint(ctx, "")
	require.NoError(t, err, "failed to get container endpoint")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	require.NoError(t, err, "failed to create MinIO client")
	require.NoError(t, client.MakeBucket(ctx, "media", minio.MakeBucketOptions{}))

	return endpoint
}

func integrationOptions(endpoint string) backend.Options {
	return backend.Options{
		"endpoint":   endpoint,
		"bucket":     "media",
		"prefix":     "videos",
		"access_key": "minioadmin",
		"secret_key": "minioadmin",
		"use_ssl":    false,
	}
}

func TestIntegration_RoundTrip(t *testing.T) {
	endpoint := setupMinIO(t)
	ctx := context.Background()

	s, err := Open(ctx, integrationOptions(endpoint))
	require.NoError(t, err)

	value := map[string]any{"title": "T", "channel": "news"}
	require.NoError(t, s.Put(ctx, "video:abc", value, time.Hour))

	got, found, err := s.Get(ctx, "video:abc")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, value, got)

	_, found, err = s.Get(ctx, "video:missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIntegration_RegistrySurvivesReconstruction(t *testing.T) {
	endpoint := setupMinIO(t)
	ctx := context.Background()

	s1, err := Open(ctx, integrationOptions(endpoint))
	require.NoError(t, err)
	require.NoError(t, s1.Put(ctx, "video:abc", "payload", time.Hour))
	require.NoError(t, s1.Put(ctx, "video:xyz", "other", time.Millisecond))

	// A second backend over the same bucket/prefix sees the persisted
	// registry: the live key hits, the expired one is reaped.
	time.Sleep(10 * time.Millisecond)
	s2, err := Open(ctx, integrationOptions(endpoint))
	require.NoError(t, err)

	got, found, err := s2.Get(ctx, "video:abc")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "payload", got)

	_, found, err = s2.Get(ctx, "video:xyz")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIntegration_ClearAndCleanup(t *testing.T) {
	endpoint := setupMinIO(t)
	ctx := context.Background()

	s, err := Open(ctx, integrationOptions(endpoint))
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "short", 1, time.Millisecond))
	require.NoError(t, s.Put(ctx, "long", 2, time.Hour))
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, s.Cleanup(ctx))
	_, found, err := s.Get(ctx, "long")
	require.NoError(t, err)
	assert.True(t, found, "cleanup must not touch live entries")

	require.NoError(t, s.Clear(ctx))
	_, found, err = s.Get(ctx, "long")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, s.Len())
}

package kv

import (
	"context"
	"os"
	"testing"
	"time"

	sferrors "github.com/abgdnv/storefront/internal/errors"
	pnats "github.com/abgdnv/storefront/pkg/nats"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/nats"
)

func TestNatsStoreIntegration(t *testing.T) {
	if os.Getenv(skipIntegrationTests) != "" {
		t.Skip("Skipping integration tests: " + skipIntegrationTests + " is set")
	}
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	ctx := context.Background()

	container, err := nats.Run(ctx, "nats:2.11.6-alpine")
	require.NoError(t, err, "Failed to run NATS container")
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})
	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	nc, err := pnats.NewClient(url, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	js, err := pnats.NewJetStreamContext(nc)
	require.NoError(t, err)

	bucket, err := pnats.KeyValueBucket(ctx, js, "storefront_test")
	require.NoError(t, err)
	again, err := pnats.KeyValueBucket(ctx, js, "storefront_test")
	require.NoError(t, err, "opening an existing bucket must not fail")
	require.Equal(t, bucket.Bucket(), again.Bucket())

	store := NewNatsStore(bucket)
	require.NoError(t, store.Ping(ctx))

	_, err = store.Get(ctx, "cart:s1")
	require.ErrorIs(t, err, sferrors.ErrNotFound)

	require.NoError(t, store.Set(ctx, "cart:s1", "c1"))
	require.NoError(t, store.Set(ctx, "cart:s1", "c2"))
	v, err := store.Get(ctx, "cart:s1")
	require.NoError(t, err)
	require.Equal(t, "c2", v)

	require.NoError(t, store.Remove(ctx, "cart:s1"))
	_, err = store.Get(ctx, "cart:s1")
	require.ErrorIs(t, err, sferrors.ErrNotFound)
}

package kv

import (
	"context"
	"testing"

	sferrors "github.com/abgdnv/storefront/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_MemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "cart:s1")
	assert.ErrorIs(t, err, sferrors.ErrNotFound)

	require.NoError(t, s.Set(ctx, "cart:s1", "c1"))
	require.NoError(t, s.Set(ctx, "cart:s1", "c2"))
	v, err := s.Get(ctx, "cart:s1")
	require.NoError(t, err)
	assert.Equal(t, "c2", v)

	require.NoError(t, s.Remove(ctx, "cart:s1"))
	require.NoError(t, s.Remove(ctx, "cart:s1"), "removing a missing key is not an error")
	_, err = s.Get(ctx, "cart:s1")
	assert.ErrorIs(t, err, sferrors.ErrNotFound)
	assert.NoError(t, s.Ping(ctx))
}

func Test_encodeKey(t *testing.T) {
	testCases := []struct {
		key      string
		expected string
	}{
		{key: "cart:s1", expected: "Y2FydDpzMQ"},
		{key: "cart:3f0c/ä", expected: "Y2FydDozZjBjL8Ok"},
	}
	for _, tc := range testCases {
		t.Run(tc.key, func(t *testing.T) {
			got := encodeKey(tc.key)
			assert.Equal(t, tc.expected, got)
			assert.Regexp(t, `^[-_a-zA-Z0-9]+$`, got)
		})
	}
}

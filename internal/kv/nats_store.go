package kv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	sferrors "github.com/abgdnv/storefront/internal/errors"
	"github.com/nats-io/nats.go/jetstream"
)

// NatsStore implements Store on a JetStream key-value bucket.
// Keys are base64url encoded since JetStream restricts the key alphabet.
type NatsStore struct {
	kv jetstream.KeyValue
}

func NewNatsStore(kv jetstream.KeyValue) *NatsStore {
	return &NatsStore{kv: kv}
}

func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func (n *NatsStore) Get(ctx context.Context, key string) (string, error) {
	entry, err := n.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return "", sferrors.ErrNotFound
		}
		return "", fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return string(entry.Value()), nil
}

func (n *NatsStore) Set(ctx context.Context, key, value string) error {
	if _, err := n.kv.Put(ctx, encodeKey(key), []byte(value)); err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

func (n *NatsStore) Remove(ctx context.Context, key string) error {
	err := n.kv.Delete(ctx, encodeKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (n *NatsStore) Ping(ctx context.Context) error {
	if _, err := n.kv.Status(ctx); err != nil {
		return fmt.Errorf("key-value bucket unavailable: %w", err)
	}
	return nil
}

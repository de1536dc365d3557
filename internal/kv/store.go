// Package kv provides the durable key-value slot used for client state that must survive reloads,
// such as the cart identity of a session.
package kv

import "context"

// Store is a durable string key-value store.
type Store interface {
	// Get returns the value stored under key.
	// Returns errors.ErrNotFound if the key has never been set or was removed.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Ping reports whether the underlying storage is reachable.
	Ping(ctx context.Context) error
}

// Package kv provides the durable key-value store used to mirror tracker
// state and the analysis cache, with SQLite, Redis and in-memory backends.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store defines the durable key-value interface.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close closes the store.
	Close() error
}

// GetJSON reads key and decodes it into a T.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var v T
	b, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return v, ok, err
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, b)
}

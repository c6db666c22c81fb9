// Package cache provides the tiered response cache used by all
// data-fetching calls: an in-process memory tier in front of a
// session-scoped durable tier and a persistent durable tier, with
// get-or-fetch semantics against an injected network call.
package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrCacheMiss indicates the key was not found in a tier, or its entry
// had expired.
var ErrCacheMiss = errors.New("cache miss")

// ErrStoreFull indicates a durable tier rejected a write for lack of
// space. It triggers the eviction-and-retry path.
var ErrStoreFull = errors.New("cache store full")

// Entry is a timestamped cached value. Immutable once written; a tier
// either returns a still-valid entry or treats it as absent.
type Entry[T any] struct {
	Data      T
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Valid reports whether the entry may still be served at the given time.
func (e Entry[T]) Valid(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Store is the contract for a durable cache tier. Implementations hold
// opaque serialized entries; expiry interpretation belongs to the
// Manager.
type Store interface {
	// Get retrieves the raw entry for a key, or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes the raw entry for a key. Returns ErrStoreFull when the
	// tier is out of space.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes a key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error
	// Keys enumerates every stored key with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Clear removes every key with the given prefix.
	Clear(ctx context.Context, prefix string) error
	io.Closer
}

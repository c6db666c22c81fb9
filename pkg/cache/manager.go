package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-storefront/pkg/webapi"
)

// FetchFunc performs the underlying network call on a full cache miss.
type FetchFunc[T any] func(ctx context.Context, req webapi.Request) (T, error)

// Options control one Get call.
type Options struct {
	// TTL stamps the freshness window for a fetched value. Zero falls
	// back to the manager's default.
	TTL time.Duration
	// UseSessionTier enables the session-scoped durable tier.
	UseSessionTier bool
	// UsePersistentTier enables the persistent durable tier.
	UsePersistentTier bool
	// StorageKey overrides the derived key for durable-tier placement,
	// so differently-shaped calls can share one slot.
	StorageKey string
}

// ManagerConfig holds configuration for a Manager.
type ManagerConfig struct {
	// DefaultTTL applies when a Get call does not set one.
	DefaultTTL time.Duration
	// SweepInterval paces the periodic eviction sweep. Defaults to one
	// hour.
	SweepInterval time.Duration
	// Clock overrides the time source. Defaults to time.Now.
	Clock func() time.Time
}

// storedEntry is the serialized form an Entry takes in a durable tier.
type storedEntry struct {
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Manager is the tiered cache for one resource class. It wraps a network
// call with get-or-fetch semantics across the in-process memory tier,
// the session-scoped durable tier and the persistent durable tier.
//
// The cache is a performance optimization, never a correctness
// dependency: durable-tier failures degrade to fetching, and a value
// that cannot be persisted is still served from memory.
type Manager[T any] struct {
	cfg        ManagerConfig
	session    Store
	persistent Store
	fetch      FetchFunc[T]
	logger     zerolog.Logger
	now        func() time.Time

	mu     sync.RWMutex
	memory map[string]Entry[T]
}

// NewManager creates a cache manager. session and persistent may be nil
// when the corresponding tier is unavailable; Get options then degrade
// to the remaining tiers.
func NewManager[T any](
	cfg *ManagerConfig,
	session Store,
	persistent Store,
	fetch FetchFunc[T],
	logger zerolog.Logger,
) *Manager[T] {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = time.Hour
	}
	return &Manager[T]{
		cfg:        ManagerConfig{DefaultTTL: cfg.DefaultTTL, SweepInterval: sweep, Clock: now},
		session:    session,
		persistent: persistent,
		fetch:      fetch,
		logger:     logger.With().Str("component", "CacheManager").Logger(),
		now:        now,
		memory:     make(map[string]Entry[T]),
	}
}

// Get serves a value for the request, probing memory first, then the
// persistent and session tiers, and finally performing the underlying
// fetch. Durable-tier hits are promoted into memory so subsequent reads
// stay at memory speed. A fetch failure is propagated with nothing
// cached.
func (m *Manager[T]) Get(ctx context.Context, req webapi.Request, opts Options) (T, error) {
	var zero T

	body, err := req.EncodedBody()
	if err != nil {
		return zero, err
	}
	cacheKey := Key(req.Method, req.Path, body)
	storageKey := StorageKey(cacheKey, opts.StorageKey)

	// Memory carries already-decoded values, so it is always probed
	// first.
	if entry, ok := m.fromMemory(cacheKey); ok {
		m.logger.Debug().Str("key", cacheKey).Msg("Memory tier hit.")
		return entry.Data, nil
	}

	if opts.UsePersistentTier && m.persistent != nil {
		if value, ok := m.fromStore(ctx, m.persistent, storageKey, cacheKey); ok {
			m.logger.Debug().Str("key", storageKey).Msg("Persistent tier hit.")
			return value, nil
		}
	}

	if opts.UseSessionTier && m.session != nil {
		if value, ok := m.fromStore(ctx, m.session, storageKey, cacheKey); ok {
			m.logger.Debug().Str("key", storageKey).Msg("Session tier hit.")
			return value, nil
		}
	}

	value, err := m.fetch(ctx, req)
	if err != nil {
		return zero, err
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}
	now := m.now()
	entry := Entry[T]{Data: value, CreatedAt: now, ExpiresAt: now.Add(ttl)}

	m.mu.Lock()
	m.memory[cacheKey] = entry
	m.mu.Unlock()

	if opts.UsePersistentTier && m.persistent != nil {
		m.writeDurable(ctx, m.persistent, storageKey, entry)
	}
	if opts.UseSessionTier && m.session != nil {
		m.writeDurable(ctx, m.session, storageKey, entry)
	}

	return value, nil
}

// Invalidate removes the entry for the request from every tier, under
// the same key-derivation rule Get uses. Invalidating an absent key is a
// no-op.
func (m *Manager[T]) Invalidate(ctx context.Context, req webapi.Request, storageKeyOverride string) error {
	body, err := req.EncodedBody()
	if err != nil {
		return err
	}
	cacheKey := Key(req.Method, req.Path, body)
	storageKey := StorageKey(cacheKey, storageKeyOverride)

	m.mu.Lock()
	delete(m.memory, cacheKey)
	m.mu.Unlock()

	for _, store := range []Store{m.persistent, m.session} {
		if store == nil {
			continue
		}
		if err := store.Delete(ctx, storageKey); err != nil {
			return fmt.Errorf("invalidate %s: %w", storageKey, err)
		}
	}
	return nil
}

// ClearAll removes every entry this manager's subsystem ever wrote: the
// memory tier wholesale, and both durable tiers scoped by the fixed key
// prefix so unrelated data in the same backend is untouched.
func (m *Manager[T]) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	m.memory = make(map[string]Entry[T])
	m.mu.Unlock()

	for _, store := range []Store{m.persistent, m.session} {
		if store == nil {
			continue
		}
		if err := store.Clear(ctx, KeyPrefix); err != nil {
			return err
		}
	}
	return nil
}

// StartSweeper runs the periodic eviction sweep until ctx is cancelled.
func (m *Manager[T]) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sweep removes expired entries from every tier. Unlike the full-store
// eviction path it never touches still-valid entries, so running it
// twice in a row removes nothing the second time.
func (m *Manager[T]) Sweep(ctx context.Context) {
	now := m.now()
	m.mu.Lock()
	for key, entry := range m.memory {
		if !entry.Valid(now) {
			delete(m.memory, key)
		}
	}
	m.mu.Unlock()

	for _, store := range []Store{m.persistent, m.session} {
		if store == nil {
			continue
		}
		if _, err := m.Evict(ctx, store, false); err != nil {
			m.logger.Error().Err(err).Msg("Eviction sweep failed.")
		}
	}
}

// Evict runs the eviction policy against one durable tier: a first pass
// removes every entry whose freshness window has passed. When makeRoom
// is set (a write was rejected for lack of space) and the first pass
// removed fewer than 10 entries, a second pass removes the oldest 20% of
// what remains, by CreatedAt. Returns the number of entries removed.
func (m *Manager[T]) Evict(ctx context.Context, store Store, makeRoom bool) (int, error) {
	keys, err := store.Keys(ctx, KeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("evict: enumerate keys: %w", err)
	}

	type survivor struct {
		key       string
		createdAt time.Time
	}

	now := m.now()
	removed := 0
	var survivors []survivor
	for _, key := range keys {
		raw, err := store.Get(ctx, key)
		if err != nil {
			continue
		}
		var entry storedEntry
		if err := json.Unmarshal(raw, &entry); err != nil || !now.Before(entry.ExpiresAt) {
			// Expired or unreadable entries go first.
			if delErr := store.Delete(ctx, key); delErr == nil {
				removed++
			}
			continue
		}
		survivors = append(survivors, survivor{key: key, createdAt: entry.CreatedAt})
	}

	if !makeRoom || removed >= 10 {
		return removed, nil
	}

	sort.Slice(survivors, func(i, j int) bool {
		return survivors[i].createdAt.Before(survivors[j].createdAt)
	})
	drop := len(survivors) / 5
	if drop == 0 && len(survivors) > 0 {
		drop = 1
	}
	for _, s := range survivors[:drop] {
		if err := store.Delete(ctx, s.key); err == nil {
			removed++
		}
	}
	m.logger.Debug().Int("removed", removed).Msg("Eviction pass complete.")
	return removed, nil
}

// fromMemory returns the still-valid memory entry for a key. Expired
// entries are dropped lazily.
func (m *Manager[T]) fromMemory(key string) (Entry[T], bool) {
	m.mu.RLock()
	entry, ok := m.memory[key]
	m.mu.RUnlock()
	if !ok {
		return Entry[T]{}, false
	}
	if !entry.Valid(m.now()) {
		m.mu.Lock()
		delete(m.memory, key)
		m.mu.Unlock()
		return Entry[T]{}, false
	}
	return entry, true
}

// fromStore probes a durable tier and, on a valid hit, promotes the
// decoded entry into the memory tier under the derived cache key.
func (m *Manager[T]) fromStore(ctx context.Context, store Store, storageKey, cacheKey string) (T, bool) {
	var zero T
	raw, err := store.Get(ctx, storageKey)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			m.logger.Error().Err(err).Str("key", storageKey).Msg("Durable tier read failed.")
		}
		return zero, false
	}

	var stored storedEntry
	if err := json.Unmarshal(raw, &stored); err != nil {
		m.logger.Error().Err(err).Str("key", storageKey).Msg("Durable tier entry unreadable. Dropping it.")
		_ = store.Delete(ctx, storageKey)
		return zero, false
	}
	if !m.now().Before(stored.ExpiresAt) {
		return zero, false
	}

	var value T
	if err := json.Unmarshal(stored.Data, &value); err != nil {
		m.logger.Error().Err(err).Str("key", storageKey).Msg("Durable tier payload undecodable. Dropping it.")
		_ = store.Delete(ctx, storageKey)
		return zero, false
	}

	m.mu.Lock()
	m.memory[cacheKey] = Entry[T]{Data: value, CreatedAt: stored.CreatedAt, ExpiresAt: stored.ExpiresAt}
	m.mu.Unlock()

	return value, true
}

// writeDurable persists an entry into a durable tier. A full store
// triggers one eviction pass and one retry; if the write still fails it
// is dropped silently — the caller already holds the fresh value in
// memory.
func (m *Manager[T]) writeDurable(ctx context.Context, store Store, key string, entry Entry[T]) {
	data, err := json.Marshal(entry.Data)
	if err != nil {
		m.logger.Error().Err(err).Str("key", key).Msg("Failed to marshal value for durable tier.")
		return
	}
	raw, err := json.Marshal(storedEntry{Data: data, CreatedAt: entry.CreatedAt, ExpiresAt: entry.ExpiresAt})
	if err != nil {
		m.logger.Error().Err(err).Str("key", key).Msg("Failed to marshal entry for durable tier.")
		return
	}

	err = store.Set(ctx, key, raw)
	if err == nil {
		return
	}
	if !errors.Is(err, ErrStoreFull) {
		m.logger.Error().Err(err).Str("key", key).Msg("Durable tier write failed.")
		return
	}

	if _, evictErr := m.Evict(ctx, store, true); evictErr != nil {
		m.logger.Error().Err(evictErr).Str("key", key).Msg("Eviction after full store failed.")
		return
	}
	if err := store.Set(ctx, key, raw); err != nil {
		m.logger.Error().Err(err).Str("key", key).Msg("Durable tier write dropped after eviction retry.")
	}
}

// Package cache implements the persisted LRU translation cache.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/llm-immersive/immersive/pkg/models"
	"github.com/llm-immersive/immersive/pkg/store"
)

const (
	// DefaultCapacity is the maximum number of cached translations.
	DefaultCapacity = 300
	// DefaultStorageKey is the store key the serialized cache lives under.
	DefaultStorageKey = "translationCacheV1"
)

// Key computes the cache fingerprint for a translation request. Any change
// of provider, model, endpoint, target language or text yields a new key.
func Key(text, targetLanguage string, s models.Settings) string {
	return strings.Join([]string{
		orDefault(string(s.ProviderType), "provider"),
		orDefault(s.Model, "model"),
		orDefault(s.BaseURL, "base"),
		targetLanguage,
		text,
	}, "::")
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

type loadState int

const (
	stateUninitialized loadState = iota
	stateLoading
	stateReady
)

// loadCall is the single in-flight load shared by concurrent callers.
type loadCall struct {
	done chan struct{}
	err  error
}

type entry struct {
	key       string
	value     string
	updatedAt int64
}

// Cache is a bounded, persisted translation cache with least-recently-used
// eviction. The list runs from least to most recently used.
type Cache struct {
	kv         store.KV
	storageKey string
	capacity   int
	now        func() time.Time
	logger     zerolog.Logger

	// persistMu is taken before mu so snapshots reach the store in
	// mutation order.
	persistMu sync.Mutex

	mu       sync.Mutex
	state    loadState
	inflight *loadCall
	order    *list.List
	index    map[string]*list.Element

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithCapacity overrides DefaultCapacity. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithStorageKey overrides DefaultStorageKey.
func WithStorageKey(key string) Option {
	return func(c *Cache) {
		if key != "" {
			c.storageKey = key
		}
	}
}

// WithClock sets the time source used for updatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a Cache persisted in kv. Nothing is read until first use.
func New(kv store.KV, opts ...Option) *Cache {
	c := &Cache{
		kv:         kv,
		storageKey: DefaultStorageKey,
		capacity:   DefaultCapacity,
		now:        time.Now,
		logger:     zerolog.Nop(),
		order:      list.New(),
		index:      make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached translation for key. A hit becomes the most
// recently used entry; the touch is not persisted until the next write.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return "", false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		c.misses.Add(1)
		return "", false, nil
	}
	e := el.Value.(*entry)
	e.updatedAt = c.now().UnixMilli()
	c.order.MoveToBack(el)
	c.hits.Add(1)
	return e.value, true, nil
}

// Set stores value under key as the most recently used entry, evicts down
// to capacity and persists the whole cache before returning.
func (c *Cache) Set(ctx context.Context, key, value string) error {
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}

	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	now := c.now().UnixMilli()
	if el, ok := c.index[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.updatedAt = now
		c.order.MoveToBack(el)
	} else {
		c.index[key] = c.order.PushBack(&entry{key: key, value: value, updatedAt: now})
	}
	c.evictLocked()
	payload := c.snapshotLocked()
	c.mu.Unlock()

	return c.write(ctx, payload)
}

// Load reads the persisted cache now instead of on first use.
func (c *Cache) Load(ctx context.Context) error {
	return c.ensureLoaded(ctx)
}

// Reset empties the cache in memory and marks it loaded without touching
// the store.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.index = make(map[string]*list.Element)
	c.state = stateReady
	c.hits.Store(0)
	c.misses.Store(0)
}

// Clear empties the cache and persists the empty state.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}

	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	c.order.Init()
	c.index = make(map[string]*list.Element)
	payload := c.snapshotLocked()
	c.mu.Unlock()

	return c.write(ctx, payload)
}

// Stats returns cache performance metrics.
func (c *Cache) Stats() models.CacheStats {
	c.mu.Lock()
	n := c.order.Len()
	c.mu.Unlock()
	return models.CacheStats{
		Entries:  n,
		Capacity: c.capacity,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
	}
}

// Len returns the number of entries held in memory.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Keys returns the cached keys from least to most recently used.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return keys
}

// ensureLoaded runs the load on first use. Callers arriving while a load is
// in flight wait for it and share its result. The load itself ignores the
// starting caller's cancellation; a cancelled caller only stops waiting. A
// failed load leaves the cache uninitialized so a later call tries again.
func (c *Cache) ensureLoaded(ctx context.Context) error {
	c.mu.Lock()
	call := c.inflight
	switch c.state {
	case stateReady:
		c.mu.Unlock()
		return nil
	case stateUninitialized:
		call = &loadCall{done: make(chan struct{})}
		c.inflight = call
		c.state = stateLoading
		go c.runLoad(context.WithoutCancel(ctx), call)
	}
	c.mu.Unlock()

	select {
	case <-call.done:
		return call.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) runLoad(ctx context.Context, call *loadCall) {
	if err := c.load(ctx); err != nil {
		call.err = fmt.Errorf("load translation cache: %w", err)
	}

	c.mu.Lock()
	if c.state == stateLoading && c.inflight == call {
		if call.err != nil {
			c.state = stateUninitialized
		} else {
			c.state = stateReady
		}
	}
	if c.inflight == call {
		c.inflight = nil
	}
	c.mu.Unlock()
	close(call.done)
}

func (c *Cache) load(ctx context.Context) error {
	data, err := c.kv.Get(ctx, c.storageKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	var entries []entry
	if err == nil {
		entries = decodeEntries(data, c.now().UnixMilli(), c.logger)
	}

	c.mu.Lock()
	if c.state != stateLoading {
		// Reset won the race; keep its state.
		c.mu.Unlock()
		return nil
	}
	c.order.Init()
	c.index = make(map[string]*list.Element, len(entries))
	for i := range entries {
		e := entries[i]
		if el, ok := c.index[e.key]; ok {
			existing := el.Value.(*entry)
			existing.value = e.value
			existing.updatedAt = e.updatedAt
			continue
		}
		c.index[e.key] = c.order.PushBack(&e)
	}
	loaded := c.order.Len()
	evicted := c.evictLocked()
	c.mu.Unlock()

	c.logger.Debug().Int("entries", loaded-evicted).Int("evicted", evicted).Msg("translation cache loaded")

	if evicted > 0 {
		c.persistMu.Lock()
		c.mu.Lock()
		payload := c.snapshotLocked()
		c.mu.Unlock()
		err := c.write(ctx, payload)
		c.persistMu.Unlock()
		if err != nil {
			c.logger.Warn().Err(err).Msg("persist trimmed translation cache")
		}
	}
	return nil
}

// decodeEntries parses a persisted payload. A malformed payload yields no
// entries; entries whose key or value is not a string are dropped. The
// result is ordered by updatedAt ascending.
func decodeEntries(data []byte, now int64, logger zerolog.Logger) []entry {
	var payload struct {
		Entries []json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		logger.Warn().Err(err).Msg("discarding malformed translation cache")
		return nil
	}

	entries := make([]entry, 0, len(payload.Entries))
	for _, raw := range payload.Entries {
		var fields struct {
			Key       any `json:"key"`
			Value     any `json:"value"`
			UpdatedAt any `json:"updatedAt"`
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue
		}
		key, ok := fields.Key.(string)
		if !ok {
			continue
		}
		value, ok := fields.Value.(string)
		if !ok {
			continue
		}
		var updatedAt int64
		if ms, ok := fields.UpdatedAt.(float64); ok {
			updatedAt = int64(ms)
		}
		entries = append(entries, entry{key: key, value: value, updatedAt: updatedAt})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].updatedAt < entries[j].updatedAt
	})
	for i := range entries {
		if entries[i].updatedAt == 0 {
			entries[i].updatedAt = now
		}
	}
	return entries
}

// evictLocked drops least recently used entries until the cache fits.
func (c *Cache) evictLocked() int {
	evicted := 0
	for c.order.Len() > c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*entry).key)
		evicted++
	}
	return evicted
}

func (c *Cache) snapshotLocked() models.CachePayload {
	payload := models.CachePayload{Entries: make([]models.CacheEntry, 0, c.order.Len())}
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		payload.Entries = append(payload.Entries, models.CacheEntry{
			Key:       e.key,
			Value:     e.value,
			UpdatedAt: e.updatedAt,
		})
	}
	return payload
}

func (c *Cache) write(ctx context.Context, payload models.CachePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode translation cache: %w", err)
	}
	if err := c.kv.Set(ctx, c.storageKey, data); err != nil {
		return fmt.Errorf("persist translation cache: %w", err)
	}
	return nil
}

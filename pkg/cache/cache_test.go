package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-immersive/immersive/pkg/models"
	"github.com/llm-immersive/immersive/pkg/store"
)

// tickingClock returns a clock that advances one millisecond per call.
func tickingClock() func() time.Time {
	var n atomic.Int64
	base := time.UnixMilli(1_700_000_000_000)
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Millisecond)
	}
}

func newTestCache(t *testing.T, opts ...Option) (*Cache, store.KV) {
	t.Helper()
	kv := store.NewMemory().Area(store.AreaLocal)
	opts = append([]Option{WithClock(tickingClock())}, opts...)
	return New(kv, opts...), kv
}

func persisted(t *testing.T, kv store.KV) models.CachePayload {
	t.Helper()
	data, err := kv.Get(context.Background(), DefaultStorageKey)
	require.NoError(t, err)
	var payload models.CachePayload
	require.NoError(t, json.Unmarshal(data, &payload))
	return payload
}

func TestKey(t *testing.T) {
	s := models.Settings{
		ProviderType:   "openai",
		Model:          "gpt-4",
		BaseURL:        "https://api.example.com",
		TargetLanguage: "中文",
	}
	assert.Equal(t, "openai::gpt-4::https://api.example.com::French::hello", Key("hello", "French", s))
	assert.Equal(t, Key("hello", "French", s), Key("hello", "French", s))

	variants := []models.Settings{s, s, s}
	variants[0].ProviderType = "siliconflow"
	variants[1].Model = "gpt-4o-mini"
	variants[2].BaseURL = "https://other.example.com"
	for _, v := range variants {
		assert.NotEqual(t, Key("hello", "French", s), Key("hello", "French", v))
	}
	assert.NotEqual(t, Key("hello", "French", s), Key("hello", "German", s))
	assert.NotEqual(t, Key("hello", "French", s), Key("world", "French", s))
}

func TestKeyFallbacks(t *testing.T) {
	assert.Equal(t, "provider::model::base::French::hi", Key("hi", "French", models.Settings{}))
}

func TestSetAndGet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	require.NoError(t, c.Set(ctx, "k", "Bonjour"))

	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Bonjour", v)

	_, ok, err = c.Get(ctx, "other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetReplacesValue(t *testing.T) {
	ctx := context.Background()
	c, kv := newTestCache(t)

	require.NoError(t, c.Set(ctx, "k", "one"))
	require.NoError(t, c.Set(ctx, "k", "two"))

	v, _, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "two", v)
	assert.Equal(t, 1, c.Len())
	assert.Len(t, persisted(t, kv).Entries, 1)
}

func TestCapacityInvariant(t *testing.T) {
	ctx := context.Background()
	c, kv := newTestCache(t)

	for i := 0; i < DefaultCapacity+25; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), "v"))
		assert.LessOrEqual(t, c.Len(), DefaultCapacity)
	}
	assert.Equal(t, DefaultCapacity, c.Len())

	_, ok, err := c.Get(ctx, "k24")
	require.NoError(t, err)
	assert.False(t, ok, "earliest entries are evicted first")

	_, ok, err = c.Get(ctx, "k25")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Len(t, persisted(t, kv).Entries, DefaultCapacity)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, WithCapacity(3))

	require.NoError(t, c.Set(ctx, "a", "1"))
	require.NoError(t, c.Set(ctx, "b", "2"))
	require.NoError(t, c.Set(ctx, "c", "3"))

	// Touch a so b becomes the least recently used.
	_, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Set(ctx, "d", "4"))

	assert.Equal(t, []string{"c", "a", "d"}, c.Keys())
}

func TestSetPersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	c, kv := newTestCache(t)

	require.NoError(t, c.Set(ctx, "a", "1"))
	require.NoError(t, c.Set(ctx, "b", "2"))

	reloaded := New(kv, WithClock(tickingClock()))
	v, ok, err := reloaded.Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)
	assert.Equal(t, []string{"a", "b"}, reloaded.Keys())
}

func TestLoadSortsByUpdatedAtAndSelfHeals(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory().Area(store.AreaLocal)
	seed := `{"entries":[
		{"key":"newest","value":"n","updatedAt":300},
		{"key":"oldest","value":"o","updatedAt":100},
		{"key":"middle","value":"m","updatedAt":200}
	]}`
	require.NoError(t, kv.Set(ctx, DefaultStorageKey, []byte(seed)))

	c := New(kv, WithCapacity(2), WithClock(tickingClock()))
	assert.Equal(t, 0, c.Len(), "nothing is read before first use")

	_, ok, err := c.Get(ctx, "oldest")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"middle", "newest"}, c.Keys())

	payload := persisted(t, kv)
	require.Len(t, payload.Entries, 2)
	assert.Equal(t, "middle", payload.Entries[0].Key)
	assert.Equal(t, "newest", payload.Entries[1].Key)
}

func TestLoadWithoutEvictionDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	kv := &countingKV{KV: store.NewMemory().Area(store.AreaLocal)}
	require.NoError(t, kv.KV.Set(ctx, DefaultStorageKey, []byte(`{"entries":[{"key":"a","value":"1","updatedAt":1}]}`)))

	c := New(kv)
	_, _, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), kv.sets.Load())
}

func TestLoadDropsNonStringEntries(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory().Area(store.AreaLocal)
	seed := `{"entries":[
		{"key":"good","value":"yes","updatedAt":1},
		{"key":7,"value":"bad key"},
		{"key":"bad value","value":{"x":1}},
		null,
		"garbage",
		{"key":"no stamp","value":"kept"}
	]}`
	require.NoError(t, kv.Set(ctx, DefaultStorageKey, []byte(seed)))

	c := New(kv, WithClock(tickingClock()))
	_, _, err := c.Get(ctx, "missing")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"good", "no stamp"}, c.Keys())
}

func TestLoadMalformedPayloadStartsEmpty(t *testing.T) {
	for name, seed := range map[string]string{
		"not json":      `{{{`,
		"array":         `[1,2,3]`,
		"entries type":  `{"entries":"nope"}`,
		"missing field": `{"other":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			kv := store.NewMemory().Area(store.AreaLocal)
			require.NoError(t, kv.Set(ctx, DefaultStorageKey, []byte(seed)))

			c := New(kv)
			_, ok, err := c.Get(ctx, "anything")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, 0, c.Len())
		})
	}
}

func TestDuplicateKeysOnLoad(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory().Area(store.AreaLocal)
	seed := `{"entries":[
		{"key":"a","value":"first","updatedAt":1},
		{"key":"b","value":"b","updatedAt":2},
		{"key":"a","value":"second","updatedAt":3}
	]}`
	require.NoError(t, kv.Set(ctx, DefaultStorageKey, []byte(seed)))

	c := New(kv, WithClock(tickingClock()))
	v, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", v)
	assert.Equal(t, 2, c.Len())
}

// countingKV counts Get and Set calls and can block Get until released.
type countingKV struct {
	store.KV
	gets    atomic.Int64
	sets    atomic.Int64
	release chan struct{}
	getErr  error
}

func (k *countingKV) Get(ctx context.Context, key string) ([]byte, error) {
	k.gets.Add(1)
	if k.release != nil {
		select {
		case <-k.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if k.getErr != nil {
		return nil, k.getErr
	}
	return k.KV.Get(ctx, key)
}

func (k *countingKV) Set(ctx context.Context, key string, value []byte) error {
	k.sets.Add(1)
	return k.KV.Set(ctx, key, value)
}

func TestConcurrentFirstAccessLoadsOnce(t *testing.T) {
	ctx := context.Background()
	kv := &countingKV{
		KV:      store.NewMemory().Area(store.AreaLocal),
		release: make(chan struct{}),
	}
	c := New(kv)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.Get(ctx, "k")
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return kv.gets.Load() == 1 }, time.Second, time.Millisecond)
	close(kv.release)
	wg.Wait()

	assert.Equal(t, int64(1), kv.gets.Load())
}

func TestCancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	kv := &countingKV{
		KV:      store.NewMemory().Area(store.AreaLocal),
		release: make(chan struct{}),
	}
	require.NoError(t, kv.KV.Set(context.Background(), DefaultStorageKey,
		[]byte(`{"entries":[{"key":"a","value":"1","updatedAt":1}]}`)))
	c := New(kv)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := c.Get(ctx, "a")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return kv.gets.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	type result struct {
		value string
		ok    bool
		err   error
	}
	second := make(chan result, 1)
	go func() {
		v, ok, err := c.Get(context.Background(), "a")
		second <- result{v, ok, err}
	}()
	close(kv.release)

	got := <-second
	require.NoError(t, got.err)
	assert.True(t, got.ok)
	assert.Equal(t, "1", got.value)
	assert.Equal(t, int64(1), kv.gets.Load())
}

func TestLoadErrorIsRetried(t *testing.T) {
	ctx := context.Background()
	kv := &countingKV{
		KV:     store.NewMemory().Area(store.AreaLocal),
		getErr: errors.New("storage offline"),
	}
	c := New(kv)

	_, _, err := c.Get(ctx, "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage offline")

	kv.getErr = nil
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(2), kv.gets.Load())
}

type brokenKV struct{}

func (brokenKV) Get(context.Context, string) ([]byte, error) { return nil, errors.New("read failed") }
func (brokenKV) Set(context.Context, string, []byte) error   { return errors.New("write failed") }
func (brokenKV) Delete(context.Context, string) error        { return errors.New("delete failed") }

func TestResetBypassesStore(t *testing.T) {
	ctx := context.Background()
	c := New(brokenKV{})
	c.Reset()

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestSetReturnsPersistError(t *testing.T) {
	c := New(brokenKV{})
	c.Reset()

	err := c.Set(context.Background(), "k", "v")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write failed")
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, WithCapacity(10))

	require.NoError(t, c.Set(ctx, "a", "1"))
	_, _, _ = c.Get(ctx, "a")
	_, _, _ = c.Get(ctx, "b")

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 10, stats.Capacity)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate(), 1e-9)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	c, kv := newTestCache(t)

	require.NoError(t, c.Set(ctx, "a", "1"))
	require.NoError(t, c.Clear(ctx))

	assert.Equal(t, 0, c.Len())
	assert.Empty(t, persisted(t, kv).Entries)
}

func TestLoadEagerly(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory().Area(store.AreaLocal)
	data, err := json.Marshal(models.CachePayload{Entries: []models.CacheEntry{
		{Key: "a", Value: "1", UpdatedAt: 1},
		{Key: "b", Value: "2", UpdatedAt: 2},
	}})
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, DefaultStorageKey, data))

	c := New(kv)
	assert.Zero(t, c.Stats().Entries)
	require.NoError(t, c.Load(ctx))
	assert.Equal(t, 2, c.Stats().Entries)
	assert.Equal(t, []string{"a", "b"}, c.Keys())
}

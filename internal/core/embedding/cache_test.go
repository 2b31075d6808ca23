package embedding

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-matcher/internal/pkg/common"
)

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, time.Minute, 0)
	defer c.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []float32{1, 2}))
	vec, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{1, 2}, vec)

	now = now.Add(2 * time.Minute)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheEvictsLeastUsed(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2, time.Hour, 0)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "a", []float32{1}))
	require.NoError(t, c.Set(ctx, "b", []float32{2}))
	_, _, _ = c.Get(ctx, "a")
	require.NoError(t, c.Set(ctx, "c", []float32{3}))

	assert.Equal(t, 2, c.Len())
	_, ok, _ := c.Get(ctx, "b")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "a")
	assert.True(t, ok)
}

type countingEmbedder struct {
	calls int32
	delay time.Duration
	err   error
}

func (f *countingEmbedder) Embed(ctx context.Context, text string, hint TaskHint) ([]float32, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func TestCachedEmbedderHitsCache(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	e := NewCachedEmbedder(inner, NewMemoryCache(10, time.Hour, 0), "m")
	defer e.Close()

	a, err := e.Embed(ctx, "Onion", TaskDocument)
	require.NoError(t, err)
	b, err := e.Embed(ctx, " onion ", TaskDocument)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.calls))

	// 不同用途分開快取
	_, err = e.Embed(ctx, "onion", TaskQuery)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&inner.calls))
}

func TestCachedEmbedderCollapsesConcurrentCalls(t *testing.T) {
	inner := &countingEmbedder{delay: 50 * time.Millisecond}
	e := NewCachedEmbedder(inner, nil, "m")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Embed(context.Background(), "garlic", TaskQuery)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Less(t, atomic.LoadInt32(&inner.calls), int32(8))
}

func TestCachedEmbedderDoesNotCacheFailures(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{err: common.NewEmbeddingUnavailableError(errors.New("down"))}
	cache := NewMemoryCache(10, time.Hour, 0)
	e := NewCachedEmbedder(inner, cache, "m")
	defer e.Close()

	_, err := e.Embed(ctx, "leek", TaskQuery)
	assert.True(t, errors.Is(err, common.ErrEmbeddingUnavailable))
	assert.Equal(t, 0, cache.Len())
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	c, err := NewRedisCache(ctx, RedisOptions{Addr: addr, TTL: time.Minute})
	require.NoError(t, err)
	defer c.Close()

	key := CacheKey("test", TaskQuery, t.Name())
	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, key, []float32{0.5, -0.25}))
	vec, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{0.5, -0.25}, vec)
}

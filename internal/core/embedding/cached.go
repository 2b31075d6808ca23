package embedding

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"recipe-matcher/internal/pkg/common"
	"recipe-matcher/internal/pkg/metrics"
)

// CachedEmbedder 在 Embedder 前加上快取，並合併同時間的相同請求。
// 快取錯誤只記錄，不影響結果。
type CachedEmbedder struct {
	next  Embedder
	cache Cache
	model string
	group singleflight.Group
}

// NewCachedEmbedder 包裝 Embedder；cache 為 nil 時只做請求合併
func NewCachedEmbedder(next Embedder, cache Cache, model string) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache, model: model}
}

// Embed 實作 Embedder
func (c *CachedEmbedder) Embed(ctx context.Context, text string, hint TaskHint) ([]float32, error) {
	key := CacheKey(c.model, hint, strings.ToLower(strings.TrimSpace(text)))

	if c.cache != nil {
		vec, ok, err := c.cache.Get(ctx, key)
		switch {
		case err != nil:
			metrics.EmbeddingCache.WithLabelValues("error").Inc()
			common.LogWarn("讀取嵌入快取失敗", zap.Error(err))
		case ok:
			metrics.EmbeddingCache.WithLabelValues("hit").Inc()
			return vec, nil
		default:
			metrics.EmbeddingCache.WithLabelValues("miss").Inc()
		}
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		vec, err := c.next.Embed(ctx, text, hint)
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			if err := c.cache.Set(ctx, key, vec); err != nil {
				common.LogWarn("寫入嵌入快取失敗", zap.Error(err))
			}
		}
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	vec := v.([]float32)
	if shared {
		vec = append([]float32(nil), vec...)
	}
	return vec, nil
}

// Close 關閉快取
func (c *CachedEmbedder) Close() error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Close()
}

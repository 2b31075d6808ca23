package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"recipe-matcher/internal/core/canonical"
	"recipe-matcher/internal/core/coverage"
	"recipe-matcher/internal/core/embedding"
	"recipe-matcher/internal/core/hierarchy"
	"recipe-matcher/internal/core/store"
	"recipe-matcher/internal/core/vector"
	"recipe-matcher/internal/infrastructure/config"
	"recipe-matcher/internal/infrastructure/database"
	"recipe-matcher/internal/pkg/common"
)

// App 組裝好的服務集合
type App struct {
	Config    *config.Config
	Store     store.Store
	Embedder  *embedding.CachedEmbedder
	Index     *vector.Index
	Canonical *canonical.Service
	Hierarchy *hierarchy.Service
	Coverage  *coverage.Engine
}

// New 依設定建立存儲與所有服務
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	s, err := database.Open(ctx, cfg.Database.Driver, database.Options{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogLevel:        cfg.Database.LogLevel,
		AutoMigrate:     cfg.Database.AutoMigrate,
		MaxDepth:        cfg.Hierarchy.MaxDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return NewWithStore(ctx, cfg, s)
}

// NewWithStore 使用既有存儲建立服務
func NewWithStore(ctx context.Context, cfg *config.Config, s store.Store) (*App, error) {
	embedder, err := NewEmbedder(ctx, cfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	index := vector.NewIndex(s, cfg.Search.Overfetch, cfg.Search.MaxK)
	a := &App{
		Config:    cfg,
		Store:     s,
		Embedder:  embedder,
		Index:     index,
		Canonical: canonical.NewService(s, index, embedder, cfg.Search.DefaultK),
		Hierarchy: hierarchy.NewService(s, cfg.Hierarchy.MaxDepth),
		Coverage:  coverage.NewEngine(s, cfg.Coverage.MaxLimit),
	}

	common.LogInfo("Services initialized",
		zap.String("driver", cfg.Database.Driver),
		zap.String("embedding_model", cfg.Embedding.Model),
		zap.String("embedding_api_key", config.MaskAPIKey(cfg.Embedding.APIKey)),
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Int("max_depth", cfg.Hierarchy.MaxDepth),
	)
	return a, nil
}

// NewEmbedder 建立帶快取的嵌入客戶端。
// 快取關閉時仍合併相同的並發請求。
func NewEmbedder(ctx context.Context, cfg *config.Config) (*embedding.CachedEmbedder, error) {
	client := embedding.NewClient(embedding.Options{
		BaseURL:           cfg.Embedding.BaseURL,
		APIKey:            cfg.Embedding.APIKey,
		Model:             cfg.Embedding.Model,
		Dimensions:        cfg.Embedding.Dimensions,
		Timeout:           cfg.Embedding.Timeout,
		MaxRetries:        cfg.Embedding.MaxRetries,
		RetryWait:         cfg.Embedding.RetryWait,
		RetryMaxWait:      cfg.Embedding.RetryMaxWait,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Burst:             cfg.Embedding.Burst,
	})

	var cache embedding.Cache
	if cfg.Cache.Enabled {
		switch cfg.Cache.Backend {
		case "redis":
			rc, err := embedding.NewRedisCache(ctx, embedding.RedisOptions{
				Addr:     cfg.Cache.RedisAddr,
				Password: cfg.Cache.RedisPassword,
				DB:       cfg.Cache.RedisDB,
				TTL:      cfg.Cache.TTL,
			})
			if err != nil {
				return nil, fmt.Errorf("connect embedding cache: %w", err)
			}
			cache = rc
		default:
			cache = embedding.NewMemoryCache(cfg.Cache.MaxSize, cfg.Cache.TTL, cfg.Cache.CleanupInterval)
		}
	}
	return embedding.NewCachedEmbedder(client, cache, client.Model()), nil
}

// Close 關閉快取與存儲
func (a *App) Close() error {
	var firstErr error
	if a.Embedder != nil {
		if err := a.Embedder.Close(); err != nil {
			firstErr = err
		}
	}
	if err := a.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"recipe-matcher/internal/pkg/common"
)

// Cache 向量快取；未命中時 ok 為 false 且 err 為 nil
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
	Close() error
}

// CacheKey 以模型、用途與正規化後的文字計算快取鍵
func CacheKey(model string, hint TaskHint, text string) string {
	hash := sha256.Sum256([]byte(model + "\x00" + string(hint) + "\x00" + text))
	return "embedding:" + hex.EncodeToString(hash[:])
}

// MemoryCache 記憶體快取，容量滿時先清過期項目，再淘汰最少使用者
type MemoryCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	store   map[string]cacheEntry
	stats   cacheStats
	stop    chan struct{}
	once    sync.Once
	now     func() time.Time
}

type cacheEntry struct {
	value       []float32
	expiresAt   time.Time
	lastAccess  time.Time
	accessCount int
}

type cacheStats struct {
	hits      int64
	misses    int64
	evictions int64
}

// NewMemoryCache 創建記憶體快取；cleanupInterval > 0 時啟動背景清理
func NewMemoryCache(maxSize int, ttl, cleanupInterval time.Duration) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	m := &MemoryCache{
		maxSize: maxSize,
		ttl:     ttl,
		store:   make(map[string]cacheEntry),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	if cleanupInterval > 0 {
		go m.startCleanup(cleanupInterval)
	}
	common.LogInfo("嵌入快取已初始化",
		zap.String("backend", "memory"),
		zap.Int("最大容量", maxSize),
		zap.Duration("存活時間", ttl),
	)
	return m
}

// Get 讀取快取
func (m *MemoryCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.store[key]
	if !ok {
		m.stats.misses++
		return nil, false, nil
	}
	now := m.now()
	if m.ttl > 0 && now.After(entry.expiresAt) {
		delete(m.store, key)
		m.stats.evictions++
		m.stats.misses++
		return nil, false, nil
	}
	entry.lastAccess = now
	entry.accessCount++
	m.store[key] = entry
	m.stats.hits++
	return append([]float32(nil), entry.value...), true, nil
}

// Set 寫入快取
func (m *MemoryCache) Set(_ context.Context, key string, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.store[key]; !exists && len(m.store) >= m.maxSize {
		m.cleanup()
		if len(m.store) >= m.maxSize {
			m.evictLRU()
		}
	}
	now := m.now()
	m.store[key] = cacheEntry{
		value:      append([]float32(nil), vec...),
		expiresAt:  now.Add(m.ttl),
		lastAccess: now,
	}
	return nil
}

// Len 目前項目數
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store)
}

// Stats 命中統計
func (m *MemoryCache) Stats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	ratio := 0.0
	if total := m.stats.hits + m.stats.misses; total > 0 {
		ratio = float64(m.stats.hits) / float64(total)
	}
	return map[string]any{
		"size":      len(m.store),
		"max_size":  m.maxSize,
		"hits":      m.stats.hits,
		"misses":    m.stats.misses,
		"evictions": m.stats.evictions,
		"hit_ratio": ratio,
	}
}

func (m *MemoryCache) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			m.cleanup()
			m.mu.Unlock()
		case <-m.stop:
			return
		}
	}
}

// cleanup 清除過期項目，呼叫端需持有鎖
func (m *MemoryCache) cleanup() int {
	if m.ttl <= 0 {
		return 0
	}
	now := m.now()
	count := 0
	for key, entry := range m.store {
		if now.After(entry.expiresAt) {
			delete(m.store, key)
			count++
		}
	}
	m.stats.evictions += int64(count)
	if count > 0 {
		common.LogDebug("清理過期嵌入快取",
			zap.Int("count", count),
			zap.Int("remaining_size", len(m.store)),
		)
	}
	return count
}

// evictLRU 淘汰存取次數最少、最久未使用的項目
func (m *MemoryCache) evictLRU() {
	var oldestKey string
	var oldestAccess time.Time
	lowest := 0
	for key, entry := range m.store {
		if oldestKey == "" ||
			entry.accessCount < lowest ||
			(entry.accessCount == lowest && entry.lastAccess.Before(oldestAccess)) {
			oldestKey = key
			oldestAccess = entry.lastAccess
			lowest = entry.accessCount
		}
	}
	if oldestKey != "" {
		delete(m.store, oldestKey)
		m.stats.evictions++
	}
}

// Close 停止背景清理
func (m *MemoryCache) Close() error {
	m.once.Do(func() { close(m.stop) })
	m.mu.Lock()
	defer m.mu.Unlock()
	common.LogInfo("嵌入快取已關閉",
		zap.Int64("命中次數", m.stats.hits),
		zap.Int64("未命中次數", m.stats.misses),
		zap.Int64("淘汰次數", m.stats.evictions),
	)
	m.store = make(map[string]cacheEntry)
	return nil
}

// RedisCache Redis 快取，多個 API 程序可共用
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOptions Redis 連線設定
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisCache 連線並 Ping 一次
func NewRedisCache(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	common.LogInfo("嵌入快取已初始化",
		zap.String("backend", "redis"),
		zap.String("addr", opts.Addr),
		zap.Duration("存活時間", opts.TTL),
	)
	return &RedisCache{client: client, ttl: opts.TTL}, nil
}

// Get 讀取快取
func (s *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get cache: %w", err)
	}
	var vec []float32
	if err := common.ParseJSONBytes(data, &vec); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cache: %w", err)
	}
	return vec, true, nil
}

// Set 寫入快取
func (s *RedisCache) Set(ctx context.Context, key string, vec []float32) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// Close 關閉連線
func (s *RedisCache) Close() error { return s.client.Close() }

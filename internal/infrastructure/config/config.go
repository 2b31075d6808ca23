package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 應用配置
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Hierarchy HierarchyConfig `mapstructure:"hierarchy"`
	Search    SearchConfig    `mapstructure:"search"`
	Coverage  CoverageConfig  `mapstructure:"coverage"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	LogLevel  string          `mapstructure:"log_level"`
	LogDir    string          `mapstructure:"log_dir"`
}

// AppConfig 應用程式設定
type AppConfig struct {
	Env     string `mapstructure:"env"`
	Debug   bool   `mapstructure:"debug"`
	Version string `mapstructure:"version"`
	Name    string `mapstructure:"name"`
}

// ServerConfig 服務器配置
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	DedupWindow    time.Duration `mapstructure:"dedup_window"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`

	SlowRequestThreshold time.Duration `mapstructure:"slow_request_threshold"`
}

// DatabaseConfig 資料庫設定；driver 為 memory 或 postgres
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// EmbeddingConfig 嵌入服務設定
type EmbeddingConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Dimensions        int           `mapstructure:"dimensions"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryWait         time.Duration `mapstructure:"retry_wait"`
	RetryMaxWait      time.Duration `mapstructure:"retry_max_wait"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// CacheConfig 嵌入快取設定；backend 為 memory 或 redis
type CacheConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Backend         string        `mapstructure:"backend"`
	MaxSize         int           `mapstructure:"max_size"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
}

// HierarchyConfig 階層設定
type HierarchyConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
}

// SearchConfig 向量搜尋設定
type SearchConfig struct {
	DefaultK  int `mapstructure:"default_k"`
	MaxK      int `mapstructure:"max_k"`
	Overfetch int `mapstructure:"overfetch"`
}

// CoverageConfig 覆蓋率設定
type CoverageConfig struct {
	MaxLimit int `mapstructure:"max_limit"`
}

// RateLimitConfig 速率限制配置
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// LoadConfig 從 .env、環境變數與預設值載入設定
func LoadConfig() (*Config, error) {
	// .env 可有可無，容器內通常直接給環境變數
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	// 設定預設值
	setDefaults(v)

	// 設定環境變數前綴
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 綁定常用的環境變量
	_ = v.BindEnv("database.dsn", "APP_DATABASE_DSN", "DATABASE_URL")
	_ = v.BindEnv("embedding.api_key", "APP_EMBEDDING_API_KEY", "EMBEDDING_API_KEY")
	_ = v.BindEnv("embedding.base_url", "APP_EMBEDDING_BASE_URL", "EMBEDDING_BASE_URL")
	_ = v.BindEnv("embedding.model", "APP_EMBEDDING_MODEL", "EMBEDDING_MODEL")
	_ = v.BindEnv("cache.redis_addr", "APP_CACHE_REDIS_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("rate_limit.enabled", "APP_RATE_LIMIT_ENABLED", "RATE_LIMIT_ENABLED")
	_ = v.BindEnv("log_level", "APP_LOG_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("server.port", "APP_SERVER_PORT", "PORT")

	// 解析設定
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	// 環境變數以逗號分隔，去掉空白
	cfg.Server.CORSOrigins = splitList(strings.Join(cfg.Server.CORSOrigins, ","))

	// 驗證必要設定
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MaskAPIKey 遮罩 API Key，只顯示前後各 4 個字符
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// setDefaults 設定預設值
func setDefaults(v *viper.Viper) {
	// 應用程式設定
	v.SetDefault("app.env", "development")
	v.SetDefault("app.debug", false)
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.name", "recipe-matcher")

	// 伺服器設定
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "20s")
	v.SetDefault("server.max_body_bytes", 1<<20) // 1MB
	v.SetDefault("server.dedup_window", "1s")
	v.SetDefault("server.slow_request_threshold", "2s")
	v.SetDefault("server.cors_origins", []string{"*"})

	// 資料庫設定
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.log_level", "silent")
	v.SetDefault("database.auto_migrate", true)

	// 嵌入服務設定
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 768)
	v.SetDefault("embedding.timeout", "10s")
	v.SetDefault("embedding.max_retries", 3)
	v.SetDefault("embedding.retry_wait", "200ms")
	v.SetDefault("embedding.retry_max_wait", "2s")
	v.SetDefault("embedding.requests_per_second", 10)
	v.SetDefault("embedding.burst", 5)

	// 快取設定
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.max_size", 10000)
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.cleanup_interval", "10m")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("hierarchy.max_depth", 3)

	v.SetDefault("search.default_k", 5)
	v.SetDefault("search.max_k", 50)
	v.SetDefault("search.overfetch", 10)

	v.SetDefault("coverage.max_limit", 100)

	// 限流設定
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.window", "1m")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_dir", "logs")
}

// validateConfig 驗證設定
func validateConfig(cfg *Config) error {
	// 驗證伺服器設定
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("invalid server max body bytes")
	}

	switch cfg.Database.Driver {
	case "memory":
	case "postgres":
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	if cfg.Embedding.BaseURL == "" || cfg.Embedding.Model == "" {
		return fmt.Errorf("embedding base url and model are required")
	}
	if cfg.Embedding.Dimensions < 0 {
		return fmt.Errorf("invalid embedding dimensions")
	}
	if cfg.Embedding.MaxRetries < 0 {
		return fmt.Errorf("invalid embedding max retries")
	}
	if cfg.Embedding.Timeout <= 0 {
		return fmt.Errorf("invalid embedding timeout")
	}

	// 驗證快取設定
	if cfg.Cache.Enabled {
		switch cfg.Cache.Backend {
		case "memory":
			if cfg.Cache.MaxSize <= 0 {
				return fmt.Errorf("invalid cache max size")
			}
			if cfg.Cache.CleanupInterval <= 0 {
				return fmt.Errorf("invalid cache cleanup interval")
			}
		case "redis":
			if cfg.Cache.RedisAddr == "" {
				return fmt.Errorf("cache redis addr is required")
			}
		default:
			return fmt.Errorf("unsupported cache backend %q", cfg.Cache.Backend)
		}
		if cfg.Cache.TTL <= 0 {
			return fmt.Errorf("invalid cache ttl")
		}
	}

	if cfg.Hierarchy.MaxDepth <= 0 {
		return fmt.Errorf("invalid hierarchy max depth")
	}
	if cfg.Search.DefaultK <= 0 || cfg.Search.MaxK < cfg.Search.DefaultK {
		return fmt.Errorf("invalid search k bounds")
	}
	if cfg.Search.Overfetch <= 0 {
		return fmt.Errorf("invalid search overfetch")
	}
	if cfg.Coverage.MaxLimit <= 0 {
		return fmt.Errorf("invalid coverage max limit")
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.Requests <= 0 || cfg.RateLimit.Window <= 0) {
		return fmt.Errorf("invalid rate limit")
	}
	return nil
}

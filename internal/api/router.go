package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"recipe-matcher/internal/api/handlers"
	"recipe-matcher/internal/api/handlers/health"
	hierarchyHandler "recipe-matcher/internal/api/handlers/hierarchy"
	ingredientHandler "recipe-matcher/internal/api/handlers/ingredient"
	pantryHandler "recipe-matcher/internal/api/handlers/pantry"
	recipeHandler "recipe-matcher/internal/api/handlers/recipe"
	"recipe-matcher/internal/api/middleware"
	"recipe-matcher/internal/app"
	"recipe-matcher/internal/pkg/common"
)

// Router HTTP 引擎與需要關閉的中間件
type Router struct {
	*gin.Engine
	dedup *middleware.Deduplicator
}

// Close 停止中間件的背景清理
func (r *Router) Close() {
	if r.dedup != nil {
		r.dedup.Close()
	}
}

// SetupRouter 設置路由
func SetupRouter(a *app.App) *Router {
	cfg := a.Config
	common.LogInfo("Starting router setup",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
	)

	// 設置 gin 模式
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 註冊基礎中間件
	router.Use(middleware.Recovery())
	router.Use(requestid.New())
	router.Use(middleware.Logger(middleware.LogOptions{
		SlowThreshold: cfg.Server.SlowRequestThreshold,
		QuietPaths:    []string{"/health", "/ready", "/live", "/metrics"},
	}))
	router.Use(middleware.Metrics())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID", "Retry-After"},
		AllowCredentials: !allowsAnyOrigin(cfg.Server.CORSOrigins),
		MaxAge:           12 * time.Hour,
	}))

	router.Use(middleware.BodySizeLimit(cfg.Server.MaxBodyBytes))
	router.Use(func(c *gin.Context) {
		c.Set("config", cfg)
		c.Set(handlers.DebugKey, cfg.App.Debug)
		c.Next()
	})

	// 健康檢查路由
	hh := health.NewHandler(cfg, a.Store)
	router.GET("/health", hh.HealthCheck)
	router.GET("/ready", hh.ReadinessCheck)
	router.GET("/live", hh.LivenessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.NoRoute(func(c *gin.Context) {
		status, body := common.ToErrorResponse(common.ErrRouteNotFound, false)
		c.JSON(status, body)
	})

	r := &Router{Engine: router}

	// API 路由組
	api := router.Group("/api/v1")
	api.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	if cfg.RateLimit.Enabled {
		api.Use(middleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))
	}
	// 去重只掛在建立食譜；階層操作的結果取決於目前的圖，重送相同請求可能合法
	var writes []gin.HandlerFunc
	if cfg.Server.DedupWindow > 0 {
		r.dedup = middleware.NewDeduplicator(cfg.Server.DedupWindow)
		writes = append(writes, r.dedup.Middleware())
	}

	ingredientHandler.NewHandler(a.Store, a.Canonical, a.Index, a.Hierarchy, cfg.Search.DefaultK).
		Register(api.Group("/ingredients"))
	hierarchyHandler.NewHandler(a.Hierarchy).Register(api.Group("/hierarchy"))
	recipeHandler.NewHandler(a.Store).Register(api.Group("/recipes", writes...))
	pantryHandler.NewHandler(a.Coverage).Register(api.Group("/pantry"))

	common.LogInfo("Router setup completed successfully",
		zap.Duration("timeout", cfg.Server.RequestTimeout),
		zap.Int64("max_body_size", cfg.Server.MaxBodyBytes),
		zap.Bool("rate_limit", cfg.RateLimit.Enabled),
		zap.Duration("dedup_window", cfg.Server.DedupWindow),
	)
	return r
}

// allowsAnyOrigin cors 不允許萬用字元搭配憑證
func allowsAnyOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
